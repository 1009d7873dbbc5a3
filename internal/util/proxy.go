// Package util provides small helpers shared across the relay: proxy-aware
// HTTP client construction and API key masking for logs.
package util

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/relay-for-me/AccountRelayAPI/internal/config"
)

// defaultClients caches proxyless clients keyed by timeout. Proxied clients
// are built per call so per-account credentials never leak between accounts.
var defaultClients sync.Map

// HTTPClient returns an HTTP client honoring the account's proxy settings.
// It supports SOCKS5 and HTTP proxies. A nil or none proxy yields a shared
// direct client with the given timeout.
func HTTPClient(p *config.Proxy, timeout time.Duration) (*http.Client, error) {
	if p.IsNone() {
		if cached, ok := defaultClients.Load(timeout); ok {
			return cached.(*http.Client), nil
		}
		client := &http.Client{Timeout: timeout}
		actual, _ := defaultClients.LoadOrStore(timeout, client)
		return actual.(*http.Client), nil
	}

	proxyURL, err := url.Parse(p.URL())
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	var transport *http.Transport
	switch proxyURL.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if p.Username != "" {
			auth = &proxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
		if errSOCKS5 != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer failed: %w", errSOCKS5)
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}
