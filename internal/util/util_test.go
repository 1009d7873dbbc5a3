package util

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relay-for-me/AccountRelayAPI/internal/config"
)

func TestMaskKey(t *testing.T) {
	require.Equal(t, "***", MaskKey(""))
	require.Equal(t, "***", MaskKey("short"))
	require.Equal(t, "***", MaskKey("12345678"))
	require.Equal(t, "sk-a...wxyz", MaskKey("sk-abcdefghijklmnopqrstuvwxyz"))
}

func TestHTTPClient_DirectIsCached(t *testing.T) {
	first, err := HTTPClient(nil, 30*time.Second)
	require.NoError(t, err)
	second, err := HTTPClient(nil, 30*time.Second)
	require.NoError(t, err)
	require.Same(t, first, second)

	other, err := HTTPClient(&config.Proxy{Type: config.ProxyTypeNone}, 10*time.Second)
	require.NoError(t, err)
	require.NotSame(t, first, other)
	require.Equal(t, 10*time.Second, other.Timeout)
}

func TestHTTPClient_HTTPProxy(t *testing.T) {
	client, err := HTTPClient(&config.Proxy{Type: config.ProxyTypeHTTP, Host: "proxy.local", Port: 3128}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, time.Minute, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.Proxy)

	req, err := http.NewRequest(http.MethodGet, "https://api.anthropic.com/v1/messages", nil)
	require.NoError(t, err)
	proxyURL, err := transport.Proxy(req)
	require.NoError(t, err)
	require.Equal(t, "http://proxy.local:3128", proxyURL.String())
}

func TestHTTPClient_Socks5Proxy(t *testing.T) {
	client, err := HTTPClient(&config.Proxy{
		Type: config.ProxyTypeSocks5, Host: "127.0.0.1", Port: 1080,
		Username: "u", Password: "p",
	}, time.Minute)
	require.NoError(t, err)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.DialContext)
	require.Nil(t, transport.Proxy)
}

func TestHTTPClient_ProxiedClientsNotShared(t *testing.T) {
	p := &config.Proxy{Type: config.ProxyTypeHTTP, Host: "proxy.local", Port: 3128}
	first, err := HTTPClient(p, time.Minute)
	require.NoError(t, err)
	second, err := HTTPClient(p, time.Minute)
	require.NoError(t, err)
	require.NotSame(t, first, second)
}
