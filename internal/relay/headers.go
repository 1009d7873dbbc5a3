package relay

import "net/http"

// claudeHeaderKeys is the allow-list of client headers forwarded verbatim to
// the Anthropic API. Everything else the client sends is dropped.
var claudeHeaderKeys = []string{
	"x-stainless-retry-count",
	"x-stainless-timeout",
	"x-stainless-lang",
	"x-stainless-package-version",
	"x-stainless-os",
	"x-stainless-arch",
	"x-stainless-runtime",
	"x-stainless-runtime-version",
	"anthropic-dangerous-direct-browser-access",
	"x-app",
	"user-agent",
	"accept-language",
	"sec-fetch-mode",
	"accept-encoding",
}

// defaultClientHeaders impersonates the Claude CLI when the client supplies
// none of the allow-listed headers itself.
var defaultClientHeaders = map[string]string{
	"x-stainless-retry-count":                   "0",
	"x-stainless-timeout":                       "60",
	"x-stainless-lang":                          "js",
	"x-stainless-package-version":               "0.55.1",
	"x-stainless-os":                            "Linux",
	"x-stainless-arch":                          "x64",
	"x-stainless-runtime":                       "node",
	"x-stainless-runtime-version":               "v20.19.2",
	"anthropic-dangerous-direct-browser-access": "true",
	"x-app":           "cli",
	"user-agent":      "claude-cli/1.0.57 (external, cli)",
	"accept-language": "*",
	"sec-fetch-mode":  "cors",
}

// ApplyClientHeaders copies allow-listed client headers onto an upstream
// request. When the client sent none of them, the default impersonation set
// is installed instead.
func ApplyClientHeaders(dst http.Header, client http.Header) {
	forwarded := false
	if client != nil {
		for _, key := range claudeHeaderKeys {
			if values := client.Values(key); len(values) > 0 {
				dst.Set(key, values[0])
				forwarded = true
			}
		}
	}
	if forwarded {
		return
	}
	for key, value := range defaultClientHeaders {
		dst.Set(key, value)
	}
}
