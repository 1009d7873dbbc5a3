package relay

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Usage is token telemetry from one upstream response or stream.
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// Merge folds another observation in, field-wise monotonic max. Streams
// repeat usage with growing counts, so observation order is immaterial.
func (u *Usage) Merge(other Usage) {
	u.InputTokens = max(u.InputTokens, other.InputTokens)
	u.OutputTokens = max(u.OutputTokens, other.OutputTokens)
	u.CacheCreationTokens = max(u.CacheCreationTokens, other.CacheCreationTokens)
	u.CacheReadTokens = max(u.CacheReadTokens, other.CacheReadTokens)
}

// HasTokens reports whether the record is worth persisting.
func (u Usage) HasTokens() bool {
	return u.InputTokens > 0 || u.OutputTokens > 0
}

// ExtractClaudeUsage scans an SSE chunk for Claude usage counts. The first
// data line carrying nonzero usage wins, the top-level usage object checked
// before message.usage. A malformed data line ends the scan.
func ExtractClaudeUsage(chunk []byte) (Usage, bool) {
	return scanDataLines(chunk, func(value gjson.Result) (Usage, bool) {
		if u, ok := claudeUsageAt(value.Get("usage")); ok {
			return u, true
		}
		return claudeUsageAt(value.Get("message.usage"))
	})
}

// ExtractGeminiUsage scans an SSE chunk for Gemini usageMetadata counts.
// Prompt tokens map to input, candidate tokens to output.
func ExtractGeminiUsage(chunk []byte) (Usage, bool) {
	return scanDataLines(chunk, func(value gjson.Result) (Usage, bool) {
		meta := value.Get("usageMetadata")
		if !meta.Exists() {
			return Usage{}, false
		}
		u := Usage{
			InputTokens:  meta.Get("promptTokenCount").Int(),
			OutputTokens: meta.Get("candidatesTokenCount").Int(),
		}
		return u, u.HasTokens()
	})
}

// ResponseUsage reads the usage object of a non-streaming Claude response.
func ResponseUsage(body []byte) Usage {
	return claudeUsage(gjson.GetBytes(body, "usage"))
}

// GeminiResponseUsage reads the usageMetadata object of a non-streaming
// Gemini response.
func GeminiResponseUsage(body []byte) Usage {
	meta := gjson.GetBytes(body, "usageMetadata")
	return Usage{
		InputTokens:  meta.Get("promptTokenCount").Int(),
		OutputTokens: meta.Get("candidatesTokenCount").Int(),
	}
}

func scanDataLines(chunk []byte, extract func(gjson.Result) (Usage, bool)) (Usage, bool) {
	if !utf8.Valid(chunk) {
		return Usage{}, false
	}
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		if !gjson.Valid(payload) {
			return Usage{}, false
		}
		if u, ok := extract(gjson.Parse(payload)); ok {
			return u, true
		}
	}
	return Usage{}, false
}

func claudeUsage(usage gjson.Result) Usage {
	return Usage{
		InputTokens:         usage.Get("input_tokens").Int(),
		OutputTokens:        usage.Get("output_tokens").Int(),
		CacheCreationTokens: usage.Get("cache_creation_input_tokens").Int(),
		CacheReadTokens:     usage.Get("cache_read_input_tokens").Int(),
	}
}

func claudeUsageAt(usage gjson.Result) (Usage, bool) {
	if !usage.Exists() {
		return Usage{}, false
	}
	u := claudeUsage(usage)
	return u, u.HasTokens()
}
