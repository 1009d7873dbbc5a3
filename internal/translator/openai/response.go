package openai

import (
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertMessagesResponse transforms a non-streaming Anthropic Messages
// response into an OpenAI Chat Completions response. Text blocks become the
// assistant message content, tool_use blocks become tool_calls, the stop
// reason is mapped to a finish reason, and token usage is carried over.
func ConvertMessagesResponse(rawJSON []byte) []byte {
	out := `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":null},"finish_reason":null}]}`

	root := gjson.ParseBytes(rawJSON)

	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "created", time.Now().Unix())
	out, _ = sjson.Set(out, "model", root.Get("model").String())

	var toolCalls []interface{}
	if content := root.Get("content"); content.IsArray() {
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				out, _ = sjson.Set(out, "choices.0.message.content", block.Get("text").String())
			case "tool_use":
				arguments := "{}"
				if input := block.Get("input"); input.Exists() {
					arguments = input.Raw
				}
				toolCalls = append(toolCalls, map[string]interface{}{
					"id":   block.Get("id").String(),
					"type": "function",
					"function": map[string]interface{}{
						"name":      block.Get("name").String(),
						"arguments": arguments,
					},
				})
			}
			return true
		})
	}
	if len(toolCalls) > 0 {
		out, _ = sjson.Set(out, "choices.0.message.tool_calls", toolCalls)
	}

	if stopReason := root.Get("stop_reason"); stopReason.Exists() && stopReason.Type == gjson.String {
		out, _ = sjson.Set(out, "choices.0.finish_reason", finishReason(stopReason.String()))
	}

	if usage := root.Get("usage"); usage.Exists() {
		inputTokens := usage.Get("input_tokens").Int()
		outputTokens := usage.Get("output_tokens").Int()
		out, _ = sjson.Set(out, "usage", map[string]interface{}{
			"prompt_tokens":     inputTokens,
			"completion_tokens": outputTokens,
			"total_tokens":      inputTokens + outputTokens,
		})
	}

	return []byte(out)
}

func finishReason(stopReason string) string {
	switch stopReason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence":
		return "stop"
	default:
		return "stop"
	}
}
