// Package openai converts between the OpenAI Chat Completions API format and
// the Anthropic Messages API format. Inbound requests are rewritten into
// Messages requests, and Messages responses (JSON and SSE) are rewritten back
// into Chat Completions responses, so OpenAI clients can be served by Claude
// accounts transparently.
package openai

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// cliSystemPrompt replaces client-supplied system prompts so upstream sees
// the request as coming from the CLI. Xcode sessions are exempt because
// their system prompt carries project context the assistant needs.
const cliSystemPrompt = "You are Claude Code, Anthropic's official CLI for Claude."

const xcodeMarker = "You are currently in Xcode"

// ConvertChatRequest transforms an OpenAI Chat Completions request into an
// Anthropic Messages request. It maps the model and sampling parameters,
// replaces the system prompt (unless the Xcode marker is present), converts
// message content including data-URL images, rewrites tool declarations and
// tool calls/results, and defaults max_tokens to 4096 when the client omits
// it.
func ConvertChatRequest(rawJSON []byte) []byte {
	out := `{"model":"","max_tokens":4096,"messages":[]}`

	root := gjson.ParseBytes(rawJSON)

	out, _ = sjson.Set(out, "model", root.Get("model").String())

	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
	}
	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", temp.Float())
	}
	if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.Set(out, "top_p", topP.Float())
	}
	if stream := root.Get("stream"); stream.Exists() {
		out, _ = sjson.Set(out, "stream", stream.Bool())
	}

	// Stop sequences: OpenAI accepts a string or an array of strings.
	if stop := root.Get("stop"); stop.Exists() {
		if stop.IsArray() {
			var stopSequences []string
			stop.ForEach(func(_, value gjson.Result) bool {
				stopSequences = append(stopSequences, value.String())
				return true
			})
			if len(stopSequences) > 0 {
				out, _ = sjson.Set(out, "stop_sequences", stopSequences)
			}
		} else {
			out, _ = sjson.Set(out, "stop_sequences", []string{stop.String()})
		}
	}

	var anthropicMessages []interface{}

	if messages := root.Get("messages"); messages.Exists() && messages.IsArray() {
		messages.ForEach(func(_, message gjson.Result) bool {
			role := message.Get("role").String()
			content := message.Get("content")

			switch role {
			case "system":
				text := contentText(content)
				if strings.Contains(text, xcodeMarker) {
					out, _ = sjson.Set(out, "system", text)
				} else {
					out, _ = sjson.Set(out, "system", cliSystemPrompt)
				}

			case "user", "assistant":
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role":    role,
					"content": convertContent(content, message.Get("tool_calls")),
				})

			case "tool":
				// Tool results come back as user messages holding a
				// tool_result block keyed by the originating call id.
				resultText := ""
				if content.Type == gjson.String {
					resultText = content.String()
				}
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role": "user",
					"content": []interface{}{
						map[string]interface{}{
							"type":        "tool_result",
							"tool_use_id": message.Get("tool_call_id").String(),
							"content":     resultText,
						},
					},
				})
			}
			return true
		})
	}

	if len(anthropicMessages) > 0 {
		messagesJSON, _ := json.Marshal(anthropicMessages)
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	if tools := root.Get("tools"); tools.Exists() && tools.IsArray() {
		var anthropicTools []interface{}
		tools.ForEach(func(_, tool gjson.Result) bool {
			function := tool.Get("function")
			anthropicTool := map[string]interface{}{
				"name":        function.Get("name").String(),
				"description": function.Get("description").String(),
			}
			if parameters := function.Get("parameters"); parameters.Exists() {
				anthropicTool["input_schema"] = parameters.Value()
			} else {
				anthropicTool["input_schema"] = map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				}
			}
			anthropicTools = append(anthropicTools, anthropicTool)
			return true
		})
		if len(anthropicTools) > 0 {
			toolsJSON, _ := json.Marshal(anthropicTools)
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		out, _ = sjson.SetRaw(out, "tool_choice", toolChoice.Raw)
	}

	return []byte(out)
}

// contentText flattens a message content value to plain text. Array parts
// contribute their text fields joined by newlines; other part types are
// ignored.
func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var parts []string
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				parts = append(parts, part.Get("text").String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return ""
}

// convertContent builds the Anthropic content value for a user or assistant
// message. A lone text block collapses to a plain string; anything richer
// (images, tool calls) stays an array of typed blocks.
func convertContent(content gjson.Result, toolCalls gjson.Result) interface{} {
	var blocks []interface{}

	if content.Type == gjson.String {
		if content.String() != "" {
			blocks = append(blocks, map[string]interface{}{
				"type": "text",
				"text": content.String(),
			})
		}
	} else if content.IsArray() {
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				blocks = append(blocks, map[string]interface{}{
					"type": "text",
					"text": part.Get("text").String(),
				})
			case "image_url":
				if block := convertImage(part.Get("image_url.url").String()); block != nil {
					blocks = append(blocks, block)
				}
			}
			return true
		})
	}

	if toolCalls.Exists() && toolCalls.IsArray() {
		toolCalls.ForEach(func(_, call gjson.Result) bool {
			input := map[string]interface{}{}
			if args := call.Get("function.arguments").String(); args != "" {
				var parsed map[string]interface{}
				if err := json.Unmarshal([]byte(args), &parsed); err == nil {
					input = parsed
				}
			}
			blocks = append(blocks, map[string]interface{}{
				"type":  "tool_use",
				"id":    call.Get("id").String(),
				"name":  call.Get("function.name").String(),
				"input": input,
			})
			return true
		})
	}

	if len(blocks) == 1 {
		if block, ok := blocks[0].(map[string]interface{}); ok {
			if text, ok := block["text"]; ok {
				return text
			}
		}
	}
	if blocks == nil {
		return []interface{}{}
	}
	return blocks
}

// convertImage maps an OpenAI image_url part to an Anthropic image source.
// data: URLs are unpacked into base64 sources; anything else is passed as a
// URL source.
func convertImage(url string) map[string]interface{} {
	if strings.HasPrefix(url, "data:") {
		rest := strings.TrimPrefix(url, "data:")
		metadata, data, found := strings.Cut(rest, ",")
		if !found {
			return nil
		}
		mediaType := strings.Split(metadata, ";")[0]
		return map[string]interface{}{
			"type": "image",
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": mediaType,
				"data":       data,
			},
		}
	}
	return map[string]interface{}{
		"type": "image",
		"source": map[string]interface{}{
			"type": "url",
			"url":  url,
		},
	}
}
