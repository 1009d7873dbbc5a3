package openai

import (
	"bytes"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var dataPrefix = []byte("data: ")

// ConvertStreamFrame re-encodes one upstream SSE frame into an OpenAI
// chat.completion.chunk payload (without the "data: " prefix). The frame may
// span several lines (event line plus data line); the first data line wins.
// message_start opens the assistant turn, content_block_delta carries text,
// message_stop closes with finish_reason stop. Every other event, including
// [DONE], yields nil and is dropped.
func ConvertStreamFrame(frame []byte) []byte {
	payload := dataLine(frame)
	if payload == nil || bytes.Equal(payload, []byte("[DONE]")) {
		return nil
	}

	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil
	}

	out := `{"id":"chatcmpl-relay","object":"chat.completion.chunk","created":0,"model":"claude","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	out, _ = sjson.Set(out, "created", time.Now().Unix())

	switch root.Get("type").String() {
	case "message_start":
		out, _ = sjson.Set(out, "choices.0.delta.role", "assistant")
	case "content_block_delta":
		text := root.Get("delta.text")
		if !text.Exists() {
			return nil
		}
		out, _ = sjson.Set(out, "choices.0.delta.content", text.String())
	case "message_stop":
		out, _ = sjson.Set(out, "choices.0.finish_reason", "stop")
	default:
		return nil
	}

	return []byte(out)
}

// dataLine returns the payload of the frame's first data line, or nil.
func dataLine(frame []byte) []byte {
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if bytes.HasPrefix(line, dataPrefix) {
			return bytes.TrimPrefix(line, dataPrefix)
		}
	}
	return nil
}
