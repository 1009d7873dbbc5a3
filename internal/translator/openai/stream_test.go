package openai

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestConvertStreamFrame(t *testing.T) {
	t.Run("message_start_opens_turn", func(t *testing.T) {
		out := ConvertStreamFrame([]byte(`data: {"type":"message_start","message":{"id":"msg_1"}}`))
		require.NotNil(t, out)
		chunk := gjson.ParseBytes(out)
		require.Equal(t, "chatcmpl-relay", chunk.Get("id").String())
		require.Equal(t, "chat.completion.chunk", chunk.Get("object").String())
		require.Equal(t, "claude", chunk.Get("model").String())
		require.Equal(t, "assistant", chunk.Get("choices.0.delta.role").String())
		require.Equal(t, gjson.Null, chunk.Get("choices.0.finish_reason").Type)
	})

	t.Run("text_delta_carries_content", func(t *testing.T) {
		out := ConvertStreamFrame([]byte(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`))
		require.NotNil(t, out)
		require.Equal(t, "Hel", gjson.GetBytes(out, "choices.0.delta.content").String())
	})

	t.Run("message_stop_finishes", func(t *testing.T) {
		out := ConvertStreamFrame([]byte(`data: {"type":"message_stop"}`))
		require.NotNil(t, out)
		require.Equal(t, "stop", gjson.GetBytes(out, "choices.0.finish_reason").String())
	})

	t.Run("input_json_delta_dropped", func(t *testing.T) {
		require.Nil(t, ConvertStreamFrame([]byte(`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"a\":"}}`)))
	})

	t.Run("other_events_dropped", func(t *testing.T) {
		require.Nil(t, ConvertStreamFrame([]byte(`data: {"type":"ping"}`)))
		require.Nil(t, ConvertStreamFrame([]byte(`data: {"type":"content_block_start","index":0}`)))
		require.Nil(t, ConvertStreamFrame([]byte(`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}`)))
	})

	t.Run("done_and_non_data_dropped", func(t *testing.T) {
		require.Nil(t, ConvertStreamFrame([]byte("data: [DONE]")))
		require.Nil(t, ConvertStreamFrame([]byte("event: message_start")))
		require.Nil(t, ConvertStreamFrame([]byte(": keep-alive")))
		require.Nil(t, ConvertStreamFrame([]byte("data: not json")))
	})

	t.Run("event_line_before_data_line", func(t *testing.T) {
		out := ConvertStreamFrame([]byte("event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}"))
		require.NotNil(t, out)
		require.Equal(t, "lo", gjson.GetBytes(out, "choices.0.delta.content").String())
	})

	t.Run("crlf_tolerated", func(t *testing.T) {
		out := ConvertStreamFrame([]byte("event: message_stop\r\ndata: {\"type\":\"message_stop\"}\r\n"))
		require.NotNil(t, out)
		require.Equal(t, "stop", gjson.GetBytes(out, "choices.0.finish_reason").String())
	})
}
