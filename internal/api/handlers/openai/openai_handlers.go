// Package openai serves the OpenAI-compatible gateway: Chat Completions
// requests are translated to the Anthropic Messages format, relayed to a
// Claude account, and the responses translated back.
package openai

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/api/handlers"
	"github.com/relay-for-me/AccountRelayAPI/internal/relay"
	translator "github.com/relay-for-me/AccountRelayAPI/internal/translator/openai"
)

// Handler serves the OpenAI-compatible endpoints.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler builds an OpenAI endpoint handler on the shared base.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// ChatCompletions handles POST /openai/v1/chat/completions. The request is
// converted to a Messages call against a Claude account; the response comes
// back in Chat Completions form, streamed as chat.completion.chunk events
// when the client asked to stream.
func (h *Handler) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		h.WriteInvalidRequest(c, err)
		return
	}

	model := gjson.GetBytes(rawJSON, "model").String()
	streamResult := gjson.GetBytes(rawJSON, "stream")
	stream := streamResult.Exists() && streamResult.Type != gjson.False

	var flusher http.Flusher
	if stream {
		var ok bool
		if flusher, ok = h.Flusher(c); !ok {
			return
		}
	}

	converted := translator.ConvertChatRequest(rawJSON)

	resp, acct, err := h.Dispatch(c.Request.Context(), account.PlatformClaude, converted, func(ctx context.Context, acct *account.Account) (*http.Response, error) {
		return h.Relayer.Claude(ctx, acct, converted, model, stream, nil)
	})
	if err != nil {
		h.WriteRelayError(c, err)
		return
	}

	if !stream {
		defer func() {
			_ = resp.Body.Close()
		}()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			h.WriteRelayError(c, readErr)
			return
		}
		h.RecordUsage(c, acct, model, relay.ResponseUsage(body))
		c.Data(http.StatusOK, "application/json", translator.ConvertMessagesResponse(body))
		return
	}

	handlers.SetSSEHeaders(c)
	c.Status(http.StatusOK)
	usage, completed := h.ForwardFrames(c, flusher, resp.Body, relay.ExtractClaudeUsage, translator.ConvertStreamFrame, "data: [DONE]\n\n")
	if completed {
		h.RecordUsage(c, acct, model, usage)
	}
}

// Models handles GET /openai/v1/models with the fixed OpenAI-style catalog.
func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": "gpt-4o", "object": "model", "created": 1704067200, "owned_by": "openai"},
			{"id": "gpt-4o-mini", "object": "model", "created": 1704067200, "owned_by": "openai"},
			{"id": "gpt-4-turbo", "object": "model", "created": 1704067200, "owned_by": "openai"},
			{"id": "gpt-3.5-turbo", "object": "model", "created": 1704067200, "owned_by": "openai"},
		},
	})
}
