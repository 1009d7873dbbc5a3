// Package claude serves the native Anthropic Messages endpoints: request
// bodies pass through to the selected account untouched.
package claude

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/api/handlers"
	"github.com/relay-for-me/AccountRelayAPI/internal/relay"
)

// Handler serves the Claude relay endpoints.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler builds a Claude endpoint handler on the shared base.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// Messages handles POST /v1/messages and its aliases. The raw body is
// forwarded byte for byte; only model and stream are sniffed for routing.
func (h *Handler) Messages(c *gin.Context) {
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

	resp, acct, err := h.Dispatch(c.Request.Context(), account.PlatformClaude, rawJSON, func(ctx context.Context, acct *account.Account) (*http.Response, error) {
		return h.Relayer.Claude(ctx, acct, rawJSON, model, stream, c.Request.Header)
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
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	handlers.SetSSEHeaders(c)
	c.Status(http.StatusOK)
	usage, completed := h.ForwardStream(c, flusher, resp.Body, relay.ExtractClaudeUsage)
	if completed {
		h.RecordUsage(c, acct, model, usage)
	}
}

// Models handles GET /v1/models with the fixed Claude catalog.
func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": "claude-sonnet-4-20250514", "object": "model", "created": 1704067200, "owned_by": "anthropic"},
			{"id": "claude-3-5-sonnet-20241022", "object": "model", "created": 1704067200, "owned_by": "anthropic"},
			{"id": "claude-3-5-haiku-20241022", "object": "model", "created": 1704067200, "owned_by": "anthropic"},
			{"id": "claude-3-opus-20240229", "object": "model", "created": 1704067200, "owned_by": "anthropic"},
			{"id": "claude-opus-4-20250514", "object": "model", "created": 1704067200, "owned_by": "anthropic"},
		},
	})
}
