// Package gemini serves the Gemini generate endpoints. The wildcard path
// segment carries both model and method, split on the last colon the way the
// upstream API spells it.
package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/api/handlers"
	"github.com/relay-for-me/AccountRelayAPI/internal/relay"
)

// Handler serves the Gemini relay endpoints.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler builds a Gemini endpoint handler on the shared base.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// Generate handles POST /gemini/v1/models/*modelAction, where modelAction is
// "{model}:{method}". streamGenerateContent streams as SSE, everything else
// returns a single JSON body.
func (h *Handler) Generate(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("modelAction"), "/")
	idx := strings.LastIndex(path, ":")
	if idx < 0 {
		h.WriteRelayError(c, relay.InvalidRequestError(fmt.Sprintf("Invalid path format: %s. Expected format: model:method", path)))
		return
	}
	model, method := path[:idx], path[idx+1:]
	stream := method == "streamGenerateContent"

	rawJSON, err := c.GetRawData()
	if err != nil {
		h.WriteInvalidRequest(c, err)
		return
	}

	var flusher http.Flusher
	if stream {
		var ok bool
		if flusher, ok = h.Flusher(c); !ok {
			return
		}
	}

	resp, acct, err := h.Dispatch(c.Request.Context(), account.PlatformGemini, rawJSON, func(ctx context.Context, acct *account.Account) (*http.Response, error) {
		return h.Relayer.Gemini(ctx, acct, rawJSON, model, stream)
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
		h.RecordUsage(c, acct, model, relay.GeminiResponseUsage(body))
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	handlers.SetSSEHeaders(c)
	c.Status(http.StatusOK)
	usage, completed := h.ForwardStream(c, flusher, resp.Body, relay.ExtractGeminiUsage)
	if completed {
		h.RecordUsage(c, acct, model, usage)
	}
}

// Models handles GET /gemini/v1/models with the fixed Gemini catalog.
func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models": []gin.H{
			{"name": "models/gemini-2.0-flash-exp", "displayName": "Gemini 2.0 Flash"},
			{"name": "models/gemini-1.5-pro", "displayName": "Gemini 1.5 Pro"},
			{"name": "models/gemini-1.5-flash", "displayName": "Gemini 1.5 Flash"},
		},
	})
}
