// Package handlers provides the shared machinery behind every relay
// endpoint: the account retry loop, the SSE forwarder with usage telemetry,
// usage persistence, and the error-to-HTTP mapping.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/api/middleware"
	"github.com/relay-for-me/AccountRelayAPI/internal/relay"
	"github.com/relay-for-me/AccountRelayAPI/internal/scheduler"
	"github.com/relay-for-me/AccountRelayAPI/internal/store"
)

// MaxRetries bounds how many accounts one client request may burn through.
const MaxRetries = 3

// streamChannelDepth buffers between the upstream reader and the client
// writer; a slow client backpressures the upstream read.
const streamChannelDepth = 32

// ErrorResponse is the JSON error envelope returned to clients.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure kind and carries the upstream's numeric code
// where one applies.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// BaseHandler bundles the dependencies every endpoint handler shares.
type BaseHandler struct {
	Registry  *account.Registry
	Scheduler *scheduler.Scheduler
	Relayer   *relay.Relayer
	Store     *store.Store
}

// NewBaseHandler wires the shared handler state.
func NewBaseHandler(registry *account.Registry, sched *scheduler.Scheduler, relayer *relay.Relayer, st *store.Store) *BaseHandler {
	return &BaseHandler{
		Registry:  registry,
		Scheduler: sched,
		Relayer:   relayer,
		Store:     st,
	}
}

// RelayAttempt performs one upstream attempt against the chosen account.
type RelayAttempt func(ctx context.Context, acct *account.Account) (*http.Response, error)

// Dispatch runs the account retry loop for one client request. Retryable
// failures cool the account down, exclude it, and move on; the loop surfaces
// the last retryable error once candidates or attempts run out. Terminal
// failures surface immediately. The caller owns resp.Body on success.
func (h *BaseHandler) Dispatch(ctx context.Context, platform account.Platform, body []byte, attempt RelayAttempt) (*http.Response, *account.Account, error) {
	excluded := make(map[string]struct{})
	var lastErr error

	for i := 0; i < MaxRetries; i++ {
		acct, err := h.Scheduler.Select(ctx, platform, body, excluded)
		if err != nil {
			if lastErr != nil {
				return nil, nil, lastErr
			}
			return nil, nil, err
		}

		if i > 0 {
			log.Infof("retrying with account %s (attempt %d)", acct.ID, i+1)
		}

		resp, err := attempt(ctx, acct)
		if err == nil {
			return resp, acct, nil
		}

		var relayErr *relay.Error
		if errors.As(err, &relayErr) && relayErr.Retryable() {
			h.coolDown(acct.ID, relayErr)
			log.Warnf("account %s failed (attempt %d): %v, trying another account", acct.ID, i+1, err)
			excluded[acct.ID] = struct{}{}
			lastErr = err
			continue
		}

		return nil, nil, err
	}

	if lastErr != nil {
		return nil, nil, lastErr
	}
	return nil, nil, relay.NoAccountError(platform)
}

// coolDown suspends a failing account for the duration its error kind calls
// for.
func (h *BaseHandler) coolDown(accountID string, relayErr *relay.Error) {
	switch relayErr.Kind {
	case relay.KindRateLimited:
		h.Scheduler.MarkRateLimited(accountID, relayErr.RetryAfterSeconds)
	case relay.KindOverloaded:
		h.Scheduler.MarkOverloaded(accountID, relayErr.RetryAfterMinutes)
	default:
		if reason, ok := relayErr.CooldownReason(); ok {
			h.Scheduler.MarkUnavailable(accountID, reason)
		}
	}
}

// UsageExtractor pulls token telemetry out of one raw stream chunk.
type UsageExtractor func(chunk []byte) (relay.Usage, bool)

// SetSSEHeaders prepares the response for server-sent events.
func SetSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
}

// Flusher fetches the streaming writer, failing the request when the
// transport cannot stream.
func (h *BaseHandler) Flusher(c *gin.Context) (http.Flusher, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Type:    "internal_error",
				Message: "Streaming not supported",
				Code:    500,
			},
		})
	}
	return flusher, ok
}

// readStream pumps an upstream SSE body into a bounded channel from its own
// goroutine, folding usage telemetry out of each chunk. The data channel
// closes when the upstream ends; the usage channel then carries the folded
// total. Sends abandon the stream once ctx is done, so a gone client never
// strands the reader.
func readStream(ctx context.Context, body io.ReadCloser, extract UsageExtractor) (<-chan []byte, <-chan relay.Usage) {
	dataChan := make(chan []byte, streamChannelDepth)
	usageChan := make(chan relay.Usage, 1)

	go func() {
		var total relay.Usage
		defer close(dataChan)
		defer func() { usageChan <- total }()
		defer func() { _ = body.Close() }()

		buf := make([]byte, 4096)
		for {
			n, errRead := body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if extract != nil {
					if u, ok := extract(chunk); ok {
						total.Merge(u)
					}
				}
				select {
				case dataChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if errRead != nil {
				if !errors.Is(errRead, io.EOF) && ctx.Err() == nil {
					log.Errorf("upstream stream error: %v", errRead)
				}
				return
			}
		}
	}()

	return dataChan, usageChan
}

// ForwardStream pipes an upstream SSE body to the client byte for byte,
// flushing per chunk until the stream ends or the client goes away.
// completed is false on client disconnect, and no usage is reported for such
// streams. Upstream read errors mid-stream end the forwarding without a
// trailer; bytes already sent stay sent.
func (h *BaseHandler) ForwardStream(c *gin.Context, flusher http.Flusher, body io.ReadCloser, extract UsageExtractor) (usage relay.Usage, completed bool) {
	ctx := c.Request.Context()
	dataChan, usageChan := readStream(ctx, body, extract)

	for {
		select {
		case <-ctx.Done():
			log.Debug("client disconnected, stopping stream forwarder")
			return relay.Usage{}, false
		case chunk, ok := <-dataChan:
			if !ok {
				flusher.Flush()
				return <-usageChan, true
			}
			_, _ = c.Writer.Write(chunk)
			flusher.Flush()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// FrameConverter rewrites one upstream SSE frame into the payload sent to
// the client. A nil result drops the frame.
type FrameConverter func(frame []byte) []byte

// ForwardFrames pipes an upstream SSE body to the client one frame at a
// time, rewriting each frame through convert and emitting survivors as
// `data: <payload>` events. Frames are delimited by a blank line; a partial
// frame left when the upstream ends is discarded. tail is appended after a
// complete upstream stream. Usage telemetry is folded from the raw upstream
// bytes, before conversion.
func (h *BaseHandler) ForwardFrames(c *gin.Context, flusher http.Flusher, body io.ReadCloser, extract UsageExtractor, convert FrameConverter, tail string) (usage relay.Usage, completed bool) {
	ctx := c.Request.Context()
	dataChan, usageChan := readStream(ctx, body, extract)

	var pending []byte
	for {
		select {
		case <-ctx.Done():
			log.Debug("client disconnected, stopping stream forwarder")
			return relay.Usage{}, false
		case chunk, ok := <-dataChan:
			if !ok {
				if tail != "" {
					_, _ = c.Writer.WriteString(tail)
				}
				flusher.Flush()
				return <-usageChan, true
			}
			pending = append(pending, chunk...)
			for {
				idx := bytes.Index(pending, frameSeparator)
				if idx < 0 {
					break
				}
				frame := pending[:idx]
				pending = pending[idx+len(frameSeparator):]
				if out := convert(frame); out != nil {
					_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", out)
					flusher.Flush()
				}
			}
		case <-time.After(500 * time.Millisecond):
		}
	}
}

var frameSeparator = []byte("\n\n")

// RecordUsage persists telemetry for one request. Records without input and
// output tokens are skipped. Recording is detached from the request context
// so client cancellation cannot lose it.
func (h *BaseHandler) RecordUsage(c *gin.Context, acct *account.Account, model string, usage relay.Usage) {
	if !usage.HasTokens() {
		return
	}
	err := h.Store.RecordUsage(context.Background(), store.Usage{
		ClientKeyHash:       middleware.ClientKeyHash(c),
		AccountID:           acct.ID,
		Model:               model,
		InputTokens:         usage.InputTokens,
		OutputTokens:        usage.OutputTokens,
		CacheCreationTokens: usage.CacheCreationTokens,
		CacheReadTokens:     usage.CacheReadTokens,
	})
	if err != nil {
		log.Errorf("failed to record usage for account %s: %v", acct.ID, err)
	}
}

// WriteInvalidRequest rejects a request whose body could not be read.
func (h *BaseHandler) WriteInvalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Type:    "invalid_request",
			Message: "Invalid request: " + err.Error(),
		},
	})
}

// WriteRelayError renders a dispatch failure as the client-facing error
// envelope.
func (h *BaseHandler) WriteRelayError(c *gin.Context, err error) {
	status, detail := errorDetail(err)
	log.Errorf("request failed: %v", err)
	c.JSON(status, ErrorResponse{Error: detail})
}

// errorDetail maps a failure to its HTTP status and error envelope. Upstream
// errors pass their status through; everything unclassified is an internal
// error.
func errorDetail(err error) (int, ErrorDetail) {
	var relayErr *relay.Error
	if !errors.As(err, &relayErr) {
		return http.StatusInternalServerError, ErrorDetail{Type: "internal_error", Message: err.Error(), Code: 500}
	}

	switch relayErr.Kind {
	case relay.KindUnauthorized:
		return http.StatusUnauthorized, ErrorDetail{Type: "unauthorized", Message: relayErr.Message, Code: 401}
	case relay.KindContentFiltered:
		return http.StatusForbidden, ErrorDetail{Type: "content_filtered", Message: relayErr.Message}
	case relay.KindOrganizationDisabled:
		return http.StatusForbidden, ErrorDetail{Type: "organization_disabled", Message: relayErr.Message, Code: 403}
	case relay.KindRateLimited:
		return http.StatusTooManyRequests, ErrorDetail{Type: "rate_limited", Message: relayErr.Error(), Code: 429}
	case relay.KindOverloaded:
		return http.StatusTooManyRequests, ErrorDetail{Type: "overloaded", Message: relayErr.Error(), Code: 529}
	case relay.KindOpusWeeklyLimit:
		return http.StatusInternalServerError, ErrorDetail{Type: "opus_weekly_limit", Message: relayErr.Error(), Code: 429}
	case relay.KindInsufficientQuota:
		return http.StatusInternalServerError, ErrorDetail{Type: "insufficient_quota", Message: relayErr.Error(), Code: 402}
	case relay.KindNoAccount:
		return http.StatusServiceUnavailable, ErrorDetail{Type: "no_available_account", Message: relayErr.Error(), Code: 503}
	case relay.KindUpstream:
		status := relayErr.Status
		if status < 100 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, ErrorDetail{Type: "api_error", Message: relayErr.Message}
	case relay.KindInvalidRequest:
		return http.StatusInternalServerError, ErrorDetail{Type: "invalid_request", Message: relayErr.Error()}
	default:
		return http.StatusInternalServerError, ErrorDetail{Type: "internal_error", Message: relayErr.Error(), Code: 500}
	}
}
