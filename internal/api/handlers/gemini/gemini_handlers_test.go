package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/api/handlers"
	"github.com/relay-for-me/AccountRelayAPI/internal/config"
	"github.com/relay-for-me/AccountRelayAPI/internal/relay"
	"github.com/relay-for-me/AccountRelayAPI/internal/scheduler"
	"github.com/relay-for-me/AccountRelayAPI/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

type rig struct {
	router *gin.Engine
	store  *store.Store
}

// newRig builds a router over one gemini account with a pre-seeded access
// token, so no live OAuth refresh happens.
func newRig(t *testing.T, apiURL string) *rig {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg, err := account.NewRegistry([]config.Account{{
		Type: config.AccountTypeGemini, ID: "g1", Name: "Mock g1",
		Priority: intPtr(100), Enabled: boolPtr(true),
		RefreshToken: "rt", APIURL: apiURL,
	}})
	require.NoError(t, err)
	acct, ok := reg.Get("g1")
	require.True(t, ok)
	acct.Tokens().Set("at-gemini", 3600)

	sched := scheduler.New(reg, st, config.SessionConfig{
		StickyTTLSeconds:           3600,
		RenewalThresholdSeconds:    300,
		UnavailableCooldownSeconds: 3600,
	})

	h := NewHandler(handlers.NewBaseHandler(reg, sched, relay.NewRelayer(), st))
	router := gin.New()
	router.GET("/gemini/v1/models", h.Models)
	router.POST("/gemini/v1/models/*modelAction", h.Generate)
	return &rig{router: router, store: st}
}

func postGenerate(r *rig, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.router.ServeHTTP(w, req)
	return w
}

func TestGenerate_InvalidPathFormat(t *testing.T) {
	r := newRig(t, "http://unused.invalid")

	w := postGenerate(r, "/gemini/v1/models/gemini-pro", `{}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := w.Body.String()
	require.Equal(t, "invalid_request", gjson.Get(body, "error.type").String())
	require.Equal(t,
		"Invalid request: Invalid path format: gemini-pro. Expected format: model:method",
		gjson.Get(body, "error.message").String())
}

func TestGenerate_NonStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models/gemini-1.5-pro:generateContent", r.URL.Path)
		require.Equal(t, "Bearer at-gemini", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":9}}`))
	}))
	defer upstream.Close()

	r := newRig(t, upstream.URL)
	w := postGenerate(r, "/gemini/v1/models/gemini-1.5-pro:generateContent", `{"contents":[]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hi", gjson.Get(w.Body.String(), "candidates.0.content.parts.0.text").String())

	agg, err := r.store.UsageByAccount(context.Background(), "g1", 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), agg.TotalRequests)
	require.Equal(t, int64(7), agg.TotalInput)
	require.Equal(t, int64(9), agg.TotalOutput)
}

func TestGenerate_ColonSplitUsesLastColon(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models/tunedModels/my:model:generateContent", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	r := newRig(t, upstream.URL)
	w := postGenerate(r, "/gemini/v1/models/tunedModels/my:model:generateContent", `{}`)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestGenerate_Streaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models/gemini-1.5-flash:streamGenerateContent", r.URL.Path)
		require.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"h\"}]}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"usageMetadata\":{\"promptTokenCount\":3,\"candidatesTokenCount\":5}}\n\n"))
	}))
	defer upstream.Close()

	r := newRig(t, upstream.URL)
	w := postGenerate(r, "/gemini/v1/models/gemini-1.5-flash:streamGenerateContent", `{"contents":[]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Contains(t, w.Body.String(), "usageMetadata")

	agg, err := r.store.UsageByAccount(context.Background(), "g1", 7)
	require.NoError(t, err)
	require.Equal(t, int64(3), agg.TotalInput)
	require.Equal(t, int64(5), agg.TotalOutput)
}

func TestModels_StaticCatalog(t *testing.T) {
	r := newRig(t, "http://unused.invalid")

	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gemini/v1/models", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Equal(t, int64(3), gjson.Get(body, "models.#").Int())
	require.Equal(t, "models/gemini-2.0-flash-exp", gjson.Get(body, "models.0.name").String())
	require.Equal(t, "Gemini 2.0 Flash", gjson.Get(body, "models.0.displayName").String())
}
