package claude

import (
	"context"
	"io"
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

func apiAccount(id string, priority int, apiURL string) config.Account {
	return config.Account{
		Type: config.AccountTypeClaudeAPI, ID: id, Name: "Mock " + id,
		Priority: intPtr(priority), Enabled: boolPtr(true),
		APIKey: "sk-" + id, APIURL: apiURL,
	}
}

type rig struct {
	router *gin.Engine
	sched  *scheduler.Scheduler
	store  *store.Store
}

func newRig(t *testing.T, cfgs ...config.Account) *rig {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg, err := account.NewRegistry(cfgs)
	require.NoError(t, err)
	sched := scheduler.New(reg, st, config.SessionConfig{
		StickyTTLSeconds:           3600,
		RenewalThresholdSeconds:    300,
		UnavailableCooldownSeconds: 3600,
	})

	h := NewHandler(handlers.NewBaseHandler(reg, sched, relay.NewRelayer(), st))
	router := gin.New()
	router.POST("/v1/messages", h.Messages)
	router.GET("/v1/models", h.Models)
	return &rig{router: router, sched: sched, store: st}
}

func postMessages(r *rig, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.router.ServeHTTP(w, req)
	return w
}

func TestMessages_NonStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"Hello"}],"usage":{"input_tokens":10,"output_tokens":20}}`))
	}))
	defer upstream.Close()

	r := newRig(t, apiAccount("a", 100, upstream.URL))
	w := postMessages(r, `{"model":"claude-sonnet-4-20250514","max_tokens":16,"messages":[]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "msg_1", gjson.Get(w.Body.String(), "id").String())

	agg, err := r.store.UsageByAccount(context.Background(), "a", 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), agg.TotalRequests)
	require.Equal(t, int64(10), agg.TotalInput)
	require.Equal(t, int64(20), agg.TotalOutput)
}

func TestMessages_RetriesOntoNextAccount(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit"}}`))
	}))
	defer limited.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"msg_2","usage":{"input_tokens":1,"output_tokens":2}}`))
	}))
	defer healthy.Close()

	r := newRig(t, apiAccount("a", 100, limited.URL), apiAccount("b", 50, healthy.URL))
	w := postMessages(r, `{"model":"claude-sonnet-4-20250514","messages":[]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "msg_2", gjson.Get(w.Body.String(), "id").String())

	reason, _, active := r.sched.CooldownStatus("a")
	require.True(t, active)
	require.Equal(t, "rate_limited", reason)
	require.False(t, r.sched.InCooldown("b"))

	agg, err := r.store.UsageByAccount(context.Background(), "b", 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), agg.TotalRequests)
}

func TestMessages_AllAccountsExhausted(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit"}}`))
	}))
	defer limited.Close()

	r := newRig(t, apiAccount("a", 100, limited.URL))
	w := postMessages(r, `{"model":"claude-sonnet-4-20250514","messages":[]}`)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := w.Body.String()
	require.Equal(t, "rate_limited", gjson.Get(body, "error.type").String())
	require.Equal(t, int64(429), gjson.Get(body, "error.code").Int())
	require.Equal(t, "Rate limited, retry after 60s", gjson.Get(body, "error.message").String())
}

func TestMessages_UpstreamStatusPassesThrough(t *testing.T) {
	teapot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"error":{"message":"short and stout"}}`))
	}))
	defer teapot.Close()

	r := newRig(t, apiAccount("a", 100, teapot.URL))
	w := postMessages(r, `{"model":"claude-sonnet-4-20250514","messages":[]}`)

	require.Equal(t, http.StatusTeapot, w.Code)
	require.Equal(t, "api_error", gjson.Get(w.Body.String(), "error.type").String())
	// Fatal upstream errors never cool the account down.
	require.False(t, r.sched.InCooldown("a"))
}

func TestMessages_Streaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, gjson.GetBytes(mustReadBody(t, r), "stream").Bool())
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":40,\"output_tokens\":1}}}\n\n"))
		_, _ = w.Write([]byte("event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"input_tokens\":40,\"output_tokens\":100}}\n\n"))
		_, _ = w.Write([]byte("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
	}))
	defer upstream.Close()

	r := newRig(t, apiAccount("a", 100, upstream.URL))
	w := postMessages(r, `{"model":"claude-sonnet-4-20250514","messages":[],"stream":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Contains(t, w.Body.String(), "event: message_start")
	require.Contains(t, w.Body.String(), "event: message_stop")

	agg, err := r.store.UsageByAccount(context.Background(), "a", 7)
	require.NoError(t, err)
	require.Equal(t, int64(40), agg.TotalInput)
	require.Equal(t, int64(100), agg.TotalOutput)
}

func TestModels_StaticCatalog(t *testing.T) {
	r := newRig(t, apiAccount("a", 100, "http://unused.invalid"))

	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Equal(t, "list", gjson.Get(body, "object").String())
	require.Equal(t, int64(5), gjson.Get(body, "data.#").Int())
	require.Equal(t, "claude-sonnet-4-20250514", gjson.Get(body, "data.0.id").String())
	require.Equal(t, "anthropic", gjson.Get(body, "data.0.owned_by").String())
}

func mustReadBody(t *testing.T, r *http.Request) []byte {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return body
}
