package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func authRouter(keys *APIKeys) *gin.Engine {
	r := gin.New()
	r.Use(Auth(keys))
	r.GET("/probe", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"hash": ClientKeyHash(c)})
	})
	return r
}

func TestAuth_EmptyAllowListIsAnonymous(t *testing.T) {
	r := authRouter(NewAPIKeys(nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, AnonymousKeyHash, gjson.Get(w.Body.String(), "hash").String())
}

func TestAuth_BearerKeyAccepted(t *testing.T) {
	r := authRouter(NewAPIKeys([]string{"sk-relay-1"}))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer sk-relay-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	sum := sha256.Sum256([]byte("sk-relay-1"))
	require.Equal(t, hex.EncodeToString(sum[:]), gjson.Get(w.Body.String(), "hash").String())
}

func TestAuth_XAPIKeyHeaderAccepted(t *testing.T) {
	r := authRouter(NewAPIKeys([]string{"sk-relay-1"}))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("x-api-key", "sk-relay-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_BearerTakesPrecedenceOverXAPIKey(t *testing.T) {
	r := authRouter(NewAPIKeys([]string{"sk-good"}))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer sk-bad")
	req.Header.Set("x-api-key", "sk-good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_MissingKeyRejected(t *testing.T) {
	r := authRouter(NewAPIKeys([]string{"sk-relay-1"}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "unauthorized", gjson.Get(w.Body.String(), "error.type").String())
	require.Equal(t, "Missing API key", gjson.Get(w.Body.String(), "error.message").String())
}

func TestAuth_InvalidKeyRejected(t *testing.T) {
	r := authRouter(NewAPIKeys([]string{"sk-relay-1"}))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer sk-wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Invalid API key", gjson.Get(w.Body.String(), "error.message").String())
}

func TestAPIKeys_SwapTakesEffect(t *testing.T) {
	keys := NewAPIKeys([]string{"old"})
	r := authRouter(keys)

	keys.Swap([]string{"new"})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer old")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer new")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestManagementAuth(t *testing.T) {
	key := NewManagementKey("secret")
	r := gin.New()
	r.Use(ManagementAuth(key))
	r.GET("/probe", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Invalid management key", gjson.Get(w.Body.String(), "error.message").String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestManagementKey_EmptyMatchesNothing(t *testing.T) {
	key := NewManagementKey("")
	require.False(t, key.Matches(""))
	require.False(t, key.Matches("anything"))
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/probe", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.String())
	require.Equal(t, w.Body.String(), w.Header().Get("X-Request-ID"))
}
