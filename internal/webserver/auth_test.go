package webserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zsprackett/agent-dashboard/internal/db"
)

const testSecret = "test-secret"

func authServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	store, err := db.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, nil, nil, Config{Auth: AuthConfig{JWTSecret: testSecret}}, logger), store
}

func addAccount(t *testing.T, store *db.DB, username string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = store.CreateAccount(username, string(hash))
	require.NoError(t, err)
}

// whoami answers 200 with the authenticated username, if any.
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	name, _ := r.Context().Value(usernameKey).(string)
	io.WriteString(w, name)
})

func serve(h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestProtected(t *testing.T) {
	cases := map[string]bool{
		"/":                  false,
		"/index.html":        false,
		"/healthz":           false,
		"/api/auth/login":    false,
		"/api/auth/refresh":  false,
		"/api/auth/logout":   false,
		"/api/agents":        true,
		"/api/tasks":         true,
		"/api/history":       true,
		"/api/summary":       true,
		"/events":            true,
		"/ws":                true,
		"/eventsource":       false,
		"/api":               false,
		"/apix/agents":       false,
		"/static/events.css": false,
	}
	for path, want := range cases {
		assert.Equal(t, want, protected(path), path)
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	token, err := IssueAccessToken(testSecret, "alice", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	name, err := ValidateAccessToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestAccessToken_Rejected(t *testing.T) {
	expired, _ := IssueAccessToken(testSecret, "alice", -time.Second)
	otherKey, _ := IssueAccessToken("another-secret", "alice", time.Hour)
	for name, token := range map[string]string{
		"expired":       expired,
		"wrong secret":  otherKey,
		"not a jwt":     "garbage",
		"empty":         "",
		"unsigned none": "eyJhbGciOiJub25lIn0.eyJzdWIiOiJhbGljZSJ9.",
	} {
		_, err := ValidateAccessToken(testSecret, token)
		assert.Error(t, err, name)
	}
}

func TestGenerateRefreshToken_Unique(t *testing.T) {
	a, err := GenerateRefreshToken()
	require.NoError(t, err)
	b, err := GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}

func TestAuthMiddleware_OpenUntilFirstAccount(t *testing.T) {
	s, store := authServer(t)
	h := s.authMiddleware(whoami)

	for _, path := range []string{"/api/tasks", "/events", "/ws"} {
		w := serve(h, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Empty(t, w.Body.String(), path)
	}

	addAccount(t, store, "alice")
	for _, path := range []string{"/api/tasks", "/events", "/ws"} {
		assert.Equal(t, http.StatusUnauthorized, serve(h, path).Code, path)
	}
	// Public paths never need a token.
	for _, path := range []string{"/", "/healthz", "/api/auth/login"} {
		assert.Equal(t, http.StatusOK, serve(h, path).Code, path)
	}
}

func TestAuthMiddleware_StreamsAcceptQueryToken(t *testing.T) {
	s, store := authServer(t)
	addAccount(t, store, "alice")
	h := s.authMiddleware(whoami)
	token, err := IssueAccessToken(testSecret, "alice", time.Hour)
	require.NoError(t, err)

	for _, path := range []string{"/events", "/ws"} {
		w := serve(h, path+"?token="+token)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "alice", w.Body.String(), path)

		w = serve(h, path, "Authorization", "Bearer "+token)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "alice", w.Body.String(), path)

		assert.Equal(t, http.StatusUnauthorized, serve(h, path+"?token=garbage").Code, path)
	}

	// A bearer header takes precedence over the query parameter.
	w := serve(h, "/events?token="+token, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_RotatesTokenPair(t *testing.T) {
	s, store := authServer(t)
	addAccount(t, store, "alice")
	h := s.Handler()

	post := func(path, body string) (int, tokenResponse) {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		var resp tokenResponse
		json.NewDecoder(w.Body).Decode(&resp)
		return w.Code, resp
	}

	code, first := post("/api/auth/login", `{"username":"alice","password":"password"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int((15 * time.Minute).Seconds()), first.ExpiresIn)

	code, second := post("/api/auth/refresh", `{"refresh_token":"`+first.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	name, err := ValidateAccessToken(testSecret, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	_, err = store.GetRefreshToken(first.RefreshToken)
	assert.Error(t, err, "rotated token must be deleted")
	_, err = store.GetRefreshToken(second.RefreshToken)
	assert.NoError(t, err)

	code, _ = post("/api/auth/refresh", `{"refresh_token":"`+first.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	// The rotated token can itself be rotated.
	code, third := post("/api/auth/refresh", `{"refresh_token":"`+second.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, second.RefreshToken, third.RefreshToken)

	code, _ = post("/api/auth/refresh", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
