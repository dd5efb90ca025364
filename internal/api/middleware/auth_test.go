package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/medsupply-storefront/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionService() *auth.SessionService {
	return auth.NewSessionService("test-secret-key", 24*time.Hour)
}

// captureNamespace returns a handler recording the namespace it was called with.
func captureNamespace(got *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ns, ok := NamespaceFromContext(r.Context()); ok {
			*got = ns
		}
		w.WriteHeader(http.StatusOK)
	})
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

// ============================================
// Cart Session Middleware Tests
// ============================================

func TestCartSession_ValidCookie(t *testing.T) {
	sessions := newTestSessionService()
	token, namespace, _, err := sessions.Issue()
	require.NoError(t, err)

	var captured string
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rec := httptest.NewRecorder()

	CartSession(sessions, nil)(captureNamespace(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, namespace, captured)
	assert.Nil(t, sessionCookie(rec), "no new session for a valid one")
	assert.Empty(t, rec.Header().Get(SessionHeader))
}

func TestCartSession_ValidHeader(t *testing.T) {
	sessions := newTestSessionService()
	token, namespace, _, err := sessions.Issue()
	require.NoError(t, err)

	var captured string
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(SessionHeader, token)
	rec := httptest.NewRecorder()

	CartSession(sessions, nil)(captureNamespace(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, namespace, captured)
}

func TestCartSession_CookieTakesPrecedence(t *testing.T) {
	sessions := newTestSessionService()
	cookieToken, cookieNS, _, _ := sessions.Issue()
	headerToken, _, _, _ := sessions.Issue()

	var captured string
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: cookieToken})
	req.Header.Set(SessionHeader, headerToken)
	rec := httptest.NewRecorder()

	CartSession(sessions, nil)(captureNamespace(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, cookieNS, captured)
}

func TestCartSession_IssuesNewSession(t *testing.T) {
	sessions := newTestSessionService()
	other := auth.NewSessionService("another-secret", time.Hour)
	foreign, _, _, err := other.Issue()
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"no session", ""},
		{"garbage", "not-a-token"},
		{"wrong signature", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			req := httptest.NewRequest(http.MethodGet, "/cart", nil)
			if tt.token != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.token})
			}
			rec := httptest.NewRecorder()

			CartSession(sessions, nil)(captureNamespace(&captured)).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			require.NotEmpty(t, captured)

			cookie := sessionCookie(rec)
			require.NotNil(t, cookie)
			assert.True(t, cookie.HttpOnly)
			assert.Equal(t, "/", cookie.Path)
			assert.Equal(t, cookie.Value, rec.Header().Get(SessionHeader))

			ns, err := sessions.Validate(cookie.Value)
			require.NoError(t, err)
			assert.Equal(t, captured, ns)
		})
	}
}

func TestCartSession_ExpiredSessionIsReplaced(t *testing.T) {
	short := auth.NewSessionService("test-secret-key", time.Millisecond)
	token, oldNS, _, err := short.Issue()
	require.NoError(t, err)

	// Wait for token to expire
	time.Sleep(10 * time.Millisecond)

	var captured string
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rec := httptest.NewRecorder()

	CartSession(newTestSessionService(), nil)(captureNamespace(&captured)).ServeHTTP(rec, req)

	assert.NotEmpty(t, captured)
	assert.NotEqual(t, oldNS, captured)
	assert.NotNil(t, sessionCookie(rec))
}

func TestCartSession_RenewsAgingSession(t *testing.T) {
	sessions := newTestSessionService()
	aging := auth.NewSessionService("test-secret-key", 6*time.Hour)
	token, namespace, oldExpiry, err := aging.Issue()
	require.NoError(t, err)

	var captured string
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rec := httptest.NewRecorder()

	CartSession(sessions, nil)(captureNamespace(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, namespace, captured, "renewal keeps the cart")

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.NotEqual(t, token, cookie.Value)
	assert.Equal(t, cookie.Value, rec.Header().Get(SessionHeader))
	assert.True(t, cookie.Expires.After(oldExpiry))

	claims, err := sessions.Parse(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, namespace, claims.Namespace)
	assert.False(t, sessions.NeedsRenewal(claims))
}

func TestCartSession_MarksNewSessions(t *testing.T) {
	sessions := newTestSessionService()
	token, _, _, err := sessions.Issue()
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"no session", "", true},
		{"valid session", token, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fresh bool
			req := httptest.NewRequest(http.MethodGet, "/cart", nil)
			if tt.token != "" {
				req.Header.Set(SessionHeader, tt.token)
			}
			rec := httptest.NewRecorder()

			CartSession(sessions, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fresh = IsNewSession(r.Context())
			})).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, fresh)
		})
	}
}

func TestNamespaceFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	ns, ok := NamespaceFromContext(req.Context())
	assert.False(t, ok)
	assert.Empty(t, ns)
}

// ============================================
// Token Extraction Tests
// ============================================

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   string
	}{
		{name: "cookie", cookie: "from-cookie", want: "from-cookie"},
		{name: "bearer header", header: "Bearer from-header", want: "from-header"},
		{name: "cookie wins", cookie: "from-cookie", header: "Bearer from-header", want: "from-cookie"},
		{name: "basic auth ignored", header: "Basic dXNlcjpwYXNz", want: ""},
		{name: "nothing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "access_token", Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, ExtractToken(req))
		})
	}
}
