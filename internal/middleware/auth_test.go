package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func newTestRouter() *chi.Mux {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		w.Write([]byte(claims.UserID))
	})

	r := chi.NewRouter()
	r.Use(AuthMiddleware(testSecret))
	r.With(RequireShopAccess).Get("/shops/{shopId}/balance", ok)
	r.With(RequireRole(RoleAdmin)).Get("/admin/treasury", ok)
	return r
}

func doRequest(router http.Handler, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter()
	shopToken := signToken(t, testSecret, Claims{UserID: "u1", ShopID: "shop-1", Role: "shop"})

	t.Run("missing header", func(t *testing.T) {
		w := doRequest(router, "/shops/shop-1/balance", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		w := doRequest(router, "/shops/shop-1/balance", "Token "+shopToken)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, []byte("other"), Claims{UserID: "u1", ShopID: "shop-1"})
		w := doRequest(router, "/shops/shop-1/balance", "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, testSecret, Claims{
			UserID:           "u1",
			ShopID:           "shop-1",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		})
		w := doRequest(router, "/shops/shop-1/balance", "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("own shop", func(t *testing.T) {
		w := doRequest(router, "/shops/shop-1/balance", "Bearer "+shopToken)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u1", w.Body.String())
	})
}

func TestRequireShopAccess(t *testing.T) {
	router := newTestRouter()

	t.Run("other shop is forbidden", func(t *testing.T) {
		token := signToken(t, testSecret, Claims{UserID: "u1", ShopID: "shop-1", Role: "shop"})
		w := doRequest(router, "/shops/shop-2/balance", "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin may read any shop", func(t *testing.T) {
		token := signToken(t, testSecret, Claims{UserID: "root", Role: RoleAdmin})
		w := doRequest(router, "/shops/shop-2/balance", "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	router := newTestRouter()

	t.Run("shop token", func(t *testing.T) {
		token := signToken(t, testSecret, Claims{UserID: "u1", ShopID: "shop-1", Role: "shop"})
		w := doRequest(router, "/admin/treasury", "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin token", func(t *testing.T) {
		token := signToken(t, testSecret, Claims{UserID: "root", Role: RoleAdmin})
		w := doRequest(router, "/admin/treasury", "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
