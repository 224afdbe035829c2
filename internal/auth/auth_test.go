package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/foodie-orderflow/internal/orders"
)

const secret = "test-secret"

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier(secret)
	tok, err := v.Issue(Identity{UserID: "u-1", Role: orders.RoleSeller}, time.Hour)
	require.NoError(t, err)

	id, err := v.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.Equal(t, orders.RoleSeller, id.Role)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier(secret)

	expired, err := v.Issue(Identity{UserID: "u-1", Role: orders.RoleFoodie}, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := NewVerifier("other").Issue(Identity{UserID: "u-1", Role: orders.RoleFoodie}, time.Hour)
	require.NoError(t, err)
	system, err := v.Issue(Identity{UserID: "u-1", Role: orders.RoleSystem}, time.Hour)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "foodie"}).SignedString([]byte(secret))
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Role:             "foodie",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":     expired,
		"wrong key":   wrongKey,
		"system role": system,
		"no subject":  noSubject,
		"hs512":       hs512,
		"garbage":     "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Parse(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func newRouter(v *Verifier, l *Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(v))
	if l != nil {
		r.Use(l.Middleware())
	}
	r.GET("/whoami", func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier(secret)
	r := newRouter(v, nil)
	tok, err := v.Issue(Identity{UserID: "buyer-9", Role: orders.RoleFoodie}, time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"buyer-9","role":"foodie"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Basic abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// query tokens only count on websocket upgrades
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami?access_token="+tok, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami?access_token="+tok, nil)
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLimiter(t *testing.T) {
	v := NewVerifier(secret)
	l := NewLimiter(1, 2)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.nowFunc = func() time.Time { return now }
	r := newRouter(v, l)

	call := func(user string) int {
		tok, err := v.Issue(Identity{UserID: user, Role: orders.RoleFoodie}, time.Hour)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusOK, call("b"), "buckets are per user")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, call("a"), "bucket refills")

	assert.Equal(t, 2, l.Len())
	now = now.Add(visitorIdleTTL + time.Second)
	l.Sweep()
	assert.Equal(t, 0, l.Len())
}
