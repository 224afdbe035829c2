// Package auth turns bearer tokens into the identity the order flow acts on.
// Issuing tokens belongs to the identity provider; this service only verifies them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/imrishuroy/foodie-orderflow/internal/orders"
)

const (
	// gin context keys
	UserIDKey = "user_id"
	RoleKey   = "role"

	// accessTokenParam lets browsers authenticate websocket upgrades, which cannot
	// carry an Authorization header.
	accessTokenParam = "access_token"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the bearer token claims: the subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is who is calling.
type Identity struct {
	UserID string
	Role   orders.Role
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	key []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{key: []byte(secret)}
}

// Parse validates tokenStr and returns the identity it carries. Only foodie and
// seller roles are accepted; the system role never comes from a client.
func (v *Verifier) Parse(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	role := orders.Role(claims.Role)
	if role != orders.RoleFoodie && role != orders.RoleSeller {
		return Identity{}, fmt.Errorf("%w: unsupported role %q", ErrInvalidToken, claims.Role)
	}
	return Identity{UserID: claims.Subject, Role: role}, nil
}

// Issue signs a token for id. Local tooling and tests use it.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}

// Middleware rejects requests without a valid token and stores the identity in
// the gin context.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearer(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "detail": ErrMissingToken.Error()})
			return
		}
		id, err := v.Parse(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "detail": err.Error()})
			return
		}
		c.Set(UserIDKey, id.UserID)
		c.Set(RoleKey, string(id.Role))
		c.Next()
	}
}

func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if c.IsWebsocket() {
		return c.Query(accessTokenParam)
	}
	return ""
}

// FromContext returns the identity Middleware stored.
func FromContext(c *gin.Context) (Identity, bool) {
	uid := c.GetString(UserIDKey)
	if uid == "" {
		return Identity{}, false
	}
	return Identity{UserID: uid, Role: orders.Role(c.GetString(RoleKey))}, true
}
