package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTokenTTL = 5 * time.Minute

	// MinSecretBytes is the shortest HS256 key the issuer accepts.
	MinSecretBytes = 32

	AccountIDKey = "x-account-id"
)

var (
	ErrMissingSecret = errors.New("jwt secret is not configured")
	ErrWeakSecret    = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretBytes)
	ErrInvalidToken  = errors.New("invalid access token")
)

type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with a single process-wide key.
// Rotating the key invalidates every outstanding token.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}

	if len(secret) < MinSecretBytes {
		return nil, ErrWeakSecret
	}

	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &Issuer{secret: key, ttl: ttl, now: time.Now}, nil
}

func (j *Issuer) TTL() time.Duration {
	return j.ttl
}

func (j *Issuer) Issue(accountID, username string) (string, time.Duration, error) {
	now := j.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   accountID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	})

	signed, err := token.SignedString(j.secret)

	if err != nil {
		return "", 0, err
	}

	return signed, j.ttl, nil
}

func (j *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)

	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func GinJwtMiddleware(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := c.GetHeader("Authorization")

		if bearer == "" {
			abortUnauthorized(c, "Unauthorized request")
			return
		}

		if !strings.HasPrefix(bearer, "Bearer ") {
			abortUnauthorized(c, "Invalid authorization format")
			return
		}

		claims, err := issuer.Verify(strings.TrimPrefix(bearer, "Bearer "))

		if err != nil {
			abortUnauthorized(c, "Unauthorized request")
			return
		}

		c.Set(AccountIDKey, claims.UserID)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":   "UNAUTHORIZED",
			"errors": []gin.H{{"field": "auth", "message": message}},
		},
	})
}
