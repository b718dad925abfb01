package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenSource produces the bearer credential sent for an authenticated user.
type TokenSource interface {
	Token(userID string) (string, error)
}

// UserIDToken sends the raw user id as the bearer value. The upstream only
// accepts it in development setups.
type UserIDToken struct{}

func (UserIDToken) Token(userID string) (string, error) {
	return userID, nil
}

// JWTTokenSource signs a short-lived HS256 token whose subject is the user id.
type JWTTokenSource struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewJWTTokenSource(secret string, ttl time.Duration, issuer string) (*JWTTokenSource, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWTTokenSource{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

func (s *JWTTokenSource) Token(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks an HS256 token signed with the same secret and returns its
// subject. Expired tokens and tokens without a subject are rejected.
func (s *JWTTokenSource) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// TokenSourceFor picks the JWT source when a secret is configured and falls
// back to the raw user id otherwise.
func TokenSourceFor(secret string, ttl time.Duration, issuer string) (TokenSource, error) {
	if secret == "" {
		return UserIDToken{}, nil
	}
	return NewJWTTokenSource(secret, ttl, issuer)
}
