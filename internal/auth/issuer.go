// Package auth issues the time-limited credentials handed out on join.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmptySecret  = errors.New("credential secret is empty")
)

// Issuer signs a credential for a user.
type Issuer interface {
	Issue(user string) (string, error)
}

// Claims carried by a credential.
type Claims struct {
	jwt.RegisteredClaims
	AppID string `json:"app_id"`
}

// JWTIssuer signs HS256 tokens with a shared secret.
type JWTIssuer struct {
	secret []byte
	appID  string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTIssuer creates an issuer for appID whose tokens live for ttl.
func NewJWTIssuer(secret, appID string, ttl time.Duration) (*JWTIssuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &JWTIssuer{
		secret: []byte(secret),
		appID:  appID,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (i *JWTIssuer) Issue(user string) (string, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		AppID: i.appID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses a credential issued by i and returns its claims.
func (i *JWTIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
