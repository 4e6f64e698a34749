package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims 标准 claims + 权限列表
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// Tokens 签发与校验 HS256 bearer token
type Tokens struct {
	secret []byte
	now    func() time.Time
}

func NewTokens(secret string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("auth secret must not be empty")
	}
	return &Tokens{secret: []byte(secret), now: time.Now}, nil
}

// Issue 为 subject 签发 token；validity <= 0 表示永不过期
func (t *Tokens) Issue(subject string, scopes []string, validity time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(t.now()),
		},
		Scopes: scopes,
	}
	if validity > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(t.now().Add(validity))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse 校验 token 并返回对应的 Principal
func (t *Tokens) Parse(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Principal{Subject: claims.Subject, Scopes: claims.Scopes}, nil
}
