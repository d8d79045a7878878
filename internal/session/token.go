package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the fields read from a bearer token.
type Claims struct {
	AccountID uuid.UUID
	ExpiresAt time.Time
}

// TokenVerifier validates HS256 tokens issued by the auth service.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses raw and returns its claims. The subject must be an account id.
func (v *TokenVerifier) Verify(raw string) (Claims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return Claims{}, errors.New("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("invalid token claims")
	}
	sub, err := mapClaims.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, errors.New("account id not found in token")
	}
	accountID, err := uuid.Parse(sub)
	if err != nil {
		return Claims{}, fmt.Errorf("invalid account id in token: %w", err)
	}

	claims := Claims{AccountID: accountID}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// IssueToken signs a token for accountID valid for ttl.
func IssueToken(secret string, accountID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString([]byte(secret))
}
