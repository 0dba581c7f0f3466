package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenBytes  = 32
	tokenPrefix = "sw_"
	bcryptCost  = 12
	prefixLen   = 8 // chars of base64url shown in logs to identify a key
	issuer      = "sweeper"
)

// GenerateAPIKey returns (plaintext, bcryptHash, lookupPrefix, error).
// The plaintext is shown to the operator exactly once; only the hash is configured.
func GenerateAPIKey() (plaintext, hash, prefix string, err error) {
	b := make([]byte, tokenBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("auth: rand: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(b)
	plaintext = tokenPrefix + encoded
	prefix = encoded[:prefixLen]
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("auth: bcrypt: %w", err)
	}
	return plaintext, string(hashBytes), prefix, nil
}

// ValidateAPIKey compares a plaintext key against a bcrypt hash.
func ValidateAPIKey(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// PrefixOf extracts the identifying prefix from a plaintext API key.
func PrefixOf(plaintext string) (string, error) {
	if !strings.HasPrefix(plaintext, tokenPrefix) {
		return "", errors.New("auth: invalid key format")
	}
	body := plaintext[len(tokenPrefix):]
	if len(body) < prefixLen {
		return "", errors.New("auth: key too short")
	}
	return body[:prefixLen], nil
}

// Claims is the JWT payload for dashboard operators.
type Claims struct {
	Operator string `json:"op"`
	jwt.RegisteredClaims
}

// IssueJWT signs a short-lived JWT for an operator.
func IssueJWT(secret, operator string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth: jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyJWT validates a JWT and returns the claims.
func VerifyJWT(secret, tokenStr string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("auth: jwt verify: %w", err)
	}
	return &claims, nil
}
