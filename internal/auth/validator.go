package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or its signature does not verify
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is not the expected one
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrMissingSecret is returned when a validator is built without a signing secret
	ErrMissingSecret = errors.New("signing secret is required")
)

// DefaultIssuer is the issuer written into and expected from admin tokens
const DefaultIssuer = "waf-gateway"

// Claims are the JWT claims carried by an admin token
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ParsedClaims is the validated subset of Claims handed to callers
type ParsedClaims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HMACValidator validates HS256 tokens signed with a shared secret
type HMACValidator struct {
	secret []byte
	issuer string
}

// NewHMACValidator creates a validator. An empty issuer uses DefaultIssuer.
func NewHMACValidator(secret, issuer string) (*HMACValidator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &HMACValidator{secret: []byte(secret), issuer: issuer}, nil
}

// ValidateToken verifies the signature, expiry and issuer of tokenString
func (v *HMACValidator) ValidateToken(ctx context.Context, tokenString string) (*ParsedClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}

	parsed := &ParsedClaims{
		Subject: claims.Subject,
		Role:    claims.Role,
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}
	return parsed, nil
}

// IssueToken signs a token for subject with role, valid for ttl. Used by
// operators to mint admin tokens and by tests.
func (v *HMACValidator) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
