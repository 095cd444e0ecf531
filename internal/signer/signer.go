// Package signer resolves the account behind an HTTP request. Every ledger
// operation runs as the account returned here.
package signer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medrex/caseledger/pkg/config"
	"github.com/medrex/caseledger/pkg/types"
)

// AccountHeader names the caller in header mode
const AccountHeader = "X-Account"

// Authenticator extracts the signing account from a request
type Authenticator interface {
	Authenticate(r *http.Request) (types.Account, error)
	Method() string
}

// New returns the authenticator selected by cfg.Mode
func New(cfg *config.AuthConfig) (Authenticator, error) {
	switch cfg.Mode {
	case "jwt":
		return NewTokenValidator(cfg.JWTSecret, cfg.Issuer, time.Duration(cfg.TokenTTL)*time.Second), nil
	case "header":
		return HeaderAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %q", cfg.Mode)
	}
}

// HeaderAuthenticator trusts the X-Account header. Use it only behind a gateway
// that authenticates callers itself.
type HeaderAuthenticator struct{}

// Authenticate reads the account header
func (HeaderAuthenticator) Authenticate(r *http.Request) (types.Account, error) {
	raw := r.Header.Get(AccountHeader)
	if strings.TrimSpace(raw) == "" {
		return "", types.NewUnauthenticatedError("missing "+AccountHeader+" header", nil)
	}
	return types.ParseAccount("account", raw)
}

// Method names the scheme for metrics
func (HeaderAuthenticator) Method() string { return "header" }

// JWTClaims represents JWT token claims
type JWTClaims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// Token is an issued access token
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
	Account     string    `json:"account"`
}

// TokenValidator issues and validates HS256 bearer tokens whose subject is the account
type TokenValidator struct {
	jwtSecret []byte
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenValidator creates a new token validator
func NewTokenValidator(secret, issuer string, ttl time.Duration) *TokenValidator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenValidator{
		jwtSecret: []byte(secret),
		issuer:    issuer,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Method names the scheme for metrics
func (tv *TokenValidator) Method() string { return "jwt" }

// IssueToken signs a token for account
func (tv *TokenValidator) IssueToken(account types.Account) (*Token, error) {
	if strings.TrimSpace(string(account)) == "" {
		return nil, types.NewInvalidArgumentError("account", "account is required")
	}
	now := tv.now()
	claims := &JWTClaims{
		Account: string(account),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tv.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tv.issuer,
			Subject:   string(account),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tv.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(tv.ttl.Seconds()),
		IssuedAt:    now,
		Account:     string(account),
	}, nil
}

// ValidateJWT validates a token and returns the account it was issued to
func (tv *TokenValidator) ValidateJWT(tokenString string) (types.Account, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tv.now),
	}
	if tv.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(tv.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tv.jwtSecret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", types.NewUnauthenticatedError("token expired", err)
		}
		return "", types.NewUnauthenticatedError("invalid token", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return "", types.NewUnauthenticatedError("invalid token claims", nil)
	}

	account := claims.Subject
	if account == "" {
		account = claims.Account
	}
	if strings.TrimSpace(account) == "" {
		return "", types.NewUnauthenticatedError("token has no subject", nil)
	}
	return types.ParseAccount("account", account)
}

// Authenticate reads an "Authorization: Bearer" token
func (tv *TokenValidator) Authenticate(r *http.Request) (types.Account, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", types.NewUnauthenticatedError("missing authorization header", nil)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", types.NewUnauthenticatedError("invalid authorization header format", nil)
	}
	return tv.ValidateJWT(strings.TrimSpace(parts[1]))
}
