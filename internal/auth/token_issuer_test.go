package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "vocabcast",
		Audience:      "vocabcast-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.Issue("cron")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != 1800 {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "cron" || claims.Issuer != "vocabcast" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "vocabcast-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	tokenString, _, err := issuer.Issue("telegram-bot")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	subject, err := issuer.Validate(tokenString)
	if err != nil || subject != "telegram-bot" {
		t.Fatalf("expected validation success, got %q %v", subject, err)
	}
	if _, err := issuer.Validate("invalid.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := issuer.Validate(" "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestTokenIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	issued := time.Date(2026, 5, 14, 8, 0, 0, 0, time.UTC)
	now := issued
	issuer := newTestIssuer(t, func() time.Time { return now })
	tokenString, _, err := issuer.Issue("cron")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = issued.Add(2 * time.Hour)
	if _, err := issuer.Validate(tokenString); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	now = issued
	other, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "someone-else",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("other issuer: %v", err)
	}
	if _, err := other.Validate(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to be rejected, got %v", err)
	}
}

func TestValidateRequestReadsBearerHeader(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	tokenString, _, err := issuer.Issue("cron")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	request := httptest.NewRequest("POST", "/api/vocab/sync", nil)
	if _, err := issuer.ValidateRequest(request); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+tokenString)
	subject, err := issuer.ValidateRequest(request)
	if err != nil || subject != "cron" {
		t.Fatalf("expected cron subject, got %q %v", subject, err)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  TokenIssuerConfig
		want error
	}{
		{name: "missing-secret", cfg: TokenIssuerConfig{Issuer: "vocabcast", TokenTTL: time.Minute}, want: ErrMissingSigningSecret},
		{name: "missing-issuer", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: " ", TokenTTL: time.Minute}, want: ErrMissingIssuer},
		{name: "non-positive-ttl", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "vocabcast"}, want: ErrInvalidTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenIssuer(tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
