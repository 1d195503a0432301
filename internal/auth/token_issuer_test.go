package auth

import (
	"context"
	"testing"
	"time"
)

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "hub-auth",
		Audience:      "hub-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
}

func TestIssueAndValidateSessionToken(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	issuer := newTestIssuer(clock)

	token, expiresIn, err := issuer.IssueSessionToken(context.Background(), SessionClaims{
		Subject: "editor-1",
		OwnerID: "owner-1",
	})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != int64(30*time.Minute/time.Second) {
		t.Fatalf("unexpected expiry %d", expiresIn)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if claims.Subject != "editor-1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if claims.OwnerID != "owner-1" {
		t.Fatalf("unexpected owner %q", claims.OwnerID)
	}
}

func TestIssueSessionTokenRequiresOwner(t *testing.T) {
	issuer := newTestIssuer(nil)

	if _, _, err := issuer.IssueSessionToken(context.Background(), SessionClaims{Subject: "editor-1"}); err == nil {
		t.Fatalf("expected error for missing owner claim")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issued := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return issued })

	token, _, err := issuer.IssueSessionToken(context.Background(), SessionClaims{
		Subject: "editor-1",
		OwnerID: "owner-1",
	})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	late := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "hub-auth",
		Audience:      "hub-api",
		TokenTTL:      30 * time.Minute,
		Clock:         func() time.Time { return issued.Add(2 * time.Hour) },
	})
	if _, err := late.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	issuer := newTestIssuer(nil)
	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("other-secret"),
		Issuer:        "hub-auth",
		Audience:      "hub-api",
	})

	token, _, err := other.IssueSessionToken(context.Background(), SessionClaims{
		Subject: "editor-1",
		OwnerID: "owner-1",
	})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed with foreign secret to be rejected")
	}
}
