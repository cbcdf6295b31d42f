package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ratewall/ratewall/internal/auth"
	"github.com/ratewall/ratewall/internal/models"
)

var testUser = models.User{ID: 42, Username: "alice"}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret" {
		t.Fatalf("hash must not equal the password")
	}
	if !auth.CheckPassword(hash, "s3cret") {
		t.Fatalf("correct password must verify")
	}
	if auth.CheckPassword(hash, "wrong") {
		t.Fatalf("wrong password must not verify")
	}
}

func TestTokenPairVerifies(t *testing.T) {
	m := auth.NewManager("secret", time.Hour, 24*time.Hour)

	pair, err := m.IssueTokenPair(testUser)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	id, err := m.VerifyAccess(pair.Access)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if id.UserID != 42 || id.Username != "alice" {
		t.Fatalf("unexpected identity: %#v", id)
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	m := auth.NewManager("secret", time.Hour, 24*time.Hour)

	pair, err := m.IssueTokenPair(testUser)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if _, err := m.VerifyAccess(pair.Refresh); !errors.Is(err, auth.ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestRefreshAccessIssuesNewAccessToken(t *testing.T) {
	m := auth.NewManager("secret", time.Hour, 24*time.Hour)

	pair, err := m.IssueTokenPair(testUser)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	access, err := m.RefreshAccess(pair.Refresh)
	if err != nil {
		t.Fatalf("RefreshAccess: %v", err)
	}
	id, err := m.VerifyAccess(access)
	if err != nil {
		t.Fatalf("VerifyAccess on refreshed token: %v", err)
	}
	if id.UserID != 42 {
		t.Fatalf("unexpected identity: %#v", id)
	}

	// An access token cannot be used to refresh.
	if _, err := m.RefreshAccess(pair.Access); !errors.Is(err, auth.ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	m := auth.NewManager("secret", time.Millisecond, 24*time.Hour)

	pair, err := m.IssueTokenPair(testUser)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := m.VerifyAccess(pair.Access); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestForeignSecretRejected(t *testing.T) {
	issuer := auth.NewManager("secret-a", time.Hour, 24*time.Hour)
	verifier := auth.NewManager("secret-b", time.Hour, 24*time.Hour)

	pair, err := issuer.IssueTokenPair(testUser)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if _, err := verifier.VerifyAccess(pair.Access); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken across secrets, got %v", err)
	}
}
