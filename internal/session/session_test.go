package session

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager(t)

	token, exp, err := m.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expected future expiry, got %v", exp)
	}

	sess, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if sess.UserID != "u1" {
		t.Errorf("expected user u1, got %s", sess.UserID)
	}
	if sess.ExpiresAt.Unix() != exp.Unix() {
		t.Errorf("expiry mismatch: issued %v, verified %v", exp, sess.ExpiresAt)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	m := newTestManager(t)

	token, _, err := m.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	payload, sig, _ := strings.Cut(token, ".")
	for _, bad := range []string{
		"",
		"garbage",
		payload,
		payload + ".",
		payload + ".wrongsig",
		"eyJ1aWQiOiJ1MiJ9." + sig,
	} {
		if _, err := m.Verify(bad); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("expected ErrUnauthenticated for %q, got %v", bad, err)
		}
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager("other-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	token, _, err := other.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := m.Verify(token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newTestManager(t)

	token, _, err := m.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := m.Verify(token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}

func TestTokensAreUnique(t *testing.T) {
	m := newTestManager(t)

	a, _, err := m.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	b, _, err := m.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if a == b {
		t.Error("expected distinct tokens for repeated issuance")
	}
}

func TestFromRequest(t *testing.T) {
	m := newTestManager(t)

	token, _, err := m.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	r := httptest.NewRequest("GET", "/v1/sync/credentials", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	sess, err := m.FromRequest(r)
	if err != nil {
		t.Fatalf("FromRequest failed: %v", err)
	}
	if sess.UserID != "u1" {
		t.Errorf("expected user u1, got %s", sess.UserID)
	}

	bare := httptest.NewRequest("GET", "/v1/sync/credentials", nil)
	if _, err := m.FromRequest(bare); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated without header, got %v", err)
	}
}
