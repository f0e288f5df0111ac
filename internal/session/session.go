// Package session issues and verifies the HMAC-signed bearer tokens
// that scope every per-user operation.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthenticated covers every token failure mode: missing, garbled,
// forged, or expired. Callers get no finer detail by design.
var ErrUnauthenticated = errors.New("session: not authenticated")

// Session is the verified identity carried by a token.
type Session struct {
	UserID    string
	ExpiresAt time.Time
}

type claims struct {
	UID   string `json:"uid"`
	Exp   int64  `json:"exp"`
	Nonce string `json:"nonce"`
}

// Manager mints and verifies tokens with a single shared secret.
// Tokens are payload.signature, both base64url, signed with
// HMAC-SHA256.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a Manager. ttl bounds how long issued tokens stay
// valid.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty session secret")
	}
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue mints a token for userID, returning the token and its expiry.
func (m *Manager) Issue(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("empty user id")
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	exp := m.now().Add(m.ttl)
	payload, err := json.Marshal(claims{
		UID:   userID,
		Exp:   exp.Unix(),
		Nonce: base64.RawURLEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to encode claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + m.sign(encoded), exp, nil
}

// Verify checks the token's signature and expiry and returns the
// session it carries.
func (m *Manager) Verify(token string) (Session, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || payload == "" {
		return Session{}, ErrUnauthenticated
	}
	if !hmac.Equal([]byte(sig), []byte(m.sign(payload))) {
		return Session{}, ErrUnauthenticated
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Session{}, ErrUnauthenticated
	}
	var c claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return Session{}, ErrUnauthenticated
	}
	if c.UID == "" {
		return Session{}, ErrUnauthenticated
	}
	exp := time.Unix(c.Exp, 0)
	if !m.now().Before(exp) {
		return Session{}, ErrUnauthenticated
	}

	return Session{UserID: c.UID, ExpiresAt: exp}, nil
}

// FromRequest extracts and verifies the bearer token on r.
func (m *Manager) FromRequest(r *http.Request) (Session, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return Session{}, ErrUnauthenticated
	}
	return m.Verify(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
