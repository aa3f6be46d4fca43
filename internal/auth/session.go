package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adamscao/pkiserver/internal/apperr"
)

// DefaultSessionTTL is used when a non-positive TTL is configured
const DefaultSessionTTL = 24 * time.Hour

// Authenticator issues and checks admin bearer tokens. Sessions live in
// memory only and are lost on restart.
type Authenticator struct {
	mu       sync.RWMutex
	sessions map[string]time.Time // token hash -> expiry

	secretHash string
	totpSecret string
	ttl        time.Duration
	now        func() time.Time
}

// NewAuthenticator creates an authenticator for the admin secret. When
// totpSecret is non-empty, Login also requires a valid one-time code.
func NewAuthenticator(secret string, ttl time.Duration, totpSecret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("admin secret is required")
	}
	hash, err := HashPassword(secret)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &Authenticator{
		sessions:   make(map[string]time.Time),
		secretHash: hash,
		totpSecret: strings.TrimSpace(totpSecret),
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// TOTPRequired reports whether Login expects a one-time code
func (a *Authenticator) TOTPRequired() bool {
	return a.totpSecret != ""
}

// Login checks the admin secret (and one-time code, when configured) and
// starts a session.
func (a *Authenticator) Login(password, otp string) (string, time.Time, error) {
	const op = "auth.Login"

	ok, err := CheckPassword(a.secretHash, password)
	if err != nil {
		return "", time.Time{}, err
	}
	if !ok {
		return "", time.Time{}, apperr.New(apperr.ErrUnauthenticated, op, "invalid password")
	}

	if a.TOTPRequired() && !ValidateTOTP(a.totpSecret, otp) {
		return "", time.Time{}, apperr.New(apperr.ErrUnauthenticated, op, "invalid one-time code")
	}

	token, err := GenerateSessionToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to start session: %w", err)
	}
	expiresAt := a.now().Add(a.ttl)

	a.mu.Lock()
	a.sessions[HashToken(token)] = expiresAt
	a.mu.Unlock()

	return token, expiresAt, nil
}

// Verify checks token and returns its expiry. Expired sessions are evicted.
func (a *Authenticator) Verify(token string) (time.Time, error) {
	const op = "auth.Verify"

	if token == "" {
		return time.Time{}, apperr.New(apperr.ErrUnauthenticated, op, "missing token")
	}
	key := HashToken(token)

	a.mu.RLock()
	expiresAt, ok := a.sessions[key]
	a.mu.RUnlock()
	if !ok {
		return time.Time{}, apperr.New(apperr.ErrUnauthenticated, op, "invalid token")
	}

	if !a.now().Before(expiresAt) {
		a.mu.Lock()
		delete(a.sessions, key)
		a.mu.Unlock()
		return time.Time{}, apperr.New(apperr.ErrExpired, op, "token expired")
	}

	return expiresAt, nil
}

// Logout ends a session. It reports whether the token was known.
func (a *Authenticator) Logout(token string) bool {
	key := HashToken(token)

	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[key]
	delete(a.sessions, key)
	return ok
}

// Sweep evicts every expired session and returns how many were removed
func (a *Authenticator) Sweep() int {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for key, expiresAt := range a.sessions {
		if !now.Before(expiresAt) {
			delete(a.sessions, key)
			removed++
		}
	}
	return removed
}

// Active returns the number of live sessions
func (a *Authenticator) Active() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}
