package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/pkiserver/internal/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAuthenticator(t *testing.T, totpSecret string) (*Authenticator, *fakeClock) {
	t.Helper()
	a, err := NewAuthenticator("s3cret", 24*time.Hour, totpSecret)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	a.now = clock.Now
	return a, clock
}

func TestLoginVerifyLogout(t *testing.T) {
	a, clock := newTestAuthenticator(t, "")

	token, expiresAt, err := a.Login("s3cret", "")
	require.NoError(t, err)
	assert.Len(t, token, 43)
	assert.Equal(t, clock.Now().Add(24*time.Hour), expiresAt)

	got, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, expiresAt, got)

	assert.True(t, a.Logout(token))
	assert.False(t, a.Logout(token))

	_, err = a.Verify(token)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestLoginWrongPassword(t *testing.T) {
	a, _ := newTestAuthenticator(t, "")

	_, _, err := a.Login("wrong", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	assert.Equal(t, 0, a.Active())
}

func TestVerifyUnknownAndEmpty(t *testing.T) {
	a, _ := newTestAuthenticator(t, "")

	_, err := a.Verify("")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	_, err = a.Verify("not-a-token")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestVerifyExpiredEvicts(t *testing.T) {
	a, clock := newTestAuthenticator(t, "")

	token, _, err := a.Login("s3cret", "")
	require.NoError(t, err)

	clock.Advance(24*time.Hour - time.Second)
	_, err = a.Verify(token)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, apperr.ErrExpired)
	assert.Equal(t, 0, a.Active())

	// evicted: the next check no longer knows the token
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestSweep(t *testing.T) {
	a, clock := newTestAuthenticator(t, "")

	_, _, err := a.Login("s3cret", "")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	fresh, _, err := a.Login("s3cret", "")
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	assert.Equal(t, 1, a.Sweep())
	assert.Equal(t, 1, a.Active())

	_, err = a.Verify(fresh)
	assert.NoError(t, err)
}

func TestLoginWithTOTP(t *testing.T) {
	secret, err := GenerateTOTPSecret("admin")
	require.NoError(t, err)
	a, _ := newTestAuthenticator(t, secret)
	assert.True(t, a.TOTPRequired())

	_, _, err = a.Login("s3cret", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	_, _, err = a.Login("s3cret", code)
	assert.NoError(t, err)
}

func TestConcurrentSessions(t *testing.T) {
	a, _ := newTestAuthenticator(t, "")

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, _, err := a.Login("s3cret", "")
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, len(tokens), a.Active())
	for _, token := range tokens {
		_, err := a.Verify(token)
		assert.NoError(t, err)
	}
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator("", time.Hour, "")
	assert.Error(t, err)

	a, err := NewAuthenticator("x", 0, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionTTL, a.ttl)
}

func TestGenerateQRCodeURL(t *testing.T) {
	url := GenerateQRCodeURL("ABC", "admin")
	assert.Equal(t, "otpauth://totp/PKI-Server:admin?secret=ABC&issuer=PKI-Server", url)
}
