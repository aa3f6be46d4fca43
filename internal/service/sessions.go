package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/logging"
	"github.com/adamscao/pkiserver/internal/models"
)

// Session is an admin login result
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login authenticates the admin and starts a session. Failures are audited.
func (s *Service) Login(ctx context.Context, password, otp, ip string) (*Session, error) {
	token, expiresAt, err := s.authn.Login(password, otp)
	if err != nil {
		if apperr.KindOf(err) == apperr.ErrUnauthenticated {
			s.logger.Warn("admin login failed", logging.RemoteIP(ip), zap.Error(err))
			if aerr := record(ctx, s.store.Audit, models.ActionAuthFailed, models.TargetAdmin, OperatorAdmin,
				OperatorAdmin, apperr.Message(err), ip); aerr != nil {
				s.logger.Error("failed to audit login failure", zap.Error(aerr))
			}
		}
		return nil, err
	}

	if err := record(ctx, s.store.Audit, models.ActionLogin, models.TargetAdmin, OperatorAdmin,
		OperatorAdmin, "Admin login", ip); err != nil {
		s.authn.Logout(token)
		return nil, err
	}

	s.logger.Info("admin logged in", logging.RemoteIP(ip))
	return &Session{Token: token, ExpiresAt: expiresAt}, nil
}

// Logout ends a session
func (s *Service) Logout(ctx context.Context, token, ip string) error {
	if !s.authn.Logout(token) {
		return apperr.New(apperr.ErrUnauthenticated, "service.Logout", "invalid token")
	}
	return record(ctx, s.store.Audit, models.ActionLogout, models.TargetAdmin, OperatorAdmin,
		OperatorAdmin, "Admin logout", ip)
}

// VerifySession checks a bearer token
func (s *Service) VerifySession(token string) (time.Time, error) {
	return s.authn.Verify(token)
}

// SweepSessions drops expired sessions
func (s *Service) SweepSessions() int {
	n := s.authn.Sweep()
	if n > 0 {
		s.logger.Debug("expired sessions removed", zap.Int("count", n))
	}
	return n
}
