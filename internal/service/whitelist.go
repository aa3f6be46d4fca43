package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/auth"
	"github.com/adamscao/pkiserver/internal/db/repository"
	"github.com/adamscao/pkiserver/internal/logging"
	"github.com/adamscao/pkiserver/internal/models"
)

// WhitelistInput describes a device token to pre-register. An empty token is
// generated.
type WhitelistInput struct {
	DeviceToken  string
	DeviceName   string
	Description  string
	AutoApprove  bool
	ValidityDays int
}

// ListWhitelist lists all whitelist entries
func (s *Service) ListWhitelist(ctx context.Context) ([]*models.WhitelistEntry, error) {
	return s.store.Whitelist.List(ctx)
}

// AddWhitelistEntry registers a device token
func (s *Service) AddWhitelistEntry(ctx context.Context, in WhitelistInput, actor Actor) (*models.WhitelistEntry, error) {
	const op = "service.AddWhitelistEntry"

	token := strings.TrimSpace(in.DeviceToken)
	if token == "" {
		generated, err := auth.GenerateSessionToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate device token: %w", err)
		}
		token = generated
	}
	if in.ValidityDays < 0 {
		return nil, apperr.Validation(op, "validity_days must not be negative")
	}

	entry := &models.WhitelistEntry{
		DeviceToken:  token,
		DeviceName:   models.Ptr(strings.TrimSpace(in.DeviceName)),
		Description:  models.Ptr(strings.TrimSpace(in.Description)),
		AutoApprove:  in.AutoApprove,
		ValidityDays: s.validator.AdjustValidity(in.ValidityDays),
		CreatedAt:    s.now().UTC(),
	}

	operator := actor.operator(OperatorAdmin)
	err := s.store.WithinTx(ctx, func(tx *repository.Store) error {
		if err := tx.Whitelist.Create(ctx, entry); err != nil {
			return err
		}
		return record(ctx, tx.Audit, models.ActionWhitelistAdd, models.TargetDevice, strconv.FormatInt(entry.ID, 10),
			operator, fmt.Sprintf("Whitelisted: name=%s, auto_approve=%t", in.DeviceName, in.AutoApprove), actor.IP)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("device whitelisted", logging.Operator(operator))
	return entry, nil
}

// RemoveWhitelistEntry deletes a whitelist entry
func (s *Service) RemoveWhitelistEntry(ctx context.Context, id int64, actor Actor) error {
	operator := actor.operator(OperatorAdmin)
	err := s.store.WithinTx(ctx, func(tx *repository.Store) error {
		entry, err := tx.Whitelist.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Whitelist.Delete(ctx, id); err != nil {
			return err
		}
		return record(ctx, tx.Audit, models.ActionWhitelistRemove, models.TargetDevice, strconv.FormatInt(id, 10),
			operator, "Removed: name="+models.Deref(entry.DeviceName), actor.IP)
	})
	if err != nil {
		return err
	}

	s.logger.Info("whitelist entry removed", logging.Operator(operator))
	return nil
}
