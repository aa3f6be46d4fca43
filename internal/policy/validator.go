package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/config"
	"github.com/adamscao/pkiserver/internal/models"
)

// WhitelistStore is the subset of the whitelist repository the validator needs
type WhitelistStore interface {
	GetByToken(ctx context.Context, token string) (*models.WhitelistEntry, error)
	TouchLastUsed(ctx context.Context, id int64, at time.Time) error
}

// Decision is the outcome of evaluating a submission
type Decision struct {
	AutoApprove bool
	// ValidityDays is set when a whitelist entry dictates the validity
	ValidityDays int
	// Entry is the matched whitelist entry, nil when no token matched
	Entry  *models.WhitelistEntry
	Reason string
}

// Decision reasons
const (
	ReasonGlobal    = "global auto-sign"
	ReasonWhitelist = "whitelisted device"
	ReasonManual    = "manual review"
)

// Validator applies the signing policy to device submissions
type Validator struct {
	policy    config.PolicyConfig
	whitelist WhitelistStore
	now       func() time.Time
}

// NewValidator creates a new policy validator
func NewValidator(cfg config.PolicyConfig, whitelist WhitelistStore) *Validator {
	return &Validator{
		policy:    cfg,
		whitelist: whitelist,
		now:       time.Now,
	}
}

// Evaluate decides whether a submission carrying token is auto-approved.
// A matching token has its last-used time refreshed. When requireToken is
// set, a missing or unknown token is an authorization error.
func (v *Validator) Evaluate(ctx context.Context, token string, globalAutoSign, requireToken bool) (Decision, error) {
	const op = "policy.Evaluate"

	var entry *models.WhitelistEntry
	if token != "" {
		found, err := v.whitelist.GetByToken(ctx, token)
		switch {
		case err == nil:
			entry = found
		case errors.Is(err, apperr.ErrNotFound):
		default:
			return Decision{}, fmt.Errorf("failed to look up device token: %w", err)
		}
	}

	if entry == nil && requireToken {
		if token == "" {
			return Decision{}, apperr.New(apperr.ErrAuthorization, op, "device token required")
		}
		return Decision{}, apperr.New(apperr.ErrAuthorization, op, "device token not in whitelist")
	}

	if entry != nil {
		if err := v.whitelist.TouchLastUsed(ctx, entry.ID, v.now()); err != nil {
			return Decision{}, err
		}
	}

	d := Decision{Entry: entry, Reason: ReasonManual}
	if entry != nil && entry.AutoApprove {
		d.AutoApprove = true
		d.ValidityDays = entry.ValidityDays
		d.Reason = ReasonWhitelist
	}
	if globalAutoSign {
		d.AutoApprove = true
		if d.Reason == ReasonManual {
			d.Reason = ReasonGlobal
		}
	}

	return d, nil
}

// AdjustValidity adjusts the requested validity to comply with policy
func (v *Validator) AdjustValidity(requested int) int {
	// If requested is zero or negative, use default
	if requested <= 0 {
		return v.policy.DefaultValidityDays
	}

	// If requested exceeds max, cap at max
	if requested > v.policy.MaxValidityDays {
		return v.policy.MaxValidityDays
	}

	return requested
}

// DefaultValidity returns the default validity in days
func (v *Validator) DefaultValidity() int {
	return v.policy.DefaultValidityDays
}

// MaxValidity returns the maximum validity in days
func (v *Validator) MaxValidity() int {
	return v.policy.MaxValidityDays
}
