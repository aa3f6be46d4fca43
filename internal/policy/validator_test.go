package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/config"
	"github.com/adamscao/pkiserver/internal/models"
)

type fakeWhitelist struct {
	entries map[string]*models.WhitelistEntry
	touched map[int64]time.Time
	err     error
}

func (f *fakeWhitelist) GetByToken(_ context.Context, token string) (*models.WhitelistEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if e, ok := f.entries[token]; ok {
		return e, nil
	}
	return nil, apperr.NotFound("test", "not found")
}

func (f *fakeWhitelist) TouchLastUsed(_ context.Context, id int64, at time.Time) error {
	f.touched[id] = at
	return nil
}

func newValidator() (*Validator, *fakeWhitelist) {
	store := &fakeWhitelist{
		entries: map[string]*models.WhitelistEntry{
			"auto":   {ID: 1, DeviceToken: "auto", AutoApprove: true, ValidityDays: 730},
			"manual": {ID: 2, DeviceToken: "manual", AutoApprove: false, ValidityDays: 90},
		},
		touched: map[int64]time.Time{},
	}
	v := NewValidator(config.Default().Policy, store)
	return v, store
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name         string
		token        string
		global       bool
		require      bool
		wantAuto     bool
		wantValidity int
		wantReason   string
		wantErr      error
	}{
		{"auto token", "auto", false, true, true, 730, ReasonWhitelist, nil},
		{"manual token", "manual", false, true, false, 0, ReasonManual, nil},
		{"global switch", "manual", true, true, true, 0, ReasonGlobal, nil},
		{"global with auto token keeps entry validity", "auto", true, true, true, 730, ReasonWhitelist, nil},
		{"unknown token required", "nope", false, true, false, 0, "", apperr.ErrAuthorization},
		{"missing token required", "", true, true, false, 0, "", apperr.ErrAuthorization},
		{"unknown token optional", "nope", false, false, false, 0, ReasonManual, nil},
		{"missing token optional with global", "", true, false, true, 0, ReasonGlobal, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newValidator()
			d, err := v.Evaluate(context.Background(), tt.token, tt.global, tt.require)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAuto, d.AutoApprove)
			assert.Equal(t, tt.wantValidity, d.ValidityDays)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestEvaluateTouchesMatchedToken(t *testing.T) {
	v, store := newValidator()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v.now = func() time.Time { return now }

	d, err := v.Evaluate(context.Background(), "manual", false, true)
	require.NoError(t, err)
	require.NotNil(t, d.Entry)
	assert.Equal(t, now, store.touched[2])

	_, err = v.Evaluate(context.Background(), "nope", false, false)
	require.NoError(t, err)
	assert.Len(t, store.touched, 1)
}

func TestEvaluateStoreFailure(t *testing.T) {
	v, store := newValidator()
	store.err = errors.New("database is locked")

	_, err := v.Evaluate(context.Background(), "auto", false, true)
	assert.ErrorContains(t, err, "database is locked")
	assert.Nil(t, apperr.KindOf(err))
}

func TestAdjustValidity(t *testing.T) {
	v, _ := newValidator()

	assert.Equal(t, 365, v.AdjustValidity(0))
	assert.Equal(t, 365, v.AdjustValidity(-5))
	assert.Equal(t, 30, v.AdjustValidity(30))
	assert.Equal(t, 3650, v.AdjustValidity(99999))
	assert.Equal(t, 365, v.DefaultValidity())
	assert.Equal(t, 3650, v.MaxValidity())
}
