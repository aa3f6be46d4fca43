package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/models"
)

func TestRequestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	token := "device-token"
	req := newRequest("TIANSHAN-01")
	req.DeviceToken = &token
	req.SANDNS = models.NewStringSet("tianshan-01.local")
	require.NoError(t, store.Requests.Create(ctx, req))
	assert.NotZero(t, req.ID)

	got, err := store.Requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "TIANSHAN-01", got.DeviceID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, models.CertTypeServer, got.CertType)
	assert.Equal(t, models.StringSet{"192.168.1.100"}, got.SANIPs)
	assert.Equal(t, models.StringSet{"tianshan-01.local"}, got.SANDNS)
	assert.Equal(t, "device-token", models.Deref(got.DeviceToken))
	assert.Nil(t, got.ProcessedAt)
	assert.WithinDuration(t, req.CreatedAt, got.CreatedAt, time.Second)

	_, err = store.Requests.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRequestListAndCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []int64
	for i, name := range []string{"A", "B", "C"} {
		req := newRequest(name)
		req.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Requests.Create(ctx, req))
		ids = append(ids, req.ID)
	}
	require.NoError(t, store.Requests.MarkRejected(ctx, ids[0], "admin", "bad", time.Now()))

	pending, err := store.Requests.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "C", pending[0].DeviceID)
	assert.Equal(t, "B", pending[1].DeviceID)

	all, err := store.Requests.List(ctx, RequestFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	rejected, err := store.Requests.List(ctx, RequestFilter{Status: models.StatusRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "bad", models.Deref(rejected[0].RejectReason))
	assert.Equal(t, "admin", models.Deref(rejected[0].ProcessedBy))
	assert.NotNil(t, rejected[0].ProcessedAt)

	counts, err := store.Requests.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusRejected])
	assert.Equal(t, 0, counts[models.StatusApproved])
}

func TestRequestTransitionsOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	req := newRequest("TIANSHAN-01")
	require.NoError(t, store.Requests.Create(ctx, req))

	require.NoError(t, store.Requests.MarkApproved(ctx, req.ID, "admin", time.Now()))

	err := store.Requests.MarkApproved(ctx, req.ID, "admin", time.Now())
	assert.ErrorIs(t, err, apperr.ErrConflict)

	err = store.Requests.MarkRejected(ctx, req.ID, "admin", "late", time.Now())
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := store.Requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Nil(t, got.RejectReason)

	err = store.Requests.MarkRejected(ctx, 9999, "admin", "missing", time.Now())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRequestTransitionDatabaseError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE csr_requests").WillReturnError(errors.New("disk I/O error"))

	err := store.Requests.MarkApproved(context.Background(), 1, "admin", time.Now())
	assert.ErrorContains(t, err, "failed to update request status")
	assert.Nil(t, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestTransitionMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE csr_requests").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM csr_requests WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := store.Requests.MarkApproved(context.Background(), 7, "admin", time.Now())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
