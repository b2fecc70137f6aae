package queue_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/siteform/fieldsync/internal/domain/queue"
	"github.com/siteform/fieldsync/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestService_Enqueue(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.QueueRepository{}

	var stored *queue.Record
	repo.On("Enqueue", ctx, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*queue.Record)
	}).Return(int64(7), nil)

	svc := queue.NewService(repo, nil, nil)
	rec, err := svc.Enqueue(ctx, "project-1", "site-log", json.RawMessage(`{"log_text":"x"}`), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(7), rec.Seq)
	require.NotEmpty(t, rec.RecordID, "a client id is assigned at enqueue time")
	require.Equal(t, queue.StatusPending, rec.Status)
	require.False(t, rec.CapturedAt.IsZero())

	require.Same(t, rec, stored)
	require.Equal(t, "u1", stored.AuthorID)
}

func TestService_EnqueueUnknownKind(t *testing.T) {
	repo := &mocks.QueueRepository{}
	svc := queue.NewService(repo, nil, nil)

	_, err := svc.Enqueue(context.Background(), "project-1", "drone-photo", json.RawMessage(`{}`), "u1")
	require.ErrorIs(t, err, queue.ErrUnknownKind)
	repo.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestService_EnqueueDoesNotValidatePayload(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.QueueRepository{}
	repo.On("Enqueue", ctx, mock.Anything).Return(int64(1), nil)

	// Capture never blocks on validation; a malformed payload is accepted
	// here and flagged at delivery time.
	svc := queue.NewService(repo, nil, nil)
	_, err := svc.Enqueue(ctx, "project-1", "site-log", json.RawMessage(`{"wrong":"shape"}`), "u1")
	require.NoError(t, err)
}

func TestService_PendingCountNotifications(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.QueueRepository{}
	repo.On("Enqueue", ctx, mock.Anything).Return(int64(1), nil)
	repo.On("MarkSynced", ctx, int64(1)).Return(nil)
	repo.On("Counts", ctx).Return(queue.Counts{Pending: 1}, nil).Once()
	repo.On("Counts", ctx).Return(queue.Counts{Synced: 1}, nil).Once()

	var notified []int
	svc := queue.NewService(repo, nil, nil)
	svc.OnPendingCount(func(n int) { notified = append(notified, n) })

	_, err := svc.Enqueue(ctx, "project-1", "site-log", json.RawMessage(`{"log_text":"x"}`), "u1")
	require.NoError(t, err)
	require.NoError(t, svc.MarkSynced(ctx, 1))

	require.Equal(t, []int{1, 0}, notified)
}

func TestService_MarkFailed(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.QueueRepository{}
	repo.On("MarkFailed", ctx, int64(3), "payload rejected").Return(nil)

	svc := queue.NewService(repo, nil, nil)
	require.NoError(t, svc.MarkFailed(ctx, 3, "payload rejected"))
	repo.AssertExpectations(t)
}

func TestService_KindLookup(t *testing.T) {
	svc := queue.NewService(&mocks.QueueRepository{}, nil, nil)

	spec, ok := svc.Kind("site-log")
	require.True(t, ok)
	require.Equal(t, "site-log", spec.Name)

	_, ok = svc.Kind("unknown")
	require.False(t, ok)
}
