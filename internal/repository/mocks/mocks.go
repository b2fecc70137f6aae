package mocks

import (
	"context"

	"github.com/siteform/fieldsync/internal/domain/auth"
	"github.com/siteform/fieldsync/internal/domain/queue"
	"github.com/stretchr/testify/mock"
)

// CredentialRepository is a mock for repository.CredentialRepository.
type CredentialRepository struct {
	mock.Mock
}

func (m *CredentialRepository) Save(ctx context.Context, sess *auth.Session) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

func (m *CredentialRepository) Load(ctx context.Context) (*auth.Session, error) {
	args := m.Called(ctx)
	if sess, ok := args.Get(0).(*auth.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CredentialRepository) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// QueueRepository is a mock for repository.QueueRepository.
type QueueRepository struct {
	mock.Mock
}

func (m *QueueRepository) Enqueue(ctx context.Context, rec *queue.Record) (int64, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(int64), args.Error(1)
}

func (m *QueueRepository) Pending(ctx context.Context) ([]queue.Record, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]queue.Record); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *QueueRepository) MarkSynced(ctx context.Context, seq int64) error {
	args := m.Called(ctx, seq)
	return args.Error(0)
}

func (m *QueueRepository) MarkFailed(ctx context.Context, seq int64, reason string) error {
	args := m.Called(ctx, seq, reason)
	return args.Error(0)
}

func (m *QueueRepository) Counts(ctx context.Context) (queue.Counts, error) {
	args := m.Called(ctx)
	return args.Get(0).(queue.Counts), args.Error(1)
}

// AuthAPI is a mock for auth.API.
type AuthAPI struct {
	mock.Mock
}

func (m *AuthAPI) Login(ctx context.Context, email, password string) (*auth.Session, error) {
	args := m.Called(ctx, email, password)
	if sess, ok := args.Get(0).(*auth.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *AuthAPI) Refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	args := m.Called(ctx, refreshToken)
	if sess, ok := args.Get(0).(*auth.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *AuthAPI) Logout(ctx context.Context, accessToken string) error {
	args := m.Called(ctx, accessToken)
	return args.Error(0)
}
