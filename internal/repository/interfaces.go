package repository

import (
	"context"

	"github.com/siteform/fieldsync/internal/domain/auth"
	"github.com/siteform/fieldsync/internal/domain/queue"
)

// CredentialRepository manages the single persisted session slot.
// Load returns (nil, nil) when no session is stored. Save and Clear are
// atomic with respect to concurrent loads: a partial session is never
// observable.
type CredentialRepository interface {
	Save(ctx context.Context, sess *auth.Session) error
	Load(ctx context.Context) (*auth.Session, error)
	Clear(ctx context.Context) error
}

// QueueRepository manages the durable offline queue. Enqueue assigns the
// sequence number and must not return before the record is crash-durable.
type QueueRepository interface {
	Enqueue(ctx context.Context, rec *queue.Record) (int64, error)
	Pending(ctx context.Context) ([]queue.Record, error)
	MarkSynced(ctx context.Context, seq int64) error
	MarkFailed(ctx context.Context, seq int64, reason string) error
	Counts(ctx context.Context) (queue.Counts, error)
}
