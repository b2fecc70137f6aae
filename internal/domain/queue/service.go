package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the durable store behind the queue. Enqueue must not return
// until the record is crash-durable.
type Repository interface {
	Enqueue(ctx context.Context, rec *Record) (int64, error)
	Pending(ctx context.Context) ([]Record, error)
	MarkSynced(ctx context.Context, seq int64) error
	MarkFailed(ctx context.Context, seq int64, reason string) error
	Counts(ctx context.Context) (Counts, error)
}

// Service owns queue policy: kind lookup, record identity, and the
// pending-count signal. Delivery itself lives in the sync coordinator.
type Service struct {
	repo   Repository
	kinds  *KindRegistry
	logger *slog.Logger
	now    func() time.Time

	countMu        sync.Mutex
	onPendingCount func(int)
}

// NewService creates a queue service.
func NewService(repo Repository, kinds *KindRegistry, logger *slog.Logger) *Service {
	if kinds == nil {
		kinds = DefaultKinds()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		repo:   repo,
		kinds:  kinds,
		logger: logger,
		now:    time.Now,
	}
}

// OnPendingCount registers a listener notified whenever the pending count
// may have changed.
func (s *Service) OnPendingCount(fn func(int)) {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	s.onPendingCount = fn
}

// Enqueue durably stores a record for later delivery and returns it with its
// assigned sequence number. The payload is stored opaque; schema checks
// happen at delivery time so capture never blocks on validation.
func (s *Service) Enqueue(ctx context.Context, subjectID, kind string, payload json.RawMessage, authorID string) (*Record, error) {
	if _, ok := s.kinds.Resolve(kind); !ok {
		return nil, ErrUnknownKind
	}

	rec := &Record{
		RecordID:   uuid.NewString(),
		SubjectID:  subjectID,
		Kind:       kind,
		Payload:    payload,
		AuthorID:   authorID,
		CapturedAt: s.now(),
		Status:     StatusPending,
	}

	seq, err := s.repo.Enqueue(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.Seq = seq

	s.logger.Debug("record queued", "seq", seq, "kind", kind, "subject", subjectID)
	s.notifyPendingCount(ctx)
	return rec, nil
}

// Pending returns unsynced records in ascending sequence order.
func (s *Service) Pending(ctx context.Context) ([]Record, error) {
	return s.repo.Pending(ctx)
}

// MarkSynced flips a record to synced. Idempotent: marking an already-synced
// record is a no-op.
func (s *Service) MarkSynced(ctx context.Context, seq int64) error {
	if err := s.repo.MarkSynced(ctx, seq); err != nil {
		return err
	}
	s.notifyPendingCount(ctx)
	return nil
}

// MarkFailed flags a record as terminally undeliverable. Already-synced
// records are left untouched.
func (s *Service) MarkFailed(ctx context.Context, seq int64, reason string) error {
	if err := s.repo.MarkFailed(ctx, seq, reason); err != nil {
		return err
	}
	s.logger.Warn("record flagged undeliverable", "seq", seq, "reason", reason)
	s.notifyPendingCount(ctx)
	return nil
}

// Counts reports queue totals per status.
func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return s.repo.Counts(ctx)
}

// Kind resolves a registered kind spec.
func (s *Service) Kind(name string) (KindSpec, bool) {
	return s.kinds.Resolve(name)
}

func (s *Service) notifyPendingCount(ctx context.Context) {
	s.countMu.Lock()
	fn := s.onPendingCount
	s.countMu.Unlock()
	if fn == nil {
		return
	}

	counts, err := s.repo.Counts(ctx)
	if err != nil {
		s.logger.Warn("pending count unavailable", "error", err)
		return
	}
	fn(counts.Pending)
}
