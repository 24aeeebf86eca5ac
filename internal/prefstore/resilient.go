package prefstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/avezina/tripd/internal/domain"
)

// maxBuffered bounds the local write buffer so a long storage outage cannot
// grow memory without limit. Oldest entries are dropped first.
const maxBuffered = 256

type bufferedWrite struct {
	userID    string
	statement string
	tags      []string
}

// Resilient wraps a Store so storage failures degrade instead of failing the
// turn: upserts buffer locally and are flushed on the next successful write,
// retrieves return empty. Purge and profile pass through unchanged.
type Resilient struct {
	inner Store

	mu      sync.Mutex
	pending []bufferedWrite
}

// NewResilient wraps inner with best-effort buffering.
func NewResilient(inner Store) *Resilient {
	return &Resilient{inner: inner}
}

func (r *Resilient) Upsert(ctx context.Context, userID, statement string, tags []string) (*domain.PreferenceRecord, error) {
	r.flush(ctx)
	rec, err := r.inner.Upsert(ctx, userID, statement, tags)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrInvalidSlot) {
		return nil, err
	}
	slog.Warn("preference store unreachable, buffering write", "user_id", userID, "error", err)
	r.buffer(bufferedWrite{userID: userID, statement: statement, tags: tags})
	return &domain.PreferenceRecord{UserID: userID, Statement: statement, Tags: tags}, nil
}

func (r *Resilient) Retrieve(ctx context.Context, userID, query string, topK int) ([]domain.PreferenceRecord, error) {
	r.flush(ctx)
	recs, err := r.inner.Retrieve(ctx, userID, query, topK)
	if err != nil {
		slog.Warn("preference retrieve failed, continuing without profile", "user_id", userID, "error", err)
		return nil, nil
	}
	return recs, nil
}

func (r *Resilient) Profile(ctx context.Context, userID string) ([]domain.PreferenceRecord, error) {
	r.flush(ctx)
	return r.inner.Profile(ctx, userID)
}

func (r *Resilient) Purge(ctx context.Context, scope, token string) error {
	if err := r.inner.Purge(ctx, scope, token); err != nil {
		return err
	}
	// Buffered writes for the purged scope must not reappear; a rejected
	// purge keeps the buffer intact.
	r.mu.Lock()
	defer r.mu.Unlock()
	if scope == domain.PurgeScopeAll {
		r.pending = nil
		return nil
	}
	kept := r.pending[:0]
	for _, w := range r.pending {
		if w.userID != scope {
			kept = append(kept, w)
		}
	}
	r.pending = kept
	return nil
}

func (r *Resilient) Close() error { return r.inner.Close() }

func (r *Resilient) buffer(w bufferedWrite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, w)
	if len(r.pending) > maxBuffered {
		r.pending = r.pending[len(r.pending)-maxBuffered:]
	}
}

func (r *Resilient) flush(ctx context.Context) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for i, w := range pending {
		if _, err := r.inner.Upsert(ctx, w.userID, w.statement, w.tags); err != nil {
			// Still down; requeue the remainder.
			r.mu.Lock()
			r.pending = append(pending[i:], r.pending...)
			r.mu.Unlock()
			return
		}
	}
}
