package prefstore

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/embedding"
)

// MemoryStore is the in-memory Store variant. Same merge/retrieval semantics
// as the sqlite store, no durability. Used by tests and ephemeral setups.
type MemoryStore struct {
	embedder embedding.Embedder
	opts     Options
	entropy  *rand.Rand

	mu      sync.Mutex
	records map[string][]domain.PreferenceRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory(embedder embedding.Embedder, opts Options) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		opts:     opts,
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
		records:  make(map[string][]domain.PreferenceRecord),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, userID, statement string, tags []string) (*domain.PreferenceRecord, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return nil, fmt.Errorf("%w: empty statement", domain.ErrInvalidSlot)
	}

	var vec embedding.Vector
	embedFailed := true
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, statement); err == nil {
			vec = v
			embedFailed = false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	recs := s.records[userID]
	for i := range recs {
		if recordSimilarity(statement, vec, &recs[i]) >= s.opts.DedupSimilarity {
			recs[i].Weight++
			recs[i].UpdatedAt = now
			recs[i].Tags = unionTags(recs[i].Tags, tags)
			if len(recs[i].Embedding) == 0 && len(vec) > 0 {
				recs[i].Embedding = vec
				recs[i].NeedsEmbedding = false
			}
			out := recs[i]
			return &out, nil
		}
	}

	rec := domain.PreferenceRecord{
		ID:             ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		UserID:         userID,
		Statement:      statement,
		Embedding:      vec,
		Tags:           unionTags(nil, tags),
		Weight:         1,
		NeedsEmbedding: embedFailed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.records[userID] = append(recs, rec)
	return &rec, nil
}

func (s *MemoryStore) Retrieve(ctx context.Context, userID, query string, topK int) ([]domain.PreferenceRecord, error) {
	if topK <= 0 {
		topK = 3
	}
	var queryVec embedding.Vector
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, query); err == nil {
			queryVec = v
		}
	}

	s.mu.Lock()
	recs := append([]domain.PreferenceRecord(nil), s.records[userID]...)
	s.mu.Unlock()

	if len(recs) == 0 {
		return nil, nil
	}
	return rankRecords(recs, queryVec, query, s.opts, topK), nil
}

func (s *MemoryStore) Profile(_ context.Context, userID string) ([]domain.PreferenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := append([]domain.PreferenceRecord(nil), s.records[userID]...)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})
	return recs, nil
}

func (s *MemoryStore) Purge(_ context.Context, scope, token string) error {
	if s.opts.AdminToken == "" || token != s.opts.AdminToken {
		return domain.ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope == domain.PurgeScopeAll {
		s.records = make(map[string][]domain.PreferenceRecord)
		return nil
	}
	delete(s.records, scope)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
