// Package prefstore implements the durable user preference store with
// similarity-based retrieval and dedup-on-write.
package prefstore

import (
	"context"
	"sort"
	"strings"

	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/embedding"
)

// Store is the capability interface over preference records. Two variants
// exist: the sqlite-backed persistent index and an in-memory store, selected
// at construction time.
type Store interface {
	// Upsert embeds the statement and merges it into a near-duplicate
	// record when one exists above the similarity threshold; otherwise it
	// inserts a new record. Never fails on valid input: on embedding
	// failure it stores the raw statement marked for later re-embedding.
	Upsert(ctx context.Context, userID, statement string, tags []string) (*domain.PreferenceRecord, error)

	// Retrieve returns the top-k records most similar to the query,
	// ties broken by recency. Empty result, not an error, for unknown users.
	Retrieve(ctx context.Context, userID, query string, topK int) ([]domain.PreferenceRecord, error)

	// Profile returns every record for the user ordered by recency.
	Profile(ctx context.Context, userID string) ([]domain.PreferenceRecord, error)

	// Purge irreversibly removes records for a single user or, with scope
	// domain.PurgeScopeAll, for everyone. Requires the admin token and is
	// serialized against in-flight writes for the affected scope.
	Purge(ctx context.Context, scope, token string) error

	Close() error
}

// Options tune similarity thresholds and gate the purge operation.
type Options struct {
	DedupSimilarity  float64
	RetrieveMinScore float64
	RetrieveDedup    float64
	AdminToken       string
}

// DefaultOptions mirror the thresholds the retrieval behavior was tuned with.
func DefaultOptions() Options {
	return Options{
		DedupSimilarity:  0.75,
		RetrieveMinScore: 0.3,
		RetrieveDedup:    0.7,
	}
}

// textSimilarity is a bigram Dice coefficient in [0, 1], used to compare
// statements when one side has no embedding vector.
func textSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	overlap := 0
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	total := 0
	for _, n := range ba {
		total += n
	}
	for _, n := range bb {
		total += n
	}
	return float64(2*overlap) / float64(total)
}

func bigrams(s string) map[string]int {
	runes := []rune(s)
	out := make(map[string]int)
	if len(runes) == 1 {
		out[string(runes)] = 1
		return out
	}
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}

// recordSimilarity scores a statement/vector pair against a stored record,
// preferring vector distance and falling back to text similarity when either
// side is missing an embedding.
func recordSimilarity(statement string, vec embedding.Vector, rec *domain.PreferenceRecord) float64 {
	if len(vec) > 0 && len(rec.Embedding) > 0 {
		return embedding.CosineSimilarity(vec, rec.Embedding)
	}
	return textSimilarity(statement, rec.Statement)
}

type scoredRecord struct {
	rec   domain.PreferenceRecord
	score float64
}

// rankRecords orders records by similarity to the query (recency breaks
// ties), drops results under minScore and near-duplicates of already-selected
// results, and truncates to topK.
func rankRecords(records []domain.PreferenceRecord, queryVec embedding.Vector, queryText string, opts Options, topK int) []domain.PreferenceRecord {
	scored := make([]scoredRecord, 0, len(records))
	for _, rec := range records {
		r := rec
		scored = append(scored, scoredRecord{rec: rec, score: recordSimilarity(queryText, queryVec, &r)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].rec.UpdatedAt.After(scored[j].rec.UpdatedAt)
	})

	out := make([]domain.PreferenceRecord, 0, topK)
	for _, s := range scored {
		if len(out) >= topK {
			break
		}
		if s.score < opts.RetrieveMinScore {
			continue
		}
		dup := false
		for _, picked := range out {
			if textSimilarity(s.rec.Statement, picked.Statement) >= opts.RetrieveDedup {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		out = append(out, s.rec)
	}
	return out
}
