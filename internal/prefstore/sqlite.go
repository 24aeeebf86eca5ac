package prefstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/embedding"
)

// reembedBatch bounds how many degraded records one upsert will re-embed.
const reembedBatch = 4

// SQLiteStore implements Store using SQLite. Writes for one user are
// serialized with a per-user lock; purge takes the write lock exclusively so
// it never interleaves with an in-flight upsert for the affected scope.
type SQLiteStore struct {
	db       *sql.DB
	embedder embedding.Embedder
	opts     Options
	entropy  *rand.Rand

	purgeMu sync.RWMutex
	userMu  sync.Mutex
	users   map[string]*sync.Mutex
}

// NewSQLite opens or creates the preference database at dbPath.
// embedder may be nil; the store then runs in degraded text-similarity mode.
func NewSQLite(dbPath string, embedder embedding.Embedder, opts Options) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		embedder: embedder,
		opts:     opts,
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
		users:    make(map[string]*sync.Mutex),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS preferences (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		statement       TEXT NOT NULL,
		embedding       TEXT,
		tags            TEXT,
		weight          REAL NOT NULL DEFAULT 1.0,
		needs_embedding INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_preferences_user ON preferences(user_id);
	CREATE INDEX IF NOT EXISTS idx_preferences_user_updated ON preferences(user_id, updated_at DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) lockUser(userID string) func() {
	s.userMu.Lock()
	mu, ok := s.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.users[userID] = mu
	}
	s.userMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Upsert embeds the statement and merges into a near-duplicate when one
// exists; otherwise inserts. Embedding failure degrades to a raw record
// marked needs_embedding instead of failing.
func (s *SQLiteStore) Upsert(ctx context.Context, userID, statement string, tags []string) (*domain.PreferenceRecord, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return nil, fmt.Errorf("%w: empty statement", domain.ErrInvalidSlot)
	}

	s.purgeMu.RLock()
	defer s.purgeMu.RUnlock()
	unlock := s.lockUser(userID)
	defer unlock()

	vec, embedErr := s.embed(ctx, statement)
	if embedErr != nil {
		slog.Warn("embedding unavailable, storing raw preference", "user_id", userID, "error", embedErr)
	}

	records, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Near-duplicate merge keeps the store from growing unbounded with
	// restatements of the same preference.
	var best *domain.PreferenceRecord
	bestScore := 0.0
	for i := range records {
		score := recordSimilarity(statement, vec, &records[i])
		if score >= s.opts.DedupSimilarity && score > bestScore {
			best = &records[i]
			bestScore = score
		}
	}

	now := time.Now()
	if best != nil {
		best.Weight++
		best.UpdatedAt = now
		best.Tags = unionTags(best.Tags, tags)
		if len(best.Embedding) == 0 && len(vec) > 0 {
			best.Embedding = vec
			best.NeedsEmbedding = false
		}
		if err := s.update(ctx, best); err != nil {
			return nil, err
		}
		if embedErr == nil {
			s.reembedPending(ctx, userID, records)
		}
		return best, nil
	}

	rec := &domain.PreferenceRecord{
		ID:             s.newID(),
		UserID:         userID,
		Statement:      statement,
		Embedding:      vec,
		Tags:           unionTags(nil, tags),
		Weight:         1,
		NeedsEmbedding: embedErr != nil,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}
	if embedErr == nil {
		s.reembedPending(ctx, userID, records)
	}
	return rec, nil
}

func (s *SQLiteStore) embed(ctx context.Context, text string) (embedding.Vector, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	return s.embedder.Embed(ctx, text)
}

// reembedPending backfills vectors for records stored while the embedding
// service was down. Best effort; failures leave the marker in place.
func (s *SQLiteStore) reembedPending(ctx context.Context, userID string, records []domain.PreferenceRecord) {
	done := 0
	for i := range records {
		if done >= reembedBatch {
			return
		}
		if !records[i].NeedsEmbedding {
			continue
		}
		vec, err := s.embed(ctx, records[i].Statement)
		if err != nil {
			return
		}
		records[i].Embedding = vec
		records[i].NeedsEmbedding = false
		if err := s.update(ctx, &records[i]); err != nil {
			slog.Warn("re-embed update failed", "record_id", records[i].ID, "error", err)
			return
		}
		done++
	}
}

// Retrieve returns the top-k most similar records for the user.
func (s *SQLiteStore) Retrieve(ctx context.Context, userID, query string, topK int) ([]domain.PreferenceRecord, error) {
	if topK <= 0 {
		topK = 3
	}
	records, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	var queryVec embedding.Vector
	if vec, err := s.embed(ctx, query); err == nil {
		queryVec = vec
	}
	return rankRecords(records, queryVec, query, s.opts, topK), nil
}

// Profile returns all records for the user, most recent first.
func (s *SQLiteStore) Profile(ctx context.Context, userID string) ([]domain.PreferenceRecord, error) {
	return s.loadUser(ctx, userID)
}

// Purge removes records for the scope. Requires the configured admin token
// and blocks until in-flight writes for the scope have finished.
func (s *SQLiteStore) Purge(ctx context.Context, scope, token string) error {
	if s.opts.AdminToken == "" || token != s.opts.AdminToken {
		return domain.ErrUnauthorized
	}

	s.purgeMu.Lock()
	defer s.purgeMu.Unlock()

	var err error
	if scope == domain.PurgeScopeAll {
		_, err = s.execRetry(ctx, `DELETE FROM preferences`)
	} else {
		_, err = s.execRetry(ctx, `DELETE FROM preferences WHERE user_id = ?`, scope)
	}
	if err != nil {
		return fmt.Errorf("purge scope %q: %w", scope, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execRetry retries writes that hit SQLite concurrency errors with
// exponential backoff.
func (s *SQLiteStore) execRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var res sql.Result
	var err error
	for i := 0; i < maxRetries; i++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !isSQLiteConflict(err) {
			return res, err
		}
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(baseDelay * time.Duration(1<<i)):
			}
		}
	}
	return res, err
}

func (s *SQLiteStore) insert(ctx context.Context, rec *domain.PreferenceRecord) error {
	embJSON, tagJSON := encodeRecord(rec)
	_, err := s.execRetry(ctx, `
		INSERT INTO preferences (id, user_id, statement, embedding, tags, weight, needs_embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Statement, embJSON, tagJSON,
		rec.Weight, boolInt(rec.NeedsEmbedding), rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert preference: %w", err)
	}
	return nil
}

func (s *SQLiteStore) update(ctx context.Context, rec *domain.PreferenceRecord) error {
	embJSON, tagJSON := encodeRecord(rec)
	_, err := s.execRetry(ctx, `
		UPDATE preferences
		SET embedding = ?, tags = ?, weight = ?, needs_embedding = ?, updated_at = ?
		WHERE id = ?`,
		embJSON, tagJSON, rec.Weight, boolInt(rec.NeedsEmbedding), rec.UpdatedAt.Unix(), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadUser(ctx context.Context, userID string) ([]domain.PreferenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, statement, embedding, tags, weight, needs_embedding, created_at, updated_at
		FROM preferences WHERE user_id = ? ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var out []domain.PreferenceRecord
	for rows.Next() {
		var rec domain.PreferenceRecord
		var embJSON, tagJSON sql.NullString
		var needsEmbedding int
		var createdAt, updatedAt int64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Statement, &embJSON, &tagJSON,
			&rec.Weight, &needsEmbedding, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan preference row: %w", err)
		}
		if embJSON.Valid && embJSON.String != "" {
			if err := json.Unmarshal([]byte(embJSON.String), &rec.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding for %s: %w", rec.ID, err)
			}
		}
		if tagJSON.Valid && tagJSON.String != "" {
			if err := json.Unmarshal([]byte(tagJSON.String), &rec.Tags); err != nil {
				return nil, fmt.Errorf("decode tags for %s: %w", rec.ID, err)
			}
		}
		rec.NeedsEmbedding = needsEmbedding != 0
		rec.CreatedAt = time.Unix(createdAt, 0)
		rec.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodeRecord(rec *domain.PreferenceRecord) (embJSON, tagJSON any) {
	embJSON = nil
	if len(rec.Embedding) > 0 {
		b, _ := json.Marshal(rec.Embedding)
		embJSON = string(b)
	}
	tagJSON = nil
	if len(rec.Tags) > 0 {
		b, _ := json.Marshal(rec.Tags)
		tagJSON = string(b)
	}
	return embJSON, tagJSON
}

// isSQLiteConflict reports SQLITE_BUSY / "database is locked" errors, which
// warrant a retry rather than a failure.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unionTags(have, add []string) []string {
	out := append([]string(nil), have...)
	for _, tag := range add {
		if tag == "" {
			continue
		}
		found := false
		for _, t := range out {
			if t == tag {
				found = true
				break
			}
		}
		if !found {
			out = append(out, tag)
		}
	}
	return out
}
