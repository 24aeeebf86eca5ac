package domain

import "time"

// PreferenceRecord is one persisted user preference statement. Records are
// append-biased: near-duplicate statements are merged into the existing
// record (refreshing weight and timestamp) instead of inserted again.
type PreferenceRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Statement string    `json:"statement"`
	Embedding []float32 `json:"-"`
	Tags      []string  `json:"tags,omitempty"`
	Weight    float64   `json:"weight"`
	// NeedsEmbedding marks records stored while the embedding service was
	// unreachable. They are re-embedded opportunistically on later writes.
	NeedsEmbedding bool      `json:"needs_embedding,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PurgeScopeAll purges preference records for every user.
const PurgeScopeAll = "all"
