package memory

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind tags what a memory record represents.
type Kind string

const (
	KindPosted         Kind = "posted"
	KindReply          Kind = "reply"
	KindMentionIgnored Kind = "mention_ignored"
)

// Record is one emitted or received piece of content, stored with its
// embedding for nearest-neighbor dedup. Records are immutable after
// creation and pruned only by age.
type Record struct {
	ID        uuid.UUID       `json:"id"`
	Author    string          `json:"author"`
	Content   string          `json:"content"`
	Kind      Kind            `json:"kind"`
	Embedding []float32       `json:"embedding,omitempty"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// SearchResult wraps a Record with its similarity score against the query.
type SearchResult struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
}

// SearchQuery bounds a nearest-neighbor search. Window and Limit keep the
// scan over a recent slice of history; the store is sized for hundreds of
// resident vectors, not millions.
type SearchQuery struct {
	Embedding     []float32
	MinSimilarity float64
	Window        time.Duration
	Limit         int
	Kind          Kind   // optional; empty matches all kinds
	Author        string // optional; empty matches all authors
}
