package memory

import (
	"context"
	"log/slog"
	"time"
)

// Embedder produces fixed-length embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const dedupResultLimit = 5

// Dedup answers "have we said something like this recently". It embeds a
// candidate text and searches the bounded recent window. Embedding is a
// non-critical dependency: when it fails, Dedup degrades fail-open and
// reports no neighbors, because skipping a post over a transient embedding
// error is worse than occasionally repeating content.
type Dedup struct {
	embedder Embedder
	repo     Repository
}

// NewDedup creates a Dedup service.
func NewDedup(embedder Embedder, repo Repository) *Dedup {
	return &Dedup{embedder: embedder, repo: repo}
}

// SimilarPosts returns recent posted records whose similarity to text
// meets minSim, highest first. degraded is true when the check could not
// run and the caller should proceed as if nothing matched.
func (d *Dedup) SimilarPosts(ctx context.Context, text string, minSim float64, window time.Duration) (results []SearchResult, degraded bool) {
	return d.search(ctx, text, SearchQuery{
		MinSimilarity: minSim,
		Window:        window,
		Limit:         dedupResultLimit,
		Kind:          KindPosted,
	})
}

// SimilarRepliesToAuthor returns recent replies to the given author that
// resemble text, for catching redundant replies to the same person.
func (d *Dedup) SimilarRepliesToAuthor(ctx context.Context, author, text string, minSim float64, window time.Duration) (results []SearchResult, degraded bool) {
	return d.search(ctx, text, SearchQuery{
		MinSimilarity: minSim,
		Window:        window,
		Limit:         dedupResultLimit,
		Kind:          KindReply,
		Author:        author,
	})
}

// Embed exposes the underlying embedder so callers can reuse the vector
// computed during dedup when storing the record afterwards.
func (d *Dedup) Embed(ctx context.Context, text string) ([]float32, error) {
	return d.embedder.Embed(ctx, text)
}

func (d *Dedup) search(ctx context.Context, text string, q SearchQuery) ([]SearchResult, bool) {
	embedding, err := d.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("dedup degraded: embedding failed, proceeding without similarity check", "error", err)
		return nil, true
	}

	q.Embedding = embedding
	results, err := d.repo.SearchRecent(ctx, q)
	if err != nil {
		slog.Warn("dedup degraded: memory search failed, proceeding without similarity check", "error", err)
		return nil, true
	}
	return results, false
}
