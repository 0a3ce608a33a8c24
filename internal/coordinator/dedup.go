package coordinator

import (
	"context"

	"github.com/plume-agent/plume/internal/config"
	"github.com/plume-agent/plume/internal/memory"
	"github.com/plume-agent/plume/internal/metrics"
)

// DedupChecker adapts the similarity memory to the planner's yes/no dedup
// questions. Posts and replies carry separate thresholds: a reply to the
// same person has to be nearly identical before it counts as a repeat.
type DedupChecker struct {
	dedup  *memory.Dedup
	limits config.LimitsConfig
}

func NewDedupChecker(dedup *memory.Dedup, limits config.LimitsConfig) *DedupChecker {
	return &DedupChecker{dedup: dedup, limits: limits}
}

func (d *DedupChecker) DuplicatePost(ctx context.Context, text string) (bool, error) {
	results, degraded := d.dedup.SimilarPosts(ctx, text, d.limits.DuplicateThreshold, d.limits.MemoryWindow)
	if degraded {
		return false, nil
	}
	if len(results) > 0 {
		metrics.DuplicateRejectionsTotal.Inc()
		return true, nil
	}
	return false, nil
}

func (d *DedupChecker) DuplicateReply(ctx context.Context, author, text string) (bool, error) {
	results, degraded := d.dedup.SimilarRepliesToAuthor(ctx, author, text, d.limits.ReplyDupThreshold, d.limits.MemoryWindow)
	if degraded {
		return false, nil
	}
	if len(results) > 0 {
		metrics.DuplicateRejectionsTotal.Inc()
		return true, nil
	}
	return false, nil
}
