package quota

import (
	"fmt"
	"time"

	"github.com/plume-agent/plume/internal/config"
	"github.com/plume-agent/plume/internal/ledger"
)

// Decision is the engine's answer for one category check.
type Decision struct {
	Allowed   bool
	Remaining int
	Reason    string
}

// Engine answers "is this action permitted right now" from a ledger
// snapshot and the configured limit table. It is a pure function of its
// inputs and performs no I/O; all side effects (the actual increments)
// happen in the ledger repository with its own conditional guard.
type Engine struct {
	limits config.LimitsConfig
}

// NewEngine creates an Engine over an immutable limit table.
func NewEngine(limits config.LimitsConfig) *Engine {
	return &Engine{limits: limits}
}

// Limits returns the configured limit table.
func (e *Engine) Limits() config.LimitsConfig {
	return e.limits
}

// CanPerform reports whether one more action of the given category fits
// under today's hard cap. At the boundary, the action that brings the
// counter to the cap is still allowed; the next one is denied. There is no
// override path: remaining == 0 means denied, unconditionally.
func (e *Engine) CanPerform(cat ledger.Category, l *ledger.DailyLedger) Decision {
	used, max := e.usage(cat, l)

	remaining := max - used
	if remaining < 0 {
		remaining = 0
	}
	if remaining == 0 {
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Reason:    fmt.Sprintf("%s quota exhausted (%d/%d today)", cat, used, max),
		}
	}
	return Decision{
		Allowed:   true,
		Remaining: remaining,
		Reason:    fmt.Sprintf("%s ok (%d/%d today)", cat, used, max),
	}
}

// Cap returns the configured hard cap for a category.
func (e *Engine) Cap(cat ledger.Category) int {
	_, max := e.usage(cat, &ledger.DailyLedger{})
	return max
}

func (e *Engine) usage(cat ledger.Category, l *ledger.DailyLedger) (used, max int) {
	switch cat {
	case ledger.CategoryPost, ledger.CategoryReply:
		// Posts and replies share the platform's daily posting cap.
		return l.PlatformActions(), e.limits.PostsPerDay
	case ledger.CategoryVideo:
		return l.VideosGenerated, e.limits.VideosPerDay
	case ledger.CategoryImage:
		return l.ImagesGenerated, e.limits.ImagesPerDay
	case ledger.CategoryGeneration:
		return l.GenerationCalls, e.limits.GenerationCallsPerDay
	case ledger.CategoryMentionCheck:
		return l.MentionsChecked, e.MentionChecksPerDay()
	}
	return 0, 0
}

// MentionChecksPerDay derives the daily mention-poll ceiling from the
// configured minimum interval.
func (e *Engine) MentionChecksPerDay() int {
	if e.limits.MentionCheckInterval <= 0 {
		return 0
	}
	return int(24 * time.Hour / e.limits.MentionCheckInterval)
}

// CanCheckRateLimited reports whether an interval-gated category may run
// now. When denied, wait is the remaining time until the next slot, for
// observability. A nil last check time means the gate is open.
func (e *Engine) CanCheckRateLimited(last *time.Time, now time.Time, minInterval time.Duration) (bool, time.Duration) {
	if last == nil {
		return true, 0
	}
	elapsed := now.Sub(*last)
	if elapsed >= minInterval {
		return true, 0
	}
	return false, minInterval - elapsed
}

// BelowReplyTarget reports whether today's replies sit under the advisory
// reply target. Replies are engagement bonus, capped low on purpose.
func (e *Engine) BelowReplyTarget(l *ledger.DailyLedger) bool {
	return l.RepliesPosted < e.limits.ReplyTargetPerDay
}

// BelowPostSoftMin reports whether today's posts sit under the preferred
// minimum, the signal that drives posting during peak hours.
func (e *Engine) BelowPostSoftMin(l *ledger.DailyLedger) bool {
	return l.ActionsPosted < e.limits.PostSoftMin
}

// BelowPostSoftMax reports whether today's posts sit under the preferred
// ceiling. Above it the planner idles even though hard quota may remain.
func (e *Engine) BelowPostSoftMax(l *ledger.DailyLedger) bool {
	return l.ActionsPosted < e.limits.PostSoftMax
}
