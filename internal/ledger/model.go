package ledger

import "time"

// Category identifies a quota-accounted resource type. The value is the
// daily_ledger column holding its counter.
type Category string

const (
	CategoryPost         Category = "actions_posted"
	CategoryReply        Category = "replies_posted"
	CategoryMentionCheck Category = "mentions_checked"
	CategoryGeneration   Category = "generation_calls"
	CategoryVideo        Category = "videos_generated"
	CategoryImage        Category = "images_generated"
)

// counterColumns whitelists the mutable counter columns. Category values
// are interpolated into SQL identifiers and must never come from input
// that is not on this list.
var counterColumns = map[Category]bool{
	CategoryPost:         true,
	CategoryReply:        true,
	CategoryMentionCheck: true,
	CategoryGeneration:   true,
	CategoryVideo:        true,
	CategoryImage:        true,
}

// DailyLedger is one row of the daily_ledger table: the authoritative
// per-day counters the quota engine reads. Counters only ever grow within
// a day; day rollover creates a fresh row and leaves history in place.
type DailyLedger struct {
	Day              string     `json:"day"` // calendar date in the agent timezone, YYYY-MM-DD
	ActionsPosted    int        `json:"actions_posted"`
	RepliesPosted    int        `json:"replies_posted"`
	MentionsChecked  int        `json:"mentions_checked"`
	GenerationCalls  int        `json:"generation_calls"`
	VideosGenerated  int        `json:"videos_generated"`
	ImagesGenerated  int        `json:"images_generated"`
	LastMentionCheck *time.Time `json:"last_mention_check,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Count returns the counter value for a category.
func (l *DailyLedger) Count(cat Category) int {
	switch cat {
	case CategoryPost:
		return l.ActionsPosted
	case CategoryReply:
		return l.RepliesPosted
	case CategoryMentionCheck:
		return l.MentionsChecked
	case CategoryGeneration:
		return l.GenerationCalls
	case CategoryVideo:
		return l.VideosGenerated
	case CategoryImage:
		return l.ImagesGenerated
	}
	return 0
}

// PlatformActions is today's combined post+reply count. Replies share the
// platform's daily posting cap with ordinary posts.
func (l *DailyLedger) PlatformActions() int {
	return l.ActionsPosted + l.RepliesPosted
}

// DayKey formats the ledger key for a moment in time in the given zone.
func DayKey(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}
