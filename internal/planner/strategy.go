package planner

import "time"

// Richness is the content elaborateness tier. Each tier draws on its own
// generation budget; richer tiers downgrade to cheaper ones when their
// budget runs out.
type Richness string

const (
	RichnessVideo Richness = "video"
	RichnessImage Richness = "image"
	RichnessText  Richness = "text"
)

// DowngradeOrder is the mandatory, ordered fallback chain. Downgrading
// always moves rightwards through this list, never randomly.
var DowngradeOrder = []Richness{RichnessVideo, RichnessImage, RichnessText}

// Kind discriminates the Strategy variant.
type Kind string

const (
	KindPost  Kind = "post"
	KindReply Kind = "reply"
	KindIdle  Kind = "idle"
)

// Strategy is the single committed action decision for one invocation.
// Exactly one is produced per graph run; it is immutable once returned
// and consumed exactly once by the execution coordinator.
type Strategy struct {
	Kind Kind `validate:"required,oneof=post reply idle"`

	// Post fields.
	Topic     string   `validate:"required_if=Kind post"`
	Richness  Richness `validate:"required_if=Kind post,omitempty,oneof=video image text"`
	Directive string   `validate:"required_if=Kind post,omitempty,max=500"`

	// Reply fields.
	TargetID     string `validate:"required_if=Kind reply"`
	TargetAuthor string `validate:"required_if=Kind reply"`
	ReplyText    string `validate:"required_if=Kind reply"`

	// Idle fields.
	Reason string `validate:"required_if=Kind idle"`

	// Mentions the planner decided not to answer, carried out for audit.
	IgnoredMentions []Mention `validate:"-"`
}

// Candidate is a context candidate supplied by an external trend/news
// source: a topic the agent could post about.
type Candidate struct {
	Topic   string    `json:"topic"`
	Source  string    `json:"source"`
	Recency time.Time `json:"recency"`
}

// Mention is a pending inbound mention the agent could reply to.
type Mention struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func idle(reason string) Strategy {
	return Strategy{Kind: KindIdle, Reason: reason}
}
