package planner

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/plume-agent/plume/internal/config"
	"github.com/plume-agent/plume/internal/ledger"
	"github.com/plume-agent/plume/internal/quota"
)

// ContextSource supplies topic candidates from the outside world. It is a
// pure read: a failure here degrades the plan, it never aborts it.
type ContextSource interface {
	FetchCandidates(ctx context.Context, limit int) ([]Candidate, error)
}

// DedupChecker answers whether proposed content is too similar to what the
// agent already published. Implementations fail open: on infrastructure
// trouble they report "not duplicate" and let the run proceed.
type DedupChecker interface {
	DuplicatePost(ctx context.Context, text string) (bool, error)
	DuplicateReply(ctx context.Context, author, text string) (bool, error)
}

// Inputs is the immutable world snapshot a single graph run decides over.
// All state reads happen before the graph runs, so a run is a pure function
// of its Inputs and re-running it with the same snapshot yields the same
// Strategy.
type Inputs struct {
	Ledger   *ledger.DailyLedger
	Now      time.Time
	Mentions []Mention
}

// Graph is the staged decision pipeline: gather context, decide the action
// type, build the concrete strategy, then pass it through the quality gate.
// Exactly one Strategy comes out of Run.
type Graph struct {
	agent    config.AgentConfig
	limits   config.LimitsConfig
	engine   *quota.Engine
	source   ContextSource
	dedup    DedupChecker
	validate *validator.Validate
	logger   *slog.Logger
}

func NewGraph(agent config.AgentConfig, limits config.LimitsConfig, engine *quota.Engine, source ContextSource, dedup DedupChecker, logger *slog.Logger) *Graph {
	return &Graph{
		agent:    agent,
		limits:   limits,
		engine:   engine,
		source:   source,
		dedup:    dedup,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "planner")),
	}
}

// Run executes the decision stages over the given snapshot and returns the
// single Strategy for this invocation. It never returns an error: any
// failure along the way collapses into an Idle strategy with a reason.
func (g *Graph) Run(ctx context.Context, in Inputs) Strategy {
	kind, reason := g.decideType(in)

	var st Strategy
	switch kind {
	case KindReply:
		st = g.buildReply(ctx, in)
		if st.Kind == KindIdle && g.agent.Mode != config.ModeReplyOnly && g.agent.ForceAction != "reply" {
			// No answerable mention; fall through to posting if the
			// posting rules would have allowed it.
			if pk, _ := g.decidePost(in); pk == KindPost {
				ignored := st.IgnoredMentions
				st = g.buildPost(ctx, in)
				st.IgnoredMentions = append(ignored, st.IgnoredMentions...)
			}
		}
	case KindPost:
		st = g.buildPost(ctx, in)
	default:
		st = idle(reason)
	}

	if err := g.validate.Struct(st); err != nil {
		g.logger.Error("strategy failed validation, idling", slog.Any("error", err))
		return idle("invalid strategy")
	}
	g.logger.Info("strategy committed",
		slog.String("kind", string(st.Kind)),
		slog.String("topic", st.Topic),
		slog.String("reason", st.Reason))
	return st
}

// decideType applies the priority order: forced action, then reply-first
// when below the reply target with mentions pending, then the posting
// window rules.
func (g *Graph) decideType(in Inputs) (Kind, string) {
	if in.Ledger == nil {
		return KindIdle, "no ledger snapshot"
	}

	// Producing anything costs one generation call, so an exhausted
	// generation pool idles the run no matter which action is wanted.
	canGenerate := g.engine.CanPerform(ledger.CategoryGeneration, in.Ledger).Allowed

	switch g.agent.ForceAction {
	case "post":
		if !canGenerate || !g.engine.CanPerform(ledger.CategoryPost, in.Ledger).Allowed {
			return KindIdle, "quota exhausted"
		}
		return KindPost, ""
	case "reply":
		if !canGenerate || !g.engine.CanPerform(ledger.CategoryReply, in.Ledger).Allowed {
			return KindIdle, "quota exhausted"
		}
		return KindReply, ""
	}

	if g.agent.Mode != config.ModePostOnly &&
		len(in.Mentions) > 0 &&
		canGenerate &&
		g.engine.BelowReplyTarget(in.Ledger) &&
		g.engine.CanPerform(ledger.CategoryReply, in.Ledger).Allowed {
		return KindReply, ""
	}

	if g.agent.Mode == config.ModeReplyOnly {
		return KindIdle, "reply-only mode with nothing to answer"
	}
	return g.decidePost(in)
}

// decidePost applies the posting cadence: inside peak hours the agent posts
// until reaching the soft minimum; past that it keeps posting only while
// under the soft maximum. The hard daily cap is always checked first.
func (g *Graph) decidePost(in Inputs) (Kind, string) {
	if !g.engine.CanPerform(ledger.CategoryPost, in.Ledger).Allowed ||
		!g.engine.CanPerform(ledger.CategoryGeneration, in.Ledger).Allowed {
		return KindIdle, "quota exhausted"
	}
	if g.inPeak(in.Now) && g.engine.BelowPostSoftMin(in.Ledger) {
		return KindPost, ""
	}
	if g.engine.BelowPostSoftMax(in.Ledger) {
		return KindPost, ""
	}
	return KindIdle, "outside target window"
}

func (g *Graph) inPeak(now time.Time) bool {
	h := now.Hour()
	return h >= g.agent.PeakStart && h < g.agent.PeakEnd
}

// buildPost selects the first non-duplicate, non-blocked candidate and
// attaches the richest affordable content tier.
func (g *Graph) buildPost(ctx context.Context, in Inputs) Strategy {
	limit := g.limits.CandidateLimit
	if limit <= 0 {
		limit = 2
	}
	candidates, err := g.source.FetchCandidates(ctx, limit)
	if err != nil {
		g.logger.Warn("context source unavailable, idling", slog.Any("error", err))
		return idle("no candidates available")
	}
	if len(candidates) == 0 {
		return idle("no candidates available")
	}
	sortCandidates(candidates)

	for _, c := range candidates {
		if g.topicBlocked(c.Topic) {
			g.logger.Info("candidate blocked by topic policy", slog.String("topic", c.Topic))
			continue
		}
		dup, err := g.dedup.DuplicatePost(ctx, c.Topic)
		if err != nil {
			// Fail open: treat as not duplicate.
			g.logger.Warn("dedup check degraded", slog.Any("error", err))
			dup = false
		}
		if dup {
			g.logger.Info("candidate rejected as duplicate", slog.String("topic", c.Topic))
			continue
		}
		return Strategy{
			Kind:      KindPost,
			Topic:     c.Topic,
			Richness:  g.pickRichness(in),
			Directive: buildDirective(c),
		}
	}
	return idle("all candidates duplicate or blocked")
}

// buildReply picks the oldest answerable mention. Mentions skipped along
// the way are carried out on the strategy for auditing.
func (g *Graph) buildReply(ctx context.Context, in Inputs) Strategy {
	mentions := append([]Mention(nil), in.Mentions...)
	sort.SliceStable(mentions, func(i, j int) bool {
		if !mentions[i].CreatedAt.Equal(mentions[j].CreatedAt) {
			return mentions[i].CreatedAt.Before(mentions[j].CreatedAt)
		}
		return mentions[i].ID < mentions[j].ID
	})

	var ignored []Mention
	for _, m := range mentions {
		if g.agent.Handle != "" && strings.EqualFold(m.Author, g.agent.Handle) {
			ignored = append(ignored, m)
			continue
		}
		if g.topicBlocked(m.Text) {
			g.logger.Info("mention blocked by topic policy", slog.String("mention_id", m.ID))
			ignored = append(ignored, m)
			continue
		}
		dup, err := g.dedup.DuplicateReply(ctx, m.Author, m.Text)
		if err != nil {
			g.logger.Warn("reply dedup check degraded", slog.Any("error", err))
			dup = false
		}
		if dup {
			g.logger.Info("mention already answered recently", slog.String("mention_id", m.ID))
			ignored = append(ignored, m)
			continue
		}
		return Strategy{
			Kind:            KindReply,
			TargetID:        m.ID,
			TargetAuthor:    m.Author,
			ReplyText:       m.Text,
			IgnoredMentions: ignored,
		}
	}
	st := idle("no answerable mentions")
	st.IgnoredMentions = ignored
	return st
}

// pickRichness chooses the starting content tier: video inside peak hours,
// image otherwise, always subject to each tier's remaining budget. Strict
// budget mode pins the tier to text.
func (g *Graph) pickRichness(in Inputs) Richness {
	if g.agent.StrictBudget {
		return RichnessText
	}
	want := RichnessImage
	if g.inPeak(in.Now) || g.agent.ForceAction == "post" {
		want = RichnessVideo
	}
	start := 0
	for i, r := range DowngradeOrder {
		if r == want {
			start = i
			break
		}
	}
	for _, r := range DowngradeOrder[start:] {
		if g.richnessAffordable(r, in.Ledger) {
			return r
		}
	}
	return RichnessText
}

// richnessAffordable assumes the generation pool itself was checked when the
// action was decided; only the per-tier media caps bind here.
func (g *Graph) richnessAffordable(r Richness, l *ledger.DailyLedger) bool {
	switch r {
	case RichnessVideo:
		return g.engine.CanPerform(ledger.CategoryVideo, l).Allowed
	case RichnessImage:
		return g.engine.CanPerform(ledger.CategoryImage, l).Allowed
	default:
		return true
	}
}

func (g *Graph) topicBlocked(text string) bool {
	lowered := strings.ToLower(text)
	for _, blocked := range g.agent.BlockedTopics {
		if blocked != "" && strings.Contains(lowered, strings.ToLower(blocked)) {
			return true
		}
	}
	return false
}

// sortCandidates orders freshest first, with topic as a stable tie-break so
// runs over identical snapshots always walk candidates in the same order.
func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].Recency.Equal(cs[j].Recency) {
			return cs[i].Recency.After(cs[j].Recency)
		}
		return cs[i].Topic < cs[j].Topic
	})
}

func buildDirective(c Candidate) string {
	var b strings.Builder
	b.WriteString("Write an original take on: ")
	b.WriteString(c.Topic)
	if c.Source != "" {
		b.WriteString(" (seen on ")
		b.WriteString(c.Source)
		b.WriteString(")")
	}
	return b.String()
}
