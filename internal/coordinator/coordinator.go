package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/plume-agent/plume/internal/config"
	"github.com/plume-agent/plume/internal/events"
	"github.com/plume-agent/plume/internal/ledger"
	"github.com/plume-agent/plume/internal/memory"
	"github.com/plume-agent/plume/internal/metrics"
	"github.com/plume-agent/plume/internal/planner"
	"github.com/plume-agent/plume/internal/quota"
	"github.com/plume-agent/plume/internal/upstream"
)

// LedgerStore is the quota accounting surface the coordinator writes to.
type LedgerStore interface {
	GetOrCreate(ctx context.Context, day string) (*ledger.DailyLedger, error)
	IncrementCapped(ctx context.Context, day string, cat ledger.Category, max int) (int, error)
	IncrementPlatformAction(ctx context.Context, day string, cat ledger.Category, max int) (int, error)
	TouchMentionCheck(ctx context.Context, day string, max int) (int, error)
	RecordFailedAttempt(ctx context.Context, day string, cat ledger.Category, reason string) error
}

// Producer generates content. Every call costs one generation unit.
type Producer interface {
	Generate(ctx context.Context, tier, directive, replyTo string) (*upstream.GeneratedContent, error)
}

// Platform is the publishing surface plus the mention inbox.
type Platform interface {
	Publish(ctx context.Context, text, mediaID string) (*upstream.PublishResult, error)
	Reply(ctx context.Context, targetID, text string) (*upstream.PublishResult, error)
	Mentions(ctx context.Context, since time.Time) ([]upstream.PlatformMention, error)
}

// PollGuard closes the cross-invocation race on interval-gated polls.
type PollGuard interface {
	Reserve(ctx context.Context, now time.Time, minInterval time.Duration) (bool, time.Duration, error)
}

// Strategist produces the single strategy for a snapshot.
type Strategist interface {
	Run(ctx context.Context, in planner.Inputs) planner.Strategy
}

// Status is the terminal state of one invocation.
type Status string

const (
	StatusPosted  Status = "posted"
	StatusReplied Status = "replied"
	StatusIdled   Status = "idled"
	StatusFailed  Status = "failed"
)

// Outcome is what one invocation produced.
type Outcome struct {
	RunID            uuid.UUID
	Status           Status
	Strategy         planner.Strategy
	CategoryConsumed ledger.Category
	PostID           string
	Reason           string
}

// Coordinator drives one invocation end to end: snapshot the world, run
// the planner, execute the committed strategy with quota accounting, and
// record what happened. It owns all writes; the planner stays pure.
type Coordinator struct {
	agent    config.AgentConfig
	limits   config.LimitsConfig
	timeouts config.UpstreamConfig
	loc      *time.Location

	store    LedgerStore
	engine   *quota.Engine
	guard    PollGuard
	planner  Strategist
	producer Producer
	platform Platform
	dedup    *memory.Dedup
	memories memory.Repository
	events   *events.Publisher
	logger   *slog.Logger
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Store    LedgerStore
	Engine   *quota.Engine
	Guard    PollGuard
	Planner  Strategist
	Producer Producer
	Platform Platform
	Dedup    *memory.Dedup
	Memories memory.Repository
	Events   *events.Publisher
	Logger   *slog.Logger
}

func New(cfg *config.Config, loc *time.Location, d Deps) *Coordinator {
	return &Coordinator{
		agent:    cfg.Agent,
		limits:   cfg.Limits,
		timeouts: cfg.Upstream,
		loc:      loc,
		store:    d.Store,
		engine:   d.Engine,
		guard:    d.Guard,
		planner:  d.Planner,
		producer: d.Producer,
		platform: d.Platform,
		dedup:    d.Dedup,
		memories: d.Memories,
		events:   d.Events,
		logger:   d.Logger.With(slog.String("component", "coordinator")),
	}
}

// Run executes one full invocation. The day key and clock are fixed at
// entry so a run that straddles midnight stays accounted to the day it
// started on.
func (c *Coordinator) Run(ctx context.Context) (*Outcome, error) {
	runID := uuid.New()
	now := time.Now().In(c.loc)
	day := ledger.DayKey(now, c.loc)
	logger := c.logger.With(slog.String("run_id", runID.String()), slog.String("day", day))

	led, err := c.store.GetOrCreate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("loading daily ledger: %w", err)
	}
	logger.Info("invocation started",
		slog.Int("actions_posted", led.ActionsPosted),
		slog.Int("replies_posted", led.RepliesPosted))

	mentions := c.pollMentions(ctx, logger, day, led, now)

	strategy := c.planner.Run(ctx, planner.Inputs{Ledger: led, Now: now, Mentions: mentions})

	out := c.execute(ctx, logger, runID, day, strategy)

	c.auditIgnored(ctx, runID, strategy.IgnoredMentions)
	c.publishOutcome(ctx, runID, day, out)
	c.recordMetrics(ctx, day, out)

	logger.Info("invocation finished",
		slog.String("status", string(out.Status)),
		slog.String("reason", out.Reason))
	return out, nil
}

// pollMentions checks the mention inbox when both the daily ceiling and
// the minimum interval allow it. All failures here degrade to "no
// mentions this run"; the invocation continues.
func (c *Coordinator) pollMentions(ctx context.Context, logger *slog.Logger, day string, led *ledger.DailyLedger, now time.Time) []planner.Mention {
	if c.agent.Mode == config.ModePostOnly {
		return nil
	}
	if d := c.engine.CanPerform(ledger.CategoryMentionCheck, led); !d.Allowed {
		metrics.QuotaDenialsTotal.WithLabelValues(string(ledger.CategoryMentionCheck)).Inc()
		logger.Debug("mention poll denied", slog.String("reason", d.Reason))
		return nil
	}

	prior := led.LastMentionCheck
	if ok, wait := c.engine.CanCheckRateLimited(prior, now, c.limits.MentionCheckInterval); !ok {
		logger.Debug("mention poll inside minimum interval", slog.Duration("wait", wait))
		return nil
	}

	if c.guard != nil {
		allowed, wait, err := c.guard.Reserve(ctx, now, c.limits.MentionCheckInterval)
		if err != nil {
			// Fail open: the ledger timestamp remains the authority.
			logger.Warn("mention poll guard unavailable", slog.Any("error", err))
		} else if !allowed {
			logger.Debug("mention poll slot held by a concurrent run", slog.Duration("wait", wait))
			return nil
		}
	}

	if _, err := c.store.TouchMentionCheck(ctx, day, c.engine.MentionChecksPerDay()); err != nil {
		if !errors.Is(err, ledger.ErrCapReached) {
			logger.Warn("recording mention check failed", slog.Any("error", err))
		}
		return nil
	}
	led.MentionsChecked++
	checked := now
	led.LastMentionCheck = &checked

	since := startOfDay(now, c.loc)
	if prior != nil {
		// The interval stamp lands before the fetch, so a failed fetch moves
		// the stamp without collecting anything. Widening the bound by one
		// interval re-covers that gap; already-answered mentions coming back
		// are screened out by the reply dedup.
		since = prior.Add(-c.limits.MentionCheckInterval)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeouts.CallTimeout)
	defer cancel()
	raw, err := c.platform.Mentions(callCtx, since)
	if err != nil {
		metrics.UpstreamFailuresTotal.WithLabelValues("platform", failureKind(err)).Inc()
		logger.Warn("fetching mentions failed", slog.Any("error", err))
		return nil
	}

	mentions := make([]planner.Mention, 0, len(raw))
	for _, m := range raw {
		mentions = append(mentions, planner.Mention{
			ID:        m.ID,
			Author:    m.Author,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}
	logger.Info("mention inbox polled", slog.Int("pending", len(mentions)))
	return mentions
}

func (c *Coordinator) execute(ctx context.Context, logger *slog.Logger, runID uuid.UUID, day string, st planner.Strategy) *Outcome {
	out := &Outcome{RunID: runID, Strategy: st}

	switch st.Kind {
	case planner.KindPost:
		c.executePost(ctx, logger, day, st, out)
	case planner.KindReply:
		c.executeReply(ctx, logger, day, st, out)
	default:
		out.Status = StatusIdled
		out.Reason = st.Reason
		if st.Reason == "quota exhausted" {
			metrics.QuotaDenialsTotal.WithLabelValues(string(ledger.CategoryPost)).Inc()
		}
	}
	return out
}

func (c *Coordinator) executePost(ctx context.Context, logger *slog.Logger, day string, st planner.Strategy, out *Outcome) {
	content, tier, err := c.generate(ctx, logger, day, st.Richness, st.Directive, "")
	if err != nil {
		c.fail(ctx, logger, day, ledger.CategoryPost, out, fmt.Errorf("generating post: %w", err))
		return
	}

	res, err := c.withRetry(ctx, logger, "publish", func(callCtx context.Context) (*upstream.PublishResult, error) {
		return c.platform.Publish(callCtx, content.Text, content.MediaID)
	})
	if err != nil {
		c.fail(ctx, logger, day, ledger.CategoryPost, out, fmt.Errorf("publishing post: %w", err))
		return
	}

	if _, err := c.store.IncrementPlatformAction(ctx, day, ledger.CategoryPost, c.limits.PostsPerDay); err != nil {
		// The post is already live; a cap hit here means a concurrent run
		// claimed the last slot between planning and now.
		logger.Warn("post accounting refused after publish", slog.Any("error", err))
	}

	c.remember(ctx, logger, memory.KindPosted, c.agent.Handle, content.Text, map[string]string{
		"post_id":  res.PostID,
		"topic":    st.Topic,
		"richness": string(tier),
	})

	out.Status = StatusPosted
	out.CategoryConsumed = ledger.CategoryPost
	out.PostID = res.PostID
	out.Strategy.Richness = tier
	logger.Info("post published",
		slog.String("post_id", res.PostID),
		slog.String("topic", st.Topic),
		slog.String("richness", string(tier)))
}

func (c *Coordinator) executeReply(ctx context.Context, logger *slog.Logger, day string, st planner.Strategy, out *Outcome) {
	directive := fmt.Sprintf("Reply to @%s, who said: %s", st.TargetAuthor, st.ReplyText)
	content, _, err := c.generate(ctx, logger, day, planner.RichnessText, directive, st.TargetID)
	if err != nil {
		c.fail(ctx, logger, day, ledger.CategoryReply, out, fmt.Errorf("generating reply: %w", err))
		return
	}

	res, err := c.withRetry(ctx, logger, "reply", func(callCtx context.Context) (*upstream.PublishResult, error) {
		return c.platform.Reply(callCtx, st.TargetID, content.Text)
	})
	if err != nil {
		c.fail(ctx, logger, day, ledger.CategoryReply, out, fmt.Errorf("publishing reply: %w", err))
		return
	}

	if _, err := c.store.IncrementPlatformAction(ctx, day, ledger.CategoryReply, c.limits.PostsPerDay); err != nil {
		logger.Warn("reply accounting refused after publish", slog.Any("error", err))
	}

	c.remember(ctx, logger, memory.KindReply, st.TargetAuthor, content.Text, map[string]string{
		"post_id":   res.PostID,
		"target_id": st.TargetID,
	})

	out.Status = StatusReplied
	out.CategoryConsumed = ledger.CategoryReply
	out.PostID = res.PostID
	logger.Info("reply published",
		slog.String("post_id", res.PostID),
		slog.String("target_id", st.TargetID))
}

// generate walks the downgrade chain starting at the requested tier. Each
// producer call bills one generation unit up front, whatever its outcome.
// Transient tier failures downgrade; auth and rate-limit failures stop the
// chain. Media counters are billed only once the tier actually produced.
func (c *Coordinator) generate(ctx context.Context, logger *slog.Logger, day string, start planner.Richness, directive, replyTo string) (*upstream.GeneratedContent, planner.Richness, error) {
	idx := 0
	for i, r := range planner.DowngradeOrder {
		if r == start {
			idx = i
			break
		}
	}

	tiers := planner.DowngradeOrder[idx:]
	for i, tier := range tiers {
		if _, err := c.store.IncrementCapped(ctx, day, ledger.CategoryGeneration, c.limits.GenerationCallsPerDay); err != nil {
			if errors.Is(err, ledger.ErrCapReached) {
				metrics.QuotaDenialsTotal.WithLabelValues(string(ledger.CategoryGeneration)).Inc()
				return nil, "", fmt.Errorf("generation budget exhausted for %s", day)
			}
			return nil, "", fmt.Errorf("billing generation call: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.tierTimeout(tier))
		content, err := c.producer.Generate(callCtx, string(tier), directive, replyTo)
		cancel()
		if err != nil {
			metrics.UpstreamFailuresTotal.WithLabelValues("producer", failureKind(err)).Inc()
			if upstream.IsTransient(err) && i < len(tiers)-1 {
				metrics.DowngradesTotal.WithLabelValues(string(tier)).Inc()
				logger.Warn("generation tier failed, downgrading",
					slog.String("from", string(tier)),
					slog.String("to", string(tiers[i+1])),
					slog.Any("error", err))
				continue
			}
			return nil, "", err
		}

		c.billMedia(ctx, logger, day, tier)
		return content, tier, nil
	}
	return nil, "", fmt.Errorf("no generation tier succeeded")
}

func (c *Coordinator) billMedia(ctx context.Context, logger *slog.Logger, day string, tier planner.Richness) {
	var cat ledger.Category
	var max int
	switch tier {
	case planner.RichnessVideo:
		cat, max = ledger.CategoryVideo, c.limits.VideosPerDay
	case planner.RichnessImage:
		cat, max = ledger.CategoryImage, c.limits.ImagesPerDay
	default:
		return
	}
	if _, err := c.store.IncrementCapped(ctx, day, cat, max); err != nil {
		logger.Warn("media accounting refused after generation",
			slog.String("category", string(cat)), slog.Any("error", err))
	}
}

func (c *Coordinator) tierTimeout(tier planner.Richness) time.Duration {
	if tier == planner.RichnessVideo {
		return c.timeouts.VideoTimeout
	}
	return c.timeouts.CallTimeout
}

// withRetry runs a platform call with one retry on transient failures.
// Each attempt gets its own deadline.
func (c *Coordinator) withRetry(ctx context.Context, logger *slog.Logger, op string, call func(context.Context) (*upstream.PublishResult, error)) (*upstream.PublishResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeouts.CallTimeout)
	res, err := call(callCtx)
	cancel()
	if err == nil {
		return res, nil
	}
	metrics.UpstreamFailuresTotal.WithLabelValues("platform", failureKind(err)).Inc()
	if !upstream.IsTransient(err) {
		return nil, err
	}

	logger.Warn("platform call failed, retrying once", slog.String("op", op), slog.Any("error", err))
	callCtx, cancel = context.WithTimeout(ctx, c.timeouts.CallTimeout)
	defer cancel()
	res, err = call(callCtx)
	if err != nil {
		metrics.UpstreamFailuresTotal.WithLabelValues("platform", failureKind(err)).Inc()
	}
	return res, err
}

// fail records a terminal execution failure. Failed attempts never consume
// the success counter for their category.
func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, day string, cat ledger.Category, out *Outcome, cause error) {
	logger.Error("strategy execution failed", slog.Any("error", cause))
	if err := c.store.RecordFailedAttempt(ctx, day, cat, cause.Error()); err != nil {
		logger.Warn("recording failed attempt", slog.Any("error", err))
	}
	out.Status = StatusFailed
	out.Reason = cause.Error()
}

// remember stores published content in the similarity memory. A failed
// embed means the record is skipped, not the run.
func (c *Coordinator) remember(ctx context.Context, logger *slog.Logger, kind memory.Kind, author, content string, meta map[string]string) {
	if c.dedup == nil || c.memories == nil {
		return
	}
	embedding, err := c.dedup.Embed(ctx, content)
	if err != nil {
		logger.Warn("embedding for memory failed, record skipped", slog.Any("error", err))
		return
	}
	metadata, _ := json.Marshal(meta)
	rec := &memory.Record{
		ID:        uuid.New(),
		Author:    author,
		Content:   content,
		Kind:      kind,
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.memories.Insert(ctx, rec); err != nil {
		logger.Warn("storing memory record failed", slog.Any("error", err))
	}
}

// auditIgnored emits an audit trail for mentions the planner skipped, so
// "the agent never answered me" is always explainable.
func (c *Coordinator) auditIgnored(ctx context.Context, runID uuid.UUID, ignored []planner.Mention) {
	for _, m := range ignored {
		err := c.events.PublishAudit(ctx, events.AuditEvent{
			RunID:        runID,
			EventType:    "mention_ignored",
			Severity:     "info",
			ResourceType: "mention",
			ResourceID:   m.ID,
			Details:      fmt.Sprintf("mention from @%s not answered", m.Author),
			Timestamp:    time.Now().UTC(),
		})
		if err != nil {
			c.logger.Warn("publishing audit event failed", slog.Any("error", err))
		}
	}
}

func (c *Coordinator) publishOutcome(ctx context.Context, runID uuid.UUID, day string, out *Outcome) {
	err := c.events.PublishOutcome(ctx, events.OutcomeEvent{
		RunID:     runID,
		Day:       day,
		Kind:      string(out.Strategy.Kind),
		Outcome:   string(out.Status),
		Topic:     out.Strategy.Topic,
		Richness:  string(out.Strategy.Richness),
		TargetID:  out.Strategy.TargetID,
		PostID:    out.PostID,
		Reason:    out.Reason,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("publishing outcome event failed", slog.Any("error", err))
	}
}

func (c *Coordinator) recordMetrics(ctx context.Context, day string, out *Outcome) {
	metrics.InvocationsTotal.WithLabelValues(string(out.Status)).Inc()

	led, err := c.store.GetOrCreate(ctx, day)
	if err != nil {
		return
	}
	for _, cat := range []ledger.Category{
		ledger.CategoryPost, ledger.CategoryReply, ledger.CategoryMentionCheck,
		ledger.CategoryGeneration, ledger.CategoryVideo, ledger.CategoryImage,
	} {
		metrics.LedgerCounters.WithLabelValues(string(cat)).Set(float64(led.Count(cat)))
	}
}

func failureKind(err error) string {
	var pe *upstream.PlatformError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	var ge *upstream.GenerationError
	if errors.As(err, &ge) {
		return string(ge.Kind)
	}
	return "unknown"
}

func startOfDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
