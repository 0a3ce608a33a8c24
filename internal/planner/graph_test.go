package planner

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-agent/plume/internal/config"
	"github.com/plume-agent/plume/internal/ledger"
	"github.com/plume-agent/plume/internal/quota"
)

type fakeSource struct {
	candidates []Candidate
	err        error
}

func (f *fakeSource) FetchCandidates(_ context.Context, limit int) ([]Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

type fakeDedup struct {
	dupPosts   map[string]bool
	dupReplies map[string]bool
	err        error
}

func (f *fakeDedup) DuplicatePost(_ context.Context, text string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.dupPosts[text], nil
}

func (f *fakeDedup) DuplicateReply(_ context.Context, author, _ string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.dupReplies[author], nil
}

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		PostsPerDay:           17,
		ReplyTargetPerDay:     3,
		MentionCheckInterval:  15 * time.Minute,
		GenerationCallsPerDay: 50,
		VideosPerDay:          2,
		ImagesPerDay:          4,
		PostSoftMin:           7,
		PostSoftMax:           12,
		DuplicateThreshold:    0.85,
		ReplyDupThreshold:     0.90,
		MemoryWindow:          7 * 24 * time.Hour,
		CandidateLimit:        2,
		EmbeddingDim:          768,
	}
}

func testAgent() config.AgentConfig {
	return config.AgentConfig{
		Timezone:  "UTC",
		Mode:      config.ModeAuto,
		PeakStart: 9,
		PeakEnd:   21,
		Handle:    "plume",
	}
}

func newTestGraph(agent config.AgentConfig, src ContextSource, dd DedupChecker) *Graph {
	limits := testLimits()
	return NewGraph(agent, limits, quota.NewEngine(limits), src, dd, slog.Default())
}

func peakTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
}

func offPeakTime() time.Time {
	return time.Date(2025, 6, 10, 23, 0, 0, 0, time.UTC)
}

func TestRun_IdempotentOverSnapshot(t *testing.T) {
	src := &fakeSource{candidates: []Candidate{
		{Topic: "quantum sensing", Source: "trends", Recency: peakTime(t)},
		{Topic: "solar sails", Source: "trends", Recency: peakTime(t).Add(-time.Hour)},
	}}
	g := newTestGraph(testAgent(), src, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3}, Now: peakTime(t)}

	first := g.Run(context.Background(), in)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, g.Run(context.Background(), in))
	}
}

func TestRun_PostBelowSoftMinDuringPeak(t *testing.T) {
	// 3 posts so far, mid-afternoon, video budget spent but image available.
	src := &fakeSource{candidates: []Candidate{{Topic: "tidal power", Recency: peakTime(t)}}}
	g := newTestGraph(testAgent(), src, &fakeDedup{})
	in := Inputs{
		Ledger: &ledger.DailyLedger{ActionsPosted: 3, VideosGenerated: 2, ImagesGenerated: 2},
		Now:    peakTime(t),
	}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindPost, st.Kind)
	assert.Equal(t, "tidal power", st.Topic)
	assert.Equal(t, RichnessImage, st.Richness)
	assert.NotEmpty(t, st.Directive)
}

func TestRun_QuotaExhaustedIdles(t *testing.T) {
	src := &fakeSource{candidates: []Candidate{{Topic: "anything", Recency: peakTime(t)}}}
	g := newTestGraph(testAgent(), src, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 17}, Now: peakTime(t)}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindIdle, st.Kind)
	assert.Equal(t, "quota exhausted", st.Reason)
}

func TestRun_OutsideTargetWindowIdles(t *testing.T) {
	// Past the soft max off-peak: under the hard cap but done for the day.
	src := &fakeSource{candidates: []Candidate{{Topic: "anything", Recency: offPeakTime()}}}
	g := newTestGraph(testAgent(), src, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 12}, Now: offPeakTime()}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindIdle, st.Kind)
	assert.Equal(t, "outside target window", st.Reason)
}

func TestRun_DuplicateCandidateRotatesToNext(t *testing.T) {
	now := peakTime(t)
	src := &fakeSource{candidates: []Candidate{
		{Topic: "fusion breakthrough", Recency: now},
		{Topic: "desalination economics", Recency: now.Add(-time.Hour)},
	}}
	dd := &fakeDedup{dupPosts: map[string]bool{"fusion breakthrough": true}}
	g := newTestGraph(testAgent(), src, dd)
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3}, Now: now}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindPost, st.Kind)
	assert.Equal(t, "desalination economics", st.Topic)
}

func TestRun_AllCandidatesDuplicateIdles(t *testing.T) {
	now := peakTime(t)
	src := &fakeSource{candidates: []Candidate{
		{Topic: "a", Recency: now},
		{Topic: "b", Recency: now},
	}}
	dd := &fakeDedup{dupPosts: map[string]bool{"a": true, "b": true}}
	g := newTestGraph(testAgent(), src, dd)
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3}, Now: now}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindIdle, st.Kind)
	assert.Equal(t, "all candidates duplicate or blocked", st.Reason)
}

func TestRun_DedupFailureFailsOpen(t *testing.T) {
	now := peakTime(t)
	src := &fakeSource{candidates: []Candidate{{Topic: "graph databases", Recency: now}}}
	dd := &fakeDedup{err: errors.New("embedder down")}
	g := newTestGraph(testAgent(), src, dd)
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3}, Now: now}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindPost, st.Kind)
	assert.Equal(t, "graph databases", st.Topic)
}

func TestRun_SourceFailureIdlesInsteadOfAborting(t *testing.T) {
	g := newTestGraph(testAgent(), &fakeSource{err: errors.New("trends 503")}, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3}, Now: peakTime(t)}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindIdle, st.Kind)
	assert.Equal(t, "no candidates available", st.Reason)
}

func TestRun_ReplyFirstBelowTarget(t *testing.T) {
	now := peakTime(t)
	mentions := []Mention{
		{ID: "m2", Author: "bob", Text: "thoughts on batteries?", CreatedAt: now.Add(-time.Minute)},
		{ID: "m1", Author: "alice", Text: "what about kelp farming?", CreatedAt: now.Add(-time.Hour)},
	}
	g := newTestGraph(testAgent(), &fakeSource{}, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3, RepliesPosted: 1}, Now: now, Mentions: mentions}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindReply, st.Kind)
	// Oldest mention first.
	assert.Equal(t, "m1", st.TargetID)
	assert.Equal(t, "alice", st.TargetAuthor)
}

func TestRun_ReplyTargetMetFallsBackToPost(t *testing.T) {
	now := peakTime(t)
	mentions := []Mention{{ID: "m1", Author: "alice", Text: "hello", CreatedAt: now}}
	src := &fakeSource{candidates: []Candidate{{Topic: "permafrost", Recency: now}}}
	g := newTestGraph(testAgent(), src, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3, RepliesPosted: 3}, Now: now, Mentions: mentions}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindPost, st.Kind)
}

func TestRun_SelfMentionIgnoredWithAudit(t *testing.T) {
	now := peakTime(t)
	mentions := []Mention{
		{ID: "m1", Author: "Plume", Text: "echo", CreatedAt: now.Add(-time.Hour)},
		{ID: "m2", Author: "carol", Text: "question", CreatedAt: now},
	}
	g := newTestGraph(testAgent(), &fakeSource{}, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{}, Now: now, Mentions: mentions}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindReply, st.Kind)
	assert.Equal(t, "m2", st.TargetID)
	require.Len(t, st.IgnoredMentions, 1)
	assert.Equal(t, "m1", st.IgnoredMentions[0].ID)
}

func TestRun_AllMentionsAnsweredFallsThroughToPost(t *testing.T) {
	now := peakTime(t)
	mentions := []Mention{{ID: "m1", Author: "dave", Text: "again?", CreatedAt: now}}
	src := &fakeSource{candidates: []Candidate{{Topic: "microgrids", Recency: now}}}
	dd := &fakeDedup{dupReplies: map[string]bool{"dave": true}}
	g := newTestGraph(testAgent(), src, dd)
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3}, Now: now, Mentions: mentions}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindPost, st.Kind)
	assert.Equal(t, "microgrids", st.Topic)
	require.Len(t, st.IgnoredMentions, 1)
	assert.Equal(t, "m1", st.IgnoredMentions[0].ID)
}

func TestRun_ReplyOnlyModeNeverPosts(t *testing.T) {
	agent := testAgent()
	agent.Mode = config.ModeReplyOnly
	src := &fakeSource{candidates: []Candidate{{Topic: "anything", Recency: peakTime(t)}}}
	g := newTestGraph(agent, src, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{}, Now: peakTime(t)}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindIdle, st.Kind)
}

func TestRun_PostOnlyModeSkipsMentions(t *testing.T) {
	agent := testAgent()
	agent.Mode = config.ModePostOnly
	now := peakTime(t)
	mentions := []Mention{{ID: "m1", Author: "erin", Text: "hi", CreatedAt: now}}
	src := &fakeSource{candidates: []Candidate{{Topic: "bioplastics", Recency: now}}}
	g := newTestGraph(agent, src, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{}, Now: now, Mentions: mentions}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindPost, st.Kind)
}

func TestRun_ForcePostOverridesWindowButNotQuota(t *testing.T) {
	agent := testAgent()
	agent.ForceAction = "post"
	src := &fakeSource{candidates: []Candidate{{Topic: "forced topic", Recency: offPeakTime()}}}
	g := newTestGraph(agent, src, &fakeDedup{})

	// Past the soft max off-peak: a normal run would idle, force does not.
	st := g.Run(context.Background(), Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 12}, Now: offPeakTime()})
	require.Equal(t, KindPost, st.Kind)

	// The hard cap still binds.
	st = g.Run(context.Background(), Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 17}, Now: offPeakTime()})
	require.Equal(t, KindIdle, st.Kind)
	assert.Equal(t, "quota exhausted", st.Reason)
}

func TestRun_GenerationCallsExhaustedIdles(t *testing.T) {
	// Every action costs a producer call, so a spent generation pool is a
	// quota condition: the run idles instead of committing a doomed post.
	now := peakTime(t)
	src := &fakeSource{candidates: []Candidate{{Topic: "geothermal", Recency: now}}}

	t.Run("post path", func(t *testing.T) {
		g := newTestGraph(testAgent(), src, &fakeDedup{})
		in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3, GenerationCalls: 50}, Now: now}

		st := g.Run(context.Background(), in)
		require.Equal(t, KindIdle, st.Kind)
		assert.Equal(t, "quota exhausted", st.Reason)
	})

	t.Run("reply path", func(t *testing.T) {
		g := newTestGraph(testAgent(), src, &fakeDedup{})
		mentions := []Mention{{ID: "m1", Author: "alice", Text: "hello", CreatedAt: now}}
		in := Inputs{Ledger: &ledger.DailyLedger{GenerationCalls: 50}, Now: now, Mentions: mentions}

		st := g.Run(context.Background(), in)
		require.Equal(t, KindIdle, st.Kind)
		assert.Equal(t, "quota exhausted", st.Reason)
	})

	t.Run("forced action still bound", func(t *testing.T) {
		agent := testAgent()
		agent.ForceAction = "post"
		g := newTestGraph(agent, src, &fakeDedup{})
		in := Inputs{Ledger: &ledger.DailyLedger{GenerationCalls: 50}, Now: now}

		st := g.Run(context.Background(), in)
		require.Equal(t, KindIdle, st.Kind)
		assert.Equal(t, "quota exhausted", st.Reason)
	})
}

func TestRun_ForcedReplyNeverFallsThroughToPost(t *testing.T) {
	agent := testAgent()
	agent.ForceAction = "reply"
	now := peakTime(t)
	src := &fakeSource{candidates: []Candidate{{Topic: "heat pumps", Recency: now}}}
	g := newTestGraph(agent, src, &fakeDedup{})

	// No mentions to answer: a forced reply idles rather than posting.
	st := g.Run(context.Background(), Inputs{Ledger: &ledger.DailyLedger{}, Now: now})
	require.Equal(t, KindIdle, st.Kind)
	assert.Equal(t, "no answerable mentions", st.Reason)
}

func TestRun_BlockedTopicSkipsCandidate(t *testing.T) {
	agent := testAgent()
	agent.BlockedTopics = []string{"crypto"}
	now := peakTime(t)
	src := &fakeSource{candidates: []Candidate{
		{Topic: "Crypto yield farming", Recency: now},
		{Topic: "soil carbon", Recency: now.Add(-time.Hour)},
	}}
	g := newTestGraph(agent, src, &fakeDedup{})
	in := Inputs{Ledger: &ledger.DailyLedger{ActionsPosted: 3}, Now: now}

	st := g.Run(context.Background(), in)
	require.Equal(t, KindPost, st.Kind)
	assert.Equal(t, "soil carbon", st.Topic)
}

func TestPickRichness(t *testing.T) {
	g := newTestGraph(testAgent(), &fakeSource{}, &fakeDedup{})

	t.Run("video during peak with budget", func(t *testing.T) {
		in := Inputs{Ledger: &ledger.DailyLedger{}, Now: peakTime(t)}
		assert.Equal(t, RichnessVideo, g.pickRichness(in))
	})

	t.Run("image off peak", func(t *testing.T) {
		in := Inputs{Ledger: &ledger.DailyLedger{}, Now: offPeakTime()}
		assert.Equal(t, RichnessImage, g.pickRichness(in))
	})

	t.Run("downgrades video to image when videos spent", func(t *testing.T) {
		in := Inputs{Ledger: &ledger.DailyLedger{VideosGenerated: 2}, Now: peakTime(t)}
		assert.Equal(t, RichnessImage, g.pickRichness(in))
	})

	t.Run("downgrades to text when media budgets spent", func(t *testing.T) {
		in := Inputs{Ledger: &ledger.DailyLedger{VideosGenerated: 2, ImagesGenerated: 4}, Now: peakTime(t)}
		assert.Equal(t, RichnessText, g.pickRichness(in))
	})

	t.Run("strict budget pins text", func(t *testing.T) {
		agent := testAgent()
		agent.StrictBudget = true
		sg := newTestGraph(agent, &fakeSource{}, &fakeDedup{})
		in := Inputs{Ledger: &ledger.DailyLedger{}, Now: peakTime(t)}
		assert.Equal(t, RichnessText, sg.pickRichness(in))
	})
}

func TestSortCandidates_StableTieBreak(t *testing.T) {
	ts := peakTime(t)
	cs := []Candidate{
		{Topic: "zebra", Recency: ts},
		{Topic: "apple", Recency: ts},
		{Topic: "newer", Recency: ts.Add(time.Minute)},
	}
	sortCandidates(cs)
	assert.Equal(t, "newer", cs[0].Topic)
	assert.Equal(t, "apple", cs[1].Topic)
	assert.Equal(t, "zebra", cs[2].Topic)
}
