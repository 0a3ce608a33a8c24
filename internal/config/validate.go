package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks Config for problems that would make an invocation
// misbehave. It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	if _, err := time.LoadLocation(c.Agent.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("AGENT_TIMEZONE %q is not a valid IANA zone", c.Agent.Timezone))
	}
	switch c.Agent.Mode {
	case ModeAuto, ModePostOnly, ModeReplyOnly:
	default:
		errs = append(errs, fmt.Sprintf("AGENT_MODE must be one of auto, post-only, reply-only, got %q", c.Agent.Mode))
	}
	switch c.Agent.ForceAction {
	case "", "post", "reply":
	default:
		errs = append(errs, fmt.Sprintf("AGENT_FORCE_ACTION must be empty, post, or reply, got %q", c.Agent.ForceAction))
	}
	if c.Agent.PeakStart < 0 || c.Agent.PeakStart > 23 || c.Agent.PeakEnd < 0 || c.Agent.PeakEnd > 23 {
		errs = append(errs, "AGENT_PEAK_START and AGENT_PEAK_END must be hours 0–23")
	}
	if c.Agent.PeakStart > c.Agent.PeakEnd {
		errs = append(errs, "AGENT_PEAK_START must not be after AGENT_PEAK_END")
	}

	if c.Limits.PostsPerDay < 1 {
		errs = append(errs, "LIMITS_POSTS_PER_DAY must be at least 1")
	}
	if c.Limits.PostSoftMin > c.Limits.PostSoftMax {
		errs = append(errs, "LIMITS_POST_SOFT_MIN must not exceed LIMITS_POST_SOFT_MAX")
	}
	if c.Limits.PostSoftMax > c.Limits.PostsPerDay {
		errs = append(errs, "LIMITS_POST_SOFT_MAX must not exceed the hard cap LIMITS_POSTS_PER_DAY")
	}
	if c.Limits.DuplicateThreshold < -1 || c.Limits.DuplicateThreshold > 1 {
		errs = append(errs, "LIMITS_DUPLICATE_THRESHOLD must be a cosine similarity in [-1, 1]")
	}
	if c.Limits.ReplyDupThreshold < -1 || c.Limits.ReplyDupThreshold > 1 {
		errs = append(errs, "LIMITS_REPLY_DUP_THRESHOLD must be a cosine similarity in [-1, 1]")
	}
	if c.Limits.MentionCheckInterval <= 0 {
		errs = append(errs, "LIMITS_MENTION_CHECK_INTERVAL must be positive")
	}
	if c.Limits.EmbeddingDim < 1 {
		errs = append(errs, "LIMITS_EMBEDDING_DIM must be at least 1")
	}
	if c.Limits.CandidateLimit < 1 {
		errs = append(errs, "LIMITS_CANDIDATE_LIMIT must be at least 1")
	}

	if c.Upstream.CallTimeout <= 0 {
		errs = append(errs, "UPSTREAM_CALL_TIMEOUT must be positive")
	}
	if c.Upstream.VideoTimeout < c.Upstream.CallTimeout {
		errs = append(errs, "UPSTREAM_VIDEO_TIMEOUT must not be shorter than UPSTREAM_CALL_TIMEOUT")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
