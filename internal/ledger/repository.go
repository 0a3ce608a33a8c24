package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCapReached is returned by IncrementCapped when the counter already
// sits at its maximum and the conditional update refused to apply.
var ErrCapReached = errors.New("ledger: category cap reached")

// Repository handles daily_ledger PostgreSQL operations. Every counter
// mutation is a conditional UPDATE so that two overlapping invocations can
// never both consume the same quota slot.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new ledger Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreate returns the ledger row for the given day, creating a zeroed
// one if this is the first access of that day.
func (r *Repository) GetOrCreate(ctx context.Context, day string) (*DailyLedger, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO daily_ledger (day) VALUES ($1) ON CONFLICT (day) DO NOTHING`, day)
	if err != nil {
		return nil, fmt.Errorf("ensuring ledger day: %w", err)
	}

	var l DailyLedger
	err = r.pool.QueryRow(ctx,
		`SELECT day::text, actions_posted, replies_posted, mentions_checked,
		        generation_calls, videos_generated, images_generated,
		        last_mention_check, updated_at
		 FROM daily_ledger WHERE day = $1`, day,
	).Scan(&l.Day, &l.ActionsPosted, &l.RepliesPosted, &l.MentionsChecked,
		&l.GenerationCalls, &l.VideosGenerated, &l.ImagesGenerated,
		&l.LastMentionCheck, &l.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("fetching ledger day: %w", err)
	}
	return &l, nil
}

// IncrementCapped atomically adds one to a category counter, but only while
// the counter is below max. Returns the new count, or ErrCapReached if the
// guard refused. The counter can never pass max, regardless of how many
// invocations race on it.
func (r *Repository) IncrementCapped(ctx context.Context, day string, cat Category, max int) (int, error) {
	if !counterColumns[cat] {
		return 0, fmt.Errorf("unknown ledger category %q", cat)
	}

	var newCount int
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE daily_ledger
		 SET %[1]s = %[1]s + 1, updated_at = NOW()
		 WHERE day = $1 AND %[1]s < $2
		 RETURNING %[1]s`, cat),
		day, max,
	).Scan(&newCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrCapReached
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", cat, err)
	}
	return newCount, nil
}

// IncrementPlatformAction adds one post or reply under the shared daily
// platform cap. Unlike IncrementCapped, the guard here is the combined
// posts+replies total, since the platform counts both against one limit.
func (r *Repository) IncrementPlatformAction(ctx context.Context, day string, cat Category, max int) (int, error) {
	if cat != CategoryPost && cat != CategoryReply {
		return 0, fmt.Errorf("category %q is not a platform action", cat)
	}

	var newCount int
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE daily_ledger
		 SET %[1]s = %[1]s + 1, updated_at = NOW()
		 WHERE day = $1 AND actions_posted + replies_posted < $2
		 RETURNING %[1]s`, cat),
		day, max,
	).Scan(&newCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrCapReached
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", cat, err)
	}
	return newCount, nil
}

// TouchMentionCheck records a mention poll: increments mentions_checked
// (capped) and stamps last_mention_check in the same statement.
func (r *Repository) TouchMentionCheck(ctx context.Context, day string, max int) (int, error) {
	var newCount int
	err := r.pool.QueryRow(ctx,
		`UPDATE daily_ledger
		 SET mentions_checked = mentions_checked + 1,
		     last_mention_check = NOW(),
		     updated_at = NOW()
		 WHERE day = $1 AND mentions_checked < $2
		 RETURNING mentions_checked`,
		day, max,
	).Scan(&newCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrCapReached
	}
	if err != nil {
		return 0, fmt.Errorf("recording mention check: %w", err)
	}
	return newCount, nil
}

// RecordFailedAttempt appends an audit entry to the failed_attempts JSONB
// array. Failed attempts never consume success counters, but they are never
// silently dropped either.
func (r *Repository) RecordFailedAttempt(ctx context.Context, day string, cat Category, reason string) error {
	entry := map[string]any{
		"category":  string(cat),
		"reason":    reason,
		"timestamp": time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling failed attempt: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE daily_ledger
		 SET failed_attempts = failed_attempts || $2::jsonb,
		     updated_at = NOW()
		 WHERE day = $1`, day, string(data))
	if err != nil {
		return fmt.Errorf("recording failed attempt: %w", err)
	}
	return nil
}

// PruneOlderThan deletes ledger rows older than the retention horizon and
// returns the number deleted. Today's row is never eligible.
func (r *Repository) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM daily_ledger WHERE day < $1::date`, cutoff.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("pruning ledger: %w", err)
	}
	return tag.RowsAffected(), nil
}
