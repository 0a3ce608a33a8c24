package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/plume-agent/plume/internal/planner"
)

// TrendsClient talks to the trend/news aggregation service. It is the
// planner's ContextSource: failures here degrade the run to an idle, so
// errors pass through unclassified.
type TrendsClient struct {
	c *client
}

func NewTrendsClient(base, token string) *TrendsClient {
	return &TrendsClient{c: newClient(base, token)}
}

func (t *TrendsClient) FetchCandidates(ctx context.Context, limit int) ([]planner.Candidate, error) {
	var out struct {
		Trends []struct {
			Topic     string    `json:"topic"`
			Source    string    `json:"source"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"trends"`
	}
	path := fmt.Sprintf("/v1/trends?limit=%d", limit)
	if _, err := t.c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch trends: %w", err)
	}

	candidates := make([]planner.Candidate, 0, len(out.Trends))
	for _, tr := range out.Trends {
		candidates = append(candidates, planner.Candidate{
			Topic:   tr.Topic,
			Source:  tr.Source,
			Recency: tr.Timestamp,
		})
	}
	return candidates, nil
}
