package upstream

import (
	"context"
)

// GeneratedContent is the producer's output for one generation call.
type GeneratedContent struct {
	Text     string `json:"text"`
	MediaURL string `json:"media_url,omitempty"`
	MediaID  string `json:"media_id,omitempty"`
}

// ProducerClient talks to the content producer service. Every call costs
// one unit of the daily generation budget regardless of outcome, so the
// caller accounts for the call before invoking it.
type ProducerClient struct {
	c *client
}

func NewProducerClient(base, token string) *ProducerClient {
	return &ProducerClient{c: newClient(base, token)}
}

// Generate asks the producer for content at the given richness tier.
// The directive carries the topic framing; replyTo is set for replies.
func (p *ProducerClient) Generate(ctx context.Context, tier, directive, replyTo string) (*GeneratedContent, error) {
	payload := map[string]string{
		"tier":      tier,
		"directive": directive,
	}
	if replyTo != "" {
		payload["reply_to"] = replyTo
	}

	var out GeneratedContent
	status, err := p.c.postJSON(ctx, "/v1/generate", payload, &out)
	if err != nil {
		return nil, &GenerationError{Kind: kindFor(status), Tier: tier, Status: status, Err: err}
	}
	return &out, nil
}

func kindFor(status int) FailureKind {
	if status == 0 {
		return FailureTransient
	}
	return classifyStatus(status)
}
