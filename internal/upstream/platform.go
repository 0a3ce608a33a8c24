package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// PublishResult identifies the post the platform created.
type PublishResult struct {
	PostID string `json:"post_id"`
}

// PlatformMention is one inbound mention as the platform reports it.
type PlatformMention struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PlatformClient talks to the publishing platform: outbound posts and
// replies, plus the mention inbox.
type PlatformClient struct {
	c *client
}

func NewPlatformClient(base, token string) *PlatformClient {
	return &PlatformClient{c: newClient(base, token)}
}

// Publish posts new content. mediaID is optional.
func (p *PlatformClient) Publish(ctx context.Context, text, mediaID string) (*PublishResult, error) {
	payload := map[string]string{"text": text}
	if mediaID != "" {
		payload["media_id"] = mediaID
	}
	var out PublishResult
	status, err := p.c.postJSON(ctx, "/v1/posts", payload, &out)
	if err != nil {
		return nil, &PlatformError{Kind: kindFor(status), Op: "publish", Status: status, Err: err}
	}
	return &out, nil
}

// Reply answers an existing post.
func (p *PlatformClient) Reply(ctx context.Context, targetID, text string) (*PublishResult, error) {
	payload := map[string]string{"text": text}
	var out PublishResult
	path := fmt.Sprintf("/v1/posts/%s/replies", url.PathEscape(targetID))
	status, err := p.c.postJSON(ctx, path, payload, &out)
	if err != nil {
		return nil, &PlatformError{Kind: kindFor(status), Op: "reply", Status: status, Err: err}
	}
	return &out, nil
}

// Mentions fetches the pending mention inbox. The since bound keeps the
// platform from replaying mentions already considered.
func (p *PlatformClient) Mentions(ctx context.Context, since time.Time) ([]PlatformMention, error) {
	var out struct {
		Mentions []PlatformMention `json:"mentions"`
	}
	path := "/v1/mentions"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}
	status, err := p.c.getJSON(ctx, path, &out)
	if err != nil {
		return nil, &PlatformError{Kind: kindFor(status), Op: "mentions", Status: status, Err: err}
	}
	return out.Mentions, nil
}
