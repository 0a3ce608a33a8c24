package upstream

import (
	"context"
	"errors"
)

// EmbedderClient talks to the embedding service. It satisfies the memory
// package's Embedder interface; its errors are degradation signals, not
// hard stops.
type EmbedderClient struct {
	c *client
}

func NewEmbedderClient(base, token string) *EmbedderClient {
	return &EmbedderClient{c: newClient(base, token)}
}

func (e *EmbedderClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	status, err := e.c.postJSON(ctx, "/v1/embed", map[string]string{"input": text}, &out)
	if err != nil {
		return nil, &EmbeddingError{Status: status, Err: err}
	}
	if len(out.Embedding) == 0 {
		return nil, &EmbeddingError{Status: status, Err: errNoEmbedding}
	}
	return out.Embedding, nil
}

var errNoEmbedding = errors.New("embedding service returned no vector")
