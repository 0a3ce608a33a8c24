package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerGenerate_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "image", payload["tier"])

		json.NewEncoder(w).Encode(GeneratedContent{Text: "a take", MediaID: "m-1"})
	}))
	defer srv.Close()

	p := NewProducerClient(srv.URL, "sekrit")
	got, err := p.Generate(context.Background(), "image", "write about x", "")
	require.NoError(t, err)
	assert.Equal(t, "a take", got.Text)
	assert.Equal(t, "m-1", got.MediaID)
}

func TestProducerGenerate_Classification(t *testing.T) {
	tests := []struct {
		status int
		want   FailureKind
	}{
		{http.StatusTooManyRequests, FailureRateLimited},
		{http.StatusUnauthorized, FailureAuth},
		{http.StatusForbidden, FailureAuth},
		{http.StatusInternalServerError, FailureTransient},
		{http.StatusBadGateway, FailureTransient},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))

		p := NewProducerClient(srv.URL, "")
		_, err := p.Generate(context.Background(), "text", "d", "")
		srv.Close()

		var ge *GenerationError
		require.ErrorAs(t, err, &ge, "status %d", tc.status)
		assert.Equal(t, tc.want, ge.Kind, "status %d", tc.status)
	}
}

func TestPlatformPublish_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	p := NewPlatformClient(srv.URL, "")
	_, err := p.Publish(context.Background(), "hello", "")

	var pe *PlatformError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, FailureTransient, pe.Kind)
	assert.True(t, IsTransient(err))
}

func TestPlatformMentions(t *testing.T) {
	created := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/mentions", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		json.NewEncoder(w).Encode(map[string]any{
			"mentions": []PlatformMention{{ID: "m1", Author: "ada", Text: "hi", CreatedAt: created}},
		})
	}))
	defer srv.Close()

	p := NewPlatformClient(srv.URL, "")
	got, err := p.Mentions(context.Background(), created.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ada", got[0].Author)
}

func TestEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2}})
	}))
	defer srv.Close()

	e := NewEmbedderClient(srv.URL, "")
	vec, err := e.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
}

func TestEmbedder_EmptyVectorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
	}))
	defer srv.Close()

	e := NewEmbedderClient(srv.URL, "")
	_, err := e.Embed(context.Background(), "some text")

	var ee *EmbeddingError
	require.ErrorAs(t, err, &ee)
}

func TestTrendsFetchCandidates(t *testing.T) {
	ts := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"trends": []map[string]any{
				{"topic": "heat pumps", "source": "news", "timestamp": ts},
			},
		})
	}))
	defer srv.Close()

	c := NewTrendsClient(srv.URL, "")
	got, err := c.FetchCandidates(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "heat pumps", got[0].Topic)
	assert.True(t, got[0].Recency.Equal(ts))
}

func TestIsTransient_UnrelatedError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("something else")))
}

func TestContextDeadlinePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := NewProducerClient(srv.URL, "")
	_, err := p.Generate(ctx, "text", "d", "")

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, FailureTransient, ge.Kind)
}
