package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/academiaos/academiaos/internal/config"
	"github.com/academiaos/academiaos/internal/vector"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "trust and autonomy")
	b, _ := e.Embed(ctx, "trust and autonomy")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text should give the same vector")
		}
	}
	if e.Dimensions() != 64 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
}

func TestMockEmbedder_SharedWordsScoreHigher(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "trust autonomy")
	near, _ := e.Embed(ctx, "Managers described trust and autonomy at work.")
	far, _ := e.Embed(ctx, "The weather was cold in the harbour.")
	if vector.Cosine(q, near) <= vector.Cosine(q, far) {
		t.Errorf("expected overlap to score higher: near=%f far=%f", vector.Cosine(q, near), vector.Cosine(q, far))
	}
}

func TestMockEmbedder_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockEmbedder(8).Embed(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var gotInput []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		gotInput = body.Input
		w.Header().Set("Content-Type", "application/json")
		// Reversed order to check that Index is honored.
		_, _ = io.WriteString(w, `{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-test", srv.URL+"/v1/", "text-embedding-3-small", 2)
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if len(gotInput) != 2 || gotInput[0] != "first" {
		t.Errorf("input = %v", gotInput)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors out of order: %v", vecs)
	}
}

func TestNew_Providers(t *testing.T) {
	t.Run("mock with cache", func(t *testing.T) {
		cfg := &config.Config{Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: 32, CacheSize: 10}}
		e, err := New(cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer e.Close()
		if _, ok := e.(*CachedEmbedder); !ok {
			t.Errorf("expected CachedEmbedder, got %T", e)
		}
		if e.Dimensions() != 32 {
			t.Errorf("Dimensions = %d", e.Dimensions())
		}
	})
	t.Run("openai reuses chat key", func(t *testing.T) {
		cfg := &config.Config{
			Embedding: config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small"},
			LLM:       config.LLMConfig{OpenAI: config.OpenAIConfig{APIKey: "sk-chat"}},
		}
		e, err := New(cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := e.(*OpenAIEmbedder); !ok {
			t.Errorf("expected OpenAIEmbedder, got %T", e)
		}
	})
	t.Run("openai without key", func(t *testing.T) {
		cfg := &config.Config{Embedding: config.EmbeddingConfig{Provider: "openai"}}
		if _, err := New(cfg, nil); !errors.Is(err, config.ErrConfigurationMissing) {
			t.Errorf("expected ErrConfigurationMissing, got %v", err)
		}
	})
	t.Run("unknown", func(t *testing.T) {
		cfg := &config.Config{Embedding: config.EmbeddingConfig{Provider: "word2vec"}}
		if _, err := New(cfg, nil); !errors.Is(err, config.ErrConfigurationMissing) {
			t.Errorf("expected ErrConfigurationMissing, got %v", err)
		}
	})
}
