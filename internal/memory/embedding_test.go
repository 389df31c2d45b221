package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// embeddingStub serves /embeddings, returning a distinct vector per input and
// deliberately shuffling the response order so index-based reassembly is
// actually exercised.
func embeddingStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var resp embeddingResponse
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), float32(len(req.Input[i]))}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedBatchPreservesInputOrder(t *testing.T) {
	srv := embeddingStub(t)
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "key", "test-model", nil)
	vecs, err := c.EmbedBatch(context.Background(), []string{"alpha", "bee", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("vectors = %d, want 3", len(vecs))
	}
	for i, want := range []float32{5, 3, 1} { // len of each input text
		if vecs[i][0] != float32(i) || vecs[i][1] != want {
			t.Errorf("vecs[%d] = %v, want [%d %v]", i, vecs[i], i, want)
		}
	}
}

func TestEmbedSingle(t *testing.T) {
	srv := embeddingStub(t)
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "key", "test-model", nil)
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("vec = %v", vec)
	}
}

func TestEmbedRemoteErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "key", "test-model", nil)
	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestHashTextIsStableAndBounded(t *testing.T) {
	a, b := hashText("same input"), hashText("same input")
	if a != b {
		t.Fatalf("hashText not deterministic: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("hash length = %d, want 32 (hex-truncated)", len(a))
	}
	if hashText("other input") == a {
		t.Fatal("distinct inputs hashed identically")
	}
}
