package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	embeddingCacheTTL   = 24 * time.Hour
	searchCacheTTL      = 5 * time.Minute
	embeddingCacheKeyFmt = "aeon:embed:%s:%s"
	searchCacheKeyFmt    = "aeon:search:%s:%s"
)

// EmbeddingClient produces 1536-dim embeddings for memory text, backed by a
// Redis cache keyed on a SHA-256 digest of the input. Duplicate concurrent
// requests for the same text are collapsed via singleflight. If Redis starts
// failing, caching is disabled for the remainder of the process and every
// call falls straight through to the remote provider.
type EmbeddingClient struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
	model      string

	redis *redis.Client
	group singleflight.Group

	mu            sync.Mutex
	cacheDisabled bool
}

func NewEmbeddingClient(apiBase, apiKey, model string, redisClient *redis.Client) *EmbeddingClient {
	return &EmbeddingClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		apiBase:    apiBase,
		apiKey:     apiKey,
		model:      model,
		redis:      redisClient,
	}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:32]
}

func (c *EmbeddingClient) cachingEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redis != nil && !c.cacheDisabled
}

func (c *EmbeddingClient) disableCaching(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cacheDisabled {
		slog.Warn("memory: disabling embedding cache after redis error", "error", err)
	}
	c.cacheDisabled = true
}

// Embed returns the embedding for text, using the cache when available.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashText(text)

	if c.cachingEnabled() {
		cacheKey := fmt.Sprintf(embeddingCacheKeyFmt, c.model, key)
		if raw, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
			var vec []float32
			if json.Unmarshal([]byte(raw), &vec) == nil {
				return vec, nil
			}
		} else if err != redis.Nil {
			c.disableCaching(err)
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.embedRemote(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	vec := v.([]float32)

	if c.cachingEnabled() {
		cacheKey := fmt.Sprintf(embeddingCacheKeyFmt, c.model, key)
		if raw, err := json.Marshal(vec); err == nil {
			if err := c.redis.Set(ctx, cacheKey, raw, embeddingCacheTTL).Err(); err != nil {
				c.disableCaching(err)
			}
		}
	}
	return vec, nil
}

// EmbedBatch embeds every text in one remote call, preserving input order by
// the vendor's returned index. Cache hits are served individually; the
// remaining misses are folded into a single request.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIndex []int

	cachingEnabled := c.cachingEnabled()
	for i, t := range texts {
		if cachingEnabled {
			cacheKey := fmt.Sprintf(embeddingCacheKeyFmt, c.model, hashText(t))
			if raw, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
				var vec []float32
				if json.Unmarshal([]byte(raw), &vec) == nil {
					out[i] = vec
					continue
				}
			} else if err != redis.Nil {
				c.disableCaching(err)
			}
		}
		missTexts = append(missTexts, t)
		missIndex = append(missIndex, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.embedRemoteBatch(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embed batch: expected %d vectors, got %d", len(missTexts), len(vecs))
	}

	cachingEnabled = c.cachingEnabled()
	for j, vec := range vecs {
		idx := missIndex[j]
		out[idx] = vec
		if cachingEnabled {
			cacheKey := fmt.Sprintf(embeddingCacheKeyFmt, c.model, hashText(missTexts[j]))
			if raw, err := json.Marshal(vec); err == nil {
				if err := c.redis.Set(ctx, cacheKey, raw, embeddingCacheTTL).Err(); err != nil {
					c.disableCaching(err)
				}
			}
		}
	}
	return out, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *EmbeddingClient) embedRemote(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedRemoteBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// embedRemoteBatch issues a single vendor call for all texts and reorders
// the response by the vendor-returned index.
func (c *EmbeddingClient) embedRemoteBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request failed: status %d", resp.StatusCode)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response had %d vectors for %d inputs", len(out.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// SearchCache namespaces cached vector-search results by user, so two users
// never see each other's cached result sets.
type SearchCache struct {
	redis *redis.Client
}

func NewSearchCache(redisClient *redis.Client) *SearchCache {
	return &SearchCache{redis: redisClient}
}

func (sc *SearchCache) Get(ctx context.Context, userID, query string, dest any) bool {
	if sc.redis == nil {
		return false
	}
	key := fmt.Sprintf(searchCacheKeyFmt, userID, hashText(query))
	raw, err := sc.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(raw), dest) == nil
}

func (sc *SearchCache) Set(ctx context.Context, userID, query string, value any) {
	if sc.redis == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	key := fmt.Sprintf(searchCacheKeyFmt, userID, hashText(query))
	if err := sc.redis.Set(ctx, key, raw, searchCacheTTL).Err(); err != nil {
		slog.Warn("memory: search cache write failed", "error", err)
	}
}
