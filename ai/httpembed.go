package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPEmbedder calls a remote embedding endpoint over JSON. Embedding
// providers disagree on response shape ("embedding", "embeddings",
// OpenAI-style "data"); the adapter probes the known shapes and produces
// one canonical vector, rejecting any dimensionality mismatch so the index
// never silently accepts inconsistent vectors.
type HTTPEmbedder struct {
	endpoint string
	dims     int
	client   *http.Client
}

// embeddingPaths are the duck-typed response locations probed in order.
var embeddingPaths = []string{"embedding", "embeddings.0", "data.0.embedding"}

// NewHTTPEmbedder creates an embedder for the given endpoint and fixed
// dimensionality. client may be nil for a default with a 30s timeout.
func NewHTTPEmbedder(endpoint string, dims int, client *http.Client) *HTTPEmbedder {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPEmbedder{endpoint: endpoint, dims: dims, client: client}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"input": text})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed request: status %d", resp.StatusCode)
	}

	vector, err := extractEmbedding(payload)
	if err != nil {
		return nil, err
	}
	if e.dims > 0 && len(vector) != e.dims {
		return nil, fmt.Errorf("embedding dimension %d does not match configured dimension %d", len(vector), e.dims)
	}
	return vector, nil
}

func (e *HTTPEmbedder) Dimensions() int {
	return e.dims
}

func extractEmbedding(payload []byte) ([]float32, error) {
	for _, path := range embeddingPaths {
		result := gjson.GetBytes(payload, path)
		if !result.IsArray() {
			continue
		}
		raw := result.Array()
		if len(raw) == 0 {
			continue
		}
		vector := make([]float32, len(raw))
		for i, v := range raw {
			vector[i] = float32(v.Float())
		}
		return vector, nil
	}
	return nil, fmt.Errorf("could not extract embedding from response")
}
