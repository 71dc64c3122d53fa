package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Embedder превращает текст запроса в вектор. Сам сервис эмбеддингов —
// внешний черный ящик.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HTTPEmbedder — клиент REST-сервиса эмбеддингов.
type HTTPEmbedder struct {
	baseURL string
	model   string
	http    *http.Client
	rel     *Reliability
}

func NewHTTPEmbedder(baseURL, model string, timeout time.Duration) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
		rel:     NewReliability("embedder", timeout),
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]string{
		"model":     e.model,
		"text":      text,
		"task_type": "RETRIEVAL_QUERY",
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	err = e.rel.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.http.Do(req)
		if err != nil {
			return fmt.Errorf("embedder: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("embedder: unexpected status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, err
	}

	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedder: empty embedding for query")
	}
	return out.Embedding, nil
}
