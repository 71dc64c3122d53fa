package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/aibot-search-gateway/internal/domain"
)

// VectorIndex — black-box поиск ближайших соседей по проиндексированным
// сообщениям. Возвращает кандидатов, упорядоченных по дистанции.
type VectorIndex interface {
	Search(ctx context.Context, embedding []float64, topK int) ([]domain.SearchHit, error)
}

// HTTPVectorIndex — клиент REST-сервиса векторного поиска.
type HTTPVectorIndex struct {
	baseURL string
	http    *http.Client
	rel     *Reliability
}

func NewHTTPVectorIndex(baseURL string, timeout time.Duration) *HTTPVectorIndex {
	return &HTTPVectorIndex{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		rel:     NewReliability("vector-index", timeout),
	}
}

func (v *HTTPVectorIndex) Search(ctx context.Context, embedding []float64, topK int) ([]domain.SearchHit, error) {
	body, err := json.Marshal(map[string]interface{}{
		"embedding": embedding,
		"top_k":     topK,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Hits []domain.SearchHit `json:"hits"`
	}
	err = v.rel.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			v.baseURL+"/v1/search", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := v.http.Do(req)
		if err != nil {
			return fmt.Errorf("vector index: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("vector index: unexpected status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, err
	}

	return dedupeHits(out.Hits), nil
}

// dedupeHits убирает дубликаты по паре (канал, ts), сохраняя порядок выдачи.
func dedupeHits(hits []domain.SearchHit) []domain.SearchHit {
	seen := make(map[string]struct{}, len(hits))
	result := hits[:0]
	for _, h := range hits {
		key := h.Channel + ":" + h.TS
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, h)
	}
	return result
}
