package search

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type searchRequest struct {
	Query string `json:"query"`
}

// Handler — тонкий HTTP-слой над конвейером: разбор запроса, вызов,
// сериализация. Никакой логики доступа здесь нет — она вся в шлюзе выше.
type Handler struct {
	pipeline *Pipeline
	logger   *zap.Logger
}

func NewHandler(pipeline *Pipeline, logger *zap.Logger) *Handler {
	return &Handler{pipeline: pipeline, logger: logger.Named("search_http")}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Query must not be empty"})
		return
	}

	result, err := h.pipeline.Search(r.Context(), req.Query)
	if err != nil {
		// Детали системного сбоя остаются в логах, клиент получает
		// обезличенный ответ
		h.logger.Error("search pipeline failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Search failed"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
