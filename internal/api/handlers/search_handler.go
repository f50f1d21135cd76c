package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/internal/search"
)

// maxBatchQueries bounds one batch request.
const maxBatchQueries = 25

// SearchEngine is what the search routes need from search.Engine.
type SearchEngine interface {
	Search(ctx context.Context, p models.SearchParams) (models.SearchResponse, error)
	BatchSearch(ctx context.Context, params []models.SearchParams) []search.BatchResult
	Similar(ctx context.Context, chunkID string, maxResults int, excludeSameFile bool) (models.SearchResponse, error)
	Stats(ctx context.Context) (models.IndexStats, error)
}

type SearchHandler struct {
	engine SearchEngine
	prompt search.PromptOptions
}

func NewSearchHandler(engine SearchEngine, prompt search.PromptOptions) *SearchHandler {
	return &SearchHandler{engine: engine, prompt: prompt}
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var p models.SearchParams
	if !decodeJSON(w, r, &p) {
		return
	}
	resp, err := h.engine.Search(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type batchRequest struct {
	Queries []models.SearchParams `json:"queries"`
}

type batchResponse struct {
	Results []search.BatchResult `json:"results"`
}

// BatchSearch answers several queries; a failing entry carries its own error.
func (h *SearchHandler) BatchSearch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Queries) == 0 {
		badRequest(w, r, "queries is required")
		return
	}
	if len(req.Queries) > maxBatchQueries {
		badRequest(w, r, "too many queries in one batch")
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: h.engine.BatchSearch(r.Context(), req.Queries)})
}

type contextResponse struct {
	Context string                `json:"context"`
	Results []models.SearchResult `json:"results"`
	Path    string                `json:"path"`
}

// PromptContext runs a search and returns the results already formatted as a
// reference block for a generation prompt.
func (h *SearchHandler) PromptContext(w http.ResponseWriter, r *http.Request) {
	var p models.SearchParams
	if !decodeJSON(w, r, &p) {
		return
	}
	resp, err := h.engine.Search(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contextResponse{
		Context: search.FormatForPrompt(resp.Results, h.prompt),
		Results: resp.Results,
		Path:    resp.Path,
	})
}

// Similar lists chunks related to the chunk in the path.
// Query: limit, excludeSameFile.
func (h *SearchHandler) Similar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			badRequest(w, r, "limit must be a positive number")
			return
		}
		limit = n
	}
	exclude := false
	if v := q.Get("excludeSameFile"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, r, "excludeSameFile must be true or false")
			return
		}
		exclude = b
	}
	resp, err := h.engine.Similar(r.Context(), chi.URLParam(r, "id"), limit, exclude)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SearchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
