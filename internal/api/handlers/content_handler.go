package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/markdave123-py/textbook-index/internal/services"
)

const generateTimeout = 2 * time.Minute

type ContentGenerator interface {
	Generate(ctx context.Context, req services.ContentRequest) (*services.ContentResponse, error)
}

// ContentHandler answers topic requests with content grounded on the index.
type ContentHandler struct {
	gen ContentGenerator
}

func NewContentHandler(gen ContentGenerator) *ContentHandler {
	return &ContentHandler{gen: gen}
}

func (h *ContentHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req services.ContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), generateTimeout)
	defer cancel()

	resp, err := h.gen.Generate(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
