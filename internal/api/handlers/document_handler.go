package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/internal/services"
	apperrors "github.com/markdave123-py/textbook-index/pkg/errors"
)

const (
	maxUploadBytes = 50 << 20
	uploadTimeout  = 5 * time.Minute
)

// DocumentService is what the document routes need from services.DocumentService.
type DocumentService interface {
	Submit(ctx context.Context, up services.Upload) (*services.Submission, error)
	Status(ctx context.Context, filePath string) (*models.ProcessingStatus, error)
	ListStatuses(ctx context.Context, status models.Status, limit int) ([]models.ProcessingStatus, error)
	Process(ctx context.Context, force bool) (models.ScanResult, error)
	Retry(ctx context.Context) error
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// UploadDocument stores a multipart "file" and queues it for indexing.
// Optional form fields: folder, gradeLevel, documentType.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Code: apperrors.CodeInvalidParam, Message: "file too large"})
			return
		}
		badRequest(w, r, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, r, "could not read file")
		return
	}

	up := services.Upload{
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Data:         data,
		Folder:       r.FormValue("folder"),
		DocumentType: models.DocumentType(strings.TrimSpace(r.FormValue("documentType"))),
	}
	if g := strings.TrimSpace(r.FormValue("gradeLevel")); g != "" {
		up.GradeLevel, err = strconv.Atoi(g)
		if err != nil {
			badRequest(w, r, "gradeLevel must be a number")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), uploadTimeout)
	defer cancel()

	sub, err := h.svc.Submit(ctx, up)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// ProcessDocuments scans the configured buckets and starts a background run.
// ?force=true reprocesses every supported file.
func (h *DocumentHandler) ProcessDocuments(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	scan, err := h.svc.Process(r.Context(), force)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scan)
}

// RetryDocuments re-runs files in retry state in the background.
func (h *DocumentHandler) RetryDocuments(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Retry(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// GetStatus returns one row for ?path=, otherwise a list filtered by
// ?status= and bounded by ?limit=.
func (h *DocumentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if p := q.Get("path"); p != "" {
		st, err := h.svc.Status(r.Context(), p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}

	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			badRequest(w, r, "limit must be a positive number")
			return
		}
		limit = n
	}
	rows, err := h.svc.ListStatuses(r.Context(), models.Status(q.Get("status")), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
