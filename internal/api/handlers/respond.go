package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/markdave123-py/textbook-index/pkg/errors"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Detail  string              `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its AppError status. Server side failures are
// logged with the cause; the cause itself is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.AsAppError(err)
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", err, "path", r.URL.Path)
	}
	writeJSON(w, status, errorBody{Code: appErr.Code, Message: appErr.Message, Detail: appErr.Detail})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, apperrors.New(apperrors.CodeInvalidParam, msg))
}

// decodeJSON reads a bounded JSON body. Unknown fields are rejected so typos
// in filter names do not silently widen a query.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error())
		return false
	}
	return true
}

const maxJSONBytes = 1 << 20
