package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/pagination"
	"github.com/acksell/slotdb/physical"
	"github.com/acksell/slotdb/transport"
	"github.com/acksell/slotdb/updateexpr"
)

// ErrorResponse represents a standard JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// WriteJSONError writes a JSON error response with the given status code and message
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	json.NewEncoder(w).Encode(response)
}

var badRequest = []error{
	errBadRequest,
	filterexpr.ErrUnsupportedPredicate,
	filterexpr.ErrUnresolvableFilter,
	updateexpr.ErrInvalidUpdate,
	updateexpr.ErrSlotWrite,
	updateexpr.ErrIndexDerivation,
	pagination.ErrInvalidCursor,
	pagination.ErrInvalidPageSize,
	index.ErrMissingField,
	index.ErrUnknownRelation,
	keys.ErrEmptyKey,
	keys.ErrUnencodableValue,
	keys.ErrMalformedKey,
	physical.ErrNotNumeric,
	transport.ErrInvalidItem,
}

var conflict = []error{
	transport.ErrDuplicate,
	transport.ErrConditionFailed,
	transport.ErrConflict,
}

// StatusCode maps an operation error to an HTTP status.
func StatusCode(err error) int {
	if errors.Is(err, ErrUnknownEntity) {
		return http.StatusNotFound
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	for _, target := range conflict {
		if errors.Is(err, target) {
			return http.StatusConflict
		}
	}
	var se *transport.StoreError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.log.DebugContext(r.Context(), "request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	}
	WriteJSONError(w, code, err.Error())
}
