package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/00vip7-stack/hedge-dashboard/src/anonymizer"
	"github.com/00vip7-stack/hedge-dashboard/src/archive"
	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/parsers"
	"github.com/00vip7-stack/hedge-dashboard/src/processors"
	"github.com/00vip7-stack/hedge-dashboard/src/provenance"
	"github.com/00vip7-stack/hedge-dashboard/src/resolver"
	"github.com/00vip7-stack/hedge-dashboard/src/security/validation"
	"github.com/00vip7-stack/hedge-dashboard/src/services"
	"github.com/00vip7-stack/hedge-dashboard/src/utils"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, archive.ErrArchiveUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, validation.ErrUnsupportedFile),
		errors.Is(err, parsers.ErrUnsupportedFormat),
		errors.Is(err, services.ErrParsingFailed):
		return http.StatusBadRequest
	case errors.Is(err, resolver.ErrMappingFailed),
		errors.Is(err, processors.ErrExtractionFailed),
		errors.Is(err, processors.ErrInvalidColumnMap),
		errors.Is(err, anonymizer.ErrAnonymizationViolation),
		errors.Is(err, provenance.ErrInvalidGraph):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func hintFor(err error) string {
	var hinted interface{ Hint() string }
	if errors.As(err, &hinted) {
		return hinted.Hint()
	}
	return ""
}

// sendError writes err with its status and hint. Internal errors get a
// generic message.
func sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("Internal error", "path", r.URL.Path, "error", err)
		msg = "An internal error occurred. Please try again later."
	}
	utils.SendJSONErrorWithHint(w, msg, hintFor(err), status)
}

type runErrorBody struct {
	Error  string              `json:"error"`
	Hint   string              `json:"hint,omitempty"`
	Result *services.RunResult `json:"result,omitempty"`
}

// sendRunError is sendError for pipeline runs that archived a partial result.
func sendRunError(w http.ResponseWriter, r *http.Request, err error, result *services.RunResult) {
	if result == nil {
		sendError(w, r, err)
		return
	}
	status := statusFor(err)
	body := runErrorBody{Error: err.Error(), Hint: hintFor(err), Result: result}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("Pipeline run failed", "runID", result.RunID, "error", err)
		body.Error = "An internal error occurred while processing the file."
	}
	utils.SendJSON(w, body, status)
}
