package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billingkit/pkg/billingerr"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Response is the envelope of every API response.
type Response struct {
	Code  string         `json:"code"`
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

const (
	codeOK                 = "ok"
	codeCreated            = "created"
	codeBadRequest         = "bad_request"
	codeValidation         = "validation_error"
	codeNotFound           = "not_found"
	codeStateConflict      = "state_conflict"
	codePreconditionFailed = "precondition_failed"
	codePaymentFailed      = "payment_failed"
	codeInternal           = "internal_error"
)

// errBadRequest marks a body or parameter that could not be parsed at all.
var errBadRequest = errors.New("malformed request")

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Code: codeOK, Data: data})
}

func created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Response{Code: codeCreated, Data: data})
}

// statusFor maps err to an HTTP status and envelope code.
func statusFor(err error) (int, string) {
	var verr ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, codeValidation
	}
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, codeBadRequest
	}
	switch billingerr.Category(err) {
	case billingerr.ErrValidation:
		return http.StatusUnprocessableEntity, codeValidation
	case billingerr.ErrNotFound:
		return http.StatusNotFound, codeNotFound
	case billingerr.ErrStateConflict:
		return http.StatusConflict, codeStateConflict
	case billingerr.ErrConfiguration:
		return http.StatusPreconditionFailed, codePreconditionFailed
	case billingerr.ErrGatewayFailure:
		return http.StatusPaymentRequired, codePaymentFailed
	}
	return http.StatusInternalServerError, codeInternal
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	detail := &ErrorDetail{Code: code, Message: err.Error()}

	var verr ValidationError
	if errors.As(err, &verr) {
		detail.Message = "Validation failed"
		detail.Details = map[string][]string(verr)
	}
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Error(err),
		)
		detail.Message = http.StatusText(status)
	}
	writeJSON(w, status, Response{Code: code, Error: detail})
}
