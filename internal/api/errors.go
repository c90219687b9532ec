package api

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

// APIError is the huma.StatusError every handler failure becomes. The
// envelope transformer copies its fields into the response envelope.
type APIError struct { //nolint:revive // API prefix is intentional for clarity
	status  int
	Code    string `json:"code" doc:"Machine-readable error code"`
	Kind    string `json:"kind,omitempty" doc:"Refinement of an AUTH error"`
	Message string `json:"message" doc:"Human-readable error message"`
	Details any    `json:"details,omitempty" doc:"Additional error details"`
}

func (e *APIError) Error() string { return e.Message }

// GetStatus implements huma.StatusError.
func (e *APIError) GetStatus() int { return e.status }

// ContentType implements huma.ContentTypeFilter.
func (e *APIError) ContentType(string) string { return "application/json" }

func fromDomain(e *domainerrors.Error) *APIError {
	return &APIError{
		status:  e.HTTPStatus(),
		Code:    string(e.Code),
		Kind:    string(e.Kind),
		Message: e.Message,
		Details: e.Details,
	}
}

// RegisterErrorHandler replaces huma.NewError so domain errors keep their
// code and kind. Call it before registering routes.
func RegisterErrorHandler() {
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		var details []string
		for _, err := range errs {
			if err == nil {
				continue
			}
			var de *domainerrors.Error
			if errors.As(err, &de) {
				return fromDomain(de)
			}
			details = append(details, err.Error())
		}

		apiErr := &APIError{status: status, Code: statusToCode(status), Message: message}
		if len(details) > 0 {
			apiErr.Details = details
		}
		return apiErr
	}
}

var statusCodes = map[int]domainerrors.Code{
	http.StatusBadRequest:          domainerrors.CodeValidation,
	http.StatusUnprocessableEntity: domainerrors.CodeValidation,
	http.StatusUnauthorized:        domainerrors.CodeUnauthorized,
	http.StatusForbidden:           domainerrors.CodeForbidden,
	http.StatusNotFound:            domainerrors.CodeNotFound,
	http.StatusConflict:            domainerrors.CodeConflict,
	http.StatusTooManyRequests:     domainerrors.CodeRateLimited,
	http.StatusBadGateway:          domainerrors.CodeFetch,
}

// statusToCode names the error code for a bare HTTP status.
func statusToCode(status int) string {
	if c, ok := statusCodes[status]; ok {
		return string(c)
	}
	return string(domainerrors.CodeInternal)
}
