package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrSessionNotFound = errors.New("session not found")
	ErrNotFound        = errors.New("not found")
	ErrProcessing      = errors.New("processing failure")
	ErrTimeout         = errors.New("processing timeout")
	ErrExternalService = errors.New("external service failure")
	ErrPartialPipeline = errors.New("partial pipeline failure")
	ErrConfiguration   = errors.New("configuration error")

	// ErrExternalRejected is a provider refusing the request itself (bad
	// input, auth, policy). It matches ErrExternalService but is not retryable.
	ErrExternalRejected = fmt.Errorf("%w: request rejected", ErrExternalService)
)

// ServiceError is the classified failure returned by every media operation.
// Detail carries tool stderr (trimmed) when a subprocess failed.
type ServiceError struct {
	Marker    error
	Operation string
	Stage     string
	Message   string
	Detail    string
	Cause     error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	marker := e.Marker
	if marker == nil {
		marker = ErrProcessing
	}
	var b strings.Builder
	b.WriteString(marker.Error())
	b.WriteString(": ")
	b.WriteString(buildDetail(e.Operation, e.Stage, e.Message))
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the classification marker and the underlying cause to errors.Is.
func (e *ServiceError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Wrap builds a ServiceError tagged with the provided marker for later status
// classification. The marker should be one of the exported sentinel errors above.
func Wrap(marker error, operation, stage, message string, err error) error {
	if marker == nil {
		marker = ErrProcessing
	}
	return &ServiceError{Marker: marker, Operation: operation, Stage: stage, Message: message, Cause: err}
}

// WrapDetail is Wrap with captured tool output attached.
func WrapDetail(marker error, operation, stage, message, detail string, err error) error {
	wrapped := Wrap(marker, operation, stage, message, err).(*ServiceError)
	wrapped.Detail = strings.TrimSpace(detail)
	return wrapped
}

// Validation is shorthand for a caller error that needs no cause.
func Validation(operation, format string, args ...any) error {
	return Wrap(ErrValidation, operation, "", fmt.Sprintf(format, args...), nil)
}

// AsServiceError returns the outermost ServiceError in err's chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var svc *ServiceError
	if errors.As(err, &svc) {
		return svc, true
	}
	return nil, false
}

// Kind returns the stable machine-readable classification used in API error bodies.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPartialPipeline):
		return "partial_pipeline_failure"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "processing_timeout"
	case errors.Is(err, ErrExternalRejected):
		return "external_service_rejected"
	case errors.Is(err, ErrExternalService):
		return "external_service_failure"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrProcessing):
		return "processing_failure"
	default:
		return "internal"
	}
}

// HTTPStatus maps a classified error to the status code the API returns.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case "session_not_found", "not_found":
		return http.StatusNotFound
	case "validation":
		return http.StatusBadRequest
	case "processing_failure":
		return http.StatusUnprocessableEntity
	case "processing_timeout":
		return http.StatusGatewayTimeout
	case "external_service_failure", "external_service_rejected":
		return http.StatusBadGateway
	case "configuration":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether repeating the same request may succeed.
func Retryable(err error) bool {
	switch Kind(err) {
	case "processing_timeout", "external_service_failure":
		return true
	default:
		return false
	}
}

func buildDetail(operation, stage, message string) string {
	parts := make([]string, 0, 3)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
