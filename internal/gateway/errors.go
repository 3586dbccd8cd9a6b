package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Error categories surfaced by every backend call. Callers classify with errors.Is.
var (
	// ErrUnauthenticated means the token is missing, expired or was rejected. The caller must
	// send the user back to login.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrValidationFailed means the backend rejected the payload; Detail carries its message.
	ErrValidationFailed = errors.New("validation failed")
	// ErrNotFound means the referenced resource no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrUnreachable means a network or server failure. Nothing changed; the action can be
	// retried by the user.
	ErrUnreachable = errors.New("backend unreachable")
)

// APIError is a failed backend response.
type APIError struct {
	Kind   error
	Status int
	Method string
	Path   string
	// Detail is the backend's message, verbatim.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%s %s: %s (%d)", e.Method, e.Path, e.Kind, e.Status)
}

// Unwrap lets errors.Is match the category.
func (e *APIError) Unwrap() error {
	return e.Kind
}

// Detail returns the backend-provided message carried by err, or err's own message.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ValidationError returns a client-side validation failure carrying msg verbatim, so that
// callers handle it the same way as a rejected payload.
func ValidationError(msg string) error {
	return &APIError{Kind: ErrValidationFailed, Detail: msg}
}

// AsValidationError is ValidationError with a formatted message.
func AsValidationError(format string, args ...interface{}) error {
	return ValidationError(fmt.Sprintf(format, args...))
}

// Outcome names the category of err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthenticated
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 400 && status < 500:
		return ErrValidationFailed
	default:
		return ErrUnreachable
	}
}

// errorBody covers the shapes the backend uses for failures: {"detail": "..."},
// {"detail": [{"loc": [...], "msg": "..."}]} for schema errors, and {"message": "..."}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

type fieldError struct {
	Loc []interface{} `json:"loc"`
	Msg string        `json:"msg"`
}

func parseDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			return s
		}
		var fields []fieldError
		if err := json.Unmarshal(eb.Detail, &fields); err == nil {
			msgs := make([]string, 0, len(fields))
			for _, f := range fields {
				loc := make([]string, 0, len(f.Loc))
				for _, l := range f.Loc {
					if l == "body" {
						continue
					}
					loc = append(loc, fmt.Sprint(l))
				}
				if len(loc) > 0 {
					msgs = append(msgs, strings.Join(loc, ".")+": "+f.Msg)
				} else {
					msgs = append(msgs, f.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
		return string(eb.Detail)
	}
	return eb.Message
}
