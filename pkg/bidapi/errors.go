package bidapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	ErrNotFound        = errors.New("resource not found")
	ErrContractExists  = errors.New("contract already exists")
	ErrInvalidResponse = errors.New("invalid response")
)

// Structured error codes the backend may put in a problem response.
const (
	CodeContractExists = "CONTRACT_EXISTS"
	CodeNotFound       = "NOT_FOUND"
	CodeValidation     = "VALIDATION_ERROR"
)

// FieldError is one field failure reported by the backend.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a non-2xx response from the backend.
type Error struct {
	Method     string
	Path       string
	Status     int
	StatusText string
	Code       string
	Detail     string
	Fields     []FieldError
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.StatusText)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches sentinels by structured code or status, never by message text.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound || e.Code == CodeNotFound
	case ErrContractExists:
		return e.Code == CodeContractExists
	}
	return false
}

// problemBody is an RFC 7807 problem document with the backend's optional
// extensions. Older endpoints answer {"error": "..."} or {"message": "..."}.
type problemBody struct {
	Type    string       `json:"type"`
	Title   string       `json:"title"`
	Status  int          `json:"status"`
	Detail  string       `json:"detail"`
	Code    string       `json:"code"`
	Errors  []FieldError `json:"errors"`
	Message string       `json:"message"`
	Err     string       `json:"error"`
}

func newError(method, path string, resp *http.Response, body []byte) *Error {
	e := &Error{
		Method:     method,
		Path:       path,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
	}

	var p problemBody
	if err := json.Unmarshal(body, &p); err == nil {
		e.Code = strings.ToUpper(strings.TrimSpace(p.Code))
		e.Fields = p.Errors
		switch {
		case p.Detail != "":
			e.Detail = p.Detail
		case p.Message != "":
			e.Detail = p.Message
		case p.Err != "":
			e.Detail = p.Err
		default:
			e.Detail = p.Title
		}
	} else {
		e.Detail = truncate(strings.TrimSpace(string(body)), maxDetailBytes)
	}
	return e
}

const maxDetailBytes = 200

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
