package console

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/bidkit/internal/archive"
	"github.com/hyperengineering/bidkit/internal/contracts"
	"github.com/hyperengineering/bidkit/internal/signature"
	"github.com/hyperengineering/bidkit/internal/templatesync"
	"github.com/hyperengineering/bidkit/internal/validation"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

// Problem codes the console UI switches on.
const (
	CodeRevisionRequired  = "revision_required"
	CodeInvalidTransition = "invalid_transition"
	CodeNoTemplate        = "no_template"
	CodeListUnavailable   = "list_unavailable"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
	Retry    string `json:"retry,omitempty"`

	Errors []validation.ValidationError `json:"errors,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

var problemTypes = map[int]problemType{
	http.StatusBadRequest:            {"https://bidkit.dev/errors/bad-request", "Bad Request"},
	http.StatusUnauthorized:          {"https://bidkit.dev/errors/unauthorized", "Unauthorized"},
	http.StatusNotFound:              {"https://bidkit.dev/errors/not-found", "Not Found"},
	http.StatusConflict:              {"https://bidkit.dev/errors/conflict", "Conflict"},
	http.StatusRequestEntityTooLarge: {"https://bidkit.dev/errors/too-large", "Request Entity Too Large"},
	http.StatusUnprocessableEntity:   {"https://bidkit.dev/errors/validation-error", "Validation Error"},
	http.StatusInternalServerError:   {"https://bidkit.dev/errors/internal-error", "Internal Server Error"},
	http.StatusBadGateway:            {"https://bidkit.dev/errors/upstream-error", "Bad Gateway"},
	http.StatusServiceUnavailable:    {"https://bidkit.dev/errors/service-unavailable", "Service Unavailable"},
	http.StatusGatewayTimeout:        {"https://bidkit.dev/errors/upstream-timeout", "Gateway Timeout"},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{"https://bidkit.dev/errors/unknown", http.StatusText(status)}
	}
	return Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

func writeProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblem(w, newProblem(r, status, detail))
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	p := newProblem(r, http.StatusUnprocessableEntity, detail)
	p.Errors = errs
	writeProblem(w, p)
}

// WriteListError reports a failed list fetch with a link the page can
// retry.
func WriteListError(w http.ResponseWriter, r *http.Request, detail string) {
	p := newProblem(r, http.StatusBadGateway, detail)
	p.Code = CodeListUnavailable
	p.Retry = r.URL.RequestURI()
	writeProblem(w, p)
}

func writeCoded(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	p := newProblem(r, status, detail)
	p.Code = code
	writeProblem(w, p)
}

// MapError converts domain and upstream errors to Problem Details.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verrs  validation.Errors
		apiErr *bidapi.Error
	)
	switch {
	case errors.As(err, &verrs):
		WriteProblemWithErrors(w, r, "Request contains invalid fields", verrs)
	case errors.Is(err, signature.ErrEmpty):
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
			{Field: "signature", Message: "initials or a signature image is required"},
		})
	case errors.Is(err, contracts.ErrRevisionRequired):
		writeCoded(w, r, http.StatusConflict, CodeRevisionRequired,
			"A contract already exists for this proposal. Confirm to generate a revision.")
	case errors.Is(err, contracts.ErrInvalidTransition):
		writeCoded(w, r, http.StatusConflict, CodeInvalidTransition, err.Error())
	case errors.Is(err, contracts.ErrNoContract):
		WriteProblem(w, r, http.StatusNotFound, "Proposal has no contract")
	case errors.Is(err, templatesync.ErrNoTemplate):
		writeCoded(w, r, http.StatusConflict, CodeNoTemplate, "Proposal was not created from a template")
	case errors.Is(err, archive.ErrNotConfigured):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Contract archive not configured")
	case errors.Is(err, bidapi.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.As(err, &apiErr):
		mapUpstream(w, r, apiErr)
	case errors.Is(err, context.DeadlineExceeded):
		WriteProblem(w, r, http.StatusGatewayTimeout, "Backend did not respond in time")
	default:
		slog.Error("unhandled console error",
			"component", "console",
			"path", r.URL.Path,
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

func mapUpstream(w http.ResponseWriter, r *http.Request, e *bidapi.Error) {
	if len(e.Fields) > 0 {
		errs := make([]validation.ValidationError, len(e.Fields))
		for i, f := range e.Fields {
			errs[i] = validation.ValidationError{Field: f.Field, Message: f.Message}
		}
		WriteProblemWithErrors(w, r, "Backend rejected the request", errs)
		return
	}
	if e.Status >= 400 && e.Status < 500 {
		detail := e.Detail
		if detail == "" {
			detail = e.StatusText
		}
		WriteProblem(w, r, e.Status, detail)
		return
	}
	slog.Error("backend error",
		"component", "console",
		"path", r.URL.Path,
		"upstream_status", e.Status,
		"error", e,
	)
	WriteProblem(w, r, http.StatusBadGateway, "Backend error: "+e.StatusText)
}
