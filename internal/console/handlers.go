// Package console serves the proposal admin console: JSON endpoints over the
// backend API with search, totals and the contract workflow, document
// downloads, and a server-sent event stream that replaces ad-hoc browser
// refresh signals.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hyperengineering/bidkit/internal/archive"
	"github.com/hyperengineering/bidkit/internal/contracts"
	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/loader"
	"github.com/hyperengineering/bidkit/internal/metrics"
	"github.com/hyperengineering/bidkit/internal/notify"
	"github.com/hyperengineering/bidkit/internal/signature"
	"github.com/hyperengineering/bidkit/internal/templatesync"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/internal/validation"
)

// Backend is the part of the API client the handlers call directly. List
// and detail reads go through the loaders.
type Backend interface {
	GetTemplate(ctx context.Context, id string) (*types.Template, error)
	CreateTemplate(ctx context.Context, in types.TemplateInput) (*types.Template, error)
	UpdateTemplate(ctx context.Context, id string, in types.TemplateInput) (*types.Template, error)
	GetProposal(ctx context.Context, id string) (*types.Proposal, error)
	CreateProposal(ctx context.Context, in types.ProposalInput) (*types.Proposal, error)
	UpdateProposal(ctx context.Context, id string, in types.ProposalInput) (*types.Proposal, error)
	UpdateVariableValue(ctx context.Context, proposalID, valueID string, in types.VariableValueInput) (*types.VariableValue, error)
	UpdateElementValue(ctx context.Context, proposalID, valueID string, in types.ElementValueInput) (*types.ElementValue, error)
}

// Deps wires the handlers to the rest of the application.
type Deps struct {
	Backend   Backend
	Templates *loader.TemplateLoader
	Proposals *loader.ProposalLoader
	Syncer    *templatesync.Syncer
	Contracts *contracts.Workflows
	Signer    *signature.Signer
	Archive   archive.Uploader
	Bus       events.Bus
	Metrics   *metrics.Metrics // optional

	AuthToken      string
	MaxUploadBytes int64
	Version        string
}

// Handler implements the console endpoints.
type Handler struct {
	Deps

	templateCards *loader.Expander
	proposalCards *loader.Expander

	// The loaders hold one current page each, so list requests take turns.
	templateList sync.Mutex
	proposalList sync.Mutex

	heartbeat time.Duration
	now       func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	if d.Archive == nil {
		d.Archive = archive.NoopUploader{}
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 5 << 20
	}
	h := &Handler{Deps: d, heartbeat: 15 * time.Second, now: time.Now}
	h.templateCards = loader.NewExpander(func(ctx context.Context, id string) { d.Templates.Details(ctx, id) })
	h.proposalCards = loader.NewExpander(func(ctx context.Context, id string) { d.Proposals.Details(ctx, id) })
	return h
}

// envelope is the body of every successful JSON response.
type envelope struct {
	Data    any             `json:"data"`
	Notices []notify.Notice `json:"notices,omitempty"`
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := envelope{Data: data, Notices: NoticesFromContext(r.Context()).Notices()}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "component", "console", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v, writing a problem and
// returning false on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
		case errors.Is(err, io.EOF):
			WriteProblem(w, r, http.StatusBadRequest, "Request body is required")
		default:
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		}
		return false
	}
	return true
}

func (h *Handler) publish(ctx context.Context, e events.Event) {
	if h.Bus == nil {
		return
	}
	if err := h.Bus.Publish(ctx, e); err != nil {
		slog.Warn("event publish failed",
			"component", "console",
			"kind", string(e.Kind),
			"error", err,
		)
	}
}

func (h *Handler) lastRefresh() *time.Time {
	if h.Bus == nil {
		return nil
	}
	t := h.Bus.LastRefresh()
	if t.IsZero() {
		return nil
	}
	return &t
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status              string     `json:"status"`
	Version             string     `json:"version"`
	LastTemplateRefresh *time.Time `json:"last_template_refresh,omitempty"`
}

// Health returns the health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status:              "healthy",
		Version:             h.Version,
		LastTemplateRefresh: h.lastRefresh(),
	})
}

type routeRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// RouteChanged handles POST /console/route. Pages announce navigation here
// so every open console can show a loading indicator.
func (h *Handler) RouteChanged(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateRequired("path", req.Path); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}
	e := events.RouteChanged(req.Path, req.Name)
	h.publish(r.Context(), e)
	h.respond(w, r, http.StatusAccepted, e)
}
