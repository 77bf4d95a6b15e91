package console

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/bidkit/internal/catalog"
	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/notify"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/internal/validation"
)

// ListResponse is one filtered page of a list view. Total counts the
// backend page; Items holds what survived search and filters.
type ListResponse[T any] struct {
	Items       []T           `json:"items"`
	Total       int           `json:"total"`
	Matched     int           `json:"matched"`
	Page        int           `json:"page"`
	PageSize    int           `json:"page_size"`
	Query       catalog.Query `json:"query"`
	Expanded    string        `json:"expanded,omitempty"`
	LastRefresh *time.Time    `json:"last_template_refresh,omitempty"`
}

// TemplateResponse is a template with its variables and categories.
type TemplateResponse struct {
	types.Template
	Variables  []types.Variable `json:"variables"`
	Categories []types.Category `json:"categories"`
}

type deletedResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type toggleResponse struct {
	ID       string `json:"id"`
	Expanded bool   `json:"expanded"`
}

// ListTemplates handles GET /console/templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	params, errs := parseListParams(r.URL.Query())
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Invalid list parameters", errs)
		return
	}

	h.templateList.Lock()
	defer h.templateList.Unlock()

	ctx := r.Context()
	if err := h.Templates.Load(ctx, params.Page); err != nil {
		WriteListError(w, r, "Failed to load templates")
		return
	}
	if params.Expand {
		if err := h.Templates.LoadAllDetails(ctx); err != nil {
			MapError(w, r, err)
			return
		}
	} else if id := h.templateCards.Expanded(); id != "" {
		h.Templates.Details(ctx, id)
	}

	page := h.Templates.Page()
	items := catalog.ApplyTemplates(h.Templates.Views(), params.Query, h.Templates.ElementIndex(), h.now())
	h.respond(w, r, http.StatusOK, ListResponse[catalog.TemplateView]{
		Items:       items,
		Total:       page.Total,
		Matched:     len(items),
		Page:        page.Page,
		PageSize:    page.PageSize,
		Query:       params.Query,
		Expanded:    h.templateCards.Expanded(),
		LastRefresh: h.lastRefresh(),
	})
}

// GetTemplate handles GET /console/templates/{id}.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.Backend.GetTemplate(r.Context(), id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	d := h.Templates.Details(r.Context(), id)
	h.respond(w, r, http.StatusOK, TemplateResponse{Template: *t, Variables: d.Variables, Categories: sortedCategories(d.Categories)})
}

// sortedCategories orders a copy of cats; loaded detail is shared between
// requests and must not be reordered in place.
func sortedCategories(cats []types.Category) []types.Category {
	out := make([]types.Category, len(cats))
	for i, c := range cats {
		if c.Elements != nil {
			c.Elements = append([]types.Element(nil), c.Elements...)
		}
		out[i] = c
	}
	types.SortCategories(out)
	return out
}

// CreateTemplate handles POST /console/templates.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in types.TemplateInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	if errs := validation.ValidateTemplate(in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}
	t, err := h.Backend.CreateTemplate(r.Context(), in)
	if err != nil {
		MapError(w, r, err)
		return
	}

	h.publish(r.Context(), events.TemplatesChanged(t.ID))
	NoticesFromContext(r.Context()).Notify(notify.Success, "Template created")
	slog.Info("template created",
		"component", "console",
		"action", "template_created",
		"template_id", t.ID,
	)
	h.respond(w, r, http.StatusCreated, t)
}

// UpdateTemplate handles PUT /console/templates/{id}.
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in types.TemplateInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	if errs := validation.ValidateTemplate(in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}
	t, err := h.Backend.UpdateTemplate(r.Context(), id, in)
	if err != nil {
		MapError(w, r, err)
		return
	}

	h.Templates.Invalidate(id)
	h.publish(r.Context(), events.TemplatesChanged(id))
	NoticesFromContext(r.Context()).Notify(notify.Success, "Template updated")
	h.respond(w, r, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /console/templates/{id}. The list is
// refetched after the backend confirms the delete. The body carries the
// notices, so the status is 200 rather than 204.
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.templateList.Lock()
	err := h.Templates.Delete(r.Context(), id)
	h.templateList.Unlock()
	if err != nil {
		MapError(w, r, err)
		return
	}
	if h.templateCards.IsExpanded(id) {
		h.templateCards.Collapse()
	}

	NoticesFromContext(r.Context()).Notify(notify.Success, "Template deleted")
	slog.Info("template deleted",
		"component", "console",
		"action", "template_deleted",
		"template_id", id,
	)
	h.respond(w, r, http.StatusOK, deletedResponse{ID: id, Deleted: true})
}

// ToggleTemplate handles POST /console/templates/{id}/toggle. Expanding a
// card collapses the previous one and loads its detail.
func (h *Handler) ToggleTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	expanded := h.templateCards.Toggle(r.Context(), id)
	h.respond(w, r, http.StatusOK, toggleResponse{ID: id, Expanded: expanded})
}
