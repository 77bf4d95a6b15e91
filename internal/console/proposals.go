package console

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/bidkit/internal/catalog"
	"github.com/hyperengineering/bidkit/internal/contracts"
	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/notify"
	"github.com/hyperengineering/bidkit/internal/pricing"
	"github.com/hyperengineering/bidkit/internal/render"
	"github.com/hyperengineering/bidkit/internal/templatesync"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/internal/validation"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// TotalsResponse is the cost summary shown on a proposal.
type TotalsResponse struct {
	pricing.Totals
	MaterialShare float64                  `json:"material_share"`
	LaborShare    float64                  `json:"labor_share"`
	GlobalPreview float64                  `json:"global_markup_preview"`
	Categories    []pricing.CategoryTotals `json:"categories"`
}

// ProposalResponse is a proposal with its values, totals and contract
// state.
type ProposalResponse struct {
	types.Proposal
	VariableValues []types.VariableValue `json:"variable_values"`
	ElementValues  []types.ElementValue  `json:"element_values"`
	Categories     []types.Category      `json:"categories"`
	Totals         TotalsResponse        `json:"totals"`
	Contract       *contracts.Snapshot   `json:"contract,omitempty"`
	Synced         *templatesync.Summary `json:"synced,omitempty"`
}

// syncResponse reports a manual template sync.
type syncResponse struct {
	templatesync.Summary
	Message string `json:"message"`
}

func totalsFor(p types.Proposal, values []types.ElementValue, cats []types.Category) TotalsResponse {
	t := pricing.Aggregate(values)
	return TotalsResponse{
		Totals:        t,
		MaterialShare: t.MaterialShare(),
		LaborShare:    t.LaborShare(),
		GlobalPreview: pricing.ApplyGlobalMarkup(t.Subtotal, p.GlobalMarkupPercentage),
		Categories:    pricing.ByCategory(values, cats),
	}
}

// ListProposals handles GET /console/proposals.
func (h *Handler) ListProposals(w http.ResponseWriter, r *http.Request) {
	params, errs := parseListParams(r.URL.Query())
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Invalid list parameters", errs)
		return
	}

	h.proposalList.Lock()
	defer h.proposalList.Unlock()

	ctx := r.Context()
	if err := h.Proposals.Load(ctx, params.Page); err != nil {
		WriteListError(w, r, "Failed to load proposals")
		return
	}
	if params.Expand {
		if err := h.Proposals.LoadAllDetails(ctx); err != nil {
			MapError(w, r, err)
			return
		}
	} else if id := h.proposalCards.Expanded(); id != "" {
		h.Proposals.Details(ctx, id)
	}

	page := h.Proposals.Page()
	items := catalog.ApplyProposals(h.Proposals.Views(), params.Query, h.Proposals.ElementIndex(), h.now())
	h.respond(w, r, http.StatusOK, ListResponse[catalog.ProposalView]{
		Items:       items,
		Total:       page.Total,
		Matched:     len(items),
		Page:        page.Page,
		PageSize:    page.PageSize,
		Query:       params.Query,
		Expanded:    h.proposalCards.Expanded(),
		LastRefresh: h.lastRefresh(),
	})
}

// GetProposal handles GET /console/proposals/{id}. Opening a proposal
// derived from a template silently syncs it first.
func (h *Handler) GetProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	p, err := h.Backend.GetProposal(ctx, id)
	if err != nil {
		MapError(w, r, err)
		return
	}

	resp := ProposalResponse{Proposal: *p}
	if h.Syncer != nil {
		if sum, ran := h.Syncer.OnMount(ctx, *p); ran && sum.Changed() {
			h.Proposals.Invalidate(id)
			resp.Synced = &sum
		}
	}

	d := h.Proposals.Details(ctx, id)
	resp.VariableValues = d.VariableValues
	resp.ElementValues = pricing.FillMissing(d.ElementValues)
	resp.Categories = sortedCategories(d.Categories)
	resp.Totals = totalsFor(*p, resp.ElementValues, resp.Categories)

	if h.Contracts != nil {
		wf := h.Contracts.For(id)
		if err := wf.Init(ctx); err != nil {
			slog.Warn("contract state unavailable",
				"component", "console",
				"proposal_id", id,
				"error", err,
			)
		} else {
			snap := wf.Snapshot()
			resp.Contract = &snap
		}
	}
	h.respond(w, r, http.StatusOK, resp)
}

// CreateProposal handles POST /console/proposals.
func (h *Handler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var in types.ProposalInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	if errs := validation.ValidateProposal(in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}
	p, err := h.Backend.CreateProposal(r.Context(), in)
	if err != nil {
		MapError(w, r, err)
		return
	}

	h.publish(r.Context(), events.ProposalsChanged(p.ID))
	NoticesFromContext(r.Context()).Notify(notify.Success, "Proposal created")
	slog.Info("proposal created",
		"component", "console",
		"action", "proposal_created",
		"proposal_id", p.ID,
		"from_template", p.HasTemplate(),
	)
	h.respond(w, r, http.StatusCreated, p)
}

// UpdateProposal handles PUT /console/proposals/{id}.
func (h *Handler) UpdateProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in types.ProposalInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	if errs := validation.ValidateProposal(in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}
	p, err := h.Backend.UpdateProposal(r.Context(), id, in)
	if err != nil {
		MapError(w, r, err)
		return
	}

	h.Proposals.Invalidate(id)
	h.publish(r.Context(), events.ProposalsChanged(id))
	NoticesFromContext(r.Context()).Notify(notify.Success, "Proposal updated")
	h.respond(w, r, http.StatusOK, p)
}

// DeleteProposal handles DELETE /console/proposals/{id}.
func (h *Handler) DeleteProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.proposalList.Lock()
	err := h.Proposals.Delete(r.Context(), id)
	h.proposalList.Unlock()
	if err != nil {
		MapError(w, r, err)
		return
	}
	if h.proposalCards.IsExpanded(id) {
		h.proposalCards.Collapse()
	}
	if h.Syncer != nil {
		h.Syncer.Forget(id)
	}
	if h.Contracts != nil {
		h.Contracts.Forget(id)
		h.Contracts.Cache().Invalidate(id)
	}

	NoticesFromContext(r.Context()).Notify(notify.Success, "Proposal deleted")
	slog.Info("proposal deleted",
		"component", "console",
		"action", "proposal_deleted",
		"proposal_id", id,
	)
	h.respond(w, r, http.StatusOK, deletedResponse{ID: id, Deleted: true})
}

// ToggleProposal handles POST /console/proposals/{id}/toggle.
func (h *Handler) ToggleProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	expanded := h.proposalCards.Toggle(r.Context(), id)
	h.respond(w, r, http.StatusOK, toggleResponse{ID: id, Expanded: expanded})
}

// SyncProposal handles POST /console/proposals/{id}/sync.
func (h *Handler) SyncProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	p, err := h.Backend.GetProposal(ctx, id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	sum, err := h.Syncer.Sync(ctx, *p, NoticesFromContext(ctx))
	if err != nil {
		MapError(w, r, err)
		return
	}
	if sum.Changed() {
		h.Proposals.Invalidate(id)
	}
	h.respond(w, r, http.StatusOK, syncResponse{Summary: sum, Message: sum.String()})
}

// UpdateElementValue handles PUT /console/proposals/{id}/element-values/{valueID}.
func (h *Handler) UpdateElementValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	valueID := chi.URLParam(r, "valueID")

	var in types.ElementValueInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	if errs := validation.ValidateElementValue(in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}
	ev, err := h.Backend.UpdateElementValue(ctx, id, valueID, in)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if ev.TotalWithMarkup == nil {
		recomputed := pricing.Recompute(*ev)
		ev = &recomputed
	}

	h.Proposals.Invalidate(id)
	h.publish(ctx, events.ProposalsChanged(id))
	NoticesFromContext(ctx).Notify(notify.Success, "Line item updated")
	h.respond(w, r, http.StatusOK, ev)
}

// UpdateVariableValue handles PUT /console/proposals/{id}/variable-values/{valueID}.
// Element costs may be formulas over variables, so every value of the
// proposal is refetched on the next read.
func (h *Handler) UpdateVariableValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	valueID := chi.URLParam(r, "valueID")

	var in types.VariableValueInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	if errs := validation.ValidateVariableValue(in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}
	vv, err := h.Backend.UpdateVariableValue(ctx, id, valueID, in)
	if err != nil {
		MapError(w, r, err)
		return
	}

	h.Proposals.Invalidate(id)
	h.publish(ctx, events.ProposalsChanged(id))
	NoticesFromContext(ctx).Notify(notify.Success, "Variable updated")
	h.respond(w, r, http.StatusOK, vv)
}

// ExportProposal handles GET /console/proposals/{id}/export.xlsx.
func (h *Handler) ExportProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	p, err := h.Backend.GetProposal(ctx, id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	d := h.Proposals.Details(ctx, id)
	data, err := render.ProposalWorkbook(render.ProposalSheet{
		Proposal:    *p,
		Variables:   d.VariableValues,
		Categories:  d.Categories,
		Values:      d.ElementValues,
		GeneratedAt: h.now(),
	})
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeAttachment(w, xlsxContentType, fmt.Sprintf("proposal-%s.xlsx", id), data)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := bytes.NewReader(data).WriteTo(w); err != nil {
		slog.Warn("attachment write failed", "component", "console", "filename", filename, "error", err)
	}
}
