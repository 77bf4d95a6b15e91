package console

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/bidkit/internal/contracts"
	"github.com/hyperengineering/bidkit/internal/types"
)

// fakeBackend is an in-memory proposal backend speaking the REST dialect
// the client expects.
type fakeBackend struct {
	mu sync.Mutex

	templates  []types.Template
	variables  map[string][]types.Variable
	categories map[string][]types.Category
	elements   map[string][]types.Element

	proposals      []types.Proposal
	variableValues map[string][]types.VariableValue
	elementValues  map[string][]types.ElementValue
	proposalCats   map[string][]types.Category
	contracts      map[string]*types.Contract

	syncResult types.SyncResult
	failLists  bool

	syncCalls    int32
	createCalls  int32
	generateSeen []types.ContractInput
}

func strPtr(s string) *string { return &s }

var (
	day1 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	day5 = time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
)

func newFakeBackend() *fakeBackend {
	total := 880.0
	return &fakeBackend{
		templates: []types.Template{
			{ID: "t1", Name: "Deck Template", Description: "Composite decks", CreatedAt: day1, UpdatedAt: day1},
			{ID: "t2", Name: "Fence Template", CreatedAt: day5, UpdatedAt: day5},
		},
		variables: map[string][]types.Variable{
			"t1": {{ID: "v1", TemplateID: "t1", Name: "Deck Area", Type: types.VariableSquareFeet, DefaultValue: 100}},
		},
		categories: map[string][]types.Category{
			"t1": {{ID: "c1", TemplateID: strPtr("t1"), Name: "Decking", Position: 1}},
		},
		elements: map[string][]types.Element{
			"c1": {{ID: "e1", CategoryID: "c1", Name: "Composite Boards", MaterialCost: "500", LaborCost: "300", MarkupPercentage: 10}},
		},
		proposals: []types.Proposal{
			{ID: "p1", Name: "Smith Deck", TemplateID: strPtr("t1"), GlobalMarkupPercentage: 5, CreatedAt: day1, UpdatedAt: day1},
			{ID: "p2", Name: "Jones Fence", CreatedAt: day5, UpdatedAt: day5},
		},
		variableValues: map[string][]types.VariableValue{
			"p1": {{ID: "vv1", ProposalID: "p1", VariableID: "v1", Name: "Deck Area", Type: types.VariableSquareFeet, Value: 120}},
		},
		elementValues: map[string][]types.ElementValue{
			"p1": {
				{ID: "ev1", ProposalID: "p1", CategoryID: "pc1", Name: "Composite Boards",
					MaterialCost: types.NewAmount(500), LaborCost: types.NewAmount(300),
					MarkupPercentage: 10, TotalWithMarkup: &total},
				{ID: "ev2", ProposalID: "p1", CategoryID: "pc1", Name: "Railing",
					MaterialCost: types.NewAmount(100), LaborCost: types.NewAmount(100),
					MarkupPercentage: 0, Position: 1},
			},
		},
		proposalCats: map[string][]types.Category{
			"p1": {{ID: "pc1", ProposalID: strPtr("p1"), Name: "Decking", Position: 1}},
		},
		contracts: map[string]*types.Contract{},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBackendProblem(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"status": status, "code": code, "detail": detail})
}

func page[T any](items []T) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{"items": items, "total": len(items), "page": 1, "page_size": 20}
}

func (f *fakeBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/templates", f.listTemplates)
		r.Post("/templates", f.createTemplate)
		r.Get("/templates/{id}", f.getTemplate)
		r.Delete("/templates/{id}", f.deleteTemplate)
		r.Get("/templates/{id}/variables", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, page(f.variables[chi.URLParam(r, "id")]))
		})
		r.Get("/templates/{id}/categories", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, page(f.categories[chi.URLParam(r, "id")]))
		})
		r.Get("/categories/{id}/elements", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, page(f.elements[chi.URLParam(r, "id")]))
		})

		r.Get("/proposals", f.listProposals)
		r.Get("/proposals/{id}", f.getProposal)
		r.Delete("/proposals/{id}", f.deleteProposal)
		r.Get("/proposals/{id}/variable-values", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, f.variableValues[chi.URLParam(r, "id")])
		})
		r.Get("/proposals/{id}/element-values", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, f.elementValues[chi.URLParam(r, "id")])
		})
		r.Put("/proposals/{id}/element-values/{vid}", f.updateElementValue)
		r.Get("/proposals/{id}/categories", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, f.proposalCats[chi.URLParam(r, "id")])
		})
		r.Post("/proposals/{id}/sync-with-template", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&f.syncCalls, 1)
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, f.syncResult)
		})
		r.Post("/proposals/{id}/generate-contract", f.generateContract)
		r.Get("/proposals/{id}/contract", f.getProposalContract)

		r.Post("/contracts/{id}/client-sign", f.sign(types.PartyClient))
		r.Post("/contracts/{id}/contractor-sign", f.sign(types.PartyContractor))
		r.Post("/contracts/{id}/signature", f.uploadSignature)
	})
	return r
}

func (f *fakeBackend) listTemplates(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLists {
		writeBackendProblem(w, http.StatusServiceUnavailable, "", "maintenance")
		return
	}
	writeJSON(w, http.StatusOK, page(f.templates))
}

func (f *fakeBackend) getTemplate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.templates {
		if t.ID == chi.URLParam(r, "id") {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeBackendProblem(w, http.StatusNotFound, "NOT_FOUND", "template not found")
}

func (f *fakeBackend) createTemplate(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.createCalls, 1)
	var in types.TemplateInput
	json.NewDecoder(r.Body).Decode(&in)
	f.mu.Lock()
	defer f.mu.Unlock()
	t := types.Template{ID: fmt.Sprintf("t%d", len(f.templates)+1), Name: in.Name, Description: in.Description, CreatedAt: day5}
	f.templates = append(f.templates, t)
	writeJSON(w, http.StatusCreated, t)
}

func (f *fakeBackend) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := chi.URLParam(r, "id")
	for i, t := range f.templates {
		if t.ID == id {
			f.templates = append(f.templates[:i], f.templates[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeBackendProblem(w, http.StatusNotFound, "NOT_FOUND", "template not found")
}

func (f *fakeBackend) listProposals(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, page(f.proposals))
}

func (f *fakeBackend) getProposal(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.proposals {
		if p.ID == chi.URLParam(r, "id") {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeBackendProblem(w, http.StatusNotFound, "NOT_FOUND", "proposal not found")
}

func (f *fakeBackend) deleteProposal(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := chi.URLParam(r, "id")
	for i, p := range f.proposals {
		if p.ID == id {
			f.proposals = append(f.proposals[:i], f.proposals[i+1:]...)
			delete(f.contracts, id)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeBackendProblem(w, http.StatusNotFound, "NOT_FOUND", "proposal not found")
}

func (f *fakeBackend) updateElementValue(w http.ResponseWriter, r *http.Request) {
	var in types.ElementValueInput
	json.NewDecoder(r.Body).Decode(&in)
	f.mu.Lock()
	defer f.mu.Unlock()
	values := f.elementValues[chi.URLParam(r, "id")]
	for i := range values {
		if values[i].ID == chi.URLParam(r, "vid") {
			setAmount(&values[i].MaterialCost, in.MaterialCost)
			setAmount(&values[i].LaborCost, in.LaborCost)
			values[i].MarkupPercentage = in.MarkupPercentage
			values[i].TotalWithMarkup = nil
			writeJSON(w, http.StatusOK, values[i])
			return
		}
	}
	writeBackendProblem(w, http.StatusNotFound, "NOT_FOUND", "value not found")
}

func setAmount(a *types.Amount, raw string) {
	data, _ := json.Marshal(raw)
	a.UnmarshalJSON(data)
}

// generateContract refuses a second contract unless the terms carry the
// revision marker, which bumps the version.
func (f *fakeBackend) generateContract(w http.ResponseWriter, r *http.Request) {
	var in types.ContractInput
	json.NewDecoder(r.Body).Decode(&in)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateSeen = append(f.generateSeen, in)

	id := chi.URLParam(r, "id")
	existing := f.contracts[id]
	if existing != nil && !strings.HasPrefix(in.TermsAndConditions, contracts.RevisionMarker) {
		writeBackendProblem(w, http.StatusConflict, "CONTRACT_EXISTS", "contract already exists")
		return
	}
	version := 1
	if existing != nil {
		version = existing.Version + 1
	}
	ct := &types.Contract{
		ID:                 fmt.Sprintf("ct-%s-%d", id, version),
		ProposalID:         id,
		ClientName:         in.ClientName,
		ContractorName:     in.ContractorName,
		TermsAndConditions: in.TermsAndConditions,
		Version:            version,
		CreatedAt:          day5,
		UpdatedAt:          day5,
	}
	f.contracts[id] = ct
	writeJSON(w, http.StatusCreated, ct)
}

func (f *fakeBackend) getProposalContract(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ct := f.contracts[chi.URLParam(r, "id")]
	if ct == nil {
		writeBackendProblem(w, http.StatusNotFound, "NOT_FOUND", "no contract")
		return
	}
	writeJSON(w, http.StatusOK, ct)
}

func (f *fakeBackend) contractByID(id string) *types.Contract {
	for _, ct := range f.contracts {
		if ct.ID == id {
			return ct
		}
	}
	return nil
}

func (f *fakeBackend) sign(party types.Party) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in types.SignInput
		json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		defer f.mu.Unlock()
		ct := f.contractByID(chi.URLParam(r, "id"))
		if ct == nil {
			writeBackendProblem(w, http.StatusNotFound, "NOT_FOUND", "no contract")
			return
		}
		at := day5
		if party == types.PartyClient {
			ct.ClientInitials, ct.ClientSignedAt = in.Initials, &at
		} else {
			ct.ContractorInitials, ct.ContractorSignedAt = in.Initials, &at
		}
		writeJSON(w, http.StatusOK, ct)
	}
}

func (f *fakeBackend) uploadSignature(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeBackendProblem(w, http.StatusBadRequest, "", err.Error())
		return
	}
	_, header, err := r.FormFile("signature")
	if err != nil {
		writeBackendProblem(w, http.StatusBadRequest, "", "signature missing")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ct := f.contractByID(chi.URLParam(r, "id"))
	if ct == nil {
		writeBackendProblem(w, http.StatusNotFound, "NOT_FOUND", "no contract")
		return
	}
	at := day5
	ref := "uploaded:" + header.Filename
	if types.Party(r.FormValue("party")) == types.PartyClient {
		ct.ClientSignature, ct.ClientSignedAt, ct.ClientInitials = &ref, &at, r.FormValue("initials")
	} else {
		ct.ContractorSignature, ct.ContractorSignedAt, ct.ContractorInitials = &ref, &at, r.FormValue("initials")
	}
	writeJSON(w, http.StatusOK, ct)
}
