package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hyperengineering/bidkit/internal/contracts"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

var (
	jan1 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	jan5 = time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
)

// cliBackend is a minimal backend serving two templates and two proposals.
type cliBackend struct {
	mu         sync.Mutex
	contracts  map[string]*types.Contract
	syncResult types.SyncResult
	srv        *httptest.Server
}

func newCLIBackend() *cliBackend {
	return &cliBackend{
		contracts: map[string]*types.Contract{},
		syncResult: types.SyncResult{
			AddedElements: []types.ElementValue{{ID: "ev9", Name: "Post caps"}},
		},
	}
}

func strRef(s string) *string { return &s }

func total(v float64) *float64 { return &v }

func pageOf[T any](list []T) map[string]any {
	return map[string]any{"items": list, "total": len(list), "page": 1, "page_size": 50}
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (b *cliBackend) router() http.Handler {
	templates := []types.Template{
		{ID: "t1", Name: "Deck Template", CreatedAt: jan1},
		{ID: "t2", Name: "Fence Template", CreatedAt: jan5},
	}
	proposals := map[string]types.Proposal{
		"p1": {ID: "p1", Name: "Smith Deck", TemplateID: strRef("t1"), GlobalMarkupPercentage: 10, CreatedAt: jan1},
		"p2": {ID: "p2", Name: "Jones Fence", CreatedAt: jan5},
	}
	values := map[string][]types.ElementValue{
		"p1": {
			{ID: "ev1", ProposalID: "p1", CategoryID: "pc1", Name: "Composite Boards",
				MaterialCost: types.NewAmount(600), LaborCost: types.NewAmount(400),
				MarkupPercentage: 10, TotalCost: total(1000), TotalWithMarkup: total(1100)},
			{ID: "ev2", ProposalID: "p1", CategoryID: "pc1", Name: "Railing",
				MaterialCost: types.NewAmount(100), LaborCost: types.NewAmount(100)},
		},
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/templates", func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusOK, pageOf(templates))
		})
		r.Get("/templates/{id}/variables", func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusOK, pageOf([]types.Variable{}))
		})
		r.Get("/templates/{id}/categories", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "id") != "t1" {
				reply(w, http.StatusOK, pageOf([]types.Category{}))
				return
			}
			reply(w, http.StatusOK, pageOf([]types.Category{{ID: "c1", TemplateID: strRef("t1"), Name: "Decking"}}))
		})
		r.Get("/categories/{id}/elements", func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusOK, pageOf([]types.Element{{ID: "e1", CategoryID: "c1", Name: "Composite Boards"}}))
		})

		r.Get("/proposals", func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusOK, pageOf([]types.Proposal{proposals["p1"], proposals["p2"]}))
		})
		r.Get("/proposals/{id}", func(w http.ResponseWriter, r *http.Request) {
			p, ok := proposals[chi.URLParam(r, "id")]
			if !ok {
				reply(w, http.StatusNotFound, map[string]any{"status": 404, "detail": "proposal not found"})
				return
			}
			reply(w, http.StatusOK, p)
		})
		r.Get("/proposals/{id}/variable-values", func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusOK, []types.VariableValue{})
		})
		r.Get("/proposals/{id}/element-values", func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusOK, values[chi.URLParam(r, "id")])
		})
		r.Get("/proposals/{id}/categories", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "id") != "p1" {
				reply(w, http.StatusOK, []types.Category{})
				return
			}
			reply(w, http.StatusOK, []types.Category{{ID: "pc1", ProposalID: strRef("p1"), Name: "Decking"}})
		})
		r.Post("/proposals/{id}/sync-with-template", func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusOK, b.syncResult)
		})
		r.Post("/proposals/{id}/generate-contract", b.generateContract)
		r.Get("/proposals/{id}/contract", func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			defer b.mu.Unlock()
			ct := b.contracts[chi.URLParam(r, "id")]
			if ct == nil {
				reply(w, http.StatusNotFound, map[string]any{"status": 404, "code": bidapi.CodeNotFound})
				return
			}
			reply(w, http.StatusOK, ct)
		})
	})
	return r
}

func (b *cliBackend) generateContract(w http.ResponseWriter, r *http.Request) {
	var in types.ContractInput
	json.NewDecoder(r.Body).Decode(&in)
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	defer b.mu.Unlock()
	existing := b.contracts[id]
	if existing != nil && !strings.HasPrefix(in.TermsAndConditions, contracts.RevisionMarker) {
		reply(w, http.StatusConflict, map[string]any{"status": 409, "code": bidapi.CodeContractExists})
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
		CreatedAt:          jan5,
		UpdatedAt:          jan5,
	}
	b.contracts[id] = ct
	reply(w, http.StatusCreated, ct)
}

func (b *cliBackend) start(t *testing.T) string {
	t.Helper()
	if b.srv == nil {
		b.srv = httptest.NewServer(b.router())
		t.Cleanup(b.srv.Close)
	}
	return b.srv.URL
}

func (b *cliBackend) client(t *testing.T) *bidapi.Client {
	t.Helper()
	c, err := bidapi.New(bidapi.Config{BaseURL: b.start(t), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("bidapi.New() error = %v", err)
	}
	return c
}

// resetFlags restores every flag to its default. Cobra parses into
// package-level variables and remembers which flags were set, so both would
// leak between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// executeCmd runs the root command against the backend with captured output.
func executeCmd(t *testing.T, b *cliBackend, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv("BIDKIT_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	resetFlags(rootCmd)
	timeNow = func() time.Time { return jan5.Add(48 * time.Hour) }
	t.Cleanup(func() { timeNow = time.Now })

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(append(args, "--api-url", b.start(t)))

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
	return outBuf.String(), errBuf.String(), err
}

func TestTemplatesList_NewestFirst(t *testing.T) {
	stdout, _, err := executeCmd(t, newCLIBackend(), "templates", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deck := strings.Index(stdout, "Deck Template")
	fence := strings.Index(stdout, "Fence Template")
	if deck == -1 || fence == -1 || fence > deck {
		t.Errorf("stdout = %q, want Fence before Deck", stdout)
	}
	if !strings.Contains(stdout, "2 of 2 templates") {
		t.Errorf("stdout = %q, want summary line", stdout)
	}
}

func TestTemplatesList_SearchMatchesElementNames(t *testing.T) {
	stdout, _, err := executeCmd(t, newCLIBackend(), "templates", "list", "--search", "composite", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		Templates []struct {
			ID string `json:"id"`
		} `json:"templates"`
		Matched int `json:"matched"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if out.Matched != 1 || out.Templates[0].ID != "t1" {
		t.Errorf("result = %+v, want only t1", out)
	}
}

func TestTemplatesList_InvalidSort(t *testing.T) {
	_, _, err := executeCmd(t, newCLIBackend(), "templates", "list", "--sort", "price")
	if err == nil || !strings.Contains(err.Error(), "unknown sort key") {
		t.Errorf("error = %v, want unknown sort key", err)
	}
}

func TestProposalsList_FromScratch(t *testing.T) {
	stdout, _, err := executeCmd(t, newCLIBackend(), "proposals", "list", "--from-scratch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(stdout, "Smith Deck") || !strings.Contains(stdout, "Jones Fence") {
		t.Errorf("stdout = %q, want only Jones Fence", stdout)
	}
}

func TestProposalsList_TotalsPreferBackendFigures(t *testing.T) {
	stdout, _, err := executeCmd(t, newCLIBackend(), "proposals", "list", "--from-template")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1100 from the backend plus 200 previewed for the untotalled railing.
	if !strings.Contains(stdout, "$1,300.00") {
		t.Errorf("stdout = %q, want total $1,300.00", stdout)
	}
}

func TestProposalsShow_CostSummary(t *testing.T) {
	stdout, _, err := executeCmd(t, newCLIBackend(), "proposals", "show", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"Smith Deck (p1)",
		"Decking",
		"Subtotal:  $1,200.00",
		"Total:     $1,300.00",
		"With 10% global markup: $1,320.00",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestProposalsShow_NotFound(t *testing.T) {
	_, _, err := executeCmd(t, newCLIBackend(), "proposals", "show", "nope")
	if err == nil || !strings.Contains(err.Error(), "get proposal") {
		t.Errorf("error = %v", err)
	}
}

func TestProposalsSync_ReportsSummary(t *testing.T) {
	stdout, _, err := executeCmd(t, newCLIBackend(), "proposals", "sync", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Smith Deck: 1 element added") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestProposalsSync_RejectsScratchProposal(t *testing.T) {
	_, _, err := executeCmd(t, newCLIBackend(), "proposals", "sync", "p2")
	if err == nil {
		t.Fatal("expected error for proposal without template")
	}
}

func TestProposalsExport_WritesWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.xlsx")
	stdout, _, err := executeCmd(t, newCLIBackend(), "proposals", "export", "p1", "-o", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read workbook: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Error("workbook is not a zip archive")
	}
	if !strings.Contains(stdout, "Wrote "+path) {
		t.Errorf("stdout = %q", stdout)
	}
}

func generateArgs(extra ...string) []string {
	args := []string{"contract", "generate", "p1",
		"--client", "Dana Client", "--contractor", "Acme Decks", "--terms", "Net 30"}
	return append(args, extra...)
}

func TestContractGenerate_ThenRevise(t *testing.T) {
	b := newCLIBackend()

	// Given a first contract
	stdout, _, err := executeCmd(t, b, generateArgs()...)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if !strings.Contains(stdout, "ct-p1-1") {
		t.Errorf("stdout = %q", stdout)
	}

	// When generating again without --revise
	_, _, err = executeCmd(t, b, generateArgs()...)

	// Then the command stops and asks for --revise
	if err == nil || !strings.Contains(err.Error(), "--revise") {
		t.Fatalf("error = %v, want revise hint", err)
	}

	// When revising
	stdout, _, err = executeCmd(t, b, generateArgs("--revise", "--json")...)
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	var ct types.Contract
	if err := json.Unmarshal([]byte(stdout), &ct); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if ct.Version != 2 || !strings.HasPrefix(ct.TermsAndConditions, contracts.RevisionMarker) {
		t.Errorf("contract = %+v, want version 2 with revision marker", ct)
	}
}

func TestContractGenerate_InvalidForm(t *testing.T) {
	_, _, err := executeCmd(t, newCLIBackend(), "contract", "generate", "p1", "--client", "Dana")
	if err == nil || !strings.Contains(err.Error(), "contractor_name") {
		t.Errorf("error = %v, want contractor_name failure", err)
	}
}

func TestContractShow_NoContract(t *testing.T) {
	_, _, err := executeCmd(t, newCLIBackend(), "contract", "show", "p2")
	if err == nil || !strings.Contains(err.Error(), "has no contract") {
		t.Errorf("error = %v", err)
	}
}

func TestContractPDF_DefaultFilename(t *testing.T) {
	b := newCLIBackend()
	if _, _, err := executeCmd(t, b, generateArgs()...); err != nil {
		t.Fatalf("generate: %v", err)
	}
	dir := t.TempDir()
	t.Chdir(dir)

	stdout, _, err := executeCmd(t, b, "contract", "pdf", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "contract-dana-client-v1.pdf"))
	if err != nil {
		t.Fatalf("read pdf: %v (stdout %q)", err, stdout)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Error("output is not a PDF")
	}
}

func TestContractArchive_NotConfigured(t *testing.T) {
	_, _, err := executeCmd(t, newCLIBackend(), "contract", "archive", "p1")
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("error = %v, want not configured", err)
	}
}
