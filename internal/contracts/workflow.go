package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/notify"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/internal/validation"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

var (
	// ErrRevisionRequired means the proposal already has a contract and the
	// user must confirm or cancel a revision.
	ErrRevisionRequired = errors.New("contract exists, revision confirmation required")

	// ErrInvalidTransition is returned for an action the current state does
	// not allow.
	ErrInvalidTransition = errors.New("invalid contract workflow transition")

	// ErrVersionNotIncremented means a revision succeeded but the reloaded
	// contract did not carry a higher version.
	ErrVersionNotIncremented = errors.New("revision did not increment contract version")
)

// RevisionMarker starts the terms of a revised contract.
const RevisionMarker = "REVISION"

// State is a contract workflow state.
type State int

const (
	NoContract State = iota
	Generating
	Exists
	RevisionWarning
	RevisionGenerating
)

var stateNames = [...]string{
	NoContract:         "no-contract",
	Generating:         "generating",
	Exists:             "exists",
	RevisionWarning:    "revision-warning",
	RevisionGenerating: "revision-generating",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown contract state %q", text)
}

// Generator creates contracts on the backend.
type Generator interface {
	GenerateContract(ctx context.Context, in types.ContractInput) (*types.Contract, error)
}

// Snapshot is a consistent view of a workflow.
type Snapshot struct {
	ProposalID string          `json:"proposal_id"`
	State      State           `json:"state"`
	Contract   *types.Contract `json:"contract,omitempty"`
}

// Workflow is the contract state machine of one proposal.
type Workflow struct {
	proposalID string
	api        Generator
	cache      *Cache
	bus        events.Bus
	now        func() time.Time

	mu       sync.Mutex
	state    State
	contract *types.Contract
	pending  *types.ContractInput
	loaded   bool
}

// NewWorkflow creates a workflow for a proposal. bus may be nil.
func NewWorkflow(proposalID string, api Generator, cache *Cache, bus events.Bus) *Workflow {
	return &Workflow{
		proposalID: proposalID,
		api:        api,
		cache:      cache,
		bus:        bus,
		now:        time.Now,
	}
}

// Init sets the starting state from the backend. It runs once; later calls
// return immediately.
func (w *Workflow) Init(ctx context.Context) error {
	w.mu.Lock()
	if w.loaded {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	ct, err := w.cache.Get(ctx, w.proposalID)
	if err != nil && !errors.Is(err, ErrNoContract) {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loaded {
		return nil
	}
	w.loaded = true
	w.contract = ct
	if ct != nil {
		w.state = Exists
	} else {
		w.state = NoContract
	}
	return nil
}

// Snapshot returns the current state and contract.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Snapshot{ProposalID: w.proposalID, State: w.state}
	if w.contract != nil {
		ct := *w.contract
		s.Contract = &ct
	}
	return s
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// begin moves from one of the allowed states to next and returns the
// state it left.
func (w *Workflow) begin(next State, allowed ...State) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range allowed {
		if w.state == s {
			prev := w.state
			w.state = next
			return prev, nil
		}
	}
	return w.state, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, w.state, next)
}

func (w *Workflow) set(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Submit generates a contract from the form. When the backend reports an
// existing contract the workflow waits in RevisionWarning and Submit
// returns ErrRevisionRequired.
func (w *Workflow) Submit(ctx context.Context, form types.ContractInput, n notify.Notifier) (*types.Contract, error) {
	n = notify.OrDiscard(n)
	form.ProposalID = w.proposalID
	if errs := validation.ValidateContract(form); len(errs) > 0 {
		return nil, validation.Errors(errs)
	}
	if err := w.Init(ctx); err != nil {
		return nil, err
	}

	prev, err := w.begin(Generating, NoContract, Exists)
	if err != nil {
		return nil, err
	}

	ct, err := w.api.GenerateContract(ctx, form)
	switch {
	case err == nil:
		return w.succeeded(ctx, ct, n, "Contract generated successfully"), nil

	case errors.Is(err, bidapi.ErrContractExists):
		// The current contract is needed to check the revised version later.
		existing, _ := w.cache.Reload(ctx, w.proposalID)
		w.mu.Lock()
		pending := form
		w.pending = &pending
		if existing != nil {
			w.contract = existing
		}
		w.state = RevisionWarning
		w.mu.Unlock()
		slog.Info("contract exists, awaiting revision confirmation",
			"component", "contracts",
			"action", "revision_warning",
			"proposal_id", w.proposalID,
		)
		return nil, ErrRevisionRequired

	default:
		w.set(prev)
		n.Notify(notify.Error, "Failed to generate contract")
		slog.Error("contract generation failed",
			"component", "contracts",
			"action", "generate_failed",
			"proposal_id", w.proposalID,
			"error", err,
		)
		return nil, fmt.Errorf("generate contract: %w", err)
	}
}

// ConfirmRevision resubmits the pending form as a revision. The terms are
// prefixed with a timestamped revision marker and the backend is expected
// to bump the version.
func (w *Workflow) ConfirmRevision(ctx context.Context, n notify.Notifier) (*types.Contract, error) {
	n = notify.OrDiscard(n)
	if _, err := w.begin(RevisionGenerating, RevisionWarning); err != nil {
		return nil, err
	}

	w.mu.Lock()
	form := *w.pending
	var base int
	if w.contract != nil {
		base = w.contract.Version
	}
	w.mu.Unlock()

	form.TermsAndConditions = RevisionTerms(form.TermsAndConditions, w.now())

	if _, err := w.api.GenerateContract(ctx, form); err != nil {
		w.set(RevisionWarning)
		n.Notify(notify.Error, "Failed to generate contract revision")
		slog.Error("contract revision failed",
			"component", "contracts",
			"action", "revision_failed",
			"proposal_id", w.proposalID,
			"error", err,
		)
		return nil, fmt.Errorf("generate contract revision: %w", err)
	}

	ct, err := w.cache.Reload(ctx, w.proposalID)
	if err != nil {
		// The revision was accepted, so the workflow cannot go back to the
		// warning. The caller may reload later.
		w.mu.Lock()
		w.pending = nil
		w.state = Exists
		w.mu.Unlock()
		w.announce(ctx)
		n.Notify(notify.Error, "Contract revised but could not be reloaded")
		return nil, err
	}

	w.succeeded(ctx, ct, n, fmt.Sprintf("Contract revision generated (version %d)", ct.Version))
	if ct.Version <= base {
		slog.Warn("contract version not incremented",
			"component", "contracts",
			"proposal_id", w.proposalID,
			"previous_version", base,
			"version", ct.Version,
		)
		return ct, fmt.Errorf("%w: version %d, previous %d", ErrVersionNotIncremented, ct.Version, base)
	}
	return ct, nil
}

// CancelRevision abandons the pending revision and keeps the existing
// contract.
func (w *Workflow) CancelRevision() error {
	if _, err := w.begin(Exists, RevisionWarning); err != nil {
		return err
	}
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
	return nil
}

func (w *Workflow) succeeded(ctx context.Context, ct *types.Contract, n notify.Notifier, msg string) *types.Contract {
	if fresh, err := w.cache.Reload(ctx, w.proposalID); err == nil {
		ct = fresh
	}
	w.mu.Lock()
	w.contract = ct
	w.pending = nil
	w.state = Exists
	w.mu.Unlock()

	w.announce(ctx)
	n.Notify(notify.Success, msg)
	slog.Info("contract generated",
		"component", "contracts",
		"action", "generated",
		"proposal_id", w.proposalID,
		"contract_id", ct.ID,
		"version", ct.Version,
	)
	return ct
}

func (w *Workflow) announce(ctx context.Context) {
	if w.bus == nil {
		return
	}
	if err := w.bus.Publish(ctx, events.ContractChanged(w.proposalID)); err != nil {
		slog.Warn("event publish failed",
			"component", "contracts",
			"proposal_id", w.proposalID,
			"error", err,
		)
	}
}

// RevisionTerms prefixes terms with a revision marker stamped at t.
func RevisionTerms(terms string, t time.Time) string {
	return RevisionMarker + " - " + t.UTC().Format(time.RFC3339) + "\n\n" + terms
}

// Workflows keeps one workflow per proposal.
type Workflows struct {
	api   Generator
	cache *Cache
	bus   events.Bus

	mu sync.Mutex
	m  map[string]*Workflow
}

// NewWorkflows creates a registry sharing one cache. bus may be nil.
func NewWorkflows(api Generator, cache *Cache, bus events.Bus) *Workflows {
	return &Workflows{api: api, cache: cache, bus: bus, m: make(map[string]*Workflow)}
}

// For returns the workflow of a proposal, creating it on first use.
func (r *Workflows) For(proposalID string) *Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.m[proposalID]
	if !ok {
		w = NewWorkflow(proposalID, r.api, r.cache, r.bus)
		r.m[proposalID] = w
	}
	return w
}

// Forget drops the workflow of a proposal, for example after it is deleted.
func (r *Workflows) Forget(proposalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, proposalID)
}

// Cache returns the shared contract cache.
func (r *Workflows) Cache() *Cache { return r.cache }
