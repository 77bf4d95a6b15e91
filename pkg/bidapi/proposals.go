package bidapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/hyperengineering/bidkit/internal/types"
)

func proposalID(p types.Proposal) string            { return p.ID }
func variableValueID(v types.VariableValue) string { return v.ID }
func elementValueID(e types.ElementValue) string   { return e.ID }

// ListProposals returns one page of proposals.
func (c *Client) ListProposals(ctx context.Context, opts ListOptions) (types.Page[types.Proposal], error) {
	return getList(ctx, c, "/proposals", opts.values(), proposalID)
}

// GetProposal returns one proposal.
func (c *Client) GetProposal(ctx context.Context, id string) (*types.Proposal, error) {
	var p types.Proposal
	if err := c.do(ctx, http.MethodGet, "/proposals/"+escape(id), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProposal creates a proposal, from a template when in.TemplateID is
// set and from scratch otherwise.
func (c *Client) CreateProposal(ctx context.Context, in types.ProposalInput) (*types.Proposal, error) {
	var p types.Proposal
	if err := c.do(ctx, http.MethodPost, "/proposals", nil, in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProposal replaces a proposal's editable fields.
func (c *Client) UpdateProposal(ctx context.Context, id string, in types.ProposalInput) (*types.Proposal, error) {
	var p types.Proposal
	if err := c.do(ctx, http.MethodPut, "/proposals/"+escape(id), nil, in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProposal deletes a proposal.
func (c *Client) DeleteProposal(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/proposals/"+escape(id), nil, nil, nil)
}

// ListVariableValues returns a proposal's variable values. A brand-new
// proposal with none yields an empty slice.
func (c *Client) ListVariableValues(ctx context.Context, id string) ([]types.VariableValue, error) {
	return getValues(ctx, c, "/proposals/"+escape(id)+"/variable-values", variableValueID)
}

// UpdateVariableValue sets one variable value on a proposal.
func (c *Client) UpdateVariableValue(ctx context.Context, proposalID, valueID string, in types.VariableValueInput) (*types.VariableValue, error) {
	var v types.VariableValue
	path := "/proposals/" + escape(proposalID) + "/variable-values/" + escape(valueID)
	if err := c.do(ctx, http.MethodPut, path, nil, in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListElementValues returns a proposal's line items. A brand-new proposal
// with none yields an empty slice.
func (c *Client) ListElementValues(ctx context.Context, id string) ([]types.ElementValue, error) {
	values, err := getValues(ctx, c, "/proposals/"+escape(id)+"/element-values", elementValueID)
	if err != nil {
		return nil, err
	}
	out := values[:0]
	for _, v := range values {
		if v.Name == types.CategoryPlaceholder {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// UpdateElementValue edits one line item on a proposal.
func (c *Client) UpdateElementValue(ctx context.Context, proposalID, valueID string, in types.ElementValueInput) (*types.ElementValue, error) {
	var v types.ElementValue
	path := "/proposals/" + escape(proposalID) + "/element-values/" + escape(valueID)
	if err := c.do(ctx, http.MethodPut, path, nil, in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListProposalCategories returns a proposal's categories in render order.
func (c *Client) ListProposalCategories(ctx context.Context, id string) ([]types.Category, error) {
	cats, err := getValues(ctx, c, "/proposals/"+escape(id)+"/categories", categoryID)
	if err != nil {
		return nil, err
	}
	return normalizeCategories(cats), nil
}

// SyncWithTemplate asks the backend to reconcile a proposal with the
// current state of its template.
func (c *Client) SyncWithTemplate(ctx context.Context, id string) (*types.SyncResult, error) {
	var r types.SyncResult
	if err := c.do(ctx, http.MethodPost, "/proposals/"+escape(id)+"/sync-with-template", nil, struct{}{}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GenerateContract creates a contract for a proposal. When one already
// exists the returned error matches ErrContractExists.
func (c *Client) GenerateContract(ctx context.Context, in types.ContractInput) (*types.Contract, error) {
	var ct types.Contract
	err := c.do(ctx, http.MethodPost, "/proposals/"+escape(in.ProposalID)+"/generate-contract", nil, in, &ct)
	if err != nil {
		return nil, classifyGenerateError(err)
	}
	return &ct, nil
}

// classifyGenerateError tags older backends' "already exists" answers,
// which arrive as 409 or as a 400 without a code, with CodeContractExists.
func classifyGenerateError(err error) error {
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "" {
		return err
	}
	switch {
	case apiErr.Status == http.StatusConflict:
		apiErr.Code = CodeContractExists
	case apiErr.Status == http.StatusBadRequest && len(apiErr.Fields) == 0:
		apiErr.Code = CodeContractExists
	}
	return err
}
