package types

// TemplateInput is the create/update body for a template.
type TemplateInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// VariableInput is the create/update body for a template variable.
type VariableInput struct {
	TemplateID   string       `json:"template_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Type         VariableType `json:"type"`
	DefaultValue float64      `json:"default_value"`
}

// CategoryInput is the create/update body for a category. Exactly one of
// TemplateID and ProposalID is set.
type CategoryInput struct {
	TemplateID  *string `json:"template_id,omitempty"`
	ProposalID  *string `json:"proposal_id,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Position    int     `json:"position"`
}

// ElementInput is the create/update body for an element.
type ElementInput struct {
	CategoryID       string  `json:"category_id"`
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	MaterialCost     string  `json:"material_cost"`
	LaborCost        string  `json:"labor_cost"`
	MarkupPercentage float64 `json:"markup_percentage"`
	Position         int     `json:"position"`
}

// ProposalInput is the create/update body for a proposal.
type ProposalInput struct {
	Name                   string  `json:"name"`
	Description            string  `json:"description,omitempty"`
	TemplateID             *string `json:"template_id"`
	GlobalMarkupPercentage float64 `json:"global_markup_percentage"`
}

// VariableValueInput updates one proposal variable value.
type VariableValueInput struct {
	Value float64 `json:"value"`
}

// ElementValueInput updates one proposal line item.
type ElementValueInput struct {
	MaterialCost     string  `json:"material_cost"`
	LaborCost        string  `json:"labor_cost"`
	MarkupPercentage float64 `json:"markup_percentage"`
}

// ContractInput is the generate-contract body.
type ContractInput struct {
	ProposalID         string `json:"proposal_id"`
	ClientName         string `json:"client_name"`
	ContractorName     string `json:"contractor_name"`
	ClientInitials     string `json:"client_initials,omitempty"`
	ContractorInitials string `json:"contractor_initials,omitempty"`
	TermsAndConditions string `json:"terms_and_conditions"`
}

// SignInput is the initials-only sign body.
type SignInput struct {
	Initials string `json:"initials"`
}
