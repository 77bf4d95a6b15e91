package validation

import (
	"github.com/hyperengineering/bidkit/internal/types"
)

const (
	MaxNameLength        = 200
	MaxDescriptionLength = 5000
	MaxTermsLength       = 50000
	MaxInitialsLength    = 5
	MaxMarkupPercentage  = 1000.0
)

func checkText(c *Collector, field, value string, max int) {
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, max))
}

func checkName(c *Collector, value string) {
	c.Add(ValidateRequired("name", value))
	checkText(c, "name", value, MaxNameLength)
}

// ValidateTemplate checks a template form.
func ValidateTemplate(in types.TemplateInput) []ValidationError {
	var c Collector
	checkName(&c, in.Name)
	checkText(&c, "description", in.Description, MaxDescriptionLength)
	return c.Errors()
}

// ValidateVariable checks a variable form.
func ValidateVariable(in types.VariableInput) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("template_id", in.TemplateID))
	checkName(&c, in.Name)
	checkText(&c, "description", in.Description, MaxDescriptionLength)
	allowed := make([]string, len(types.VariableTypes))
	for i, t := range types.VariableTypes {
		allowed[i] = string(t)
	}
	c.Add(ValidateEnum("type", string(in.Type), allowed))
	c.Add(ValidateNonNegative("default_value", in.DefaultValue))
	return c.Errors()
}

// ValidateCategory checks a category form.
func ValidateCategory(in types.CategoryInput) []ValidationError {
	var c Collector
	checkName(&c, in.Name)
	checkText(&c, "description", in.Description, MaxDescriptionLength)
	hasTemplate := in.TemplateID != nil && *in.TemplateID != ""
	hasProposal := in.ProposalID != nil && *in.ProposalID != ""
	if hasTemplate == hasProposal {
		c.Add(&ValidationError{Field: "template_id", Message: "exactly one of template_id or proposal_id is required"})
	}
	if in.Position < 0 {
		c.Add(&ValidationError{Field: "position", Message: "must not be negative"})
	}
	return c.Errors()
}

// ValidateElement checks an element form.
func ValidateElement(in types.ElementInput) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("category_id", in.CategoryID))
	checkName(&c, in.Name)
	if in.Name == types.CategoryPlaceholder {
		c.Add(&ValidationError{Field: "name", Message: "is reserved"})
	}
	checkText(&c, "description", in.Description, MaxDescriptionLength)
	c.Add(ValidateCostExpression("material_cost", in.MaterialCost))
	c.Add(ValidateCostExpression("labor_cost", in.LaborCost))
	c.Add(ValidateRange("markup_percentage", in.MarkupPercentage, 0, MaxMarkupPercentage))
	if in.Position < 0 {
		c.Add(&ValidationError{Field: "position", Message: "must not be negative"})
	}
	return c.Errors()
}

// ValidateElementValue checks an edit to a proposal line item.
func ValidateElementValue(in types.ElementValueInput) []ValidationError {
	var c Collector
	c.Add(ValidateCostExpression("material_cost", in.MaterialCost))
	c.Add(ValidateCostExpression("labor_cost", in.LaborCost))
	c.Add(ValidateRange("markup_percentage", in.MarkupPercentage, 0, MaxMarkupPercentage))
	return c.Errors()
}

// ValidateVariableValue checks an edit to a proposal variable value.
func ValidateVariableValue(in types.VariableValueInput) []ValidationError {
	var c Collector
	c.Add(ValidateNonNegative("value", in.Value))
	return c.Errors()
}

// ValidateProposal checks a proposal form.
func ValidateProposal(in types.ProposalInput) []ValidationError {
	var c Collector
	checkName(&c, in.Name)
	checkText(&c, "description", in.Description, MaxDescriptionLength)
	c.Add(ValidateRange("global_markup_percentage", in.GlobalMarkupPercentage, 0, MaxMarkupPercentage))
	return c.Errors()
}

// ValidateContract checks a generate-contract form.
func ValidateContract(in types.ContractInput) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("proposal_id", in.ProposalID))
	c.Add(ValidateRequired("client_name", in.ClientName))
	checkText(&c, "client_name", in.ClientName, MaxNameLength)
	c.Add(ValidateRequired("contractor_name", in.ContractorName))
	checkText(&c, "contractor_name", in.ContractorName, MaxNameLength)
	c.Add(ValidateInitials("client_initials", in.ClientInitials))
	c.Add(ValidateInitials("contractor_initials", in.ContractorInitials))
	c.Add(ValidateRequired("terms_and_conditions", in.TermsAndConditions))
	checkText(&c, "terms_and_conditions", in.TermsAndConditions, MaxTermsLength)
	return c.Errors()
}

// ValidateInitials allows empty initials but caps their length.
func ValidateInitials(field, value string) *ValidationError {
	return ValidateMaxLength(field, value, MaxInitialsLength)
}
