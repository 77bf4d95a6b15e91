package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// VariableType is the measurement unit of a template variable.
type VariableType string

const (
	VariableLinearFeet VariableType = "LINEAR_FEET"
	VariableSquareFeet VariableType = "SQUARE_FEET"
	VariableCubicFeet  VariableType = "CUBIC_FEET"
	VariableCount      VariableType = "COUNT"
)

// VariableTypes lists every accepted variable type in display order.
var VariableTypes = []VariableType{
	VariableLinearFeet,
	VariableSquareFeet,
	VariableCubicFeet,
	VariableCount,
}

// ParseVariableType converts s into a VariableType, accepting any letter case.
func ParseVariableType(s string) (VariableType, error) {
	v := VariableType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range VariableTypes {
		if v == t {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown variable type %q", s)
}

// Unit returns the short display unit for the type.
func (t VariableType) Unit() string {
	switch t {
	case VariableLinearFeet:
		return "ft"
	case VariableSquareFeet:
		return "sq ft"
	case VariableCubicFeet:
		return "cu ft"
	default:
		return "ea"
	}
}

// CategoryPlaceholder is the element name some backends use to keep an
// otherwise empty category alive. It is stripped at the API boundary.
const CategoryPlaceholder = "__category_placeholder__"

// Template is a reusable blueprint of variables and categories.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Variable is a named, typed numeric parameter owned by a template.
type Variable struct {
	ID           string       `json:"id"`
	TemplateID   string       `json:"template_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Type         VariableType `json:"type"`
	DefaultValue float64      `json:"default_value"`
}

// Category groups elements and is ordered among its siblings by Position.
type Category struct {
	ID          string    `json:"id"`
	TemplateID  *string   `json:"template_id,omitempty"`
	ProposalID  *string   `json:"proposal_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Position    int       `json:"position"`
	Elements    []Element `json:"elements,omitempty"`
}

// Element is a priced line item. Costs are strings because they may be
// formulas over template variables that only the backend resolves.
type Element struct {
	ID               string  `json:"id"`
	CategoryID       string  `json:"category_id"`
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	MaterialCost     string  `json:"material_cost"`
	LaborCost        string  `json:"labor_cost"`
	MarkupPercentage float64 `json:"markup_percentage"`
	Position         int     `json:"position"`
}

// Proposal is a priced instance, optionally derived from a template.
type Proposal struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	Description            string    `json:"description,omitempty"`
	TemplateID             *string   `json:"template_id"`
	GlobalMarkupPercentage float64   `json:"global_markup_percentage"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// HasTemplate reports whether the proposal was derived from a template.
func (p Proposal) HasTemplate() bool {
	return p.TemplateID != nil && *p.TemplateID != ""
}

// VariableValue is a proposal-scoped snapshot of a template variable.
type VariableValue struct {
	ID         string       `json:"id"`
	ProposalID string       `json:"proposal_id"`
	VariableID string       `json:"variable_id,omitempty"`
	Name       string       `json:"name"`
	Type       VariableType `json:"type"`
	Value      float64      `json:"value"`
}

// ElementValue is a proposal-scoped snapshot of an element with resolved
// costs. TotalCost and TotalWithMarkup are derived; client values are
// provisional until the backend returns its own.
type ElementValue struct {
	ID               string   `json:"id"`
	ProposalID       string   `json:"proposal_id"`
	ElementID        string   `json:"element_id,omitempty"`
	CategoryID       string   `json:"category_id,omitempty"`
	Name             string   `json:"name"`
	MaterialCost     Amount   `json:"material_cost"`
	LaborCost        Amount   `json:"labor_cost"`
	MarkupPercentage float64  `json:"markup_percentage"`
	TotalCost        *float64 `json:"total_cost,omitempty"`
	TotalWithMarkup  *float64 `json:"total_with_markup,omitempty"`
	Position         int      `json:"position"`
}

// Contract is a signable document generated from a proposal. Version is
// bumped by the backend each time a contract is regenerated.
type Contract struct {
	ID                  string     `json:"id"`
	ProposalID          string     `json:"proposal_id"`
	ClientName          string     `json:"client_name"`
	ContractorName      string     `json:"contractor_name"`
	ClientInitials      string     `json:"client_initials,omitempty"`
	ContractorInitials  string     `json:"contractor_initials,omitempty"`
	ClientSignature     *string    `json:"client_signature,omitempty"`
	ContractorSignature *string    `json:"contractor_signature,omitempty"`
	ClientSignedAt      *time.Time `json:"client_signed_at,omitempty"`
	ContractorSignedAt  *time.Time `json:"contractor_signed_at,omitempty"`
	TermsAndConditions  string     `json:"terms_and_conditions"`
	Version             int        `json:"version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsRevision reports whether a prior contract existed for the same proposal.
func (c Contract) IsRevision() bool {
	return c.Version > 1
}

// FullySigned reports whether both parties have signed.
func (c Contract) FullySigned() bool {
	return c.ClientSignedAt != nil && c.ContractorSignedAt != nil
}

// Page is one page of a paginated list response.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// SyncResult reports what a template sync changed on a proposal.
type SyncResult struct {
	AddedVariables   []VariableValue `json:"added_variables"`
	UpdatedVariables []VariableValue `json:"updated_variables"`
	AddedElements    []ElementValue  `json:"added_elements"`
}

// Changed reports whether the sync modified the proposal.
func (r SyncResult) Changed() bool {
	return len(r.AddedVariables)+len(r.UpdatedVariables)+len(r.AddedElements) > 0
}

// CategoryLess orders categories by Position, then by name.
func CategoryLess(a, b Category) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return strings.ToLower(a.Name) < strings.ToLower(b.Name)
}

// SortCategories orders categories and their elements in place.
func SortCategories(cats []Category) {
	sort.SliceStable(cats, func(i, j int) bool {
		return CategoryLess(cats[i], cats[j])
	})
	for i := range cats {
		SortElements(cats[i].Elements)
	}
}

// SortElements orders elements within one category by Position, in place.
func SortElements(elems []Element) {
	sort.SliceStable(elems, func(i, j int) bool {
		return elems[i].Position < elems[j].Position
	})
}

// Amount is a cost field that the backend may send as a JSON number or as a
// numeric string. A string that is not a number (an unresolved formula) is
// kept in Raw and contributes 0 to client-side totals.
type Amount struct {
	Value float64
	Raw   string
}

// NewAmount returns an Amount holding v.
func NewAmount(v float64) Amount {
	return Amount{Value: v, Raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// Resolved reports whether the raw value parsed as a number.
func (a Amount) Resolved() bool {
	if a.Raw == "" {
		return true
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(a.Raw), 64)
	return err == nil
}

// MarshalJSON encodes the amount as a string, as the backend does.
func (a Amount) MarshalJSON() ([]byte, error) {
	raw := a.Raw
	if raw == "" {
		raw = strconv.FormatFloat(a.Value, 'f', -1, 64)
	}
	return json.Marshal(raw)
}

// UnmarshalJSON accepts a number, a string or null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		a.Raw = s
		a.Value = 0
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			a.Value = f
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	a.Value = f
	a.Raw = strconv.FormatFloat(f, 'f', -1, 64)
	return nil
}

// Party identifies a contract signatory.
type Party string

const (
	PartyClient     Party = "client"
	PartyContractor Party = "contractor"
)

// ParseParty converts s into a Party.
func ParseParty(s string) (Party, error) {
	switch Party(strings.ToLower(strings.TrimSpace(s))) {
	case PartyClient:
		return PartyClient, nil
	case PartyContractor:
		return PartyContractor, nil
	}
	return "", fmt.Errorf("unknown party %q", s)
}
