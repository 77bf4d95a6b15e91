// Package catalog searches, filters and sorts already fetched template and
// proposal collections. Every function returns new slices and leaves its
// input untouched.
package catalog

import (
	"strings"
	"time"

	"github.com/hyperengineering/bidkit/internal/types"
)

// RecentWindow is how far back "recent" reaches.
const RecentWindow = 7 * 24 * time.Hour

// TemplateView is a template with whatever detail has been loaded for it.
type TemplateView struct {
	types.Template
	Variables  []types.Variable `json:"variables"`
	Categories []types.Category `json:"categories"`
}

func (v TemplateView) sortName() string         { return v.Name }
func (v TemplateView) sortCreatedAt() time.Time { return v.CreatedAt }
func (v TemplateView) sortID() string           { return v.ID }

// ProposalView is a proposal with whatever detail has been loaded for it.
type ProposalView struct {
	types.Proposal
	VariableValues []types.VariableValue `json:"variable_values"`
	ElementValues  []types.ElementValue  `json:"element_values"`
	Categories     []types.Category      `json:"categories"`
}

func (v ProposalView) sortName() string         { return v.Name }
func (v ProposalView) sortCreatedAt() time.Time { return v.CreatedAt }
func (v ProposalView) sortID() string           { return v.ID }

// ElementIndex maps a category id to the names of its elements. Elements are
// not nested in list responses, so callers assemble this out of band.
type ElementIndex map[string][]string

// SearchFields selects which fields a search looks at.
type SearchFields struct {
	Name        bool `json:"name"`
	Description bool `json:"description"`
	Variables   bool `json:"variables"`
	Categories  bool `json:"categories"`
	Elements    bool `json:"elements"`
}

// AllFields enables every search field.
func AllFields() SearchFields {
	return SearchFields{Name: true, Description: true, Variables: true, Categories: true, Elements: true}
}

func (f SearchFields) none() bool {
	return !f.Name && !f.Description && !f.Variables && !f.Categories && !f.Elements
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

func anyContains(values []string, needle string) bool {
	for _, v := range values {
		if containsFold(v, needle) {
			return true
		}
	}
	return false
}

func categoryMatch(cats []types.Category, fields SearchFields, elements ElementIndex, q string) bool {
	for _, c := range cats {
		if fields.Categories && containsFold(c.Name, q) {
			return true
		}
		if fields.Elements {
			if anyContains(elements[c.ID], q) {
				return true
			}
			for _, e := range c.Elements {
				if e.Name != types.CategoryPlaceholder && containsFold(e.Name, q) {
					return true
				}
			}
		}
	}
	return false
}

// MatchTemplate reports whether query is a case-insensitive substring of any
// enabled field. With no field enabled, or an empty query, every template
// matches.
func MatchTemplate(v TemplateView, query string, fields SearchFields, elements ElementIndex) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || fields.none() {
		return true
	}
	if fields.Name && containsFold(v.Name, q) {
		return true
	}
	if fields.Description && containsFold(v.Description, q) {
		return true
	}
	if fields.Variables {
		for _, vr := range v.Variables {
			if containsFold(vr.Name, q) {
				return true
			}
		}
	}
	return categoryMatch(v.Categories, fields, elements, q)
}

// MatchProposal is MatchTemplate for proposals. Element names come from the
// proposal's own element values as well as the out-of-band index.
func MatchProposal(v ProposalView, query string, fields SearchFields, elements ElementIndex) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || fields.none() {
		return true
	}
	if fields.Name && containsFold(v.Name, q) {
		return true
	}
	if fields.Description && containsFold(v.Description, q) {
		return true
	}
	if fields.Variables {
		for _, vv := range v.VariableValues {
			if containsFold(vv.Name, q) {
				return true
			}
		}
	}
	if fields.Elements {
		for _, ev := range v.ElementValues {
			if containsFold(ev.Name, q) {
				return true
			}
		}
	}
	return categoryMatch(v.Categories, fields, elements, q)
}

// ContentFilter rejects entities failing any set predicate. A nil pointer
// leaves that predicate unchecked.
type ContentFilter struct {
	HasTemplate   *bool                `json:"has_template,omitempty"`
	HasVariables  *bool                `json:"has_variables,omitempty"`
	HasCategories *bool                `json:"has_categories,omitempty"`
	VariableTypes []types.VariableType `json:"variable_types,omitempty"`
}

func typeMatch(have []types.VariableType, want []types.VariableType) bool {
	if len(want) == 0 {
		return true
	}
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// AcceptTemplate reports whether v passes the filter. HasTemplate does not
// apply to templates.
func (f ContentFilter) AcceptTemplate(v TemplateView) bool {
	if f.HasVariables != nil && (len(v.Variables) > 0) != *f.HasVariables {
		return false
	}
	if f.HasCategories != nil && (len(v.Categories) > 0) != *f.HasCategories {
		return false
	}
	have := make([]types.VariableType, len(v.Variables))
	for i, vr := range v.Variables {
		have[i] = vr.Type
	}
	return typeMatch(have, f.VariableTypes)
}

// AcceptProposal reports whether v passes the filter.
func (f ContentFilter) AcceptProposal(v ProposalView) bool {
	if f.HasTemplate != nil && v.HasTemplate() != *f.HasTemplate {
		return false
	}
	if f.HasVariables != nil && (len(v.VariableValues) > 0) != *f.HasVariables {
		return false
	}
	if f.HasCategories != nil && (len(v.Categories) > 0) != *f.HasCategories {
		return false
	}
	have := make([]types.VariableType, len(v.VariableValues))
	for i, vv := range v.VariableValues {
		have[i] = vv.Type
	}
	return typeMatch(have, f.VariableTypes)
}

// DateFilter keeps entities created inside a window. ShowRecent keeps the
// last RecentWindow; From and To are inclusive bounds.
type DateFilter struct {
	ShowRecent bool       `json:"show_recent"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
}

// Accept reports whether created passes the filter at instant now.
func (f DateFilter) Accept(created, now time.Time) bool {
	if f.ShowRecent && created.Before(now.Add(-RecentWindow)) {
		return false
	}
	if f.From != nil && created.Before(*f.From) {
		return false
	}
	if f.To != nil && created.After(*f.To) {
		return false
	}
	return true
}
