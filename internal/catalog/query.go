package catalog

import "time"

// Query bundles a search, the content and date filters and an ordering, as
// a list page applies them.
type Query struct {
	Search    string        `json:"search,omitempty"`
	Fields    SearchFields  `json:"fields"`
	Content   ContentFilter `json:"content"`
	Date      DateFilter    `json:"date"`
	SortKey   SortKey       `json:"sort_key"`
	Direction Direction     `json:"direction"`
}

// DefaultQuery searches every field, filters nothing and shows newest first.
func DefaultQuery() Query {
	return Query{Fields: AllFields(), SortKey: SortByCreatedAt, Direction: Descending}
}

// ApplyTemplates filters and sorts views as of now.
func ApplyTemplates(views []TemplateView, q Query, elements ElementIndex, now time.Time) []TemplateView {
	kept := make([]TemplateView, 0, len(views))
	for _, v := range views {
		if !MatchTemplate(v, q.Search, q.Fields, elements) {
			continue
		}
		if !q.Content.AcceptTemplate(v) || !q.Date.Accept(v.CreatedAt, now) {
			continue
		}
		kept = append(kept, v)
	}
	return Sort(kept, q.SortKey, q.Direction)
}

// ApplyProposals filters and sorts views as of now.
func ApplyProposals(views []ProposalView, q Query, elements ElementIndex, now time.Time) []ProposalView {
	kept := make([]ProposalView, 0, len(views))
	for _, v := range views {
		if !MatchProposal(v, q.Search, q.Fields, elements) {
			continue
		}
		if !q.Content.AcceptProposal(v) || !q.Date.Accept(v.CreatedAt, now) {
			continue
		}
		kept = append(kept, v)
	}
	return Sort(kept, q.SortKey, q.Direction)
}
