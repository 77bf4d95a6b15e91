package console

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/bidkit/internal/catalog"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/internal/validation"
)

// listParams are the query parameters of a list page.
type listParams struct {
	Page   int
	Query  catalog.Query
	Expand bool
}

// parseListParams reads page, search, filter and sort parameters:
//
//	page, q, in=name,description,variables,categories,elements,
//	has_template, has_variables, has_categories (true|false),
//	types=LINEAR_FEET,COUNT, recent=true, from, to (RFC 3339 or YYYY-MM-DD),
//	sort=name|created_at, dir=asc|desc, expand=all
func parseListParams(v url.Values) (listParams, []validation.ValidationError) {
	var c validation.Collector
	p := listParams{Page: 1, Query: catalog.DefaultQuery()}

	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.Add(&validation.ValidationError{Field: "page", Message: "must be a positive integer"})
		} else {
			p.Page = n
		}
	}

	p.Query.Search = strings.TrimSpace(v.Get("q"))
	if in, ok := v["in"]; ok {
		fields, err := parseFields(strings.Join(in, ","))
		if err != nil {
			c.Add(&validation.ValidationError{Field: "in", Message: err.Error()})
		}
		p.Query.Fields = fields
	}

	p.Query.Content.HasTemplate = parseBool(&c, v, "has_template")
	p.Query.Content.HasVariables = parseBool(&c, v, "has_variables")
	p.Query.Content.HasCategories = parseBool(&c, v, "has_categories")
	if s := v.Get("types"); s != "" {
		for _, part := range strings.Split(s, ",") {
			vt, err := types.ParseVariableType(part)
			if err != nil {
				c.Add(&validation.ValidationError{Field: "types", Message: err.Error()})
				continue
			}
			p.Query.Content.VariableTypes = append(p.Query.Content.VariableTypes, vt)
		}
	}

	if b := parseBool(&c, v, "recent"); b != nil {
		p.Query.Date.ShowRecent = *b
	}
	p.Query.Date.From = parseDate(&c, v, "from", false)
	p.Query.Date.To = parseDate(&c, v, "to", true)

	key, dir, err := catalog.ParseSort(v.Get("sort"), v.Get("dir"))
	if err != nil {
		c.Add(&validation.ValidationError{Field: "sort", Message: err.Error()})
	} else {
		p.Query.SortKey, p.Query.Direction = key, dir
	}

	p.Expand = v.Get("expand") == "all"
	return p, c.Errors()
}

func parseFields(s string) (catalog.SearchFields, error) {
	var f catalog.SearchFields
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "name":
			f.Name = true
		case "description":
			f.Description = true
		case "variables":
			f.Variables = true
		case "categories":
			f.Categories = true
		case "elements":
			f.Elements = true
		default:
			return f, fmt.Errorf("unknown search field %q", part)
		}
	}
	return f, nil
}

func parseBool(c *validation.Collector, v url.Values, name string) *bool {
	s := v.Get(name)
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		c.Add(&validation.ValidationError{Field: name, Message: "must be true or false"})
		return nil
	}
	return &b
}

// parseDate accepts RFC 3339 or a bare date. A bare "to" date covers the
// whole day.
func parseDate(c *validation.Collector, v url.Values, name string, endOfDay bool) *time.Time {
	s := v.Get(name)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		c.Add(&validation.ValidationError{Field: name, Message: "must be RFC 3339 or YYYY-MM-DD"})
		return nil
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t
}
