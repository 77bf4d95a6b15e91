package bidapi

import (
	"context"
	"net/http"

	"github.com/hyperengineering/bidkit/internal/types"
)

func templateID(t types.Template) string { return t.ID }
func variableID(v types.Variable) string { return v.ID }
func categoryID(c types.Category) string { return c.ID }
func elementID(e types.Element) string   { return e.ID }

// stripPlaceholders drops the sentinel elements some backends insert to keep
// empty categories alive.
func stripPlaceholders(elems []types.Element) []types.Element {
	out := make([]types.Element, 0, len(elems))
	for _, e := range elems {
		if e.Name == types.CategoryPlaceholder {
			continue
		}
		out = append(out, e)
	}
	return out
}

func normalizeCategories(cats []types.Category) []types.Category {
	for i := range cats {
		if cats[i].Elements != nil {
			cats[i].Elements = stripPlaceholders(cats[i].Elements)
		}
	}
	types.SortCategories(cats)
	return cats
}

// ListTemplates returns one page of templates.
func (c *Client) ListTemplates(ctx context.Context, opts ListOptions) (types.Page[types.Template], error) {
	return getList(ctx, c, "/templates", opts.values(), templateID)
}

// GetTemplate returns one template.
func (c *Client) GetTemplate(ctx context.Context, id string) (*types.Template, error) {
	var t types.Template
	if err := c.do(ctx, http.MethodGet, "/templates/"+escape(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTemplate creates a template.
func (c *Client) CreateTemplate(ctx context.Context, in types.TemplateInput) (*types.Template, error) {
	var t types.Template
	if err := c.do(ctx, http.MethodPost, "/templates", nil, in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTemplate replaces a template's editable fields.
func (c *Client) UpdateTemplate(ctx context.Context, id string, in types.TemplateInput) (*types.Template, error) {
	var t types.Template
	if err := c.do(ctx, http.MethodPut, "/templates/"+escape(id), nil, in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTemplate deletes a template.
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/templates/"+escape(id), nil, nil, nil)
}

// ListTemplateVariables returns a template's variables.
func (c *Client) ListTemplateVariables(ctx context.Context, id string) ([]types.Variable, error) {
	page, err := getList(ctx, c, "/templates/"+escape(id)+"/variables", nil, variableID)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// ListTemplateCategories returns a template's categories in render order.
func (c *Client) ListTemplateCategories(ctx context.Context, id string) ([]types.Category, error) {
	page, err := getList(ctx, c, "/templates/"+escape(id)+"/categories", nil, categoryID)
	if err != nil {
		return nil, err
	}
	return normalizeCategories(page.Items), nil
}

// CreateCategory creates a template or proposal category.
func (c *Client) CreateCategory(ctx context.Context, in types.CategoryInput) (*types.Category, error) {
	var cat types.Category
	if err := c.do(ctx, http.MethodPost, "/categories", nil, in, &cat); err != nil {
		return nil, err
	}
	cat.Elements = stripPlaceholders(cat.Elements)
	return &cat, nil
}

// UpdateCategory replaces a category's editable fields.
func (c *Client) UpdateCategory(ctx context.Context, id string, in types.CategoryInput) (*types.Category, error) {
	var cat types.Category
	if err := c.do(ctx, http.MethodPut, "/categories/"+escape(id), nil, in, &cat); err != nil {
		return nil, err
	}
	cat.Elements = stripPlaceholders(cat.Elements)
	return &cat, nil
}

// DeleteCategory deletes a category and its elements.
func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/categories/"+escape(id), nil, nil, nil)
}

// ListCategoryElements returns a category's elements in position order.
func (c *Client) ListCategoryElements(ctx context.Context, id string) ([]types.Element, error) {
	page, err := getList(ctx, c, "/categories/"+escape(id)+"/elements", nil, elementID)
	if err != nil {
		return nil, err
	}
	elems := stripPlaceholders(page.Items)
	types.SortElements(elems)
	return elems, nil
}

// CreateVariable creates a template variable.
func (c *Client) CreateVariable(ctx context.Context, in types.VariableInput) (*types.Variable, error) {
	var v types.Variable
	if err := c.do(ctx, http.MethodPost, "/variables", nil, in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateVariable replaces a variable's editable fields.
func (c *Client) UpdateVariable(ctx context.Context, id string, in types.VariableInput) (*types.Variable, error) {
	var v types.Variable
	if err := c.do(ctx, http.MethodPut, "/variables/"+escape(id), nil, in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DeleteVariable deletes a variable.
func (c *Client) DeleteVariable(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/variables/"+escape(id), nil, nil, nil)
}

// CreateElement creates an element in a category.
func (c *Client) CreateElement(ctx context.Context, in types.ElementInput) (*types.Element, error) {
	var e types.Element
	if err := c.do(ctx, http.MethodPost, "/elements", nil, in, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateElement replaces an element's editable fields.
func (c *Client) UpdateElement(ctx context.Context, id string, in types.ElementInput) (*types.Element, error) {
	var e types.Element
	if err := c.do(ctx, http.MethodPut, "/elements/"+escape(id), nil, in, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteElement deletes an element.
func (c *Client) DeleteElement(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/elements/"+escape(id), nil, nil, nil)
}
