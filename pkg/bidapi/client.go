// Package bidapi is a typed client for the proposal backend REST API.
//
// The backend owns all persistent state, pricing and business rules. The
// client adds no retries; the only timeout is Config.Timeout.
package bidapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/bidkit/internal/types"
)

// BasePath is the API prefix appended to Config.BaseURL.
const BasePath = "/api"

// Call describes one completed request, for metrics and logging.
type Call struct {
	Method   string
	Resource string
	Status   int // 0 when the transport failed
	Duration time.Duration
}

// Config holds the client configuration.
type Config struct {
	BaseURL    string        // Backend origin, e.g. https://bids.example.com
	APIKey     string        // Sent as a bearer token when set
	Timeout    time.Duration // Per-request timeout (default: none)
	HTTPClient *http.Client  // Optional transport override
	Observe    func(Call)    // Optional hook called after every request
}

// Client talks to the proposal backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	observe func(Call)
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid BaseURL %q", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + BasePath,
		apiKey:  cfg.APIKey,
		http:    hc,
		observe: cfg.Observe,
	}, nil
}

// ListOptions selects one page of a list endpoint. Zero values let the
// backend apply its defaults.
type ListOptions struct {
	Page     int
	PageSize int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(o.PageSize))
	}
	return v
}

// resourceOf returns the first path segment, used to label metrics.
func resourceOf(path string) string {
	p := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// send executes req and returns the body of a 2xx response. Any other
// status is converted to *Error.
func (c *Client) send(req *http.Request, path string) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	call := Call{Method: req.Method, Resource: resourceOf(path), Duration: time.Since(start)}
	if err != nil {
		c.notify(call)
		return nil, fmt.Errorf("%s %s: %w", req.Method, BasePath+path, err)
	}
	defer resp.Body.Close()

	call.Status = resp.StatusCode
	call.Duration = time.Since(start)
	c.notify(call)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(req.Method, BasePath+path, resp, data)
	}
	return data, nil
}

func (c *Client) notify(call Call) {
	if c.observe != nil {
		c.observe(call)
	}
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, query, reader, contentType)
	if err != nil {
		return err
	}

	data, err := c.send(req, path)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidResponse, method, BasePath+path, err)
	}
	return nil
}

// listEnvelope accepts the paginated shapes the backend has used.
type listEnvelope[T any] struct {
	Items    []T `json:"items"`
	Data     []T `json:"data"`
	Results  []T `json:"results"`
	Total    int `json:"total"`
	Count    int `json:"count"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// decodeList decodes either a bare JSON array or a page envelope and
// rejects items without an id.
func decodeList[T any](data []byte, idOf func(T) string) (types.Page[T], error) {
	var page types.Page[T]
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return page, nil
	}

	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &page.Items); err != nil {
			return page, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		page.Total = len(page.Items)
	} else {
		var env listEnvelope[T]
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return page, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		switch {
		case env.Items != nil:
			page.Items = env.Items
		case env.Data != nil:
			page.Items = env.Data
		default:
			page.Items = env.Results
		}
		page.Total = env.Total
		if page.Total == 0 {
			page.Total = env.Count
		}
		if page.Total == 0 {
			page.Total = len(page.Items)
		}
		page.Page = env.Page
		page.PageSize = env.PageSize
	}

	if page.Items == nil {
		page.Items = []T{}
	}
	for i, item := range page.Items {
		if idOf(item) == "" {
			return page, fmt.Errorf("%w: item %d has no id", ErrInvalidResponse, i)
		}
	}
	return page, nil
}

// getList fetches a list endpoint.
func getList[T any](ctx context.Context, c *Client, path string, query url.Values, idOf func(T) string) (types.Page[T], error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return types.Page[T]{}, err
	}
	data, err := c.send(req, path)
	if err != nil {
		return types.Page[T]{}, err
	}
	page, err := decodeList(data, idOf)
	if err != nil {
		return page, fmt.Errorf("GET %s: %w", BasePath+path, err)
	}
	return page, nil
}

// getValues fetches a proposal-scoped value collection. A 404 means the
// proposal has no values yet and yields an empty slice.
func getValues[T any](ctx context.Context, c *Client, path string, idOf func(T) string) ([]T, error) {
	page, err := getList(ctx, c, path, nil, idOf)
	if errors.Is(err, ErrNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func escape(id string) string {
	return url.PathEscape(id)
}
