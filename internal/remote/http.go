package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// DefaultTimeout bounds one HTTP round trip.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 512

// HTTPClient is a Client for a REST document store:
//
//	GET   {base}/{collection}/{id}
//	PATCH {base}/{collection}/{id}   {"data": {...}}
//	PUT   {base}/{collection}/{id}   {"data": {...}}  If-None-Match: *
//
// Every response body is {"id": ..., "updated_at": ..., "data": {...}}.
type HTTPClient struct {
	base   *url.URL
	token  string
	client *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithToken sends a bearer token on every request.
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) { c.token = token }
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewHTTPClient creates a client rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote base url %q: scheme must be http or https", baseURL)
	}

	c := &HTTPClient{
		base:   u,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type wireRequest struct {
	Data any `json:"data"`
}

type wireDocument struct {
	ID        string          `json:"id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// Get implements Client.
func (c *HTTPClient) Get(ctx context.Context, ref model.EntityRef) (model.Document, error) {
	return c.do(ctx, "get", http.MethodGet, ref, nil, nil)
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, ref model.EntityRef, fields map[string]any) (model.Document, error) {
	return c.do(ctx, "update", http.MethodPatch, ref, wireRequest{Data: fields}, nil)
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, ref model.EntityRef, data any) (model.Document, error) {
	return c.do(ctx, "create", http.MethodPut, ref, wireRequest{Data: data}, http.Header{"If-None-Match": {"*"}})
}

func (c *HTTPClient) do(ctx context.Context, op, method string, ref model.EntityRef, body any, header http.Header) (model.Document, error) {
	op = op + " " + ref.String()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return model.Document{}, fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.documentURL(ref), reader)
	if err != nil {
		return model.Document{}, fmt.Errorf("%s: build request: %w", op, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Document{}, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return model.Document{}, &model.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var wd wireDocument
		if err := json.NewDecoder(resp.Body).Decode(&wd); err != nil {
			return model.Document{}, &model.TransientError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return model.Document{Ref: ref, Data: wd.Data, UpdatedAt: wd.UpdatedAt.UTC()}, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return model.Document{}, statusError(op, method, resp.StatusCode, strings.TrimSpace(string(detail)))
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(op, method string, status int, detail string) error {
	base := fmt.Errorf("http %d", status)
	if detail != "" {
		base = fmt.Errorf("http %d: %s", status, detail)
	}

	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return &model.TransientError{Op: op, Err: base}
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", op, model.ErrNotFound, base)
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		if method == http.MethodPut {
			return fmt.Errorf("%s: %w: %w", op, model.ErrAlreadyExists, base)
		}
		return &model.ConflictError{Reason: model.ReasonConcurrentWrite, Detail: op, Err: base}
	default:
		return &model.ConflictError{Reason: model.ReasonRemoteRejected, Detail: op, Err: base}
	}
}

func (c *HTTPClient) documentURL(ref model.EntityRef) string {
	u := *c.base
	u.Path = c.base.Path + "/" + string(ref.Collection) + "/" + ref.ID
	u.RawPath = c.base.EscapedPath() + "/" + url.PathEscape(string(ref.Collection)) + "/" + url.PathEscape(ref.ID)
	return u.String()
}
