package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/models"
)

// HTTP implements Store against the Laguz entries API of another replica.
type HTTP struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTP creates a client for the replica at baseURL. token, if
// non-empty, is sent as a Bearer credential.
func NewHTTP(baseURL, token string) *HTTP {
	return &HTTP{
		base:   strings.TrimSuffix(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *HTTP) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: marshal body: %w", err)
		}
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.base+path, rdr)
	if err != nil {
		return fmt.Errorf("remote: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %v: %w", method, path, err, apperr.ErrNetworkFailure)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("remote: %s %s: %w", method, path, apperr.ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("remote: %s %s: %w", method, path, apperr.ErrDuplicateID)
	case resp.StatusCode >= 500:
		return fmt.Errorf("remote: %s %s: status %d: %w", method, path, resp.StatusCode, apperr.ErrNetworkFailure)
	case resp.StatusCode >= 400:
		return fmt.Errorf("remote: %s %s: status %d: %w", method, path, resp.StatusCode, apperr.ErrInvalidInput)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("remote: decode response: %w", apperr.ErrCorruptedData)
		}
	}
	return nil
}

// Create pushes a new entry. The sync surface persists the entry
// verbatim; CreatedAt, UpdatedAt, and Order survive the hop.
func (h *HTTP) Create(ctx context.Context, e models.Entry) error {
	return h.do(ctx, http.MethodPost, "/api/sync/entries", e, nil)
}

// Get fetches an entry by id.
func (h *HTTP) Get(ctx context.Context, id string) (models.Entry, error) {
	var e models.Entry
	if err := h.do(ctx, http.MethodGet, "/api/entries/"+url.PathEscape(id), nil, &e); err != nil {
		return models.Entry{}, err
	}
	return e, nil
}

// Update replaces an existing entry wholesale, timestamps included.
func (h *HTTP) Update(ctx context.Context, e models.Entry) error {
	return h.do(ctx, http.MethodPut, "/api/sync/entries/"+url.PathEscape(e.ID), e, nil)
}

// Delete removes an entry by id.
func (h *HTTP) Delete(ctx context.Context, id string) error {
	return h.do(ctx, http.MethodDelete, "/api/entries/"+url.PathEscape(id), nil, nil)
}

// List returns entries matching the filter options.
func (h *HTTP) List(ctx context.Context, opts models.ListOptions) ([]models.Entry, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Start != nil {
		q.Set("start", opts.Start.Format(time.RFC3339Nano))
	}
	if opts.End != nil {
		q.Set("end", opts.End.Format(time.RFC3339Nano))
	}
	if opts.IsTask != nil {
		q.Set("is_task", strconv.FormatBool(*opts.IsTask))
	}
	path := "/api/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var body struct {
		Entries []models.Entry `json:"entries"`
	}
	if err := h.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

// UpdatedSince returns entries updated strictly after t.
func (h *HTTP) UpdatedSince(ctx context.Context, t time.Time) ([]models.Entry, error) {
	q := url.Values{}
	q.Set("since", t.Format(time.RFC3339Nano))

	var body struct {
		Entries []models.Entry `json:"entries"`
	}
	if err := h.do(ctx, http.MethodGet, "/api/entries?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}
