// Package arr talks to the *arr family of media-management services
// (Sonarr, Radarr, Lidarr). It implements the collaborator interface the
// sweep run controller drives: tag listing, wanted/cutoff paging, search
// commands and retagging. The scheduler core never sees these wire formats.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "arrsweep/pkg/logx"
)

const userAgent = "arrsweep/1.0"

// Client is a thin JSON client for one *arr instance. Requests carry the
// X-Api-Key header and are throttled by a per-instance rate limiter so a
// busy pass cannot hammer the service.
type Client struct {
	base    string
	prefix  string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

// NewClient builds a client for base URL + API prefix (e.g. "/api/v3").
// ratePerSec <= 0 disables throttling.
func NewClient(baseURL, apiKey, prefix string, timeout time.Duration, ratePerSec int, log logx.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var lim *rate.Limiter
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		prefix:  prefix,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: lim,
		log:     log,
	}
}

func (c *Client) url(path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.base + c.prefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs one JSON round trip. A non-2xx status is an error carrying a
// short body snippet. out may be nil; an empty response body is fine.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s %s: marshal: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet(data))
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) PostJSON(ctx context.Context, path string, payload any) error {
	return c.do(ctx, http.MethodPost, path, nil, payload, nil)
}

func (c *Client) PutJSON(ctx context.Context, path string, payload any) error {
	return c.do(ctx, http.MethodPut, path, nil, payload, nil)
}

type wantedPage struct {
	Page         int              `json:"page"`
	PageSize     int              `json:"pageSize"`
	TotalRecords int              `json:"totalRecords"`
	Records      []map[string]any `json:"records"`
}

// PagedRecords walks a wanted-style endpoint
// ({page, pageSize, totalRecords, records}) until all records are fetched.
func (c *Client) PagedRecords(ctx context.Context, path string, pageSize int) ([]map[string]any, error) {
	if pageSize <= 0 {
		pageSize = 200
	}
	var out []map[string]any
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(pageSize))

		var p wantedPage
		if err := c.GetJSON(ctx, path, q, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Records...)
		if len(p.Records) == 0 || len(out) >= p.TotalRecords {
			return out, nil
		}
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
