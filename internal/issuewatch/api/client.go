// Package api provides a client for the build issue service REST API.
package api

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

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

// StatusError is returned when the issue service responds with a non-2xx status
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// ListOptions narrows down the issue listing
type ListOptions struct {
	IncludeResolved bool
	MaxResults      int
}

// Client is a build issue service REST API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithClock replaces the clock used to stamp RetrievedAt
func WithClock(now func() time.Time) Option {
	return func(client *Client) {
		client.now = now
	}
}

// ValidateURL checks that apiURL is an absolute http(s) URL
func ValidateURL(apiURL string) error {
	u, err := url.Parse(apiURL)
	if err != nil {
		return fmt.Errorf("malformed API URL %q: %w", apiURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("malformed API URL %q: scheme must be http or https", apiURL)
	}
	if u.Host == "" {
		return fmt.Errorf("malformed API URL %q: missing host", apiURL)
	}
	return nil
}

// NewClient creates a new client for the service at apiURL
func NewClient(apiURL string, opts ...Option) (*Client, error) {
	if err := ValidateURL(apiURL); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured service URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

type issueResponse struct {
	ID             int        `json:"id"`
	Summary        string     `json:"summary"`
	Owner          string     `json:"owner"`
	NominatedBy    string     `json:"nominatedBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt"`
	FixChange      int        `json:"fixChange"`
	Notify         bool       `json:"notify"`
	Streams        []string   `json:"streams"`
	Projects       []string   `json:"projects"`
}

func (r issueResponse) toIssue(retrievedAt time.Time) model.IssueData {
	return model.IssueData{
		ID:             r.ID,
		Summary:        r.Summary,
		Owner:          r.Owner,
		NominatedBy:    r.NominatedBy,
		CreatedAt:      r.CreatedAt,
		RetrievedAt:    retrievedAt,
		AcknowledgedAt: r.AcknowledgedAt,
		ResolvedAt:     r.ResolvedAt,
		FixChange:      r.FixChange,
		Notify:         r.Notify,
		Streams:        sets.New[string](r.Streams...),
		Projects:       sets.New[string](r.Projects...),
	}
}

// ListIssues fetches open issues, or a bounded page including resolved ones
func (c *Client) ListIssues(ctx context.Context, opts ListOptions) ([]model.IssueData, error) {
	reqURL := c.baseURL + "/api/issues"
	if opts.IncludeResolved {
		params := url.Values{"includeresolved": {"true"}}
		if opts.MaxResults > 0 {
			params.Set("maxresults", strconv.Itoa(opts.MaxResults))
		}
		reqURL += "?" + params.Encode()
	}

	var resp []issueResponse
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	retrievedAt := c.now()
	issues := make([]model.IssueData, 0, len(resp))
	for _, r := range resp {
		issues = append(issues, r.toIssue(retrievedAt))
	}
	return issues, nil
}

// GetIssue fetches a single issue by id
func (c *Client) GetIssue(ctx context.Context, id int) (*model.IssueData, error) {
	var resp issueResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/issues/%d", c.baseURL, id), &resp); err != nil {
		return nil, fmt.Errorf("get issue %d: %w", id, err)
	}
	issue := resp.toIssue(c.now())
	return &issue, nil
}

// GetIssueBuilds fetches the builds an issue was observed in
func (c *Client) GetIssueBuilds(ctx context.Context, id int) ([]model.IssueBuildData, error) {
	var builds []model.IssueBuildData
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/issues/%d/builds", c.baseURL, id), &builds); err != nil {
		return nil, fmt.Errorf("get builds for issue %d: %w", id, err)
	}
	return builds, nil
}

// GetIssueDiagnostics fetches the diagnostics attached to an issue
func (c *Client) GetIssueDiagnostics(ctx context.Context, id int) ([]model.IssueDiagnosticData, error) {
	var diagnostics []model.IssueDiagnosticData
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/issues/%d/diagnostics", c.baseURL, id), &diagnostics); err != nil {
		return nil, fmt.Errorf("get diagnostics for issue %d: %w", id, err)
	}
	return diagnostics, nil
}

// UpdateIssue posts a mutation for a single issue
func (c *Client) UpdateIssue(ctx context.Context, update model.IssueUpdateData) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update for issue %d: %w", update.ID, err)
	}

	reqURL := fmt.Sprintf("%s/api/issues/%d", c.baseURL, update.ID)
	if _, err := c.do(ctx, http.MethodPut, reqURL, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("update issue %d: %w", update.ID, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, into any) error {
	body, err := c.do(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, reqURL string, payload io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     method,
			URL:        reqURL,
			StatusCode: resp.StatusCode,
			Body:       string(body[:min(len(body), 200)]),
		}
	}

	return body, nil
}
