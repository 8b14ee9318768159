// Package client is a Go client for the nftmarket HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Listing is one marketplace item. Price is in smallest units.
type Listing struct {
	ID           uint64 `json:"id"`
	Slug         string `json:"slug"`
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	URI          string `json:"uri"`
	Price        uint64 `json:"price,string"`
	DisplayPrice string `json:"display_price"`
	ForSale      bool   `json:"for_sale"`
	Rarity       uint8  `json:"rarity"`
	RarityLabel  string `json:"rarity_label"`
}

// ListingsPage is one page of the catalog under a rarity filter.
type ListingsPage struct {
	Listings    []Listing  `json:"listings"`
	Rarity      string     `json:"rarity"`
	Page        int        `json:"page"`
	PageSize    int        `json:"page_size"`
	TotalPages  int        `json:"total_pages"`
	Total       int        `json:"total"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

// RefreshResult reports whether a catalog refresh was applied.
type RefreshResult struct {
	Applied    bool   `json:"applied"`
	Generation uint64 `json:"generation"`
	Listings   int    `json:"listings"`
	Dropped    int    `json:"dropped"`
}

// Balance is an account's native coin balance.
type Balance struct {
	Address        string `json:"address"`
	Balance        uint64 `json:"balance,string"`
	DisplayBalance string `json:"display_balance"`
}

// Submission is the record of one write action.
type Submission struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	State       string    `json:"state"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SubmitResult is the terminal outcome of a mint or listing request.
type SubmitResult struct {
	Submission   Submission `json:"submission"`
	Version      string     `json:"version,omitempty"`
	VMStatus     string     `json:"vm_status,omitempty"`
	RefreshError string     `json:"refresh_error,omitempty"`
}

// MintRequest describes an item to mint.
type MintRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URI         string `json:"uri"`
	Rarity      uint8  `json:"rarity"`
}

// SubmissionFilter narrows ListSubmissions. Zero values mean no filter.
type SubmissionFilter struct {
	Action string
	State  string
	Limit  int
	Offset int
}

// Health is the server's liveness report.
type Health struct {
	Status      string     `json:"status"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	Journal     bool       `json:"journal"`
	Stream      bool       `json:"stream"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is the HTTP client for the marketplace service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new marketplace service client. Writes block until the
// transaction confirms, so httpClient should allow for that.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Listings retrieves one page of listings. A rarity of 0 means all rarities.
func (c *Client) Listings(ctx context.Context, rarity uint8, page int) (*ListingsPage, error) {
	q := url.Values{}
	if rarity != 0 {
		q.Set("rarity", strconv.Itoa(int(rarity)))
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}

	var out ListingsPage
	if err := c.do(ctx, "GET", "/api/v1/listings", q, nil, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("listings retrieved", "page", out.Page, "count", len(out.Listings))
	return &out, nil
}

// Listing retrieves a single item by id.
func (c *Client) Listing(ctx context.Context, id uint64) (*Listing, error) {
	var out Listing
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/v1/listings/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshListings asks the server to re-read the marketplace.
func (c *Client) RefreshListings(ctx context.Context) (*RefreshResult, error) {
	var out RefreshResult
	if err := c.do(ctx, "POST", "/api/v1/listings/refresh", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the server is up. Any non-200 response is an *APIError.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, "GET", "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance retrieves an account's coin balance.
func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	var out Balance
	path := fmt.Sprintf("/api/v1/accounts/%s/balance", url.PathEscape(address))
	if err := c.do(ctx, "GET", path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OwnedItems lists the items owned by address.
func (c *Client) OwnedItems(ctx context.Context, address string, limit, offset int) ([]Listing, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var out struct {
		Items []Listing `json:"items"`
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/items", url.PathEscape(address))
	if err := c.do(ctx, "GET", path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Mint mints a new item and waits for the outcome. On a failed submission
// both the result and an error are returned.
func (c *Client) Mint(ctx context.Context, req MintRequest) (*SubmitResult, error) {
	return c.submit(ctx, "/api/v1/mint", req)
}

// ListForSale lists an owned item at price, in smallest units.
func (c *Client) ListForSale(ctx context.Context, id, price uint64) (*SubmitResult, error) {
	body := map[string]string{"price": strconv.FormatUint(price, 10)}
	return c.submit(ctx, fmt.Sprintf("/api/v1/listings/%d/sale", id), body)
}

// ListSubmissions retrieves journaled submissions, newest first.
func (c *Client) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]Submission, error) {
	q := url.Values{}
	if f.Action != "" {
		q.Set("action", f.Action)
	}
	if f.State != "" {
		q.Set("state", f.State)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}

	var out struct {
		Submissions []Submission `json:"submissions"`
	}
	if err := c.do(ctx, "GET", "/api/v1/submissions", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Submissions, nil
}

// GetSubmission retrieves one submission by id.
func (c *Client) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	var out Submission
	if err := c.do(ctx, "GET", "/api/v1/submissions/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) submit(ctx context.Context, path string, body interface{}) (*SubmitResult, error) {
	resp, err := c.send(ctx, "POST", path, nil, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out SubmitResult
	if err := json.Unmarshal(data, &out); err != nil || out.Submission.ID == "" {
		// Rejected before a submission existed (bad body, duplicate).
		return nil, errorFromBody(resp.StatusCode, data)
	}

	c.logger.Debug("submission finished",
		"id", out.Submission.ID,
		"state", out.Submission.State,
		"hash", out.Submission.Hash,
	)

	if resp.StatusCode != http.StatusOK {
		msg := out.Submission.Error
		if msg == "" {
			msg = out.Submission.FailureKind
		}
		return &out, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, body interface{}) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return errorFromBody(resp.StatusCode, body)
}

func errorFromBody(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: status, Message: string(bytes.TrimSpace(body))}
	}
	return &APIError{StatusCode: status, Message: errResp.Error}
}
