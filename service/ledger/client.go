// Package ledger talks to the ledger node's REST API and to the wallet that
// signs transactions on the user's behalf.
package ledger

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
	"strings"
	"time"

	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Config holds client configuration.
type Config struct {
	// NodeURL is the REST base, e.g. https://fullnode.testnet.aptoslabs.com/v1
	NodeURL string

	// Timeout bounds every individual HTTP request.
	Timeout time.Duration

	// RequestsPerSecond paces calls to public nodes. Zero disables pacing.
	RequestsPerSecond float64

	// RetryMax is the number of retries for idempotent reads on 5xx/429.
	RetryMax int

	// ConfirmTimeout bounds AwaitConfirmation.
	ConfirmTimeout time.Duration

	// PollInterval is the delay between confirmation status checks.
	PollInterval time.Duration
}

// Client is the gateway to the ledger node. Construct one and pass it to the
// components that need it.
type Client struct {
	baseURL        string
	httpClient     *retryablehttp.Client
	limiter        *rate.Limiter
	confirmTimeout time.Duration
	pollInterval   time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewClient creates a ledger client. If m is nil, no metrics are recorded.
func NewClient(cfg Config, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if cfg.NodeURL == "" {
		return nil, fmt.Errorf("node URL is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = cfg.Timeout
	// Hand the final response back so node error bodies can be parsed.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.NodeURL, "/"),
		httpClient:     retryClient,
		limiter:        rate.NewLimiter(limit, 1),
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		metrics:        m,
		logger:         logger,
	}, nil
}

// GetAccountResources returns every resource stored under address. An account
// the node does not know yet has no resources, which is not an error.
func (c *Client) GetAccountResources(ctx context.Context, address string) ([]Resource, error) {
	path := fmt.Sprintf("/accounts/%s/resources", url.PathEscape(address))

	var resources []Resource
	err := c.do(ctx, "GetAccountResources", http.MethodGet, path, nil, &resources)
	if errors.Is(err, ErrNotFound) {
		c.logger.DebugContext(ctx, "account has no resources", "address", address)
		return []Resource{}, nil
	}
	if err != nil {
		return nil, err
	}
	return resources, nil
}

// GetResource fetches a single typed resource. ErrNotFound if absent.
func (c *Client) GetResource(ctx context.Context, address, resourceType string) (*Resource, error) {
	path := fmt.Sprintf("/accounts/%s/resource/%s", url.PathEscape(address), url.PathEscape(resourceType))

	var resource Resource
	if err := c.do(ctx, "GetResource", http.MethodGet, path, nil, &resource); err != nil {
		return nil, err
	}
	return &resource, nil
}

// CallView executes a read-only program function and returns its return
// values undecoded.
func (c *Client) CallView(ctx context.Context, req ViewRequest) ([]json.RawMessage, error) {
	if req.Function == "" {
		return nil, fmt.Errorf("%w: view function is required", ErrInvalidArgument)
	}
	if req.TypeArguments == nil {
		req.TypeArguments = []string{}
	}
	if req.Arguments == nil {
		req.Arguments = []any{}
	}

	var values []json.RawMessage
	if err := c.do(ctx, "CallView", http.MethodPost, "/view", req, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// GetBalance returns the native coin balance of address in smallest units.
// Accounts without a coin store hold nothing and report 0.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	resources, err := c.GetAccountResources(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to get account resources: %w", err)
	}

	for _, r := range resources {
		if r.Type != CoinStoreType {
			continue
		}
		value := gjson.GetBytes(r.Data, "coin.value")
		if !value.Exists() || value.String() == "" {
			return 0, nil
		}
		balance, err := strconv.ParseUint(value.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: malformed coin value %q", ErrNetwork, value.String())
		}
		return balance, nil
	}

	c.logger.DebugContext(ctx, "no coin store on account", "address", address)
	return 0, nil
}

// Submit hands payload to the signer for approval and broadcast.
func (c *Client) Submit(ctx context.Context, payload Payload, signer Signer) (TransactionHandle, error) {
	if signer == nil {
		return TransactionHandle{}, fmt.Errorf("%w: no wallet connected", ErrInvalidArgument)
	}

	start := time.Now()
	handle, err := signer.SignAndSubmit(ctx, payload)
	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordLedgerCall("SignAndSubmit", status, metrics.Since(start))
	}

	if err != nil {
		if errors.Is(err, ErrUserRejected) || errors.Is(err, ErrNetwork) || errors.Is(err, ErrInvalidArgument) {
			return TransactionHandle{}, err
		}
		return TransactionHandle{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if handle.Hash == "" {
		return TransactionHandle{}, fmt.Errorf("%w: wallet returned no transaction hash", ErrNetwork)
	}

	c.logger.InfoContext(ctx, "transaction submitted", "hash", handle.Hash, "function", payload.Function)
	return handle, nil
}

// GetTransaction checks the status of a transaction once. pending is true
// while the node has not committed it, including while it does not know the
// hash yet.
func (c *Client) GetTransaction(ctx context.Context, hash string) (outcome Outcome, pending bool, err error) {
	path := fmt.Sprintf("/transactions/by_hash/%s", url.PathEscape(hash))

	var resp transactionResponse
	err = c.do(ctx, "GetTransaction", http.MethodGet, path, nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return Outcome{Hash: hash}, true, nil
	}
	if err != nil {
		return Outcome{}, false, err
	}
	if resp.Type == pendingTransactionType {
		return Outcome{Hash: hash}, true, nil
	}

	return Outcome{
		Hash:     resp.Hash,
		Success:  resp.Success,
		VMStatus: resp.VMStatus,
		Version:  resp.Version,
	}, false, nil
}

// AwaitConfirmation polls until the transaction is committed. It gives up
// with ErrTimeout after the configured confirmation timeout, or earlier if
// ctx carries a shorter deadline. Transient transport errors are retried
// until then.
func (c *Client) AwaitConfirmation(ctx context.Context, handle TransactionHandle) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	start := time.Now()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		outcome, pending, err := c.GetTransaction(ctx, handle.Hash)
		switch {
		case err == nil && !pending:
			c.recordConfirmation(outcome.Success, start)
			c.logger.InfoContext(ctx, "transaction confirmed",
				"hash", handle.Hash,
				"success", outcome.Success,
				"vm_status", outcome.VMStatus,
			)
			return outcome, nil
		case err != nil && ctx.Err() == nil && !errors.Is(err, ErrNetwork):
			return Outcome{}, err
		case err != nil:
			c.logger.WarnContext(ctx, "transaction status check failed, retrying",
				"hash", handle.Hash,
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			if c.metrics != nil {
				c.metrics.RecordConfirmationWait("timeout", metrics.Since(start))
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Outcome{}, fmt.Errorf("%w: transaction %s not confirmed after %s",
					ErrTimeout, handle.Hash, time.Since(start).Round(time.Millisecond))
			}
			return Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) recordConfirmation(success bool, start time.Time) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	c.metrics.RecordConfirmationWait(status, metrics.Since(start))
}

// do performs one JSON request against the node and decodes the response
// into out. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if c.metrics != nil && c.limiter.Limit() != rate.Inf && c.limiter.Tokens() < 1 {
		c.metrics.RecordRateLimitWait(op)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrNetwork, err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal request: %v", ErrInvalidArgument, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrInvalidArgument, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.DebugContext(ctx, "ledger request", "op", op, "method", method, "path", path)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	status := "success"
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordLedgerCall(op, status, metrics.Since(start))
		}
	}()
	if err != nil {
		status = "error"
		if resp != nil {
			resp.Body.Close()
		}
		c.logger.WarnContext(ctx, "ledger request failed", "op", op, "path", path, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrNetwork, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		status = "error"
		return fmt.Errorf("%w: failed to read response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status = "error"
		if resp.StatusCode == http.StatusNotFound {
			status = "not_found"
		}
		return parseAPIError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		status = "error"
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrNetwork, op, err)
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
	}
	return apiErr
}
