package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Signer approves, signs and broadcasts a payload. Implementations hold the
// user's keys; nothing in this module does.
type Signer interface {
	SignAndSubmit(ctx context.Context, payload Payload) (TransactionHandle, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, payload Payload) (TransactionHandle, error)

func (f SignerFunc) SignAndSubmit(ctx context.Context, payload Payload) (TransactionHandle, error) {
	return f(ctx, payload)
}

// userRejectedCode is the wallet bridge's code for a declined approval.
const userRejectedCode = 4001

// WalletSigner forwards payloads to a local wallet bridge over HTTP. The
// bridge prompts the user and returns the hash of the broadcast transaction.
type WalletSigner struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWalletSigner creates a signer for the wallet bridge at baseURL.
// The request is never retried: a retry could sign twice.
func NewWalletSigner(baseURL string, httpClient *http.Client, logger *slog.Logger) *WalletSigner {
	if httpClient == nil {
		// The user may take a while to approve in the wallet.
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &WalletSigner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type walletResponse struct {
	Hash    string `json:"hash"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SignAndSubmit implements Signer.
func (s *WalletSigner) SignAndSubmit(ctx context.Context, payload Payload) (TransactionHandle, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return TransactionHandle{}, fmt.Errorf("%w: failed to marshal payload: %v", ErrInvalidArgument, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/sign_and_submit", bytes.NewReader(body))
	if err != nil {
		return TransactionHandle{}, fmt.Errorf("%w: failed to create request: %v", ErrInvalidArgument, err)
	}
	req.Header.Set("Content-Type", "application/json")

	s.logger.DebugContext(ctx, "requesting wallet signature", "function", payload.Function)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return TransactionHandle{}, fmt.Errorf("%w: wallet unreachable: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	var out walletResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return TransactionHandle{}, fmt.Errorf("%w: failed to decode wallet response: %v", ErrNetwork, err)
	}

	if out.Code == userRejectedCode {
		s.logger.InfoContext(ctx, "wallet request rejected by user", "function", payload.Function)
		return TransactionHandle{}, ErrUserRejected
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return TransactionHandle{}, fmt.Errorf("%w: wallet returned %d: %s", ErrNetwork, resp.StatusCode, msg)
	}

	return TransactionHandle{Hash: out.Hash}, nil
}
