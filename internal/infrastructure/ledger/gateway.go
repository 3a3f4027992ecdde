// Package ledger talks to the attestation gateway, an HTTP facade in
// front of the ledger network. The gateway owns keys, signing, and
// consensus details; this client only moves transactions and queries.
package ledger

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

	"NewsAgency/internal/config"
	"NewsAgency/internal/ports"
)

// GatewayClient implements ports.Ledger over the gateway's JSON API.
type GatewayClient struct {
	baseURL string
	wallet  string
	http    *http.Client
}

var _ ports.Ledger = (*GatewayClient)(nil)

// NewGatewayClient creates a reusable HTTP client for the gateway.
func NewGatewayClient(cfg config.LedgerConfig) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimSuffix(cfg.GatewayURL, "/"),
		wallet:  cfg.WalletAddress,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// EstimateCost asks the gateway to estimate the transaction cost.
func (c *GatewayClient) EstimateCost(ctx context.Context, tx ports.LedgerTx) (uint64, error) {
	var resp struct {
		Cost uint64 `json:"cost"`
	}
	if err := c.post(ctx, "/estimate", estimateRequest{Tx: tx, From: c.wallet}, &resp); err != nil {
		return 0, fmt.Errorf("estimate cost: %w", err)
	}
	return resp.Cost, nil
}

// Submit sends a write transaction to the gateway.
func (c *GatewayClient) Submit(ctx context.Context, tx ports.LedgerTx) (ports.LedgerReceipt, error) {
	var receipt ports.LedgerReceipt
	if err := c.post(ctx, "/submit", estimateRequest{Tx: tx, From: c.wallet}, &receipt); err != nil {
		return ports.LedgerReceipt{}, fmt.Errorf("submit transaction: %w", err)
	}
	return receipt, nil
}

// Call executes a read-only query.
func (c *GatewayClient) Call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	payload := map[string]any{"method": method, "args": args}
	if err := c.post(ctx, "/call", payload, &resp); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return resp.Result, nil
}

// WaitForConfirmation polls the gateway for the transaction receipt.
func (c *GatewayClient) WaitForConfirmation(ctx context.Context, txRef string, timeout time.Duration) (ports.LedgerReceipt, error) {
	waitURL := c.baseURL + "/tx/" + url.PathEscape(txRef) +
		"?timeout_seconds=" + strconv.Itoa(int(timeout.Seconds()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, waitURL, nil)
	if err != nil {
		return ports.LedgerReceipt{}, fmt.Errorf("new request: %w", err)
	}

	client := *c.http
	if timeout > client.Timeout {
		client.Timeout = timeout + 5*time.Second
	}

	resp, err := client.Do(req)
	if err != nil {
		return ports.LedgerReceipt{}, fmt.Errorf("wait for %s: %w", txRef, wrapTransportErr(err))
	}
	defer resp.Body.Close()

	if err := statusToErr(resp.StatusCode); err != nil {
		return ports.LedgerReceipt{}, fmt.Errorf("wait for %s: %w", txRef, err)
	}

	var receipt ports.LedgerReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return ports.LedgerReceipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return receipt, nil
}

type estimateRequest struct {
	Tx   ports.LedgerTx `json:"tx"`
	From string         `json:"from,omitempty"`
}

func (c *GatewayClient) post(ctx context.Context, path string, payload, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransportErr(err)
	}
	defer resp.Body.Close()

	if err := statusToErr(resp.StatusCode); err != nil {
		return err
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusToErr maps gateway HTTP statuses onto the shared failure classes.
func statusToErr(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ports.ErrConfirmTimeout
	case code == http.StatusUnprocessableEntity:
		return ports.ErrTxReverted
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway:
		return ports.ErrLedgerUnavailable
	default:
		return fmt.Errorf("gateway returned status %d", code)
	}
}

func wrapTransportErr(err error) error {
	return fmt.Errorf("%w: %v", ports.ErrLedgerUnavailable, err)
}
