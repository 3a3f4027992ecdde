// Package attest computes article fingerprints and records them on an
// external tamper-evident ledger. Every ledger failure is absorbed into a
// structured result; the pipeline never fails because attestation did.
package attest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"NewsAgency/internal/config"
	"NewsAgency/internal/ports"
)

// FailureKind classifies a failed submission.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureUnavailable FailureKind = "connection_unavailable"
	FailureEstimation  FailureKind = "estimation_failed"
	FailureReverted    FailureKind = "transaction_reverted"
	FailureTimeout     FailureKind = "timeout"
)

// Result is the outcome of one attestation attempt. Digests are always
// populated (they are computed locally); Stored is true only when the
// ledger confirmed the write.
type Result struct {
	Stored      bool
	Digests     Digests
	TxRef       string
	ExternalID  string
	BlockNumber uint64
	Network     string
	ExplorerURL string
	Failure     FailureKind
	Error       string
}

// Status is the health probe result. It is always well-formed; failures
// set Connected=false and Error.
type Status struct {
	Connected     bool    `json:"connected"`
	Network       string  `json:"network"`
	LatestBlock   uint64  `json:"latest_block,omitempty"`
	Balance       float64 `json:"balance,omitempty"`
	TotalArticles int     `json:"total_articles_on_chain,omitempty"`
	Wallet        string  `json:"wallet_address,omitempty"`
	Contract      string  `json:"contract_address,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Client wraps a ports.Ledger with digest computation, field truncation,
// and cost estimation fallback.
type Client struct {
	ledger ports.Ledger
	cfg    config.LedgerConfig
	logger *slog.Logger
}

// NewClient wires the ledger adapter with its configuration.
func NewClient(ledger ports.Ledger, cfg config.LedgerConfig, logger *slog.Logger) *Client {
	return &Client{ledger: ledger, cfg: cfg, logger: logger}
}

// Submit attests one article: compute digests, estimate the transaction
// cost (ceiling fallback), submit, and wait for confirmation. Failures
// degrade to Stored=false. Digests cover the full untruncated fields so
// identical digests mean identical content; the byte caps apply only to
// the ledger submission.
func (c *Client) Submit(ctx context.Context, a ArticleData) Result {
	trimmed := capped(a)
	result := Result{
		Digests: ComputeDigests(a),
		Network: c.cfg.Network,
	}

	if c.ledger == nil {
		return c.fail(result, FailureUnavailable, errors.New("ledger not configured"))
	}

	tx := ports.LedgerTx{
		Method: "storeArticleHash",
		Args: map[string]any{
			"title":              trimmed.Title,
			"content":            trimmed.Content,
			"summary":            trimmed.Summary,
			"source":             trimmed.Source,
			"original_link":      trimmed.Link,
			"tags":               trimmed.Tags,
			"authenticity_score": scorePercent(trimmed.Score),
		},
	}

	cost := c.estimateCost(ctx, tx)
	tx.Args["cost_limit"] = cost

	receipt, err := c.ledger.Submit(ctx, tx)
	if err != nil {
		return c.fail(result, classify(err), err)
	}
	result.TxRef = receipt.TxRef

	timeout := time.Duration(c.cfg.ConfirmTimeout) * time.Second
	confirmed, err := c.ledger.WaitForConfirmation(ctx, receipt.TxRef, timeout)
	if err != nil {
		return c.fail(result, classify(err), err)
	}
	if confirmed.Status != 1 {
		return c.fail(result, FailureReverted, fmt.Errorf("transaction %s reverted", receipt.TxRef))
	}

	result.Stored = true
	result.ExternalID = confirmed.RecordID
	result.BlockNumber = confirmed.BlockNumber
	result.ExplorerURL = c.explorerURL(confirmed.TxRef)
	if confirmed.TxRef != "" {
		result.TxRef = confirmed.TxRef
	}
	return result
}

// Verify looks up a content digest on the ledger.
func (c *Client) Verify(ctx context.Context, contentDigest string) (exists bool, externalID string, err error) {
	if c.ledger == nil {
		return false, "", ports.ErrLedgerUnavailable
	}

	raw, err := c.ledger.Call(ctx, "verifyArticleByHash", map[string]any{
		"content_hash": strings.TrimPrefix(contentDigest, "0x"),
	})
	if err != nil {
		return false, "", fmt.Errorf("verify digest: %w", err)
	}

	var out struct {
		Exists    bool   `json:"exists"`
		ArticleID string `json:"article_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, "", fmt.Errorf("decode verify result: %w", err)
	}
	if !out.Exists {
		return false, "", nil
	}
	return true, out.ArticleID, nil
}

// ProbeStatus checks the ledger connection. It never returns an error.
func (c *Client) ProbeStatus(ctx context.Context) Status {
	status := Status{Network: c.cfg.Network, Wallet: c.cfg.WalletAddress, Contract: c.cfg.ContractAddress}

	if c.ledger == nil {
		status.Error = "ledger not configured"
		return status
	}

	raw, err := c.ledger.Call(ctx, "status", nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	var probe struct {
		LatestBlock   uint64  `json:"latest_block"`
		Balance       float64 `json:"balance"`
		TotalArticles int     `json:"total_articles"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		status.Error = fmt.Sprintf("decode status: %v", err)
		return status
	}

	status.Connected = true
	status.LatestBlock = probe.LatestBlock
	status.Balance = probe.Balance
	status.TotalArticles = probe.TotalArticles
	return status
}

func (c *Client) estimateCost(ctx context.Context, tx ports.LedgerTx) uint64 {
	estimate, err := c.ledger.EstimateCost(ctx, tx)
	if err != nil {
		c.debug("cost estimation failed, using ceiling", "ceiling", c.cfg.CostCeiling, "error", err)
		return c.cfg.CostCeiling
	}
	cost := estimate + c.cfg.CostBuffer
	if cost > c.cfg.CostCeiling {
		cost = c.cfg.CostCeiling
	}
	return cost
}

func (c *Client) explorerURL(txRef string) string {
	if c.cfg.ExplorerURL == "" || txRef == "" {
		return ""
	}
	return strings.TrimSuffix(c.cfg.ExplorerURL, "/") + "/tx/" + txRef
}

func (c *Client) fail(result Result, kind FailureKind, err error) Result {
	result.Stored = false
	result.Failure = kind
	result.Error = err.Error()
	c.debug("attestation failed", "kind", kind, "error", err)
	return result
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, ports.ErrLedgerUnavailable):
		return FailureUnavailable
	case errors.Is(err, ports.ErrTxReverted):
		return FailureReverted
	case errors.Is(err, ports.ErrConfirmTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	default:
		return FailureUnavailable
	}
}
