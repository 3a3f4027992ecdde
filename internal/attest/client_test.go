package attest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"NewsAgency/internal/config"
	"NewsAgency/internal/ports"
)

type fakeLedger struct {
	estimateErr error
	estimate    uint64
	submitErr   error
	submitTx    ports.LedgerTx
	receipt     ports.LedgerReceipt
	confirmErr  error
	confirmed   ports.LedgerReceipt
	callErr     error
	callResult  json.RawMessage
}

func (f *fakeLedger) EstimateCost(ctx context.Context, tx ports.LedgerTx) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeLedger) Submit(ctx context.Context, tx ports.LedgerTx) (ports.LedgerReceipt, error) {
	f.submitTx = tx
	return f.receipt, f.submitErr
}

func (f *fakeLedger) Call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	return f.callResult, f.callErr
}

func (f *fakeLedger) WaitForConfirmation(ctx context.Context, txRef string, timeout time.Duration) (ports.LedgerReceipt, error) {
	return f.confirmed, f.confirmErr
}

func testCfg() config.LedgerConfig {
	return config.LedgerConfig{
		Network:        "bsc_testnet",
		ExplorerURL:    "https://testnet.bscscan.com",
		CostCeiling:    500000,
		CostBuffer:     50000,
		ConfirmTimeout: 1,
	}
}

func sampleArticle() ArticleData {
	return ArticleData{
		Title:   "Sample Title",
		Content: "Body of the generated article.",
		Summary: "Short summary.",
		Source:  "https://example.org/feed",
		Link:    "https://example.org/story",
		Tags:    "world,economy",
		Score:   0.75,
	}
}

func TestComputeDigestsDeterministic(t *testing.T) {
	t.Parallel()

	a := sampleArticle()
	first := ComputeDigests(a)
	second := ComputeDigests(a)

	if first != second {
		t.Fatalf("digests not deterministic: %+v vs %+v", first, second)
	}
	if len(first.Content) != 64 || len(first.Metadata) != 64 {
		t.Fatalf("expected sha256 hex digests, got %+v", first)
	}
}

func TestComputeDigestsFieldSensitivity(t *testing.T) {
	t.Parallel()

	base := ComputeDigests(sampleArticle())

	mutations := map[string]ArticleData{}
	a := sampleArticle()
	a.Title = "Other Title"
	mutations["title"] = a
	a = sampleArticle()
	a.Content = "different body"
	mutations["content"] = a
	a = sampleArticle()
	a.Summary = "different summary"
	mutations["summary"] = a

	for field, mutated := range mutations {
		got := ComputeDigests(mutated)
		if got.Content == base.Content {
			t.Fatalf("changing %s did not change content digest", field)
		}
	}

	a = sampleArticle()
	a.Source = "other-source"
	if ComputeDigests(a).Metadata == base.Metadata {
		t.Fatal("changing source did not change metadata digest")
	}
	a = sampleArticle()
	a.Score = 0.5
	if ComputeDigests(a).Metadata == base.Metadata {
		t.Fatal("changing score did not change metadata digest")
	}
}

func TestSubmitDigestsCoverFullContent(t *testing.T) {
	t.Parallel()

	first := sampleArticle()
	first.Content = strings.Repeat("c", maxContentBytes) + " tail one"
	second := sampleArticle()
	second.Content = strings.Repeat("c", maxContentBytes) + " tail two"

	ledger := &fakeLedger{
		receipt:   ports.LedgerReceipt{TxRef: "0xabc"},
		confirmed: ports.LedgerReceipt{TxRef: "0xabc", Status: 1},
	}
	client := NewClient(ledger, testCfg(), nil)

	a := client.Submit(context.Background(), first)
	b := client.Submit(context.Background(), second)

	if a.Digests.Content == b.Digests.Content {
		t.Fatal("articles differing past the byte cap must get distinct content digests")
	}
	if a.Digests != ComputeDigests(first) {
		t.Fatal("submit digests must match the digests of the untruncated input")
	}
	// The ledger payload itself stays capped.
	if got := ledger.submitTx.Args["content"].(string); len(got) != maxContentBytes {
		t.Fatalf("submitted content not capped: %d bytes", len(got))
	}
}

func TestCappedTruncatesOversizedFields(t *testing.T) {
	t.Parallel()

	a := sampleArticle()
	a.Title = strings.Repeat("t", 1000)
	a.Content = strings.Repeat("c", 1000)
	a.Summary = strings.Repeat("s", 1000)
	a.Source = strings.Repeat("o", 1000)
	a.Link = strings.Repeat("l", 1000)
	a.Tags = strings.Repeat("g", 1000)

	got := capped(a)
	checks := []struct {
		name string
		val  string
		max  int
	}{
		{"title", got.Title, maxTitleBytes},
		{"content", got.Content, maxContentBytes},
		{"summary", got.Summary, maxSummaryBytes},
		{"source", got.Source, maxSourceBytes},
		{"link", got.Link, maxLinkBytes},
		{"tags", got.Tags, maxTagsBytes},
	}
	for _, c := range checks {
		if len(c.val) != c.max {
			t.Fatalf("%s not capped: %d bytes", c.name, len(c.val))
		}
	}
}

func TestTruncateBytesKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", 200) // 2 bytes each
	got := truncateBytes(s, 301)
	if len(got) != 300 {
		t.Fatalf("expected 300 bytes, got %d", len(got))
	}
	if !strings.HasSuffix(got, "é") {
		t.Fatal("truncation split a rune")
	}
}

func TestSubmitSuccess(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{
		estimate:  100000,
		receipt:   ports.LedgerReceipt{TxRef: "0xabc"},
		confirmed: ports.LedgerReceipt{TxRef: "0xabc", Status: 1, RecordID: "42", BlockNumber: 777},
	}
	client := NewClient(ledger, testCfg(), nil)

	result := client.Submit(context.Background(), sampleArticle())

	if !result.Stored {
		t.Fatalf("expected stored result, got %+v", result)
	}
	if result.TxRef != "0xabc" || result.ExternalID != "42" || result.BlockNumber != 777 {
		t.Fatalf("unexpected receipt fields: %+v", result)
	}
	if result.ExplorerURL != "https://testnet.bscscan.com/tx/0xabc" {
		t.Fatalf("unexpected explorer url: %s", result.ExplorerURL)
	}
	if got := ledger.submitTx.Args["cost_limit"]; got != uint64(150000) {
		t.Fatalf("expected estimate+buffer cost, got %v", got)
	}
}

func TestSubmitEstimationFailureFallsBackToCeiling(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{
		estimateErr: errors.New("estimation refused"),
		receipt:     ports.LedgerReceipt{TxRef: "0xdef"},
		confirmed:   ports.LedgerReceipt{TxRef: "0xdef", Status: 1},
	}
	client := NewClient(ledger, testCfg(), nil)

	result := client.Submit(context.Background(), sampleArticle())

	if !result.Stored {
		t.Fatalf("estimation failure must not fail the submission: %+v", result)
	}
	if got := ledger.submitTx.Args["cost_limit"]; got != uint64(500000) {
		t.Fatalf("expected ceiling fallback, got %v", got)
	}
}

func TestSubmitFailureClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		ledger    *fakeLedger
		wantKind  FailureKind
		wantTxRef string
	}{
		{
			name:     "unavailable",
			ledger:   &fakeLedger{submitErr: ports.ErrLedgerUnavailable},
			wantKind: FailureUnavailable,
		},
		{
			name:     "reverted error",
			ledger:   &fakeLedger{submitErr: ports.ErrTxReverted},
			wantKind: FailureReverted,
		},
		{
			name: "confirmation timeout",
			ledger: &fakeLedger{
				receipt:    ports.LedgerReceipt{TxRef: "0x1"},
				confirmErr: ports.ErrConfirmTimeout,
			},
			wantKind:  FailureTimeout,
			wantTxRef: "0x1",
		},
		{
			name: "reverted receipt",
			ledger: &fakeLedger{
				receipt:   ports.LedgerReceipt{TxRef: "0x2"},
				confirmed: ports.LedgerReceipt{TxRef: "0x2", Status: 0},
			},
			wantKind:  FailureReverted,
			wantTxRef: "0x2",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := NewClient(tc.ledger, testCfg(), nil)
			result := client.Submit(context.Background(), sampleArticle())

			if result.Stored {
				t.Fatalf("expected failure, got %+v", result)
			}
			if result.Failure != tc.wantKind {
				t.Fatalf("expected kind %s, got %s", tc.wantKind, result.Failure)
			}
			if result.TxRef != tc.wantTxRef {
				t.Fatalf("expected tx ref %q, got %q", tc.wantTxRef, result.TxRef)
			}
			if result.Digests.Content == "" {
				t.Fatal("digests must be computed even on failure")
			}
			if result.Error == "" {
				t.Fatal("failure must carry an error description")
			}
		})
	}
}

func TestSubmitWithoutLedger(t *testing.T) {
	t.Parallel()

	client := NewClient(nil, testCfg(), nil)
	result := client.Submit(context.Background(), sampleArticle())

	if result.Stored || result.Failure != FailureUnavailable {
		t.Fatalf("expected unavailable failure, got %+v", result)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{callResult: json.RawMessage(`{"exists":true,"article_id":"9"}`)}
	client := NewClient(ledger, testCfg(), nil)

	exists, id, err := client.Verify(context.Background(), "0xdeadbeef")
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if !exists || id != "9" {
		t.Fatalf("unexpected verify result: exists=%v id=%s", exists, id)
	}
}

func TestProbeStatusNeverErrors(t *testing.T) {
	t.Parallel()

	down := NewClient(&fakeLedger{callErr: errors.New("connection refused")}, testCfg(), nil)
	status := down.ProbeStatus(context.Background())
	if status.Connected {
		t.Fatal("expected disconnected status")
	}
	if status.Error == "" {
		t.Fatal("expected error description")
	}
	if status.Network != "bsc_testnet" {
		t.Fatalf("status must keep network info, got %+v", status)
	}

	up := NewClient(&fakeLedger{
		callResult: json.RawMessage(`{"latest_block":123,"balance":0.5,"total_articles":7}`),
	}, testCfg(), nil)
	status = up.ProbeStatus(context.Background())
	if !status.Connected || status.LatestBlock != 123 || status.TotalArticles != 7 {
		t.Fatalf("unexpected status: %+v", status)
	}
}
