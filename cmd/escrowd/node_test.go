package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"tradesee/config"
	"tradesee/crypto"
)

func TestNodeServesGenesisBalance(t *testing.T) {
	owner := [20]byte{0x11}
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Genesis = []config.GenesisAllocation{{Owner: crypto.FormatAccount(owner), Amount: 250}}

	n, err := newNode(cfg, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer n.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "escrow_getBalance",
		"params":  []interface{}{map[string]string{"owner": crypto.FormatAccount(owner)}},
	})
	rec := httptest.NewRecorder()
	n.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result struct {
			Balance string `json:"balance"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Balance != "250" {
		t.Fatalf("unexpected balance %q", resp.Result.Balance)
	}
}

func TestNodeReopenKeepsGenesis(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Genesis = []config.GenesisAllocation{{Owner: crypto.FormatAccount([20]byte{0x22}), Amount: 10}}

	n, err := newNode(cfg, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	n.Close()

	n, err = newNode(cfg, nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	bal, err := n.processor.State().Balance(config.DefaultDepositMint(), [20]byte{0x22})
	n.Close()
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 10 {
		t.Fatalf("genesis applied twice or lost: balance %d", bal)
	}

	cfg.Genesis[0].Amount = 11
	if _, err := newNode(cfg, nil); err == nil {
		t.Fatalf("expected mismatched genesis to fail")
	}
}

func TestOpenDatabaseMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Database = config.DatabaseMemory
	cfg.Indexer.Path = ":memory:"
	cfg.DataDir = filepath.Join(t.TempDir(), "unused")
	n, err := newNode(cfg, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	n.Close()
}
