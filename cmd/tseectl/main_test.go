package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tradesee/cmd/internal/passphrase"
	"tradesee/core/tx"
	"tradesee/crypto"
)

const testPass = "correct horse battery staple"

func stubPassphrase(t *testing.T) {
	t.Helper()
	original := newPassphrase
	newPassphrase = func() *passphrase.Source { return passphrase.Static(testPass) }
	t.Cleanup(func() { newPassphrase = original })
}

func stubRPC(t *testing.T, fn func(method string, params interface{}) (json.RawMessage, *rpcError, error)) {
	t.Helper()
	original := rpcCall
	rpcCall = fn
	t.Cleanup(func() { rpcCall = original })
}

func noRPC(t *testing.T) {
	stubRPC(t, func(method string, _ interface{}) (json.RawMessage, *rpcError, error) {
		t.Fatalf("unexpected RPC call for method %s", method)
		return nil, nil, nil
	})
}

func newKeystore(t *testing.T) (string, [20]byte) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallet.keystore")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"keygen", "--out", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("keygen exit %d: %s", code, stderr.String())
	}
	key, err := crypto.LoadFromKeystore(path, testPass)
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	addr := key.PubKey().Address()
	if !strings.Contains(stdout.String(), addr.String()) {
		t.Fatalf("keygen output missing address: %s", stdout.String())
	}
	return path, addr.Bytes()
}

// signedTx extracts and decodes the Tx line of a dry run.
func signedTx(t *testing.T, out string) *tx.Instruction {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "Tx:"); ok {
			in, err := tx.DecodeHex(strings.TrimSpace(rest))
			if err != nil {
				t.Fatalf("decode tx: %v", err)
			}
			return in
		}
	}
	t.Fatalf("no Tx line in output:\n%s", out)
	return nil
}

func TestUsageAndUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Fatalf("usage not printed: %s", stderr.String())
	}
	stderr.Reset()
	if code := run([]string{"escrow", "bogus"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Unknown escrow subcommand: bogus") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestGlobalFlags(t *testing.T) {
	origEndpoint, origToken := rpcEndpoint, rpcAuthToken
	defer func() { rpcEndpoint, rpcAuthToken = origEndpoint, origToken }()

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:1/rpc", "escrow", "--auth-token=abc", "policy"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if rpcEndpoint != "http://node:1/rpc" || rpcAuthToken != "abc" {
		t.Fatalf("flags not applied: %q %q", rpcEndpoint, rpcAuthToken)
	}
	if strings.Join(rest, " ") != "escrow policy" {
		t.Fatalf("unexpected remaining args %v", rest)
	}
	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatalf("expected error for missing value")
	}
}

func TestKeygenAndAddress(t *testing.T) {
	stubPassphrase(t)
	path, addr := newKeystore(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"address", "--key", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("address exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), crypto.FormatAccount(addr)) {
		t.Fatalf("address output missing bech32: %s", stdout.String())
	}

	stderr.Reset()
	if code := run([]string{"keygen", "--out", path}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected refusal to overwrite, got %d", code)
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	initializer := crypto.FormatAccount([20]byte{0x01})
	id := "0x" + strings.Repeat("ab", 32)
	var first, second, stderr bytes.Buffer
	if code := run([]string{"derive", "--initializer", initializer, "--id", id}, &first, &stderr); code != 0 {
		t.Fatalf("derive exit %d: %s", code, stderr.String())
	}
	if code := run([]string{"derive", "--initializer", initializer, "--id", id}, &second, &stderr); code != 0 {
		t.Fatalf("derive exit %d: %s", code, stderr.String())
	}
	if first.String() != second.String() {
		t.Fatalf("derivation not deterministic:\n%s\n%s", first.String(), second.String())
	}
	if !strings.Contains(first.String(), "tseec1") {
		t.Fatalf("contract address not rendered: %s", first.String())
	}
}

func TestTokenCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := []string{"token", "--secret", "s3cret", "--issuer", "tradesee", "--scopes", "escrow:submit,escrow:read", "--ttl", "5m"}
	if code := run(args, &stdout, &stderr); code != 0 {
		t.Fatalf("token exit %d: %s", code, stderr.String())
	}
	token, err := jwt.Parse(strings.TrimSpace(stdout.String()), func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithIssuer("tradesee"))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	claims := token.Claims.(jwt.MapClaims)
	if claims["scope"] != "escrow:submit escrow:read" {
		t.Fatalf("unexpected scope claim %v", claims["scope"])
	}
}

func TestReleaseDryRunSignsOffline(t *testing.T) {
	stubPassphrase(t)
	noRPC(t)
	path, addr := newKeystore(t)
	contract := crypto.FormatContract([20]byte{0x0c})

	var stdout, stderr bytes.Buffer
	code := run([]string{"escrow", "release", "--key", path, "--contract", contract, "--nonce", "3", "--dry-run"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("release exit %d: %s", code, stderr.String())
	}
	in := signedTx(t, stdout.String())
	if in.Type != tx.TypeRelease || in.Nonce != 3 || in.Contract != [20]byte{0x0c} {
		t.Fatalf("unexpected instruction %+v", in)
	}
	sender, err := in.Sender()
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if sender != addr {
		t.Fatalf("signed by %x, want %x", sender, addr)
	}
}

func TestInitFetchesNonceAndSubmits(t *testing.T) {
	stubPassphrase(t)
	path, addr := newKeystore(t)
	original := escrowNow
	escrowNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { escrowNow = original }()

	var submitted *tx.Instruction
	stubRPC(t, func(method string, params interface{}) (json.RawMessage, *rpcError, error) {
		switch method {
		case "escrow_getNonce":
			return json.RawMessage(`{"address":"x","nonce":4}`), nil, nil
		case "escrow_submit":
			in, err := tx.DecodeHex(params.(map[string]string)["tx"])
			if err != nil {
				t.Fatalf("decode submitted tx: %v", err)
			}
			submitted = in
			return json.RawMessage(`{"hash":"` + in.ID() + `"}`), nil, nil
		default:
			t.Fatalf("unexpected method %s", method)
			return nil, nil, nil
		}
	})

	var stdout, stderr bytes.Buffer
	args := []string{"escrow", "init", "--key", path,
		"--seller", crypto.FormatAccount([20]byte{0x02}),
		"--amount", "500", "--milestones", "2", "--expiry", "+7d", "--auto-release",
		"--id", "0x" + strings.Repeat("01", 32)}
	if code := run(args, &stdout, &stderr); code != 0 {
		t.Fatalf("init exit %d: %s", code, stderr.String())
	}
	if submitted == nil {
		t.Fatalf("nothing submitted")
	}
	if submitted.Type != tx.TypeInitialize || submitted.Nonce != 5 {
		t.Fatalf("unexpected instruction type %s nonce %d", submitted.Type, submitted.Nonce)
	}
	var payload tx.InitializePayload
	if err := submitted.DecodePayload(&payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.AmountExpected != 500 || payload.MilestonesTotal != 2 || !payload.AutoReleaseOnExpiry {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.ExpiryTs != uint64(1_700_000_000+7*24*3600) {
		t.Fatalf("unexpected expiry %d", payload.ExpiryTs)
	}
	if sender, _ := submitted.Sender(); sender != addr {
		t.Fatalf("unexpected signer %x", sender)
	}
	if !strings.Contains(stdout.String(), submitted.ID()) {
		t.Fatalf("result not printed: %s", stdout.String())
	}
}

func TestRejectionIsReported(t *testing.T) {
	stubRPC(t, func(string, interface{}) (json.RawMessage, *rpcError, error) {
		return nil, &rpcError{Code: -32050, Message: "contract not found", Data: json.RawMessage(`{"code":6100}`)}, nil
	})
	var stdout, stderr bytes.Buffer
	if code := run([]string{"escrow", "get", "--contract", "tseec1xyz"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "RPC error -32050") || !strings.Contains(stderr.String(), "6100") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestArgValidation(t *testing.T) {
	noRPC(t)
	cases := map[string][]string{
		"init missing seller": {"escrow", "init", "--amount", "1", "--expiry", "+1h"},
		"init zero amount":    {"escrow", "init", "--seller", crypto.FormatAccount([20]byte{1}), "--amount", "0", "--expiry", "+1h"},
		"init bad expiry":     {"escrow", "init", "--seller", crypto.FormatAccount([20]byte{1}), "--amount", "1", "--expiry", "soon"},
		"trust score range":   {"escrow", "anchor-trust", "--counterparty", crypto.FormatAccount([20]byte{1}), "--score", "1001"},
		"get missing":         {"escrow", "get"},
		"positional":          {"escrow", "release", "extra"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(args, &stdout, &stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d (%s)", code, stderr.String())
			}
		})
	}
}
