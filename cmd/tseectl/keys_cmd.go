package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tradesee/cmd/internal/passphrase"
	"tradesee/crypto"
	"tradesee/native/escrow"
	"tradesee/rpc"
	"tradesee/rpc/middleware"
)

// newPassphrase is swapped by tests.
var newPassphrase = func() *passphrase.Source {
	return passphrase.NewSource(keystorePassEnv, "keystore passphrase")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var (
		out       string
		overwrite bool
	)
	fs.StringVar(&out, "out", "wallet.keystore", "keystore output path")
	fs.BoolVar(&overwrite, "overwrite", false, "replace an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pass, err := newPassphrase().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(out, key, pass, overwrite); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Address:  %s\nKeystore: %s\n", key.PubKey().Address(), out)
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--key is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	pass, err := newPassphrase().Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var keyPath string
	fs.StringVar(&keyPath, "key", "", "keystore path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr := key.PubKey().Address()
	raw := addr.Bytes()
	fmt.Fprintf(stdout, "%s\n0x%s\n", addr, hex.EncodeToString(raw[:]))
	return 0
}

func runDerive(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("derive", stderr)
	var initializer, id string
	fs.StringVar(&initializer, "initializer", "", "initializer address")
	fs.StringVar(&id, "id", "", "32-byte contract id (hex); random when empty")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	initAddr, err := crypto.ParseAddress(initializer)
	if err != nil {
		return printError(stderr, "--initializer: "+err.Error())
	}
	contractID, err := resolveContractID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	contract := escrow.DeriveContractAddress(initAddr, contractID)
	fmt.Fprintf(stdout, "Contract ID: 0x%s\nContract:    %s\nVault:       %s\n",
		hex.EncodeToString(contractID[:]),
		crypto.FormatContract(contract),
		crypto.FormatContract(escrow.DeriveVaultAddress(contract)))
	return 0
}

func resolveContractID(raw string) ([32]byte, error) {
	if strings.TrimSpace(raw) == "" {
		var id [32]byte
		_, err := rand.Read(id[:])
		return id, err
	}
	id, err := rpc.ParseContractID(raw)
	if err != nil {
		return id, fmt.Errorf("--id: %w", err)
	}
	return id, nil
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		secret, issuer, audience, subject, scopes string
		ttl                                       time.Duration
	)
	fs.StringVar(&secret, "secret", os.Getenv("TSEE_AUTH_SECRET"), "HMAC secret (defaults to TSEE_AUTH_SECRET)")
	fs.StringVar(&issuer, "issuer", "", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.StringVar(&subject, "subject", "operator", "token subject")
	fs.StringVar(&scopes, "scopes", middleware.ScopeSubmit, "comma separated scopes")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var list []string
	for _, s := range strings.Split(scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	token, err := middleware.IssueToken(secret, issuer, audience, subject, list, ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}
