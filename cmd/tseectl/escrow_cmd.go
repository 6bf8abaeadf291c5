package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"tradesee/core/tx"
	"tradesee/crypto"
)

var escrowNow = time.Now

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}

	switch args[0] {
	case "init":
		return runEscrowInit(args[1:], stdout, stderr)
	case "deposit":
		return runEscrowDeposit(args[1:], stdout, stderr)
	case "release":
		return runEscrowSimple("escrow release", tx.NewRelease, args[1:], stdout, stderr)
	case "refund":
		return runEscrowSimple("escrow refund", tx.NewRefund, args[1:], stdout, stderr)
	case "milestone":
		return runEscrowSimple("escrow milestone", tx.NewCompleteMilestone, args[1:], stdout, stderr)
	case "set-oracle":
		return runEscrowSetOracle(args[1:], stdout, stderr)
	case "anchor-trust":
		return runEscrowAnchorTrust(args[1:], stdout, stderr)
	case "get":
		return runEscrowQuery("escrow get", "escrow_getContract", args[1:], stdout, stderr)
	case "vault":
		return runEscrowQuery("escrow vault", "escrow_getVault", args[1:], stdout, stderr)
	case "oracle":
		return runEscrowQuery("escrow oracle", "escrow_getOracleFlag", args[1:], stdout, stderr)
	case "events":
		return runEscrowEvents(args[1:], stdout, stderr)
	case "balance":
		return runEscrowBalance(args[1:], stdout, stderr)
	case "policy":
		return call("escrow_getPolicy", nil, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

// signerFlags are shared by every command that submits an instruction.
type signerFlags struct {
	key    string
	nonce  uint64
	dryRun bool
}

func (s *signerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.key, "key", "", "keystore of the signing account")
	fs.Uint64Var(&s.nonce, "nonce", 0, "instruction nonce; fetched from the node when zero")
	fs.BoolVar(&s.dryRun, "dry-run", false, "print the signed instruction without submitting it")
}

func newEscrowFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, escrowUsage())
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

// signAndSubmit resolves the nonce, signs the instruction produced by build and
// submits it unless dry-run is set.
func signAndSubmit(s signerFlags, build func(nonce uint64, signer [20]byte) (*tx.Instruction, error), stdout, stderr io.Writer) int {
	key, err := loadKey(s.key)
	if err != nil {
		return printError(stderr, err.Error())
	}
	signer := key.PubKey().Address().Bytes()
	nonce := s.nonce
	if nonce == 0 {
		next, code := fetchNextNonce(signer, stderr)
		if code != 0 {
			return code
		}
		nonce = next
	}
	in, err := build(nonce, signer)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := in.Sign(key); err != nil {
		return printError(stderr, err.Error())
	}
	encoded, err := in.EncodeHex()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if s.dryRun {
		fmt.Fprintf(stdout, "Type:  %s\nNonce: %d\nHash:  %s\nTx:    %s\n", in.Type, nonce, in.ID(), encoded)
		return 0
	}
	return call("escrow_submit", map[string]string{"tx": encoded}, stdout, stderr)
}

func fetchNextNonce(signer [20]byte, stderr io.Writer) (uint64, int) {
	result, rpcErr, err := rpcCall("escrow_getNonce", map[string]string{"address": crypto.FormatAccount(signer)})
	if err != nil {
		return 0, handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return 0, handleRPCError(stderr, rpcErr)
	}
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, printError(stderr, "decode nonce: "+err.Error())
	}
	return out.Nonce + 1, 0
}

func runEscrowInit(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow init", stderr)
	var (
		signer      signerFlags
		seller      string
		amountStr   string
		milestones  uint
		expiry      string
		autoRelease bool
		docHash     string
		oracles     string
		id          string
	)
	signer.register(fs)
	fs.StringVar(&seller, "seller", "", "seller address")
	fs.StringVar(&amountStr, "amount", "", "expected deposit in base units")
	fs.UintVar(&milestones, "milestones", 1, "number of milestones (1-255)")
	fs.StringVar(&expiry, "expiry", "", "expiry as +duration, RFC3339 or unix seconds")
	fs.BoolVar(&autoRelease, "auto-release", false, "release to the seller at expiry")
	fs.StringVar(&docHash, "doc-hash", "", "optional 0x-prefixed 32-byte document hash")
	fs.StringVar(&oracles, "oracles", "", "comma separated oracle allowlist")
	fs.StringVar(&id, "id", "", "32-byte contract id (hex); random when empty")
	if !parseFlags(fs, args, stderr) {
		return 1
	}

	sellerAddr, err := crypto.ParseAddress(seller)
	if err != nil {
		return printError(stderr, "--seller: "+err.Error())
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if milestones == 0 || milestones > 255 {
		return printError(stderr, "--milestones must be between 1 and 255")
	}
	expiryTs, err := parseExpiry(expiry, escrowNow())
	if err != nil {
		return printError(stderr, err.Error())
	}
	var hash [32]byte
	if strings.TrimSpace(docHash) != "" {
		if hash, err = parseHash32(docHash); err != nil {
			return printError(stderr, "--doc-hash: "+err.Error())
		}
	}
	oracleList, err := parseAddressList(oracles)
	if err != nil {
		return printError(stderr, "--oracles: "+err.Error())
	}
	contractID, err := resolveContractID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}

	payload := tx.InitializePayload{
		ContractID:          contractID,
		Seller:              sellerAddr,
		AmountExpected:      amount,
		MilestonesTotal:     uint8(milestones),
		ExpiryTs:            uint64(expiryTs),
		AutoReleaseOnExpiry: autoRelease,
		DocHash:             hash,
		Oracles:             oracleList,
	}
	return signAndSubmit(signer, func(nonce uint64, from [20]byte) (*tx.Instruction, error) {
		in, err := tx.NewInitialize(nonce, from, payload)
		if err == nil {
			fmt.Fprintf(stderr, "Contract: %s\n", crypto.FormatContract(in.Contract))
		}
		return in, err
	}, stdout, stderr)
}

func runEscrowDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow deposit", stderr)
	var (
		signer    signerFlags
		contract  string
		amountStr string
		mint      string
	)
	signer.register(fs)
	fs.StringVar(&contract, "contract", "", "contract address")
	fs.StringVar(&amountStr, "amount", "", "deposit in base units; must equal the expected amount")
	fs.StringVar(&mint, "mint", "", "source mint; defaults to the node deposit mint")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	contractAddr, err := crypto.ParseAddress(contract)
	if err != nil {
		return printError(stderr, "--contract: "+err.Error())
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(mint) == "" {
		resolved, code := fetchDepositMint(stderr)
		if code != 0 {
			return code
		}
		mint = resolved
	}
	mintAddr, err := crypto.ParseAddress(mint)
	if err != nil {
		return printError(stderr, "--mint: "+err.Error())
	}
	return signAndSubmit(signer, func(nonce uint64, _ [20]byte) (*tx.Instruction, error) {
		return tx.NewDeposit(nonce, contractAddr, mintAddr, amount)
	}, stdout, stderr)
}

func fetchDepositMint(stderr io.Writer) (string, int) {
	result, rpcErr, err := rpcCall("escrow_getPolicy", nil)
	if err != nil {
		return "", handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return "", handleRPCError(stderr, rpcErr)
	}
	var out struct {
		DepositMint string `json:"depositMint"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", printError(stderr, "decode policy: "+err.Error())
	}
	return out.DepositMint, 0
}

func runEscrowSimple(name string, build func(uint64, [20]byte) *tx.Instruction, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet(name, stderr)
	var (
		signer   signerFlags
		contract string
	)
	signer.register(fs)
	fs.StringVar(&contract, "contract", "", "contract address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	contractAddr, err := crypto.ParseAddress(contract)
	if err != nil {
		return printError(stderr, "--contract: "+err.Error())
	}
	return signAndSubmit(signer, func(nonce uint64, _ [20]byte) (*tx.Instruction, error) {
		return build(nonce, contractAddr), nil
	}, stdout, stderr)
}

func runEscrowSetOracle(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow set-oracle", stderr)
	var (
		signer   signerFlags
		contract string
		verified bool
	)
	signer.register(fs)
	fs.StringVar(&contract, "contract", "", "contract address")
	fs.BoolVar(&verified, "verified", false, "shipment verified")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	contractAddr, err := crypto.ParseAddress(contract)
	if err != nil {
		return printError(stderr, "--contract: "+err.Error())
	}
	return signAndSubmit(signer, func(nonce uint64, _ [20]byte) (*tx.Instruction, error) {
		return tx.NewSetOracle(nonce, contractAddr, verified)
	}, stdout, stderr)
}

func runEscrowAnchorTrust(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow anchor-trust", stderr)
	var (
		signer       signerFlags
		counterparty string
		score        uint
	)
	signer.register(fs)
	fs.StringVar(&counterparty, "counterparty", "", "counterparty address")
	fs.UintVar(&score, "score", 0, "trust score (0-1000)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	counterpartyAddr, err := crypto.ParseAddress(counterparty)
	if err != nil {
		return printError(stderr, "--counterparty: "+err.Error())
	}
	if score > 1000 {
		return printError(stderr, "--score must be <= 1000")
	}
	return signAndSubmit(signer, func(nonce uint64, _ [20]byte) (*tx.Instruction, error) {
		return tx.NewAnchorTrust(nonce, counterpartyAddr, uint16(score))
	}, stdout, stderr)
}

func runEscrowQuery(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet(name, stderr)
	var contract string
	fs.StringVar(&contract, "contract", "", "contract address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(contract) == "" {
		return printError(stderr, "--contract is required")
	}
	return call(method, map[string]string{"contract": contract}, stdout, stderr)
}

func runEscrowEvents(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow events", stderr)
	var (
		contract, typ string
		after         int64
		limit         int
	)
	fs.StringVar(&contract, "contract", "", "only events of this contract")
	fs.StringVar(&typ, "type", "", "only events of this type")
	fs.Int64Var(&after, "after", 0, "sequence cursor")
	fs.IntVar(&limit, "limit", 0, "maximum number of events")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	params := map[string]interface{}{}
	if contract != "" {
		params["contract"] = contract
	}
	if typ != "" {
		params["type"] = typ
	}
	if after > 0 {
		params["after"] = after
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return call("escrow_events", params, stdout, stderr)
}

func runEscrowBalance(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow balance", stderr)
	var owner, mint string
	fs.StringVar(&owner, "owner", "", "holder address")
	fs.StringVar(&mint, "mint", "", "mint; defaults to the deposit mint")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(owner) == "" {
		return printError(stderr, "--owner is required")
	}
	params := map[string]string{"owner": owner}
	if mint != "" {
		params["mint"] = mint
	}
	return call("escrow_getBalance", params, stdout, stderr)
}

func escrowUsage() string {
	return strings.TrimSpace(`Usage:
  tseectl escrow <command> [flags]

Commands:
  init          Create a contract and its vault
  deposit       Fund the vault with the expected amount
  release       Pay the vault out to the seller
  refund        Return the vault to the initializer after expiry
  milestone     Mark the next milestone complete
  set-oracle    Record a shipment attestation
  anchor-trust  Anchor a counterparty trust score
  get           Show a contract
  vault         Show a contract vault
  oracle        Show the shipment attestation of a contract
  events        List indexed events
  balance       Show a token balance
  policy        Show the node policy
`)
}

func parseAmount(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--amount is required")
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil || amount == 0 {
		return 0, fmt.Errorf("--amount must be a positive integer in base units")
	}
	return amount, nil
}

func parseExpiry(value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--expiry is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, fmt.Errorf("expiry duration must be positive")
		}
		return now.Add(dur).Unix(), nil
	}
	if ts, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if ts <= 0 {
			return 0, fmt.Errorf("expiry must be positive")
		}
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid expiry; use +duration, RFC3339 or unix seconds")
	}
	return ts.Unix(), nil
}

func parseDuration(value string) (time.Duration, error) {
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		daysStr := strings.TrimSuffix(strings.TrimSuffix(value, "d"), "D")
		days, err := strconv.ParseFloat(daysStr, 64)
		if err != nil || daysStr == "" {
			return 0, fmt.Errorf("invalid expiry duration")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid expiry duration")
	}
	return dur, nil
}

func parseHash32(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return out, fmt.Errorf("must be 0x-prefixed")
	}
	b, err := hex.DecodeString(trimmed[2:])
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseAddressList(value string) ([][20]byte, error) {
	var out [][20]byte
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := crypto.ParseAddress(part)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", part, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
