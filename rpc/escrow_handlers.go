package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"tradesee/core"
	"tradesee/core/tx"
	"tradesee/crypto"
	"tradesee/indexer"
	"tradesee/native/escrow"
	"tradesee/rpc/middleware"
)

type submitParams struct {
	Tx string `json:"tx"`
}

type contractParams struct {
	Contract string `json:"contract"`
}

type trustParams struct {
	Authority    string `json:"authority"`
	Counterparty string `json:"counterparty"`
}

type balanceParams struct {
	Owner string `json:"owner"`
	Mint  string `json:"mint,omitempty"`
}

type addressParams struct {
	Address string `json:"address"`
}

type eventsParams struct {
	Contract string `json:"contract,omitempty"`
	Type     string `json:"type,omitempty"`
	After    int64  `json:"after,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type deriveParams struct {
	Initializer string `json:"initializer"`
	ContractID  string `json:"contractId"`
}

func decodeParam(req *RPCRequest, out interface{}) *httpError {
	if len(req.Params) != 1 {
		return newHTTPError(http.StatusBadRequest, codeInvalidParams, "expected a single params object", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return newHTTPError(http.StatusBadRequest, codeInvalidParams, "invalid params", err.Error())
	}
	return nil
}

func parseAddressParam(field, raw string) ([20]byte, *httpError) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, newHTTPError(http.StatusBadRequest, codeInvalidParams, fmt.Sprintf("invalid %s", field), err.Error())
	}
	return addr, nil
}

func serverError(err error) *httpError {
	return newHTTPError(http.StatusInternalServerError, codeServerError, "internal error", err.Error())
}

// rejection maps an instruction failure to its JSON-RPC error. Escrow errors
// keep their numeric code in the data object.
func rejection(err error) *httpError {
	if code, ok := escrow.CodeOf(err); ok {
		return newHTTPError(http.StatusBadRequest, codeRejected, code.Msg, EscrowErrorData{
			Code:   code.Code,
			Name:   code.Name,
			Detail: err.Error(),
		})
	}
	if errors.Is(err, tx.ErrMalformedSigned) {
		return newHTTPError(http.StatusBadRequest, codeInvalidParams, "malformed transaction", err.Error())
	}
	return serverError(err)
}

func (s *Server) handleSubmit(ctx context.Context, req *RPCRequest) (interface{}, *httpError) {
	if s.auth.Enabled() && !middleware.HasScope(ctx, middleware.ScopeSubmit) {
		return nil, newHTTPError(http.StatusUnauthorized, codeUnauthorized, "submit requires scope "+middleware.ScopeSubmit, nil)
	}
	var params submitParams
	if herr := decodeParam(req, &params); herr != nil {
		return nil, herr
	}
	if strings.TrimSpace(params.Tx) == "" {
		return nil, newHTTPError(http.StatusBadRequest, codeInvalidParams, "tx required", nil)
	}
	in, err := tx.DecodeHex(params.Tx)
	if err != nil {
		return nil, rejection(err)
	}
	hash := in.ID()
	if !s.rememberTx(hash, s.nowFn()) {
		return nil, newHTTPError(http.StatusConflict, codeDuplicateTx, "transaction already seen", hash)
	}
	receipt, err := s.proc.Submit(ctx, in)
	if err != nil {
		// A rejected instruction did not consume its nonce, so the same bytes
		// may become valid later.
		s.forgetTx(hash)
		if core.IsRejection(err) {
			return nil, rejection(err)
		}
		s.logger.Error("escrow submit failed", slog.String("id", hash), slog.Any("error", err))
		return nil, serverError(err)
	}
	return SubmitResult{Hash: hash, Receipt: receipt}, nil
}

func (s *Server) handleGetContract(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params contractParams
	if herr := decodeParam(req, &params); herr != nil {
		return nil, herr
	}
	addr, herr := parseAddressParam("contract", params.Contract)
	if herr != nil {
		return nil, herr
	}
	mgr := s.proc.State()
	c, ok, err := mgr.Contract(addr)
	if err != nil {
		return nil, serverError(err)
	}
	if !ok {
		return nil, rejection(escrow.ErrContractNotFound)
	}
	balance, err := mgr.Balance(c.DepositMint, c.EscrowVault)
	if err != nil {
		return nil, serverError(err)
	}
	return formatContract(c, balance, s.proc.Engine().Now()), nil
}

func (s *Server) handleGetVault(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params contractParams
	if herr := decodeParam(req, &params); herr != nil {
		return nil, herr
	}
	addr, herr := parseAddressParam("contract", params.Contract)
	if herr != nil {
		return nil, herr
	}
	mgr := s.proc.State()
	v, ok, err := mgr.Vault(escrow.DeriveVaultAddress(addr))
	if err != nil {
		return nil, serverError(err)
	}
	if !ok {
		return nil, rejection(escrow.ErrContractNotFound)
	}
	balance, err := mgr.Balance(v.Mint, v.Address)
	if err != nil {
		return nil, serverError(err)
	}
	return VaultResult{
		Address:  crypto.FormatContract(v.Address),
		Contract: crypto.FormatContract(v.Contract),
		Mint:     crypto.FormatAccount(v.Mint),
		Balance:  fmt.Sprintf("%d", balance),
	}, nil
}

func (s *Server) handleGetOracleFlag(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params contractParams
	if herr := decodeParam(req, &params); herr != nil {
		return nil, herr
	}
	addr, herr := parseAddressParam("contract", params.Contract)
	if herr != nil {
		return nil, herr
	}
	flag, ok, err := s.proc.State().OracleFlag(addr)
	if err != nil {
		return nil, serverError(err)
	}
	if !ok {
		return nil, nil
	}
	return OracleFlagResult{
		Contract:         crypto.FormatContract(flag.Contract),
		ShipmentVerified: flag.ShipmentVerified,
		UpdatedBy:        crypto.FormatAccount(flag.UpdatedBy),
		UpdatedAt:        flag.UpdatedAt,
	}, nil
}

func (s *Server) handleGetTrustScore(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params trustParams
	if herr := decodeParam(req, &params); herr != nil {
		return nil, herr
	}
	authority, herr := parseAddressParam("authority", params.Authority)
	if herr != nil {
		return nil, herr
	}
	counterparty, herr := parseAddressParam("counterparty", params.Counterparty)
	if herr != nil {
		return nil, herr
	}
	ts, ok, err := s.proc.State().TrustScore(authority, counterparty)
	if err != nil {
		return nil, serverError(err)
	}
	if !ok {
		return nil, nil
	}
	return TrustScoreResult{
		Authority:    crypto.FormatAccount(ts.Authority),
		Counterparty: crypto.FormatAccount(ts.Counterparty),
		Score:        ts.Score,
		UpdatedAt:    ts.UpdatedAt,
	}, nil
}

func (s *Server) handleGetBalance(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params balanceParams
	if herr := decodeParam(req, &params); herr != nil {
		return nil, herr
	}
	owner, herr := parseAddressParam("owner", params.Owner)
	if herr != nil {
		return nil, herr
	}
	mint := s.proc.Engine().DepositMint()
	if strings.TrimSpace(params.Mint) != "" {
		if mint, herr = parseAddressParam("mint", params.Mint); herr != nil {
			return nil, herr
		}
	}
	balance, err := s.proc.State().Balance(mint, owner)
	if err != nil {
		return nil, serverError(err)
	}
	return BalanceResult{
		Owner:   crypto.FormatAccount(owner),
		Mint:    crypto.FormatAccount(mint),
		Balance: fmt.Sprintf("%d", balance),
	}, nil
}

func (s *Server) handleGetNonce(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params addressParams
	if herr := decodeParam(req, &params); herr != nil {
		return nil, herr
	}
	addr, herr := parseAddressParam("address", params.Address)
	if herr != nil {
		return nil, herr
	}
	nonce, err := s.proc.State().Nonce(addr)
	if err != nil {
		return nil, serverError(err)
	}
	return NonceResult{Address: crypto.FormatAccount(addr), Nonce: nonce}, nil
}

func (s *Server) handleEvents(ctx context.Context, req *RPCRequest) (interface{}, *httpError) {
	if s.events == nil {
		return nil, newHTTPError(http.StatusServiceUnavailable, codeServerError, "event index disabled", nil)
	}
	var params eventsParams
	if len(req.Params) > 0 {
		if herr := decodeParam(req, &params); herr != nil {
			return nil, herr
		}
	}
	filter := indexer.Filter{Type: params.Type, After: params.After, Limit: params.Limit}
	if strings.TrimSpace(params.Contract) != "" {
		addr, herr := parseAddressParam("contract", params.Contract)
		if herr != nil {
			return nil, herr
		}
		filter.Contract = crypto.FormatContract(addr)
	}
	records, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, serverError(err)
	}
	if records == nil {
		records = []indexer.Record{}
	}
	return records, nil
}

func (s *Server) handleDeriveAddresses(_ context.Context, req *RPCRequest) (interface{}, *httpError) {
	var params deriveParams
	if herr := decodeParam(req, &params); herr != nil {
		return nil, herr
	}
	initializer, herr := parseAddressParam("initializer", params.Initializer)
	if herr != nil {
		return nil, herr
	}
	id, err := ParseContractID(params.ContractID)
	if err != nil {
		return nil, newHTTPError(http.StatusBadRequest, codeInvalidParams, "invalid contractId", err.Error())
	}
	contract := escrow.DeriveContractAddress(initializer, id)
	return DerivedAddresses{
		Contract: crypto.FormatContract(contract),
		Vault:    crypto.FormatContract(escrow.DeriveVaultAddress(contract)),
	}, nil
}

func (s *Server) handleGetPolicy(_ context.Context, _ *RPCRequest) (interface{}, *httpError) {
	engine := s.proc.Engine()
	policy := engine.Policy()
	oracles := make([]string, 0, len(policy.DefaultOracles))
	for _, o := range policy.DefaultOracles {
		oracles = append(oracles, crypto.FormatAccount(o))
	}
	return PolicyResult{
		DepositMint:       crypto.FormatAccount(engine.DepositMint()),
		DepositExpiry:     policy.DepositExpiry.String(),
		RestrictDepositor: policy.RestrictDepositor,
		DefaultOracles:    oracles,
	}, nil
}

// ParseContractID decodes a 32-byte contract identifier from 0x-prefixed or
// bare hex.
func ParseContractID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("contract id must be 32 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}
