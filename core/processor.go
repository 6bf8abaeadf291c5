package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tradesee/core/events"
	"tradesee/core/state"
	"tradesee/core/tx"
	"tradesee/core/types"
	"tradesee/crypto"
	"tradesee/native/escrow"
	"tradesee/observability/metrics"
	telemetry "tradesee/observability/otel"
)

// Receipt describes a committed instruction.
type Receipt struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Signer   string         `json:"signer"`
	Nonce    uint64         `json:"nonce"`
	Contract string         `json:"contract,omitempty"`
	Amount   uint64         `json:"amount,omitempty"`
	Events   []*types.Event `json:"events"`
}

// Processor executes signed instructions one at a time against the account
// store. Each instruction runs inside its own state transaction; events are
// published to the sinks only after the transaction commits.
type Processor struct {
	mu      sync.Mutex
	state   *state.Manager
	engine  *escrow.Engine
	buffer  *events.Buffer
	sinks   events.Fanout
	logger  *slog.Logger
	metrics *metrics.EscrowMetrics
}

// NewProcessor wires the engine to the account store. The engine emitter is
// replaced by the processor's event buffer.
func NewProcessor(mgr *state.Manager, engine *escrow.Engine) *Processor {
	buf := &events.Buffer{}
	engine.SetEmitter(buf)
	return &Processor{
		state:   mgr,
		engine:  engine,
		buffer:  buf,
		logger:  slog.Default(),
		metrics: metrics.Escrow(),
	}
}

// SetLogger overrides the structured logger. Nil restores slog.Default.
func (p *Processor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	p.logger = logger
}

// AddSink registers an emitter receiving every committed event.
func (p *Processor) AddSink(sink events.Emitter) {
	if sink == nil {
		return
	}
	p.mu.Lock()
	p.sinks = append(p.sinks, sink)
	p.mu.Unlock()
}

// State exposes the account store for read-only queries.
func (p *Processor) State() *state.Manager { return p.state }

// Engine exposes the escrow engine.
func (p *Processor) Engine() *escrow.Engine { return p.engine }

// Submit verifies and executes a signed instruction. On any failure no state
// is written and no event is published.
func (p *Processor) Submit(ctx context.Context, in *tx.Instruction) (*Receipt, error) {
	if in == nil {
		return nil, fmt.Errorf("core: nil instruction")
	}
	_, span := telemetry.Tracer("tradesee/core").Start(ctx, "escrow."+in.Type.String())
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	receipt, err := p.apply(in)
	elapsed := time.Since(start)

	reason := ""
	if err != nil {
		if named, ok := escrow.CodeOf(err); ok {
			reason = named.Name
		} else {
			reason = "internal"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		p.buffer.Reset()
		p.logger.Warn("instruction rejected",
			slog.String("type", in.Type.String()),
			slog.Uint64("nonce", in.Nonce),
			slog.String("contract", crypto.FormatContract(in.Contract)),
			slog.String("reason", reason),
			slog.Any("error", err))
	} else {
		span.SetAttributes(
			attribute.String("escrow.signer", receipt.Signer),
			attribute.Int("escrow.events", len(receipt.Events)),
		)
		p.logger.Info("instruction committed",
			slog.String("type", receipt.Type),
			slog.String("id", receipt.ID),
			slog.String("signer", receipt.Signer),
			slog.Uint64("nonce", receipt.Nonce),
			slog.String("contract", receipt.Contract),
			slog.Duration("elapsed", elapsed))
	}
	p.metrics.ObserveInstruction(in.Type.String(), elapsed, reason, err)
	return receipt, err
}

func (p *Processor) apply(in *tx.Instruction) (*Receipt, error) {
	signer, err := in.Sender()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidSignature, err)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", escrow.ErrUnknownInstruction, uint8(in.Type))
	}

	txn := p.state.Begin()
	defer txn.Discard()

	last, err := txn.Nonce(signer)
	if err != nil {
		return nil, err
	}
	if in.Nonce != last+1 {
		return nil, fmt.Errorf("%w: got %d, expected %d", escrow.ErrInvalidNonce, in.Nonce, last+1)
	}

	amount, err := p.dispatch(txn, signer, in)
	if err != nil {
		return nil, err
	}
	if err := txn.SetNonce(signer, in.Nonce); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("core: commit: %w", err)
	}

	published := p.buffer.Drain()
	receipt := &Receipt{
		ID:     in.ID(),
		Type:   in.Type.String(),
		Signer: crypto.FormatAccount(signer),
		Nonce:  in.Nonce,
		Amount: amount,
		Events: make([]*types.Event, 0, len(published)),
	}
	if in.Type != tx.TypeAnchorTrust {
		receipt.Contract = crypto.FormatContract(in.Contract)
	}
	for _, evt := range published {
		receipt.Events = append(receipt.Events, evt.Event())
		p.sinks.Emit(evt)
	}
	switch in.Type {
	case tx.TypeDeposit:
		p.metrics.AddSettled("deposit", amount)
	case tx.TypeRelease:
		p.metrics.AddSettled("release", amount)
	case tx.TypeRefund:
		p.metrics.AddSettled("refund", amount)
	}
	return receipt, nil
}

// dispatch runs the engine operation named by the instruction and returns the
// amount of tokens moved, if any.
func (p *Processor) dispatch(txn *state.Tx, signer [20]byte, in *tx.Instruction) (uint64, error) {
	switch in.Type {
	case tx.TypeInitialize:
		return 0, p.applyInitialize(txn, signer, in)
	case tx.TypeDeposit:
		return p.applyDeposit(txn, signer, in)
	case tx.TypeRelease:
		if err := checkAccounts(txn, in); err != nil {
			return 0, err
		}
		return p.engine.ReleasePayout(txn, in.Contract)
	case tx.TypeRefund:
		if err := checkAccounts(txn, in); err != nil {
			return 0, err
		}
		return p.engine.Refund(txn, in.Contract)
	case tx.TypeSetOracle:
		return 0, p.applySetOracle(txn, signer, in)
	case tx.TypeAnchorTrust:
		return 0, p.applyAnchorTrust(txn, signer, in)
	case tx.TypeCompleteMilestone:
		if err := checkAccounts(txn, in); err != nil {
			return 0, err
		}
		_, err := p.engine.CompleteMilestone(txn, in.Contract, signer)
		return 0, err
	}
	return 0, fmt.Errorf("%w: %d", escrow.ErrUnknownInstruction, uint8(in.Type))
}

func (p *Processor) applyInitialize(txn *state.Tx, signer [20]byte, in *tx.Instruction) error {
	var payload tx.InitializePayload
	if err := decodePayload(in, &payload); err != nil {
		return err
	}
	contract := escrow.DeriveContractAddress(signer, payload.ContractID)
	if in.Contract != contract {
		return fmt.Errorf("%w: contract account %x does not match derivation %x", escrow.ErrInvalidAuthority, in.Contract, contract)
	}
	if in.Vault != escrow.DeriveVaultAddress(contract) {
		return fmt.Errorf("%w: vault account does not match derivation", escrow.ErrInvalidAuthority)
	}
	_, err := p.engine.Initialize(txn, signer, payload.Params())
	return err
}

func (p *Processor) applyDeposit(txn *state.Tx, signer [20]byte, in *tx.Instruction) (uint64, error) {
	if err := checkAccounts(txn, in); err != nil {
		return 0, err
	}
	var payload tx.DepositPayload
	if err := decodePayload(in, &payload); err != nil {
		return 0, err
	}
	if err := p.engine.DepositPayin(txn, in.Contract, signer, payload.Mint, payload.Amount); err != nil {
		return 0, err
	}
	return payload.Amount, nil
}

func (p *Processor) applySetOracle(txn *state.Tx, signer [20]byte, in *tx.Instruction) error {
	if err := checkAccounts(txn, in); err != nil {
		return err
	}
	var payload tx.SetOraclePayload
	if err := decodePayload(in, &payload); err != nil {
		return err
	}
	_, err := p.engine.SetOracleResult(txn, in.Contract, signer, payload.ShipmentVerified)
	return err
}

func (p *Processor) applyAnchorTrust(txn *state.Tx, signer [20]byte, in *tx.Instruction) error {
	var payload tx.AnchorTrustPayload
	if err := decodePayload(in, &payload); err != nil {
		return err
	}
	_, err := p.engine.AnchorTrustScore(txn, signer, payload.Counterparty, payload.Score)
	return err
}

func decodePayload(in *tx.Instruction, out interface{}) error {
	if err := in.DecodePayload(out); err != nil {
		return fmt.Errorf("%w: %v", escrow.ErrMalformedPayload, err)
	}
	return nil
}

// checkAccounts verifies that the supplied vault is the one derived from and
// recorded for the supplied contract. Unknown contracts surface as
// ContractNotFound.
func checkAccounts(txn *state.Tx, in *tx.Instruction) error {
	c, ok, err := txn.ContractGet(in.Contract)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %x", escrow.ErrContractNotFound, in.Contract)
	}
	if in.Vault != escrow.DeriveVaultAddress(in.Contract) || in.Vault != c.EscrowVault {
		return fmt.Errorf("%w: vault account does not belong to contract", escrow.ErrInvalidAuthority)
	}
	return nil
}

// IsRejection reports whether err is an instruction rejection as opposed to an
// internal failure of the store.
func IsRejection(err error) bool {
	_, ok := escrow.CodeOf(err)
	return ok || errors.Is(err, tx.ErrMalformedSigned)
}
