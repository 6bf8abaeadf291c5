package escrow

import (
	"errors"
	"time"

	"tradesee/core/events"
)

var errNilState = errors.New("escrow engine: state not configured")

// State is the account store view an instruction executes against. The
// processor passes a transactional view so a failed instruction leaves no
// trace.
type State interface {
	ContractGet(addr [20]byte) (*Contract, bool, error)
	ContractPut(*Contract) error
	VaultGet(addr [20]byte) (*Vault, bool, error)
	VaultPut(*Vault) error
	OracleFlagGet(contract [20]byte) (*OracleFlag, bool, error)
	OracleFlagPut(*OracleFlag) error
	TrustScoreGet(authority, counterparty [20]byte) (*TrustScore, bool, error)
	TrustScorePut(*TrustScore) error
	Balance(mint, owner [20]byte) (uint64, error)
	// Transfer moves amount units of mint from one holder to another, failing
	// with ErrInsufficientFunds or ErrOverflow without side effects.
	Transfer(mint, from, to [20]byte, amount uint64) error
}

// InitializeParams carries the terms supplied by the initializer.
type InitializeParams struct {
	ContractID          [32]byte
	Seller              [20]byte
	AmountExpected      uint64
	MilestonesTotal     uint8
	ExpiryTs            int64
	AutoReleaseOnExpiry bool
	DocHash             [32]byte
	Oracles             [][20]byte
}

// Engine executes escrow instructions. It holds no account state of its own;
// every operation receives the store explicitly.
type Engine struct {
	emitter     events.Emitter
	depositMint [20]byte
	policy      Policy
	nowFn       func() int64
}

// NewEngine creates an escrow engine accepting deposits in mint, with a no-op
// emitter and the default policy.
func NewEngine(mint [20]byte) *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		depositMint: mint,
		policy:      DefaultPolicy(),
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// DepositMint returns the asset every new contract is bound to.
func (e *Engine) DepositMint() [20]byte { return e.depositMint }

// Policy returns the active policy.
func (e *Engine) Policy() Policy { return e.policy }

// SetPolicy replaces the engine policy.
func (e *Engine) SetPolicy(p Policy) {
	p.DefaultOracles = append([][20]byte(nil), p.DefaultOracles...)
	e.policy = p
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Now returns the engine clock reading in unix seconds.
func (e *Engine) Now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func loadContract(st State, addr [20]byte) (*Contract, error) {
	if st == nil {
		return nil, errNilState
	}
	c, ok, err := st.ContractGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, wrap(ErrContractNotFound, "%x", addr)
	}
	return c, nil
}

// Initialize creates the contract record and its empty vault. No funds move.
func (e *Engine) Initialize(st State, initializer [20]byte, p InitializeParams) (*Contract, error) {
	if st == nil {
		return nil, errNilState
	}
	now := e.Now()
	if p.AmountExpected == 0 {
		return nil, ErrInvalidAmount
	}
	if p.MilestonesTotal == 0 {
		return nil, ErrInvalidMilestones
	}
	if p.ExpiryTs <= now {
		return nil, wrap(ErrInvalidExpiry, "expiry %d not after %d", p.ExpiryTs, now)
	}
	addr := DeriveContractAddress(initializer, p.ContractID)
	if _, exists, err := st.ContractGet(addr); err != nil {
		return nil, err
	} else if exists {
		return nil, wrap(ErrContractExists, "%x", addr)
	}
	oracles := p.Oracles
	if len(oracles) == 0 {
		oracles = e.policy.DefaultOracles
	}
	c := &Contract{
		Address:             addr,
		Initializer:         initializer,
		Seller:              p.Seller,
		DepositMint:         e.depositMint,
		EscrowVault:         DeriveVaultAddress(addr),
		ContractID:          p.ContractID,
		AmountExpected:      p.AmountExpected,
		MilestonesTotal:     p.MilestonesTotal,
		AutoReleaseOnExpiry: p.AutoReleaseOnExpiry,
		ExpiryTs:            p.ExpiryTs,
		DocHash:             p.DocHash,
		Oracles:             dedupeAddresses(oracles),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := st.ContractPut(c); err != nil {
		return nil, err
	}
	if err := st.VaultPut(&Vault{Address: c.EscrowVault, Contract: addr, Mint: c.DepositMint}); err != nil {
		return nil, err
	}
	e.emit(ContractInitialized{
		Contract:       addr,
		Initializer:    initializer,
		Seller:         c.Seller,
		Mint:           c.DepositMint,
		Vault:          c.EscrowVault,
		AmountExpected: c.AmountExpected,
		Milestones:     c.MilestonesTotal,
		ExpiryTs:       c.ExpiryTs,
		AutoRelease:    c.AutoReleaseOnExpiry,
		DocHash:        c.DocHash,
	})
	return c.Clone(), nil
}

// DepositPayin moves exactly AmountExpected units from the depositor's
// holding of sourceMint into the contract vault.
func (e *Engine) DepositPayin(st State, contract, depositor, sourceMint [20]byte, amount uint64) error {
	c, err := loadContract(st, contract)
	if err != nil {
		return err
	}
	vaultBalance, err := st.Balance(c.DepositMint, c.EscrowVault)
	if err != nil {
		return err
	}
	now := e.Now()
	if err := CheckDeposit(c, vaultBalance, depositor, sourceMint, amount, now, e.policy); err != nil {
		return err
	}
	if err := st.Transfer(c.DepositMint, depositor, c.EscrowVault, amount); err != nil {
		return err
	}
	c.UpdatedAt = now
	if err := st.ContractPut(c); err != nil {
		return err
	}
	e.emit(PayinDeposited{Contract: c.Address, Buyer: depositor, Amount: amount})
	return nil
}

// ReleasePayout pays the full vault balance to the seller once the release
// conditions hold. Anyone may trigger it. Returns the amount paid.
func (e *Engine) ReleasePayout(st State, contract [20]byte) (uint64, error) {
	c, err := loadContract(st, contract)
	if err != nil {
		return 0, err
	}
	balance, err := st.Balance(c.DepositMint, c.EscrowVault)
	if err != nil {
		return 0, err
	}
	now := e.Now()
	if err := CheckRelease(c, balance, now); err != nil {
		return 0, err
	}
	if err := st.Transfer(c.DepositMint, c.EscrowVault, c.Seller, balance); err != nil {
		return 0, err
	}
	c.Released = true
	c.UpdatedAt = now
	if err := st.ContractPut(c); err != nil {
		return 0, err
	}
	e.emit(PayoutReleased{Contract: c.Address, Seller: c.Seller, Amount: balance})
	return balance, nil
}

// Refund returns the full vault balance to the initializer after expiry when
// auto-release is disabled. Anyone may trigger it. Returns the amount paid.
func (e *Engine) Refund(st State, contract [20]byte) (uint64, error) {
	c, err := loadContract(st, contract)
	if err != nil {
		return 0, err
	}
	balance, err := st.Balance(c.DepositMint, c.EscrowVault)
	if err != nil {
		return 0, err
	}
	now := e.Now()
	if err := CheckRefund(c, balance, now); err != nil {
		return 0, err
	}
	if err := st.Transfer(c.DepositMint, c.EscrowVault, c.Initializer, balance); err != nil {
		return 0, err
	}
	c.Refunded = true
	c.UpdatedAt = now
	if err := st.ContractPut(c); err != nil {
		return 0, err
	}
	e.emit(Refunded{Contract: c.Address, Buyer: c.Initializer, Amount: balance})
	return balance, nil
}

// SetOracleResult records the shipment attestation of oracle for the
// contract, overwriting any previous value.
func (e *Engine) SetOracleResult(st State, contract, oracle [20]byte, verified bool) (*OracleFlag, error) {
	c, err := loadContract(st, contract)
	if err != nil {
		return nil, err
	}
	if !c.IsOracle(oracle) {
		return nil, wrap(ErrInvalidAuthority, "%x is not an oracle for %x", oracle, contract)
	}
	flag := &OracleFlag{
		Contract:         c.Address,
		ShipmentVerified: verified,
		UpdatedBy:        oracle,
		UpdatedAt:        e.Now(),
	}
	if err := st.OracleFlagPut(flag); err != nil {
		return nil, err
	}
	e.emit(OracleUpdated{Contract: c.Address, ShipmentVerified: verified, UpdatedBy: oracle})
	return flag.Clone(), nil
}

// AnchorTrustScore stores the score authority assigns to counterparty.
func (e *Engine) AnchorTrustScore(st State, authority, counterparty [20]byte, score uint16) (*TrustScore, error) {
	if st == nil {
		return nil, errNilState
	}
	if score > MaxTrustScore {
		return nil, wrap(ErrInvalidScore, "%d", score)
	}
	ts := &TrustScore{
		Authority:    authority,
		Counterparty: counterparty,
		Score:        score,
		UpdatedAt:    e.Now(),
	}
	if err := st.TrustScorePut(ts); err != nil {
		return nil, err
	}
	e.emit(TrustScoreAnchored{Authority: authority, Counterparty: counterparty, Score: score})
	return ts.Clone(), nil
}

// CompleteMilestone advances the milestone counter by one. Completion is
// monotonic and capped at MilestonesTotal.
func (e *Engine) CompleteMilestone(st State, contract, caller [20]byte) (*Contract, error) {
	c, err := loadContract(st, contract)
	if err != nil {
		return nil, err
	}
	if err := CheckMilestone(c, caller); err != nil {
		return nil, err
	}
	c.MilestonesCompleted++
	c.UpdatedAt = e.Now()
	if err := st.ContractPut(c); err != nil {
		return nil, err
	}
	e.emit(MilestoneCompleted{
		Contract:  c.Address,
		Completed: c.MilestonesCompleted,
		Total:     c.MilestonesTotal,
		UpdatedBy: caller,
	})
	return c.Clone(), nil
}

func dedupeAddresses(in [][20]byte) [][20]byte {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[[20]byte]struct{}, len(in))
	out := make([][20]byte, 0, len(in))
	for _, addr := range in {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
