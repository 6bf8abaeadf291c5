package escrow

import (
	"encoding/hex"
	"strconv"

	"tradesee/core/types"
	"tradesee/crypto"
)

const (
	EventTypeContractInitialized = "escrow.contract.initialized"
	EventTypePayinDeposited      = "escrow.payin.deposited"
	EventTypePayoutReleased      = "escrow.payout.released"
	EventTypeRefunded            = "escrow.refunded"
	EventTypeOracleUpdated       = "escrow.oracle.updated"
	EventTypeTrustScoreAnchored  = "escrow.trust.anchored"
	EventTypeMilestoneCompleted  = "escrow.milestone.completed"
)

type ContractInitialized struct {
	Contract       [20]byte
	Initializer    [20]byte
	Seller         [20]byte
	Mint           [20]byte
	Vault          [20]byte
	AmountExpected uint64
	Milestones     uint8
	ExpiryTs       int64
	AutoRelease    bool
	DocHash        [32]byte
}

func (ContractInitialized) EventType() string { return EventTypeContractInitialized }

func (e ContractInitialized) Event() *types.Event {
	return &types.Event{
		Type: EventTypeContractInitialized,
		Attributes: map[string]string{
			"contract":       crypto.FormatContract(e.Contract),
			"initializer":    crypto.FormatAccount(e.Initializer),
			"seller":         crypto.FormatAccount(e.Seller),
			"mint":           crypto.FormatAccount(e.Mint),
			"vault":          crypto.FormatContract(e.Vault),
			"amountExpected": strconv.FormatUint(e.AmountExpected, 10),
			"milestones":     strconv.FormatUint(uint64(e.Milestones), 10),
			"expiryTs":       strconv.FormatInt(e.ExpiryTs, 10),
			"autoRelease":    strconv.FormatBool(e.AutoRelease),
			"docHash":        hex.EncodeToString(e.DocHash[:]),
		},
	}
}

type PayinDeposited struct {
	Contract [20]byte
	Buyer    [20]byte
	Amount   uint64
}

func (PayinDeposited) EventType() string { return EventTypePayinDeposited }

func (e PayinDeposited) Event() *types.Event {
	return &types.Event{
		Type: EventTypePayinDeposited,
		Attributes: map[string]string{
			"contract": crypto.FormatContract(e.Contract),
			"buyer":    crypto.FormatAccount(e.Buyer),
			"amount":   strconv.FormatUint(e.Amount, 10),
		},
	}
}

type PayoutReleased struct {
	Contract [20]byte
	Seller   [20]byte
	Amount   uint64
}

func (PayoutReleased) EventType() string { return EventTypePayoutReleased }

func (e PayoutReleased) Event() *types.Event {
	return &types.Event{
		Type: EventTypePayoutReleased,
		Attributes: map[string]string{
			"contract": crypto.FormatContract(e.Contract),
			"seller":   crypto.FormatAccount(e.Seller),
			"amount":   strconv.FormatUint(e.Amount, 10),
		},
	}
}

type Refunded struct {
	Contract [20]byte
	Buyer    [20]byte
	Amount   uint64
}

func (Refunded) EventType() string { return EventTypeRefunded }

func (e Refunded) Event() *types.Event {
	return &types.Event{
		Type: EventTypeRefunded,
		Attributes: map[string]string{
			"contract": crypto.FormatContract(e.Contract),
			"buyer":    crypto.FormatAccount(e.Buyer),
			"amount":   strconv.FormatUint(e.Amount, 10),
		},
	}
}

type OracleUpdated struct {
	Contract         [20]byte
	ShipmentVerified bool
	UpdatedBy        [20]byte
}

func (OracleUpdated) EventType() string { return EventTypeOracleUpdated }

func (e OracleUpdated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeOracleUpdated,
		Attributes: map[string]string{
			"contract":         crypto.FormatContract(e.Contract),
			"shipmentVerified": strconv.FormatBool(e.ShipmentVerified),
			"updatedBy":        crypto.FormatAccount(e.UpdatedBy),
		},
	}
}

type TrustScoreAnchored struct {
	Authority    [20]byte
	Counterparty [20]byte
	Score        uint16
}

func (TrustScoreAnchored) EventType() string { return EventTypeTrustScoreAnchored }

func (e TrustScoreAnchored) Event() *types.Event {
	return &types.Event{
		Type: EventTypeTrustScoreAnchored,
		Attributes: map[string]string{
			"authority":    crypto.FormatAccount(e.Authority),
			"counterparty": crypto.FormatAccount(e.Counterparty),
			"score":        strconv.FormatUint(uint64(e.Score), 10),
		},
	}
}

type MilestoneCompleted struct {
	Contract  [20]byte
	Completed uint8
	Total     uint8
	UpdatedBy [20]byte
}

func (MilestoneCompleted) EventType() string { return EventTypeMilestoneCompleted }

func (e MilestoneCompleted) Event() *types.Event {
	return &types.Event{
		Type: EventTypeMilestoneCompleted,
		Attributes: map[string]string{
			"contract":  crypto.FormatContract(e.Contract),
			"completed": strconv.FormatUint(uint64(e.Completed), 10),
			"total":     strconv.FormatUint(uint64(e.Total), 10),
			"updatedBy": crypto.FormatAccount(e.UpdatedBy),
		},
	}
}
