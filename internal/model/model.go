// Package model defines the core domain types shared across the stream engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Amounts are integer-valued decimals denominated in the asset's native unit;
// fee rates and segment exponents are 18-fractional-digit fixed-point values.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the derived lifecycle state of a stream. It is never stored as an
// enum: only wasCanceled and isDepleted are persisted, everything else is a
// pure function of the stream snapshot and the streamed amount.
type Status string

const (
	StatusPending   Status = "PENDING"   // now < startTime
	StatusStreaming Status = "STREAMING" // unlocking in progress
	StatusSettled   Status = "SETTLED"   // curve fully elapsed, value not all withdrawn
	StatusCanceled  Status = "CANCELED"  // canceled before settlement
	StatusDepleted  Status = "DEPLETED"  // all value has left the stream
)

// Amounts tracks the value that entered and left a stream.
// Invariant: Withdrawn + Refunded <= Deposited; Refunded > 0 only after cancel.
type Amounts struct {
	Deposited decimal.Decimal `json:"deposited" db:"deposited"`
	Withdrawn decimal.Decimal `json:"withdrawn" db:"withdrawn"`
	Refunded  decimal.Decimal `json:"refunded" db:"refunded"`
}

// CreateAmounts is the fee split derived at creation time.
// Invariant: Deposit + ProtocolFee + BrokerFee == gross amount, Deposit > 0.
type CreateAmounts struct {
	Deposit     decimal.Decimal `json:"deposit"`
	ProtocolFee decimal.Decimal `json:"protocol_fee"`
	BrokerFee   decimal.Decimal `json:"broker_fee"`
}

// Broker identifies an optional third-party fee payee. Account may be empty
// only when Fee is zero.
type Broker struct {
	Account string          `json:"account"`
	Fee     decimal.Decimal `json:"fee"` // fraction of the gross amount in [0, 1]
}

// Segment is one interval of a piecewise unlocking curve. Amount is the
// portion of the deposit unlocked by the end of the segment; Exponent shapes
// the easing (1 = linear, <1 front-loaded, >1 back-loaded); Timestamp is the
// absolute segment end, strictly greater than the previous one.
type Segment struct {
	Amount    decimal.Decimal `json:"amount"`
	Exponent  decimal.Decimal `json:"exponent"`
	Timestamp uint64          `json:"timestamp"`
}

// SegmentWithDuration is the input-only variant carrying a relative duration
// in seconds. It is consumed by segment.Canonicalize and never persisted.
type SegmentWithDuration struct {
	Amount   decimal.Decimal `json:"amount"`
	Exponent decimal.Decimal `json:"exponent"`
	Duration uint64          `json:"duration"`
}

// Stream is a vesting position: a deposit released to its recipient along a
// segmented unlocking curve. The segment list is fixed at creation and never
// mutated afterward; only Amounts.Withdrawn/Refunded and the two lifecycle
// flags change over the stream's life.
type Stream struct {
	ID             string    `json:"id" db:"id"`
	Sender         string    `json:"sender" db:"sender"`
	Recipient      string    `json:"recipient" db:"recipient"`
	AssetID        string    `json:"asset_id" db:"asset_id"`
	StartTime      uint64    `json:"start_time" db:"start_time"` // UNIX seconds
	EndTime        uint64    `json:"end_time" db:"end_time"`     // == last segment timestamp
	IsCancelable   bool      `json:"is_cancelable" db:"is_cancelable"`
	WasCanceled    bool      `json:"was_canceled" db:"was_canceled"`
	IsDepleted     bool      `json:"is_depleted" db:"is_depleted"`
	IsTransferable bool      `json:"is_transferable" db:"is_transferable"`
	Amounts        Amounts   `json:"amounts"`
	Segments       []Segment `json:"segments"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// LedgerEntry is an immutable record of value moving through a stream.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	StreamID  string          `json:"stream_id" db:"stream_id"`
	Kind      string          `json:"kind" db:"kind"` // "deposit", "withdraw" or "refund"
	Account   string          `json:"account" db:"account"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Ledger entry kinds.
const (
	LedgerDeposit  = "deposit"
	LedgerWithdraw = "withdraw"
	LedgerRefund   = "refund"
)
