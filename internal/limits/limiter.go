// Package limits enforces caps on the open (not yet withdrawn or refunded)
// deposit a single sender may have streaming at once.
//
// A treasury funding dozens of vesting streams concentrates risk in two ways:
// too much value locked against one asset, and too much value locked overall.
// This package enforces both a per-asset cap and an aggregate cap across all
// of a sender's open streams.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerAssetLimitExceeded is returned when a new stream would push a
	// sender's open deposits in one asset beyond the per-asset maximum.
	ErrPerAssetLimitExceeded = errors.New("limits: per-asset open deposit limit exceeded")

	// ErrTotalLimitExceeded is returned when a new stream would push a
	// sender's aggregate open deposits beyond the total maximum.
	ErrTotalLimitExceeded = errors.New("limits: total open deposit limit exceeded")
)

// DepositLimiter enforces open-deposit limits per sender.
type DepositLimiter struct {
	// MaxPerAsset is the maximum open deposit in any single asset.
	MaxPerAsset decimal.Decimal

	// MaxTotal is the maximum aggregate open deposit across all assets.
	MaxTotal decimal.Decimal
}

// NewDepositLimiter creates a limiter with the given per-asset and aggregate
// deposit limits.
func NewDepositLimiter(maxPerAsset, maxTotal decimal.Decimal) *DepositLimiter {
	return &DepositLimiter{
		MaxPerAsset: maxPerAsset,
		MaxTotal:    maxTotal,
	}
}

// CheckLimit validates whether a new deposit respects the sender's limits.
//
// Parameters:
//   - assetID: asset the new stream is denominated in
//   - depositDelta: deposit of the stream being created
//   - existingDeposits: map of asset ID → the sender's current open deposits
//
// Returns nil if the deposit is within limits, or an error naming the
// violated limit.
func (l *DepositLimiter) CheckLimit(
	assetID string,
	depositDelta decimal.Decimal,
	existingDeposits map[string]decimal.Decimal,
) error {
	// 1. Per-asset limit.
	newInAsset := existingDeposits[assetID].Add(depositDelta)
	if newInAsset.GreaterThan(l.MaxPerAsset) {
		return ErrPerAssetLimitExceeded
	}

	// 2. Aggregate limit across every asset the sender is streaming.
	total := newInAsset
	for id, dep := range existingDeposits {
		if id == assetID {
			continue // already counted via newInAsset above
		}
		total = total.Add(dep)
	}
	if total.GreaterThan(l.MaxTotal) {
		return ErrTotalLimitExceeded
	}

	return nil
}
