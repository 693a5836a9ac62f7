// Package segment validates and canonicalizes the segment lists that define
// a stream's unlocking curve. Canonicalize turns duration-relative input into
// absolute timestamps; Validate enforces ordering, count bounds, and
// sum-consistency against the deposit, and derives the stream's end time.
package segment

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/model"
)

var (
	// ErrCountZero is returned when the segment list is empty.
	ErrCountZero = errors.New("segment: segment count is zero")

	// ErrCountTooHigh is returned when the segment list exceeds the maximum
	// allowed length.
	ErrCountTooHigh = errors.New("segment: segment count exceeds maximum")

	// ErrStartTimeNotBeforeFirstTimestamp is returned when the stream start
	// is not strictly before the first segment's timestamp.
	ErrStartTimeNotBeforeFirstTimestamp = errors.New(
		"segment: start time is not before the first segment timestamp")

	// ErrTimestampsNotOrdered is returned when segment timestamps are not
	// strictly increasing. Duplicates and out-of-order entries both hit this.
	ErrTimestampsNotOrdered = errors.New("segment: timestamps are not strictly increasing")

	// ErrDepositMismatch is returned when the deposit does not equal the sum
	// of the segment amounts.
	ErrDepositMismatch = errors.New("segment: deposit does not equal sum of segment amounts")
)

// Canonicalize converts duration-relative segments into absolute-timestamp
// segments anchored at startTime: the first timestamp is startTime plus the
// first duration, each subsequent one the previous timestamp plus that
// segment's duration. Empty input passes through unchanged — non-emptiness is
// Validate's responsibility.
//
// Accumulation saturates at the top of the uint64 range instead of wrapping;
// a saturated list is then rejected by Validate's ordering check.
func Canonicalize(startTime uint64, segs []model.SegmentWithDuration) []model.Segment {
	out := make([]model.Segment, len(segs))
	prev := startTime
	for i, s := range segs {
		prev = saturatingAdd(prev, s.Duration)
		out[i] = model.Segment{
			Amount:    s.Amount,
			Exponent:  s.Exponent,
			Timestamp: prev,
		}
	}
	return out
}

// Validate checks a canonical segment list against the deposit and start time
// and returns the implied stream end time (the last segment's timestamp).
//
// Checks run in order, each with its own named failure:
//  1. the list is non-empty,
//  2. its length does not exceed maxCount,
//  3. startTime is strictly before the first timestamp,
//  4. timestamps are strictly increasing (index and both offending values are
//     carried in the error),
//  5. the segment amounts sum exactly to deposit.
//
// The running sum is a decimal, so it cannot wrap regardless of magnitude.
func Validate(segs []model.Segment, deposit decimal.Decimal, startTime uint64, maxCount int) (uint64, error) {
	if len(segs) == 0 {
		return 0, ErrCountZero
	}
	if len(segs) > maxCount {
		return 0, fmt.Errorf("%w: %d > %d", ErrCountTooHigh, len(segs), maxCount)
	}
	if startTime >= segs[0].Timestamp {
		return 0, fmt.Errorf("%w: start %d, first segment %d",
			ErrStartTimeNotBeforeFirstTimestamp, startTime, segs[0].Timestamp)
	}

	sum := decimal.Zero
	prev := startTime
	for i, s := range segs {
		if i > 0 && s.Timestamp <= prev {
			return 0, fmt.Errorf("%w: index %d (previous %d, current %d)",
				ErrTimestampsNotOrdered, i, prev, s.Timestamp)
		}
		sum = sum.Add(s.Amount)
		prev = s.Timestamp
	}

	if !deposit.Equal(sum) {
		return 0, fmt.Errorf("%w: deposit %s, sum %s", ErrDepositMismatch, deposit, sum)
	}

	return segs[len(segs)-1].Timestamp, nil
}

// saturatingAdd adds two uint64 values, clamping at MaxUint64 on overflow.
func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
