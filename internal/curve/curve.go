// Package curve computes how much of a stream's deposit has unlocked at a
// given time, for curves described by an ordered list of exponential segments.
//
// The engine is stateless and side-effect free: it receives an immutable
// snapshot of a stream's stored amounts and time bounds plus its segment list,
// and returns a derived value. It never reads a clock — "now" is always an
// argument — so every result is reproducible bit for bit.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Division truncates toward zero at FixedScale fractional digits, and every
// amount-scaling multiplication rounds down, so the engine can only ever
// under-report an unlock by a rounding ulp, never over-report it. The one
// theoretically unreachable overshoot case is clamped, not surfaced as an
// error: returning a frozen value is recoverable, locking funds is not.
package curve

import (
	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/model"
)

// FixedScale is the number of fractional digits carried by fixed-point
// intermediate values (progress ratios, eased progress, fee rates).
const FixedScale int32 = 18

// Snapshot is the read-only view of a stream's stored state that the engine
// operates on. The caller guarantees it is stable for the duration of a call
// and that EndTime equals the last segment's timestamp.
type Snapshot struct {
	StartTime   uint64
	EndTime     uint64
	Deposited   decimal.Decimal
	Withdrawn   decimal.Decimal
	Refunded    decimal.Decimal
	WasCanceled bool
}

// SnapshotOf extracts the engine's view from a full stream record.
func SnapshotOf(s *model.Stream) Snapshot {
	return Snapshot{
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Deposited:   s.Amounts.Deposited,
		Withdrawn:   s.Amounts.Withdrawn,
		Refunded:    s.Amounts.Refunded,
		WasCanceled: s.WasCanceled,
	}
}

// StreamedAmount returns the cumulative amount unlocked by the curve as of
// now, independent of how much has actually been withdrawn. It is
// monotonically non-decreasing in now for a fixed snapshot, with
// StreamedAmount(startTime-1) == 0 and StreamedAmount(endTime) == Deposited.
//
// Dispatch: before the start nothing is unlocked; at or after the end the
// full deposit is unlocked; in between, a closed form for single-segment
// curves and a sequential walk for multi-segment ones. The two paths are
// algebraically the same formula but are kept separate so the fixed-point
// operation order — and therefore the truncation behavior — of each stays
// exactly as specified.
func StreamedAmount(now uint64, snap Snapshot, segments []model.Segment) decimal.Decimal {
	if now < snap.StartTime {
		return decimal.Zero
	}
	if now >= snap.EndTime {
		return snap.Deposited
	}
	if len(segments) > 1 {
		return multiSegmentAmount(now, snap, segments)
	}
	return singleSegmentAmount(now, snap, segments)
}

// singleSegmentAmount computes the closed form
//
//	unlocked = deposited * ((now - start) / (end - start)) ^ exponent
//
// with now strictly between start and end (dispatch guarantees it).
func singleSegmentAmount(now uint64, snap Snapshot, segments []model.Segment) decimal.Decimal {
	exponent := decimal.NewFromInt(1)
	if len(segments) == 1 {
		exponent = segments[0].Exponent
	}

	elapsed := decimal.NewFromUint64(now - snap.StartTime)
	total := decimal.NewFromUint64(snap.EndTime - snap.StartTime)

	eased, ok := easedProgress(elapsed, total, exponent)
	if !ok {
		return snap.Withdrawn
	}
	unlocked := snap.Deposited.Mul(eased).Floor()

	// Mathematically impossible for progress in (0,1) and a non-negative
	// exponent, but checked so a rounding defect can never over-release or
	// lock funds. Freeze at the withdrawn amount instead of failing.
	if unlocked.GreaterThan(snap.Deposited) {
		return snap.Withdrawn
	}
	return unlocked
}

// multiSegmentAmount walks the segment list from the earliest segment,
// accumulating the amount of every fully elapsed segment, then adds the
// partial unlock of the segment containing now:
//
//	partial = amount[k] * ((now - segStart) / (segEnd - segStart)) ^ exponent[k]
//
// The validator guarantees strictly increasing timestamps, so every segment
// has positive duration.
func multiSegmentAmount(now uint64, snap Snapshot, segments []model.Segment) decimal.Decimal {
	previousTotal := decimal.Zero
	segmentStart := snap.StartTime

	// The walk is bounded so a snapshot whose EndTime disagrees with the last
	// segment's timestamp degrades to the clamp below instead of panicking.
	k := 0
	for k < len(segments)-1 && segments[k].Timestamp < now {
		previousTotal = previousTotal.Add(segments[k].Amount)
		segmentStart = segments[k].Timestamp
		k++
	}
	segmentEnd := segments[k].Timestamp

	elapsed := decimal.NewFromUint64(now - segmentStart)
	total := decimal.NewFromUint64(segmentEnd - segmentStart)

	eased, ok := easedProgress(elapsed, total, segments[k].Exponent)
	if !ok {
		return clampFloor(previousTotal, snap.Withdrawn)
	}
	partial := segments[k].Amount.Mul(eased).Floor()

	// Rounding overshoot in this one segment voids its unlock going forward
	// rather than reverting: fund-safety over formula fidelity.
	unlocked := previousTotal.Add(partial)
	if unlocked.GreaterThan(snap.Deposited) {
		return clampFloor(previousTotal, snap.Withdrawn)
	}
	return unlocked
}

// easedProgress computes trunc18((elapsed/total)^exponent). A zero exponent
// is resolved before the pow: the convention is 0^0 = 1, so the segment's
// full amount unlocks the instant it starts, including at elapsed == 0 where
// PowWithPrecision would reject the undefined base/exponent pair. Any other
// pow failure sends ok=false and the caller takes the fail-safe clamp path.
func easedProgress(elapsed, total, exponent decimal.Decimal) (decimal.Decimal, bool) {
	if exponent.IsZero() {
		return decimal.NewFromInt(1), true
	}
	progress, _ := elapsed.QuoRem(total, FixedScale)
	eased, err := progress.PowWithPrecision(exponent, FixedScale+6)
	if err != nil {
		return decimal.Zero, false
	}
	return eased.Truncate(FixedScale), true
}

// clampFloor returns the larger of the already-elapsed total and the amount
// already withdrawn, so a clamped result never moves backwards past either.
func clampFloor(previousTotal, withdrawn decimal.Decimal) decimal.Decimal {
	if withdrawn.GreaterThan(previousTotal) {
		return withdrawn
	}
	return previousTotal
}

// StatusOf derives the lifecycle state of a stream from its snapshot and the
// already-computed streamed amount. Depletion is terminal and overrides every
// other condition, including cancellation.
func StatusOf(now uint64, snap Snapshot, streamed decimal.Decimal) model.Status {
	if snap.Withdrawn.Add(snap.Refunded).Equal(snap.Deposited) {
		return model.StatusDepleted
	}
	if snap.WasCanceled {
		return model.StatusCanceled
	}
	if now < snap.StartTime {
		return model.StatusPending
	}
	if streamed.Equal(snap.Deposited) {
		return model.StatusSettled
	}
	return model.StatusStreaming
}

// CancelableNow reports whether a stream configured as cancelable can still
// be canceled at now. Settlement is a one-way exit from cancelability, and
// canceled or depleted streams cannot be canceled again.
func CancelableNow(now uint64, snap Snapshot, segments []model.Segment, configured bool) bool {
	if !configured {
		return false
	}
	switch StatusOf(now, snap, StreamedAmount(now, snap, segments)) {
	case model.StatusPending, model.StatusStreaming:
		return true
	default:
		return false
	}
}

// WithdrawableAmount returns how much the recipient can withdraw at now:
// the streamed amount, capped at what remains after refunds, minus what was
// already withdrawn.
func WithdrawableAmount(now uint64, snap Snapshot, segments []model.Segment) decimal.Decimal {
	streamed := StreamedAmount(now, snap, segments)
	remaining := snap.Deposited.Sub(snap.Refunded)
	if streamed.GreaterThan(remaining) {
		streamed = remaining
	}
	return streamed.Sub(snap.Withdrawn)
}

// RefundableAmount returns how much the sender would get back if the stream
// were canceled at now. Zero once the stream was canceled or depleted.
func RefundableAmount(now uint64, snap Snapshot, segments []model.Segment) decimal.Decimal {
	if snap.WasCanceled || snap.Withdrawn.Add(snap.Refunded).Equal(snap.Deposited) {
		return decimal.Zero
	}
	return snap.Deposited.Sub(StreamedAmount(now, snap, segments))
}
