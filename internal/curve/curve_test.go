package curve

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/model"
)

// d is a test helper for creating decimals from int64.
func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func df(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func linearSegment(amount int64, timestamp uint64) model.Segment {
	return model.Segment{Amount: d(amount), Exponent: d(1), Timestamp: timestamp}
}

// singleLinear is the reference scenario: start 0, end 100, deposit 1000.
func singleLinear() (Snapshot, []model.Segment) {
	snap := Snapshot{
		StartTime: 0,
		EndTime:   100,
		Deposited: d(1000),
		Withdrawn: decimal.Zero,
		Refunded:  decimal.Zero,
	}
	return snap, []model.Segment{linearSegment(1000, 100)}
}

// --- Single-segment tests ---

func TestStreamedAmount_BeforeStart(t *testing.T) {
	snap := Snapshot{StartTime: 100, EndTime: 200, Deposited: d(1000)}
	segs := []model.Segment{linearSegment(1000, 200)}

	got := StreamedAmount(99, snap, segs)
	if !got.IsZero() {
		t.Errorf("expected 0 before start, got %s", got)
	}
}

func TestStreamedAmount_AtAndAfterEnd(t *testing.T) {
	snap, segs := singleLinear()

	if got := StreamedAmount(100, snap, segs); !got.Equal(d(1000)) {
		t.Errorf("expected full deposit at end, got %s", got)
	}
	if got := StreamedAmount(5000, snap, segs); !got.Equal(d(1000)) {
		t.Errorf("expected full deposit after end, got %s", got)
	}
}

func TestStreamedAmount_AfterEnd_IgnoresWithdrawn(t *testing.T) {
	snap, segs := singleLinear()
	snap.Withdrawn = d(600)

	// Streamed amount is a running total independent of withdrawals.
	if got := StreamedAmount(150, snap, segs); !got.Equal(d(1000)) {
		t.Errorf("expected full deposit regardless of withdrawals, got %s", got)
	}
}

func TestStreamedAmount_LinearMidpoint(t *testing.T) {
	snap, segs := singleLinear()

	got := StreamedAmount(50, snap, segs)
	if !got.Equal(d(500)) {
		t.Errorf("expected 500 at linear midpoint, got %s", got)
	}
}

func TestStreamedAmount_ExponentShapes(t *testing.T) {
	snap, _ := singleLinear()

	tests := []struct {
		name     string
		exponent decimal.Decimal
		now      uint64
		want     decimal.Decimal
	}{
		// progress = 0.5: quadratic → 1000 * 0.25 = 250.
		{"back-loaded quadratic", d(2), 50, d(250)},
		// progress = 0.25, exponent 0.5 → 1000 * 0.5 = 500.
		{"front-loaded sqrt", df(0.5), 25, d(500)},
		// exponent 0 unlocks the full amount the instant the segment starts.
		{"exponent zero", d(0), 1, d(1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := []model.Segment{{Amount: d(1000), Exponent: tt.exponent, Timestamp: 100}}
			got := StreamedAmount(tt.now, snap, segs)
			if !got.Equal(tt.want) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStreamedAmount_Monotone(t *testing.T) {
	snap := Snapshot{StartTime: 10, EndTime: 310, Deposited: d(100000)}
	segs := []model.Segment{
		{Amount: d(25000), Exponent: df(0.5), Timestamp: 110},
		{Amount: d(40000), Exponent: d(1), Timestamp: 210},
		{Amount: d(35000), Exponent: d(3), Timestamp: 310},
	}

	prev := decimal.Zero
	for now := uint64(0); now <= 320; now++ {
		got := StreamedAmount(now, snap, segs)
		if got.LessThan(prev) {
			t.Fatalf("streamed amount decreased at now=%d: %s < %s", now, got, prev)
		}
		if got.GreaterThan(snap.Deposited) {
			t.Fatalf("streamed amount exceeds deposit at now=%d: %s", now, got)
		}
		prev = got
	}
	if !prev.Equal(snap.Deposited) {
		t.Errorf("expected full deposit past end, got %s", prev)
	}
}

// --- Multi-segment tests ---

func TestStreamedAmount_TwoSegments(t *testing.T) {
	snap := Snapshot{StartTime: 0, EndTime: 150, Deposited: d(1000)}
	segs := []model.Segment{
		linearSegment(400, 50),
		linearSegment(600, 150),
	}

	// At now=100 the first segment is fully elapsed and the second is half
	// done: 400 + 600 * (50/100) = 700.
	got := StreamedAmount(100, snap, segs)
	if !got.Equal(d(700)) {
		t.Errorf("expected 700, got %s", got)
	}
}

func TestStreamedAmount_MultiSegmentBoundaries(t *testing.T) {
	snap := Snapshot{StartTime: 0, EndTime: 150, Deposited: d(1000)}
	segs := []model.Segment{
		linearSegment(400, 50),
		linearSegment(600, 150),
	}

	tests := []struct {
		now  uint64
		want decimal.Decimal
	}{
		{0, d(0)},      // segment one starts, nothing elapsed
		{25, d(200)},   // halfway through segment one
		{50, d(400)},   // exactly at the first boundary
		{150, d(1000)}, // at the end
	}
	for _, tt := range tests {
		got := StreamedAmount(tt.now, snap, segs)
		if !got.Equal(tt.want) {
			t.Errorf("now=%d: expected %s, got %s", tt.now, tt.want, got)
		}
	}
}

func TestStreamedAmount_ExponentZeroAtStartInstant(t *testing.T) {
	// An exponent of 0 unlocks the segment's full amount the instant it
	// starts: 0^0 resolves to 1, so even at now == startTime (zero elapsed)
	// the whole deposit is streamed.
	snap := Snapshot{StartTime: 100, EndTime: 200, Deposited: d(1000)}
	segs := []model.Segment{{Amount: d(1000), Exponent: d(0), Timestamp: 200}}

	got := StreamedAmount(100, snap, segs)
	if !got.Equal(d(1000)) {
		t.Errorf("expected full deposit at start instant, got %s", got)
	}
}

func TestStreamedAmount_MultiSegmentExponentZero(t *testing.T) {
	snap := Snapshot{StartTime: 0, EndTime: 200, Deposited: d(1000)}
	segs := []model.Segment{
		linearSegment(300, 100),
		{Amount: d(700), Exponent: d(0), Timestamp: 200},
	}

	// The moment the second segment begins, its full amount is unlocked.
	got := StreamedAmount(101, snap, segs)
	if !got.Equal(d(1000)) {
		t.Errorf("expected 1000 right after second segment start, got %s", got)
	}
}

func TestStreamedAmount_EndTimePastLastSegment(t *testing.T) {
	// A stored row whose end time disagrees with the last segment timestamp
	// must not panic; the walk stays within the list and the overshoot is
	// clamped to the elapsed total.
	snap := Snapshot{StartTime: 0, EndTime: 300, Deposited: d(1000)}
	segs := []model.Segment{
		linearSegment(400, 50),
		linearSegment(600, 150),
	}

	got := StreamedAmount(250, snap, segs)
	if !got.Equal(d(400)) {
		t.Errorf("expected clamp to elapsed total 400, got %s", got)
	}
	if got.GreaterThan(snap.Deposited) {
		t.Errorf("clamped result exceeds deposit: %s", got)
	}
}

// --- Clamp behavior ---

func TestStreamedAmount_ClampNeverBelowWithdrawn(t *testing.T) {
	// clampFloor backs the overshoot path: it must never report less than
	// either the elapsed total or the already-withdrawn amount.
	if got := clampFloor(d(300), d(500)); !got.Equal(d(500)) {
		t.Errorf("expected withdrawn to win, got %s", got)
	}
	if got := clampFloor(d(700), d(500)); !got.Equal(d(700)) {
		t.Errorf("expected previous total to win, got %s", got)
	}
}

// --- Status derivation ---

func TestStatusOf_Priorities(t *testing.T) {
	base := Snapshot{StartTime: 100, EndTime: 200, Deposited: d(1000)}

	tests := []struct {
		name     string
		mutate   func(*Snapshot)
		now      uint64
		streamed decimal.Decimal
		want     model.Status
	}{
		{"pending before start", func(s *Snapshot) {}, 50, d(0), model.StatusPending},
		{"streaming mid-curve", func(s *Snapshot) {}, 150, d(500), model.StatusStreaming},
		{"settled at full unlock", func(s *Snapshot) {}, 250, d(1000), model.StatusSettled},
		{"canceled", func(s *Snapshot) { s.WasCanceled = true }, 150, d(500), model.StatusCanceled},
		{
			"depleted overrides canceled",
			func(s *Snapshot) {
				s.WasCanceled = true
				s.Withdrawn = d(600)
				s.Refunded = d(400)
			},
			150, d(600), model.StatusDepleted,
		},
		{
			"depleted by withdrawal alone",
			func(s *Snapshot) { s.Withdrawn = d(1000) },
			250, d(1000), model.StatusDepleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := base
			tt.mutate(&snap)
			got := StatusOf(tt.now, snap, tt.streamed)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCancelableNow_SettledIsFinal(t *testing.T) {
	snap, segs := singleLinear()

	if !CancelableNow(50, snap, segs, true) {
		t.Error("mid-stream cancelable stream should be cancelable")
	}
	// Past the end the stream is settled; cancelability is forced off even
	// though it was configured on.
	if CancelableNow(100, snap, segs, true) {
		t.Error("settled stream must not be cancelable")
	}
	if CancelableNow(50, snap, segs, false) {
		t.Error("non-cancelable configuration must stay non-cancelable")
	}
}

// --- Derived amounts ---

func TestWithdrawableAmount(t *testing.T) {
	snap, segs := singleLinear()
	snap.Withdrawn = d(200)

	// Streamed 500 at midpoint, 200 already withdrawn.
	got := WithdrawableAmount(50, snap, segs)
	if !got.Equal(d(300)) {
		t.Errorf("expected 300 withdrawable, got %s", got)
	}
}

func TestWithdrawableAmount_CappedByRefund(t *testing.T) {
	snap, segs := singleLinear()
	snap.WasCanceled = true
	snap.Refunded = d(500)
	snap.Withdrawn = d(100)

	// After cancel at midpoint, the recipient can still take streamed-withdrawn
	// but never more than deposited-refunded.
	got := WithdrawableAmount(90, snap, segs)
	if !got.Equal(d(400)) {
		t.Errorf("expected 400 withdrawable after cancel, got %s", got)
	}
}

func TestRefundableAmount(t *testing.T) {
	snap, segs := singleLinear()

	if got := RefundableAmount(50, snap, segs); !got.Equal(d(500)) {
		t.Errorf("expected 500 refundable at midpoint, got %s", got)
	}

	snap.WasCanceled = true
	if got := RefundableAmount(50, snap, segs); !got.IsZero() {
		t.Errorf("expected 0 refundable after cancel, got %s", got)
	}
}
