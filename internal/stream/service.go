// Package stream provides the HTTP handlers and business logic for creating
// vesting streams, querying streamed amounts and statuses, withdrawing, and
// canceling.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The computation core (fees, segment, curve) is pure; this package owns the
// side effects: persistence, metrics, broadcasts, and the wall clock. Time is
// injected as a function so every curve computation stays replayable.
package stream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/asset"
	"github.com/vestflow/stream-engine/internal/curve"
	"github.com/vestflow/stream-engine/internal/fees"
	"github.com/vestflow/stream-engine/internal/limits"
	"github.com/vestflow/stream-engine/internal/metrics"
	"github.com/vestflow/stream-engine/internal/model"
	"github.com/vestflow/stream-engine/internal/segment"
	"github.com/vestflow/stream-engine/internal/store"
)

// Default configuration values.
var (
	DefaultProtocolFeeRate = decimal.NewFromFloat(0.005) // 0.5%
	DefaultMaxFeeRate      = decimal.NewFromFloat(0.1)   // 10%

	// MaxExponent bounds segment easing exponents to a small non-negative
	// range; anything steeper has no practical unlocking shape.
	MaxExponent = decimal.NewFromInt(10)
)

// DefaultMaxSegmentCount bounds the linear per-query segment walk.
const DefaultMaxSegmentCount = 300

// Config carries the service's tunable parameters. Zero values fall back to
// the defaults above; a nil Now falls back to the system clock.
type Config struct {
	ProtocolFeeRate decimal.Decimal
	MaxFeeRate      decimal.Decimal
	MaxSegmentCount int
	Now             func() uint64 // UNIX seconds
}

// Service handles stream operations. Uses a mutex for serialized state
// mutation (single-instance), which provides the single-writer-per-stream
// guarantee the computation core assumes. For horizontal scaling, replace
// with distributed locking or database-level optimistic concurrency.
type Service struct {
	store   store.Store
	limiter *limits.DepositLimiter
	cfg     Config
	mu      sync.Mutex
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new stream service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter *limits.DepositLimiter, hub *WSHub, cfg Config) *Service {
	if cfg.ProtocolFeeRate.IsZero() {
		cfg.ProtocolFeeRate = DefaultProtocolFeeRate
	}
	if cfg.MaxFeeRate.IsZero() {
		cfg.MaxFeeRate = DefaultMaxFeeRate
	}
	if cfg.MaxSegmentCount <= 0 {
		cfg.MaxSegmentCount = DefaultMaxSegmentCount
	}
	if cfg.Now == nil {
		cfg.Now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	return &Service{
		store:   st,
		limiter: limiter,
		cfg:     cfg,
		wsHub:   hub,
	}
}

// --- Request/Response types ---

// CreateStreamRequest is the JSON body for stream creation. Segment durations
// are relative to start_time; segment amounts must sum to the net deposit
// (total_amount minus protocol and broker fees).
type CreateStreamRequest struct {
	Sender       string                      `json:"sender"`
	Recipient    string                      `json:"recipient"`
	AssetID      string                      `json:"asset_id"`
	TotalAmount  decimal.Decimal             `json:"total_amount"`
	StartTime    uint64                      `json:"start_time"` // UNIX seconds
	Segments     []model.SegmentWithDuration `json:"segments"`
	Broker       model.Broker                `json:"broker"`
	Cancelable   bool                        `json:"cancelable"`
	Transferable bool                        `json:"transferable"`
}

// CreateStreamResponse is returned from POST /streams.
type CreateStreamResponse struct {
	Stream        model.Stream        `json:"stream"`
	CreateAmounts model.CreateAmounts `json:"create_amounts"`
}

// StreamedResponse is returned from GET /streams/{id}/streamed.
type StreamedResponse struct {
	StreamID       string          `json:"stream_id"`
	At             uint64          `json:"at"`
	StreamedAmount decimal.Decimal `json:"streamed_amount"`
}

// StatusResponse is returned from GET /streams/{id}/status.
type StatusResponse struct {
	StreamID           string          `json:"stream_id"`
	At                 uint64          `json:"at"`
	Status             model.Status    `json:"status"`
	StreamedAmount     decimal.Decimal `json:"streamed_amount"`
	WithdrawableAmount decimal.Decimal `json:"withdrawable_amount"`
	RefundableAmount   decimal.Decimal `json:"refundable_amount"`
	IsCancelable       bool            `json:"is_cancelable"` // effective, not configured
}

// WithdrawRequest is the JSON body for POST /streams/{id}/withdraw.
type WithdrawRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// WithdrawResponse is returned from POST /streams/{id}/withdraw.
type WithdrawResponse struct {
	StreamID           string          `json:"stream_id"`
	WithdrawnAmount    decimal.Decimal `json:"withdrawn_amount"`
	WithdrawableAmount decimal.Decimal `json:"withdrawable_amount"` // remaining
	Status             model.Status    `json:"status"`
}

// CancelResponse is returned from POST /streams/{id}/cancel.
type CancelResponse struct {
	StreamID         string          `json:"stream_id"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
	RecipientBalance decimal.Decimal `json:"recipient_balance"` // still withdrawable
	Status           model.Status    `json:"status"`
}

// --- HTTP Handlers ---

// CreateStream handles POST /api/v1/streams.
// Runs the full creation pipeline: fee split, canonicalization, validation,
// deposit-limit check, persistence.
func (s *Service) CreateStream(w http.ResponseWriter, r *http.Request) {
	var req CreateStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.Sender == "" || req.Recipient == "" {
		writeError(w, "sender and recipient are required", http.StatusBadRequest)
		return
	}
	if _, err := asset.Parse(req.AssetID); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.TotalAmount.IsPositive() || !req.TotalAmount.IsInteger() {
		writeError(w, "total_amount must be a positive integer amount", http.StatusBadRequest)
		return
	}
	if req.Broker.Fee.IsPositive() && req.Broker.Account == "" {
		writeError(w, "broker account is required when broker fee is set", http.StatusBadRequest)
		return
	}
	if req.Broker.Fee.IsNegative() {
		writeError(w, "broker fee must not be negative", http.StatusBadRequest)
		return
	}
	for i, seg := range req.Segments {
		if seg.Amount.IsNegative() || !seg.Amount.IsInteger() {
			writeError(w, "segment "+strconv.Itoa(i)+": amount must be a non-negative integer",
				http.StatusBadRequest)
			return
		}
		if seg.Exponent.IsNegative() || seg.Exponent.GreaterThan(MaxExponent) {
			writeError(w, "segment "+strconv.Itoa(i)+": exponent must be in [0, "+MaxExponent.String()+"]",
				http.StatusBadRequest)
			return
		}
	}

	// --- Fee split ---
	split, err := fees.Split(req.TotalAmount, s.cfg.ProtocolFeeRate, req.Broker.Fee, s.cfg.MaxFeeRate)
	if err != nil {
		if errors.Is(err, fees.ErrFeeInvariantViolated) {
			slog.Error("fee invariant violated", "err", err, "total", req.TotalAmount.String())
			writeError(w, "internal error: fee computation fault", http.StatusInternalServerError)
			return
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// --- Canonicalize and validate the curve ---
	canonical := segment.Canonicalize(req.StartTime, req.Segments)
	endTime, err := segment.Validate(canonical, split.Deposit, req.StartTime, s.cfg.MaxSegmentCount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize state mutation.
	s.mu.Lock()
	defer s.mu.Unlock()

	// --- Deposit limit check ---
	deposits, err := s.store.GetSenderOpenDeposits(ctx, req.Sender)
	if err != nil {
		writeError(w, "failed to check deposit limits", http.StatusInternalServerError)
		return
	}
	if err := s.limiter.CheckLimit(req.AssetID, split.Deposit, deposits); err != nil {
		metrics.DepositLimitRejections.Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	stream := &model.Stream{
		ID:             uuid.New().String(),
		Sender:         req.Sender,
		Recipient:      req.Recipient,
		AssetID:        req.AssetID,
		StartTime:      req.StartTime,
		EndTime:        endTime,
		IsCancelable:   req.Cancelable,
		IsTransferable: req.Transferable,
		Amounts: model.Amounts{
			Deposited: split.Deposit,
			Withdrawn: decimal.Zero,
			Refunded:  decimal.Zero,
		},
		Segments:  canonical,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateStream(ctx, stream); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		StreamID:  stream.ID,
		Kind:      model.LedgerDeposit,
		Account:   req.Sender,
		Amount:    split.Deposit,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		writeError(w, "failed to record deposit", http.StatusInternalServerError)
		return
	}

	metrics.StreamsCreated.WithLabelValues(req.AssetID).Inc()

	slog.Info("stream created",
		"id", stream.ID,
		"sender", req.Sender,
		"recipient", req.Recipient,
		"asset", req.AssetID,
		"deposit", split.Deposit.String(),
		"protocol_fee", split.ProtocolFee.String(),
		"broker_fee", split.BrokerFee.String(),
		"segments", len(canonical),
		"end_time", endTime,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "stream_created",
			StreamID:  stream.ID,
			AssetID:   stream.AssetID,
			Sender:    stream.Sender,
			Recipient: stream.Recipient,
			Amount:    split.Deposit.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateStreamResponse{
		Stream:        *stream,
		CreateAmounts: split,
	})
}

// ListStreams handles GET /api/v1/streams.
// Returns all streams, optionally filtered by ?sender=<account>.
func (s *Service) ListStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := s.store.ListStreams(r.Context())
	if err != nil {
		writeError(w, "failed to list streams", http.StatusInternalServerError)
		return
	}
	if streams == nil {
		streams = []model.Stream{}
	}

	if sender := r.URL.Query().Get("sender"); sender != "" {
		filtered := []model.Stream{}
		for _, st := range streams {
			if st.Sender == sender {
				filtered = append(filtered, st)
			}
		}
		streams = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(streams)
}

// GetStream handles GET /api/v1/streams/{streamID}.
func (s *Service) GetStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	stream, err := s.store.GetStream(r.Context(), streamID)
	if err != nil {
		writeError(w, "stream not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stream)
}

// GetStreamedAmount handles GET /api/v1/streams/{streamID}/streamed.
// The optional ?at=<unix seconds> query evaluates the curve at an arbitrary
// time; it defaults to the service clock.
func (s *Service) GetStreamedAmount(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	at, ok := s.queryTime(w, r)
	if !ok {
		return
	}

	stream, err := s.store.GetStream(r.Context(), streamID)
	if err != nil {
		writeError(w, "stream not found", http.StatusNotFound)
		return
	}

	start := time.Now()
	streamed := curve.StreamedAmount(at, curve.SnapshotOf(stream), stream.Segments)
	metrics.StreamedQueryLatency.Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StreamedResponse{
		StreamID:       streamID,
		At:             at,
		StreamedAmount: streamed,
	})
}

// GetStatus handles GET /api/v1/streams/{streamID}/status.
// Returns the derived lifecycle state plus the withdrawable and refundable
// amounts and the effective cancelability at the evaluation time.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	at, ok := s.queryTime(w, r)
	if !ok {
		return
	}

	stream, err := s.store.GetStream(r.Context(), streamID)
	if err != nil {
		writeError(w, "stream not found", http.StatusNotFound)
		return
	}

	snap := curve.SnapshotOf(stream)
	streamed := curve.StreamedAmount(at, snap, stream.Segments)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{
		StreamID:           streamID,
		At:                 at,
		Status:             curve.StatusOf(at, snap, streamed),
		StreamedAmount:     streamed,
		WithdrawableAmount: curve.WithdrawableAmount(at, snap, stream.Segments),
		RefundableAmount:   curve.RefundableAmount(at, snap, stream.Segments),
		IsCancelable:       curve.CancelableNow(at, snap, stream.Segments, stream.IsCancelable),
	})
}

// Withdraw handles POST /api/v1/streams/{streamID}/withdraw.
// The amount is bounded by the withdrawable amount at the service clock.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		writeError(w, "amount must be a positive integer amount", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	now := s.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.store.GetStream(ctx, streamID)
	if err != nil {
		writeError(w, "stream not found", http.StatusNotFound)
		return
	}

	snap := curve.SnapshotOf(stream)
	withdrawable := curve.WithdrawableAmount(now, snap, stream.Segments)
	if req.Amount.GreaterThan(withdrawable) {
		writeError(w, "amount exceeds withdrawable balance of "+withdrawable.String(),
			http.StatusConflict)
		return
	}

	newWithdrawn := stream.Amounts.Withdrawn.Add(req.Amount)
	depleted := newWithdrawn.Add(stream.Amounts.Refunded).Equal(stream.Amounts.Deposited)

	if err := s.store.UpdateStreamState(ctx, streamID, newWithdrawn, stream.Amounts.Refunded,
		stream.WasCanceled, depleted); err != nil {
		writeError(w, "failed to update stream", http.StatusInternalServerError)
		return
	}

	to := req.To
	if to == "" {
		to = stream.Recipient
	}
	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		StreamID:  streamID,
		Kind:      model.LedgerWithdraw,
		Account:   to,
		Amount:    req.Amount,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		writeError(w, "failed to record withdrawal", http.StatusInternalServerError)
		return
	}

	metrics.WithdrawalsTotal.Inc()

	snap.Withdrawn = newWithdrawn
	status := curve.StatusOf(now, snap, curve.StreamedAmount(now, snap, stream.Segments))

	slog.Info("withdrawal executed",
		"stream", streamID,
		"to", to,
		"amount", req.Amount.String(),
		"withdrawn_total", newWithdrawn.String(),
		"status", string(status),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "stream_withdrawn",
			StreamID: streamID,
			AssetID:  stream.AssetID,
			Amount:   req.Amount.String(),
			Status:   string(status),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(WithdrawResponse{
		StreamID:           streamID,
		WithdrawnAmount:    req.Amount,
		WithdrawableAmount: curve.WithdrawableAmount(now, snap, stream.Segments),
		Status:             status,
	})
}

// Cancel handles POST /api/v1/streams/{streamID}/cancel.
// Refunds the not-yet-streamed balance to the sender; the recipient keeps the
// already-streamed portion for later withdrawal. Settled, canceled, depleted,
// and non-cancelable streams are rejected.
func (s *Service) Cancel(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	ctx := r.Context()
	now := s.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.store.GetStream(ctx, streamID)
	if err != nil {
		writeError(w, "stream not found", http.StatusNotFound)
		return
	}

	snap := curve.SnapshotOf(stream)
	if !curve.CancelableNow(now, snap, stream.Segments, stream.IsCancelable) {
		writeError(w, "stream is not cancelable", http.StatusConflict)
		return
	}

	refund := curve.RefundableAmount(now, snap, stream.Segments)
	newRefunded := stream.Amounts.Refunded.Add(refund)
	depleted := stream.Amounts.Withdrawn.Add(newRefunded).Equal(stream.Amounts.Deposited)

	if err := s.store.UpdateStreamState(ctx, streamID, stream.Amounts.Withdrawn, newRefunded,
		true, depleted); err != nil {
		writeError(w, "failed to update stream", http.StatusInternalServerError)
		return
	}

	if refund.IsPositive() {
		entry := &model.LedgerEntry{
			ID:        uuid.New().String(),
			StreamID:  streamID,
			Kind:      model.LedgerRefund,
			Account:   stream.Sender,
			Amount:    refund,
			Timestamp: time.Now().UTC(),
		}
		if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
			writeError(w, "failed to record refund", http.StatusInternalServerError)
			return
		}
	}

	metrics.CancellationsTotal.Inc()

	snap.Refunded = newRefunded
	snap.WasCanceled = true
	status := curve.StatusOf(now, snap, curve.StreamedAmount(now, snap, stream.Segments))

	slog.Info("stream canceled",
		"stream", streamID,
		"sender", stream.Sender,
		"refund", refund.String(),
		"status", string(status),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "stream_canceled",
			StreamID: streamID,
			AssetID:  stream.AssetID,
			Amount:   refund.String(),
			Status:   string(status),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CancelResponse{
		StreamID:         streamID,
		RefundedAmount:   refund,
		RecipientBalance: curve.WithdrawableAmount(now, snap, stream.Segments),
		Status:           status,
	})
}

// GetLedger handles GET /api/v1/streams/{streamID}/ledger.
// Returns the immutable deposit/withdraw/refund history.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	entries, err := s.store.GetLedgerEntriesByStream(r.Context(), streamID)
	if err != nil {
		writeError(w, "failed to get stream ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// queryTime resolves the optional ?at= query parameter, defaulting to the
// service clock. Returns ok=false after writing an error response.
func (s *Service) queryTime(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return s.cfg.Now(), true
	}
	at, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, "at must be a UNIX timestamp in seconds", http.StatusBadRequest)
		return 0, false
	}
	return at, true
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
