// Package store defines the persistence interface for the stream engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Segment lists are written once
// at creation and never updated.
type Store interface {
	// --- Stream operations ---

	// CreateStream persists a new stream with its immutable segment list.
	CreateStream(ctx context.Context, stream *model.Stream) error

	// GetStream retrieves a stream by its ID.
	GetStream(ctx context.Context, id string) (*model.Stream, error)

	// ListStreams returns all streams.
	ListStreams(ctx context.Context) ([]model.Stream, error)

	// UpdateStreamState updates the mutable fields after a withdrawal or
	// cancellation. The segment list and time bounds are never touched.
	UpdateStreamState(ctx context.Context, id string, withdrawn, refunded decimal.Decimal, wasCanceled, isDepleted bool) error

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable value-movement record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntriesByStream returns all entries for a stream.
	GetLedgerEntriesByStream(ctx context.Context, streamID string) ([]model.LedgerEntry, error)

	// --- Exposure queries ---

	// GetSenderOpenDeposits returns, per asset, the value a sender still has
	// locked in non-depleted streams (deposited - withdrawn - refunded).
	GetSenderOpenDeposits(ctx context.Context, sender string) (map[string]decimal.Decimal, error)
}
