package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// the immutable segment list is stored as JSONB alongside its stream.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateStream(ctx context.Context, st *model.Stream) error {
	segments, err := json.Marshal(st.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO streams (id, sender, recipient, asset_id, start_time, end_time,
		                      deposited, withdrawn, refunded,
		                      is_cancelable, was_canceled, is_depleted, is_transferable,
		                      segments, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		         $10, $11, $12, $13, $14::JSONB, $15)`,
		st.ID, st.Sender, st.Recipient, st.AssetID,
		int64(st.StartTime), int64(st.EndTime),
		st.Amounts.Deposited.String(), st.Amounts.Withdrawn.String(), st.Amounts.Refunded.String(),
		st.IsCancelable, st.WasCanceled, st.IsDepleted, st.IsTransferable,
		segments, st.CreatedAt,
	)
	return err
}

const streamColumns = `id, sender, recipient, asset_id, start_time, end_time,
       deposited::TEXT, withdrawn::TEXT, refunded::TEXT,
       is_cancelable, was_canceled, is_depleted, is_transferable,
       segments, created_at`

func (s *PostgresStore) GetStream(ctx context.Context, id string) (*model.Stream, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)

	st, err := scanStream(row)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", id, err)
	}
	return st, nil
}

func (s *PostgresStore) ListStreams(ctx context.Context) ([]model.Stream, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+streamColumns+` FROM streams ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []model.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, *st)
	}
	return streams, rows.Err()
}

func (s *PostgresStore) UpdateStreamState(ctx context.Context, id string, withdrawn, refunded decimal.Decimal, wasCanceled, isDepleted bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE streams
		 SET withdrawn = $2::NUMERIC, refunded = $3::NUMERIC,
		     was_canceled = $4, is_depleted = $5
		 WHERE id = $1`,
		id, withdrawn.String(), refunded.String(), wasCanceled, isDepleted,
	)
	return err
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, stream_id, kind, account, amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		e.ID, e.StreamID, e.Kind, e.Account, e.Amount.String(), e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetLedgerEntriesByStream(ctx context.Context, streamID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, stream_id, kind, account, amount::TEXT, timestamp
		 FROM ledger_entries WHERE stream_id = $1 ORDER BY timestamp`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amountS string

		if err := rows.Scan(&e.ID, &e.StreamID, &e.Kind, &e.Account,
			&amountS, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amountS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetSenderOpenDeposits(ctx context.Context, sender string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id,
		        COALESCE(SUM(deposited - withdrawn - refunded), 0)::TEXT AS open_deposit
		 FROM streams
		 WHERE sender = $1 AND NOT is_depleted
		 GROUP BY asset_id`, sender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deposits := make(map[string]decimal.Decimal)
	for rows.Next() {
		var assetID, openS string
		if err := rows.Scan(&assetID, &openS); err != nil {
			return nil, err
		}
		open, _ := decimal.NewFromString(openS)
		deposits[assetID] = open
	}

	return deposits, rows.Err()
}

// streamRow is satisfied by both pgx.Row and pgx.Rows.
type streamRow interface {
	Scan(dest ...interface{}) error
}

func scanStream(row streamRow) (*model.Stream, error) {
	var st model.Stream
	var startTime, endTime int64
	var depositedS, withdrawnS, refundedS string
	var segments []byte

	if err := row.Scan(&st.ID, &st.Sender, &st.Recipient, &st.AssetID,
		&startTime, &endTime,
		&depositedS, &withdrawnS, &refundedS,
		&st.IsCancelable, &st.WasCanceled, &st.IsDepleted, &st.IsTransferable,
		&segments, &st.CreatedAt); err != nil {
		return nil, err
	}

	st.StartTime = uint64(startTime)
	st.EndTime = uint64(endTime)
	st.Amounts.Deposited, _ = decimal.NewFromString(depositedS)
	st.Amounts.Withdrawn, _ = decimal.NewFromString(withdrawnS)
	st.Amounts.Refunded, _ = decimal.NewFromString(refundedS)

	if err := json.Unmarshal(segments, &st.Segments); err != nil {
		return nil, fmt.Errorf("unmarshal segments: %w", err)
	}

	return &st, nil
}
