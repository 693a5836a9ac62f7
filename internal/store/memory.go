package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]*model.Stream
	ledger  []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string]*model.Stream),
	}
}

func (s *MemoryStore) CreateStream(_ context.Context, st *model.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.streams[st.ID]; exists {
		return fmt.Errorf("stream %s already exists", st.ID)
	}

	// Store a copy (segments included) to avoid external mutation.
	s.streams[st.ID] = copyStream(st)
	return nil
}

func (s *MemoryStore) GetStream(_ context.Context, id string) (*model.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[id]
	if !ok {
		return nil, fmt.Errorf("stream %s not found", id)
	}
	return copyStream(st), nil
}

func (s *MemoryStore) ListStreams(_ context.Context) ([]model.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	streams := make([]model.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, *copyStream(st))
	}
	// Newest first, matching the PostgreSQL store's ordering.
	sort.SliceStable(streams, func(i, j int) bool {
		return streams[i].CreatedAt.After(streams[j].CreatedAt)
	})
	return streams, nil
}

func (s *MemoryStore) UpdateStreamState(_ context.Context, id string, withdrawn, refunded decimal.Decimal, wasCanceled, isDepleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[id]
	if !ok {
		return fmt.Errorf("stream %s not found", id)
	}
	st.Amounts.Withdrawn = withdrawn
	st.Amounts.Refunded = refunded
	st.WasCanceled = wasCanceled
	st.IsDepleted = isDepleted
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByStream(_ context.Context, streamID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.StreamID == streamID {
			result = append(result, e)
		}
	}
	return result, nil
}

// GetSenderOpenDeposits sums deposited - withdrawn - refunded per asset over
// the sender's non-depleted streams.
func (s *MemoryStore) GetSenderOpenDeposits(_ context.Context, sender string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deposits := make(map[string]decimal.Decimal)
	for _, st := range s.streams {
		if st.Sender != sender || st.IsDepleted {
			continue
		}
		open := st.Amounts.Deposited.Sub(st.Amounts.Withdrawn).Sub(st.Amounts.Refunded)
		deposits[st.AssetID] = deposits[st.AssetID].Add(open)
	}
	return deposits, nil
}

// copyStream deep-copies a stream, including its segment slice.
func copyStream(st *model.Stream) *model.Stream {
	out := *st
	out.Segments = make([]model.Segment, len(st.Segments))
	copy(out.Segments, st.Segments)
	return &out
}
