package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/model"
)

func testStream(id string, createdAt time.Time) *model.Stream {
	return &model.Stream{
		ID:        id,
		Sender:    "treasury",
		Recipient: "alice",
		AssetID:   "eip155:1/erc20:0x6b175474e89094c44da98b954eedeac495271d0f",
		StartTime: 1000,
		EndTime:   1100,
		Amounts: model.Amounts{
			Deposited: decimal.NewFromInt(1000),
			Withdrawn: decimal.Zero,
			Refunded:  decimal.Zero,
		},
		Segments: []model.Segment{
			{Amount: decimal.NewFromInt(1000), Exponent: decimal.NewFromInt(1), Timestamp: 1100},
		},
		CreatedAt: createdAt,
	}
}

func TestMemoryStore_ListStreamsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of chronological order.
	for _, st := range []*model.Stream{
		testStream("b", base.Add(2 * time.Minute)),
		testStream("a", base.Add(1 * time.Minute)),
		testStream("c", base.Add(3 * time.Minute)),
	} {
		if err := s.CreateStream(ctx, st); err != nil {
			t.Fatalf("create stream %s: %v", st.ID, err)
		}
	}

	streams, err := s.ListStreams(ctx)
	if err != nil {
		t.Fatalf("list streams: %v", err)
	}

	want := []string{"c", "b", "a"}
	if len(streams) != len(want) {
		t.Fatalf("expected %d streams, got %d", len(want), len(streams))
	}
	for i, id := range want {
		if streams[i].ID != id {
			t.Errorf("position %d: expected stream %s, got %s", i, id, streams[i].ID)
		}
	}
}
