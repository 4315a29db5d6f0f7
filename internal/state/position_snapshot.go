package state

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	// PositionSnapshotKey holds the currently open position pair, if any.
	// Written when both legs fill, deleted when the pair is closed, so a
	// restart can tell whether real positions may be sitting on the venues.
	PositionSnapshotKey = "strategy:open_position"

	// CycleSeqKey holds the last issued cycle sequence number.
	CycleSeqKey = "strategy:cycle_seq"
)

// LegSnapshot records one leg of an open position pair. Prices and sizes are
// decimal strings to keep the stored values exact.
type LegSnapshot struct {
	Venue   string `json:"venue"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	OrderID string `json:"order_id,omitempty"`
}

type PositionSnapshot struct {
	Cycle      uint64      `json:"cycle"`
	Long       LegSnapshot `json:"long"`
	Short      LegSnapshot `json:"short"`
	OpenedAtMS int64       `json:"opened_at_ms"`
}

func LoadPositionSnapshot(ctx context.Context, store Store) (PositionSnapshot, bool, error) {
	if store == nil {
		return PositionSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, PositionSnapshotKey)
	if err != nil {
		return PositionSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return PositionSnapshot{}, false, nil
	}
	var snapshot PositionSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return PositionSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SavePositionSnapshot(ctx context.Context, store Store, snapshot PositionSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, PositionSnapshotKey, string(payload))
}

func ClearPositionSnapshot(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	return store.Delete(ctx, PositionSnapshotKey)
}

func LoadCycleSeq(ctx context.Context, store Store) (uint64, error) {
	if store == nil {
		return 0, nil
	}
	raw, ok, err := store.Get(ctx, CycleSeqKey)
	if err != nil || !ok {
		return 0, err
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func SaveCycleSeq(ctx context.Context, store Store, seq uint64) error {
	if store == nil {
		return nil
	}
	return store.Set(ctx, CycleSeqKey, strconv.FormatUint(seq, 10))
}
