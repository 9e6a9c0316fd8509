package otc

import (
	"errors"
	"math/big"
	"testing"
)

func seedOffer(st *mockState, id uint64, createdAt int64, open bool) {
	offer := &Offer{
		ID:          id,
		Token:       testSymbol,
		TokenAmount: big.NewInt(1),
		CreatedAt:   createdAt,
		Cancelled:   !open,
	}
	st.offers[id] = offer
}

func TestIndexCleanupBatchBounds(t *testing.T) {
	st := newMockState()
	manager := NewOfferIndexManager(st, 10, 100)
	if _, err := manager.Cleanup(0, 0); !errors.Is(err, ErrInvalidMax) {
		t.Fatalf("batch 0: got %v, want ErrInvalidMax", err)
	}
	if _, err := manager.Cleanup(101, 0); !errors.Is(err, ErrInvalidMax) {
		t.Fatalf("batch 101: got %v, want ErrInvalidMax", err)
	}
	if _, err := manager.Cleanup(1, 0); err != nil {
		t.Fatalf("batch 1: %v", err)
	}
}

func TestIndexCleanupGracePeriod(t *testing.T) {
	st := newMockState()
	manager := NewOfferIndexManager(st, 10, 100)
	now := int64(1000)
	seedOffer(st, 1, now-200, false) // resolved, past grace
	seedOffer(st, 2, now-50, false)  // resolved, inside grace
	seedOffer(st, 3, now-500, true)  // still open
	st.openOffers = []uint64{1, 2, 3, 4} // 4 has no stored offer

	removed, err := manager.Cleanup(100, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	ids, err := manager.OpenIDs()
	if err != nil {
		t.Fatalf("open ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("index = %v, want ids 2 and 3", ids)
	}
	seen := map[uint64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[2] || !seen[3] {
		t.Fatalf("index = %v, want ids 2 and 3", ids)
	}
}

func TestIndexAppendCapacity(t *testing.T) {
	st := newMockState()
	manager := NewOfferIndexManager(st, 3, 100)
	now := int64(1000)
	for id := uint64(1); id <= 3; id++ {
		seedOffer(st, id, now, true)
		if err := manager.Append(id, now); err != nil {
			t.Fatalf("append %d: %v", id, err)
		}
	}
	// All entries open: the cleanup pass frees nothing and the append
	// fails.
	if err := manager.Append(4, now); !errors.Is(err, ErrOpenOffersFull) {
		t.Fatalf("append at capacity: got %v, want ErrOpenOffersFull", err)
	}

	// Resolving an old entry lets the capacity-triggered cleanup reclaim
	// its slot.
	st.offers[1].Cancelled = true
	st.offers[1].CreatedAt = now - 200
	if err := manager.Append(4, now); err != nil {
		t.Fatalf("append after resolve: %v", err)
	}
	ids, err := manager.OpenIDs()
	if err != nil {
		t.Fatalf("open ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("index = %v, want 3 entries", ids)
	}
}

func TestIndexRemoveSwap(t *testing.T) {
	st := newMockState()
	manager := NewOfferIndexManager(st, 10, 100)
	st.openOffers = []uint64{1, 2, 3}
	if err := manager.Remove(2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ids, err := manager.OpenIDs()
	if err != nil {
		t.Fatalf("open ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("index = %v", ids)
	}
	// Removing an unknown id is a no-op.
	if err := manager.Remove(99); err != nil {
		t.Fatalf("remove unknown: %v", err)
	}
}
