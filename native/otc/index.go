package otc

// Cleanup batch bounds and defaults for the open-offer index.
const (
	cleanupMinBatch = 1
	cleanupMaxBatch = 100
)

// IndexState is the persistence surface for the open-offer index.
type IndexState interface {
	OpenOffersGet() ([]uint64, error)
	OpenOffersPut([]uint64) error
	OfferGet(id uint64) (*Offer, bool, error)
}

// OfferIndexManager maintains the capacity-bounded set of open offer ids and
// its cost-bounded compaction. Removal swaps the victim with the last entry,
// so the index preserves no ordering over open ids.
type OfferIndexManager struct {
	state     IndexState
	cap       int
	graceSecs int64
}

// NewOfferIndexManager binds an index manager to the supplied state backend.
func NewOfferIndexManager(state IndexState, cap int, graceSecs int64) *OfferIndexManager {
	if cap <= 0 {
		cap = 1000
	}
	return &OfferIndexManager{state: state, cap: cap, graceSecs: graceSecs}
}

// Append registers a newly created offer id. Near capacity it first runs a
// bounded cleanup pass; if the index is still full the append fails rather
// than growing without bound.
func (m *OfferIndexManager) Append(id uint64, now int64) error {
	ids, err := m.state.OpenOffersGet()
	if err != nil {
		return err
	}
	if len(ids) >= m.cap {
		if _, err := m.Cleanup(cleanupMaxBatch, now); err != nil {
			return err
		}
		ids, err = m.state.OpenOffersGet()
		if err != nil {
			return err
		}
		if len(ids) >= m.cap {
			return ErrOpenOffersFull
		}
	}
	return m.state.OpenOffersPut(append(ids, id))
}

// Remove drops an id via swap-remove. Unknown ids are a no-op.
func (m *OfferIndexManager) Remove(id uint64) error {
	ids, err := m.state.OpenOffersGet()
	if err != nil {
		return err
	}
	for i, entry := range ids {
		if entry == id {
			ids[i] = ids[len(ids)-1]
			return m.state.OpenOffersPut(ids[:len(ids)-1])
		}
	}
	return nil
}

// Cleanup scans up to maxToProcess entries and compacts out offers that are
// resolved and older than the grace period. Anyone may trigger it, keeping the
// index self-healing without a privileged janitor. Returns how many entries
// were removed.
func (m *OfferIndexManager) Cleanup(maxToProcess int, now int64) (int, error) {
	if maxToProcess < cleanupMinBatch || maxToProcess > cleanupMaxBatch {
		return 0, ErrInvalidMax
	}
	ids, err := m.state.OpenOffersGet()
	if err != nil {
		return 0, err
	}
	removed := 0
	scanned := 0
	for i := 0; i < len(ids) && scanned < maxToProcess; {
		scanned++
		offer, ok, err := m.state.OfferGet(ids[i])
		if err != nil {
			return removed, err
		}
		if ok && offer.Open() {
			i++
			continue
		}
		// Missing offers are compacted immediately; resolved ones only
		// after the grace period.
		if ok && m.graceSecs > 0 && now-offer.CreatedAt <= m.graceSecs {
			i++
			continue
		}
		ids[i] = ids[len(ids)-1]
		ids = ids[:len(ids)-1]
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, m.state.OpenOffersPut(ids)
}

// OpenIDs returns a copy of the current index contents.
func (m *OfferIndexManager) OpenIDs() ([]uint64, error) {
	ids, err := m.state.OpenOffersGet()
	if err != nil {
		return nil, err
	}
	return append([]uint64{}, ids...), nil
}
