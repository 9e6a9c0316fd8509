package otc

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// PriceQuote is an 8-decimal fixed point USD price plus the feed's report
// time.
type PriceQuote struct {
	PriceUsd8 uint64
	UpdatedAt int64
}

// PriceSource resolves a USD quote for a symbol. Implementations must be safe
// for concurrent use.
type PriceSource interface {
	Price(symbol string) (PriceQuote, error)
}

// Manual price sanity bounds, 8-decimal fixed point. A consigned token above
// $10,000 or a reference coin outside $0.01..$100,000 is treated as operator
// error rather than market data.
const (
	maxTokenPriceUsd8 = 10_000 * usdUnit8
	minRefPriceUsd8   = usdUnit8 / 100
	maxRefPriceUsd8   = 100_000 * usdUnit8
)

// FeedSource is a push-updated price table fed by an external oracle relay.
// Publishing a price that deviates too far from the previous value is
// rejected, bounding single-update manipulation.
type FeedSource struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewFeedSource returns an empty feed table.
func NewFeedSource() *FeedSource {
	return &FeedSource{quotes: make(map[string]PriceQuote)}
}

// Publish records a new quote. When maxDeviationBps is non-zero and a prior
// quote exists, moves beyond the bound fail with ErrPriceDeviationTooLarge.
func (f *FeedSource) Publish(symbol string, priceUsd8 uint64, updatedAt int64, maxDeviationBps uint16) error {
	if f == nil {
		return fmt.Errorf("otc: feed source not configured")
	}
	canonical, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if priceUsd8 == 0 {
		return ErrBadPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.quotes[canonical]; ok && prev.PriceUsd8 > 0 && maxDeviationBps > 0 {
		if deviationBps(prev.PriceUsd8, priceUsd8) > uint64(maxDeviationBps) {
			return ErrPriceDeviationTooLarge
		}
	}
	f.quotes[canonical] = PriceQuote{PriceUsd8: priceUsd8, UpdatedAt: updatedAt}
	return nil
}

// Price implements PriceSource.
func (f *FeedSource) Price(symbol string) (PriceQuote, error) {
	if f == nil {
		return PriceQuote{}, fmt.Errorf("otc: feed source not configured")
	}
	canonical, err := NormalizeSymbol(symbol)
	if err != nil {
		return PriceQuote{}, err
	}
	f.mu.RLock()
	quote, ok := f.quotes[canonical]
	f.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("otc: no feed quote for %s", canonical)
	}
	return quote, nil
}

// ManualSource is the owner-set override table used during feed incidents. It
// has its own, tighter staleness rule enforced by the adapter.
type ManualSource struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualSource returns an empty manual override table.
func NewManualSource() *ManualSource {
	return &ManualSource{quotes: make(map[string]PriceQuote)}
}

// Set records an override quote after bounds checking. isReference selects the
// reference-coin bounds instead of the token bounds.
func (m *ManualSource) Set(symbol string, priceUsd8 uint64, setAt int64, isReference bool) error {
	if m == nil {
		return fmt.Errorf("otc: manual source not configured")
	}
	canonical, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if priceUsd8 == 0 {
		return ErrBadPrice
	}
	if isReference {
		if priceUsd8 < minRefPriceUsd8 || priceUsd8 > maxRefPriceUsd8 {
			return ErrPriceOutOfBounds
		}
	} else if priceUsd8 > maxTokenPriceUsd8 {
		return ErrPriceOutOfBounds
	}
	m.mu.Lock()
	m.quotes[canonical] = PriceQuote{PriceUsd8: priceUsd8, UpdatedAt: setAt}
	m.mu.Unlock()
	return nil
}

// Price implements PriceSource.
func (m *ManualSource) Price(symbol string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("otc: manual source not configured")
	}
	canonical, err := NormalizeSymbol(symbol)
	if err != nil {
		return PriceQuote{}, err
	}
	m.mu.RLock()
	quote, ok := m.quotes[canonical]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("otc: no manual quote for %s", canonical)
	}
	return quote, nil
}

// OracleAdapter validates quotes before the engine prices a deal: rejects
// non-positive prices, enforces the feed staleness window, and falls back to
// the manual override (with its own, shorter window) when enabled. Reads have
// no side effects, so a failed read is safe to retry wholesale.
type OracleAdapter struct {
	mu               sync.RWMutex
	feed             PriceSource
	manual           PriceSource
	manualEnabled    bool
	maxAgeSecs       int64
	manualMaxAgeSecs int64
	nowFn            func() int64
}

// NewOracleAdapter wires a feed and a manual override with the supplied
// staleness windows.
func NewOracleAdapter(feed, manual PriceSource, maxAgeSecs, manualMaxAgeSecs int64) *OracleAdapter {
	return &OracleAdapter{
		feed:             feed,
		manual:           manual,
		maxAgeSecs:       maxAgeSecs,
		manualMaxAgeSecs: manualMaxAgeSecs,
		nowFn:            func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (a *OracleAdapter) SetNowFunc(now func() int64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if now == nil {
		a.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	a.nowFn = now
}

// SetManualEnabled toggles the manual override fallback.
func (a *OracleAdapter) SetManualEnabled(enabled bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.manualEnabled = enabled
	a.mu.Unlock()
}

// SetMaxAges updates the staleness windows.
func (a *OracleAdapter) SetMaxAges(maxAgeSecs, manualMaxAgeSecs int64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAgeSecs = maxAgeSecs
	a.manualMaxAgeSecs = manualMaxAgeSecs
	a.mu.Unlock()
}

// PriceUsd8 returns the validated price and its age in seconds for the
// symbol. Staleness beyond the feed window surfaces ErrStalePrice unless the
// manual override is enabled and itself fresh.
func (a *OracleAdapter) PriceUsd8(symbol string) (uint64, int64, error) {
	if a == nil {
		return 0, 0, fmt.Errorf("otc: oracle adapter not configured")
	}
	a.mu.RLock()
	feed := a.feed
	manual := a.manual
	manualEnabled := a.manualEnabled
	maxAge := a.maxAgeSecs
	manualMaxAge := a.manualMaxAgeSecs
	now := a.nowFn()
	a.mu.RUnlock()

	feedErr := ErrStalePrice
	if feed != nil {
		quote, err := feed.Price(symbol)
		switch {
		case err != nil:
			feedErr = err
		case quote.PriceUsd8 == 0:
			feedErr = ErrBadPrice
		default:
			age := now - quote.UpdatedAt
			if maxAge <= 0 || age <= maxAge {
				return quote.PriceUsd8, age, nil
			}
			feedErr = ErrStalePrice
		}
	}
	if !manualEnabled || manual == nil {
		return 0, 0, feedErr
	}
	quote, err := manual.Price(symbol)
	if err != nil {
		return 0, 0, feedErr
	}
	if quote.PriceUsd8 == 0 {
		return 0, 0, ErrBadPrice
	}
	age := now - quote.UpdatedAt
	if manualMaxAge > 0 && age > manualMaxAge {
		return 0, 0, ErrManualPriceTooOld
	}
	return quote.PriceUsd8, age, nil
}

// deviationBps returns |base-current| relative to base in basis points. The
// base is always the prior value (the stored snapshot or the previous feed
// quote), so upward moves are not under-measured. Arithmetic is widened
// through big.Int so diff*10000 cannot wrap.
func deviationBps(base, current uint64) uint64 {
	if base == 0 {
		return 0
	}
	var diff uint64
	if base > current {
		diff = base - current
	} else {
		diff = current - base
	}
	num := new(big.Int).SetUint64(diff)
	num.Mul(num, big.NewInt(bpsDenominator))
	num.Div(num, new(big.Int).SetUint64(base))
	return num.Uint64()
}
