package otc

import (
	"errors"
	"testing"
)

func newTestOracle() (*OracleAdapter, *FeedSource, *ManualSource, *testClock) {
	feed := NewFeedSource()
	manual := NewManualSource()
	clock := &testClock{now: 1_000_000}
	adapter := NewOracleAdapter(feed, manual, 7200, 3600)
	adapter.SetNowFunc(clock.fn)
	return adapter, feed, manual, clock
}

func TestOracleFreshFeed(t *testing.T) {
	adapter, feed, _, clock := newTestOracle()
	if err := feed.Publish("tkn", 2_0000_0000, clock.now-100, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}
	price, age, err := adapter.PriceUsd8("TKN")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price != 2_0000_0000 || age != 100 {
		t.Fatalf("price=%d age=%d", price, age)
	}
}

func TestOracleStaleFeed(t *testing.T) {
	adapter, feed, _, clock := newTestOracle()
	if err := feed.Publish("TKN", 2_0000_0000, clock.now, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}
	clock.now += 7201
	if _, _, err := adapter.PriceUsd8("TKN"); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("stale feed: got %v, want ErrStalePrice", err)
	}
}

func TestOracleManualFallback(t *testing.T) {
	adapter, feed, manual, clock := newTestOracle()
	if err := feed.Publish("TKN", 2_0000_0000, clock.now, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}
	clock.now += 7201
	if err := manual.Set("TKN", 2_1000_0000, clock.now-50, false); err != nil {
		t.Fatalf("manual set: %v", err)
	}

	// Fallback stays off until enabled.
	if _, _, err := adapter.PriceUsd8("TKN"); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("fallback while disabled: got %v", err)
	}
	adapter.SetManualEnabled(true)
	price, _, err := adapter.PriceUsd8("TKN")
	if err != nil {
		t.Fatalf("manual price: %v", err)
	}
	if price != 2_1000_0000 {
		t.Fatalf("price = %d", price)
	}

	// The manual window is tighter than the feed window.
	clock.now += 3601
	if _, _, err := adapter.PriceUsd8("TKN"); !errors.Is(err, ErrManualPriceTooOld) {
		t.Fatalf("stale manual: got %v, want ErrManualPriceTooOld", err)
	}
}

func TestManualPriceBounds(t *testing.T) {
	manual := NewManualSource()
	if err := manual.Set("TKN", maxTokenPriceUsd8+1, 0, false); !errors.Is(err, ErrPriceOutOfBounds) {
		t.Fatalf("token above cap: got %v", err)
	}
	if err := manual.Set("TKN", maxTokenPriceUsd8, 0, false); err != nil {
		t.Fatalf("token at cap: %v", err)
	}
	if err := manual.Set(AssetNative, minRefPriceUsd8-1, 0, true); !errors.Is(err, ErrPriceOutOfBounds) {
		t.Fatalf("ref below floor: got %v", err)
	}
	if err := manual.Set(AssetNative, maxRefPriceUsd8+1, 0, true); !errors.Is(err, ErrPriceOutOfBounds) {
		t.Fatalf("ref above cap: got %v", err)
	}
	if err := manual.Set(AssetNative, 5_0000_0000, 0, true); err != nil {
		t.Fatalf("ref in bounds: %v", err)
	}
	if err := manual.Set("TKN", 0, 0, false); !errors.Is(err, ErrBadPrice) {
		t.Fatalf("zero price: got %v", err)
	}
}

func TestFeedDeviationGuard(t *testing.T) {
	feed := NewFeedSource()
	if err := feed.Publish("TKN", 2_0000_0000, 100, 500); err != nil {
		t.Fatalf("initial publish: %v", err)
	}
	// 6% move against a 5% bound.
	if err := feed.Publish("TKN", 2_1200_0000, 200, 500); !errors.Is(err, ErrPriceDeviationTooLarge) {
		t.Fatalf("excessive move: got %v", err)
	}
	// 4% move passes.
	if err := feed.Publish("TKN", 2_0800_0000, 200, 500); err != nil {
		t.Fatalf("acceptable move: %v", err)
	}
	// A zero bound disables the guard.
	if err := feed.Publish("TKN", 9_0000_0000, 300, 0); err != nil {
		t.Fatalf("unguarded move: %v", err)
	}
}

func TestDeviationBps(t *testing.T) {
	cases := []struct {
		a, b uint64
		want uint64
	}{
		{100, 100, 0},
		{100, 106, 600},
		{100, 94, 600},
		{200, 100, 5000},
		{0, 100, 0},
	}
	for _, tc := range cases {
		if got := deviationBps(tc.a, tc.b); got != tc.want {
			t.Errorf("deviationBps(%d,%d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
