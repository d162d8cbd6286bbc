package models

import "time"

// Quote is a top-of-book tick observation. Bid/Ask/Volume are optional;
// nil means "not present", so an explicit zero stays distinct from an
// absent value.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Bid       *float64  `json:"bid,omitempty"`
	Ask       *float64  `json:"ask,omitempty"`
	Volume    *float64  `json:"volume,omitempty"`
}

// Bar is an OHLC observation. Its presence in a batch (vs Quote) is
// determined at the DataSource boundary, not by duck-typing a JSON
// field, per spec.md §9's "explicit tagged variant" note.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// MarketBatch is the tagged variant of one replay batch's row set:
// exactly one of Quotes/Bars is populated.
type MarketBatch struct {
	Timestamp time.Time
	Quotes    []Quote
	Bars      []Bar
}

// IsBars reports whether this batch carries OHLC bars rather than ticks.
func (b MarketBatch) IsBars() bool {
	return len(b.Bars) > 0
}

// Len returns the number of rows in the batch regardless of shape.
func (b MarketBatch) Len() int {
	if b.IsBars() {
		return len(b.Bars)
	}
	return len(b.Quotes)
}

// Symbols returns the distinct symbols present in the batch, in the
// order they first appear (matching spec.md §4.3's determinism rule).
func (b MarketBatch) Symbols() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, b.Len())
	add := func(sym string) {
		if _, ok := seen[sym]; !ok {
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	if b.IsBars() {
		for _, bar := range b.Bars {
			add(bar.Symbol)
		}
	} else {
		for _, q := range b.Quotes {
			add(q.Symbol)
		}
	}
	return out
}

// TableInfo describes one replayable table advertised by init.
type TableInfo struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// PriceSnapshot is the {symbol -> latest price} view maintained across a
// replay so that mark-to-market can value symbols absent from the
// current batch.
type PriceSnapshot struct {
	Price     map[string]float64
	Timestamp time.Time
}

// NewPriceSnapshot returns an empty snapshot.
func NewPriceSnapshot() *PriceSnapshot {
	return &PriceSnapshot{Price: make(map[string]float64)}
}

// Merge folds a batch's last-seen prices into the snapshot.
func (s *PriceSnapshot) Merge(batch MarketBatch) {
	if batch.IsBars() {
		for _, bar := range batch.Bars {
			s.Price[bar.Symbol] = bar.Close
		}
	} else {
		for _, q := range batch.Quotes {
			s.Price[q.Symbol] = q.Price
		}
	}
	s.Timestamp = batch.Timestamp
}
