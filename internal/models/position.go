package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LongLot is a FIFO-ordered open long position slice.
type LongLot struct {
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	TotalCost decimal.Decimal `json:"totalCost"`
}

// ShortLot is a FIFO-ordered open short position slice.
type ShortLot struct {
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TotalProceeds decimal.Decimal `json:"totalProceeds"`
}

// Position is a client's cash + FIFO lot book, seeded at broker
// construction and mutated only by fills. Cash, commission and P&L are
// decimal.Decimal rather than float64: this is money crossing the same
// JSON wire spec.md fixes as plain numbers, and decimal.Decimal
// marshals as one, so there is no lossy round trip to pay for keeping
// the arithmetic exact.
type Position struct {
	Cash            decimal.Decimal       `json:"cash"`
	Long            map[string][]LongLot  `json:"long"`
	Short           map[string][]ShortLot `json:"short"`
	TotalCommission decimal.Decimal       `json:"totalCommission"`
	RealisedPnL     decimal.Decimal       `json:"realisedPnL"`
	Modified        time.Time             `json:"modified"`
}

// NewPosition returns a Position seeded with initialCash and empty lot
// books.
func NewPosition(initialCash decimal.Decimal) *Position {
	return &Position{
		Cash:  initialCash,
		Long:  make(map[string][]LongLot),
		Short: make(map[string][]ShortLot),
	}
}

// Clone returns a deep copy suitable for handing to a caller as the
// result of getPosition (spec.md §6: "Position (deep copy)"). The
// decimal.Decimal fields need no special copying: every decimal.Decimal
// operation returns a new value rather than mutating the receiver, so
// assignment alone is a safe copy.
func (p *Position) Clone() *Position {
	out := &Position{
		Cash:            p.Cash,
		TotalCommission: p.TotalCommission,
		RealisedPnL:     p.RealisedPnL,
		Modified:        p.Modified,
		Long:            make(map[string][]LongLot, len(p.Long)),
		Short:           make(map[string][]ShortLot, len(p.Short)),
	}
	for sym, lots := range p.Long {
		cp := make([]LongLot, len(lots))
		copy(cp, lots)
		out.Long[sym] = cp
	}
	for sym, lots := range p.Short {
		cp := make([]ShortLot, len(lots))
		copy(cp, lots)
		out.Short[sym] = cp
	}
	return out
}
