// Package broker implements the per-client order book, matching engine,
// slippage/commission model and FIFO position accounting specified in
// spec.md §4.3. It is grounded on the teacher's MultiSourceManager
// discipline of "map for lookup, guarded by a stable iteration index"
// (src/data_source/multi_source_manager.go), generalized here to the
// insertion-ordered openOrders map spec.md §9 requires.
package broker

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/backtest-replay/server/internal/models"
)

// Broker is a single client's order book and position. It is not
// goroutine-safe: spec.md §5 guarantees a single-writer access pattern
// (one logical connection's handlers run serially).
type Broker struct {
	position    *models.Position
	openOrders  map[string]*models.OrderState
	orderIndex  []string
	openSymbols map[string]int

	commission models.CommissionModel
	slippage   models.SlippageModel

	fillSeq int
	now     func() time.Time
}

// New constructs a Broker seeded with initialCash and the commission /
// slippage models from a client's BacktestConfig.
func New(cfg models.BacktestConfig) *Broker {
	b := &Broker{
		position:    models.NewPosition(cfg.InitialCash),
		openOrders:  make(map[string]*models.OrderState),
		openSymbols: make(map[string]int),
		now:         time.Now,
	}
	if cfg.Commission != nil {
		b.commission = *cfg.Commission
	}
	if cfg.Slippage != nil {
		b.slippage = *cfg.Slippage
	}
	return b
}

// -----------------------------------------------------------------------------
// Ingress operations
// -----------------------------------------------------------------------------

// Submit accepts one order per input element, rejecting id collisions
// and invalid side/effect/price combinations without ever mutating
// existing state (spec.md invariant 5).
func (b *Broker) Submit(orders []models.Order) []models.OrderState {
	out := make([]models.OrderState, 0, len(orders))
	for _, o := range orders {
		if _, exists := b.openOrders[o.ID]; exists {
			out = append(out, b.rejected(o))
			continue
		}
		if !o.EffectValid() || !o.PriceValid() || o.Quantity <= 0 {
			out = append(out, b.rejected(o))
			continue
		}

		state := &models.OrderState{
			Order:             o,
			RemainingQuantity: o.Quantity,
			Status:            models.StatusOpen,
			Modified:          b.now(),
		}
		b.openOrders[o.ID] = state
		b.orderIndex = append(b.orderIndex, o.ID)
		b.openSymbols[o.Symbol]++
		out = append(out, state.Clone())
	}
	return out
}

func (b *Broker) rejected(o models.Order) models.OrderState {
	return models.OrderState{
		Order:             o,
		RemainingQuantity: o.Quantity,
		Status:            models.StatusRejected,
		Modified:          b.now(),
	}
}

// Amend mutates price/stopPrice/quantity on matched open orders,
// returning only the orders that were found. A quantity amend that
// drops below the already-filled amount cancels the order.
func (b *Broker) Amend(partials []models.PartialOrder) []models.OrderState {
	out := make([]models.OrderState, 0, len(partials))
	for _, p := range partials {
		order, ok := b.openOrders[p.ID]
		if !ok {
			continue
		}
		if p.Price != nil {
			order.Price = *p.Price
		}
		if p.StopPrice != nil {
			order.StopPrice = *p.StopPrice
		}
		if p.Quantity != nil {
			order.Quantity = *p.Quantity
		}
		order.RemainingQuantity = order.Quantity - order.FilledQuantity
		order.Modified = b.now()

		if order.RemainingQuantity < 0 {
			order.Status = models.StatusCancelled
			order.RemainingQuantity = 0
			clone := order.Clone()
			b.removeOpenOrder(p.ID)
			out = append(out, clone)
			continue
		}
		out = append(out, order.Clone())
	}
	return out
}

// Cancel cancels each matched open order, removing it from the book.
func (b *Broker) Cancel(ids []string) []models.OrderState {
	out := make([]models.OrderState, 0, len(ids))
	for _, id := range ids {
		order, ok := b.openOrders[id]
		if !ok {
			continue
		}
		order.Status = models.StatusCancelled
		order.Modified = b.now()
		clone := order.Clone()
		b.removeOpenOrder(id)
		out = append(out, clone)
	}
	return out
}

// CancelAll cancels every open order.
func (b *Broker) CancelAll() []models.OrderState {
	ids := make([]string, len(b.orderIndex))
	copy(ids, b.orderIndex)
	return b.Cancel(ids)
}

// GetOpenOrders returns a snapshot of every open/partial order, in
// insertion order.
func (b *Broker) GetOpenOrders() []models.OrderState {
	out := make([]models.OrderState, 0, len(b.orderIndex))
	for _, id := range b.orderIndex {
		out = append(out, b.openOrders[id].Clone())
	}
	return out
}

// GetPosition returns a deep copy of the current position.
func (b *Broker) GetPosition() *models.Position {
	return b.position.Clone()
}

// OpenSymbolSet returns the set of symbols with at least one open order.
func (b *Broker) OpenSymbolSet() map[string]struct{} {
	out := make(map[string]struct{}, len(b.openSymbols))
	for sym, n := range b.openSymbols {
		if n > 0 {
			out[sym] = struct{}{}
		}
	}
	return out
}

func (b *Broker) removeOpenOrder(id string) {
	order, ok := b.openOrders[id]
	if !ok {
		return
	}
	b.openSymbols[order.Symbol]--
	if b.openSymbols[order.Symbol] <= 0 {
		delete(b.openSymbols, order.Symbol)
	}
	delete(b.openOrders, id)
	for i, oid := range b.orderIndex {
		if oid == id {
			b.orderIndex = append(b.orderIndex[:i], b.orderIndex[i+1:]...)
			break
		}
	}
}

// -----------------------------------------------------------------------------
// Matching pass
// -----------------------------------------------------------------------------

func orDefault(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}

// ProcessOpenOrders runs one matching pass against a replay batch,
// per spec.md §4.3 steps 1-6. It is order-deterministic: open orders
// are visited in insertion order.
func (b *Broker) ProcessOpenOrders(batch models.MarketBatch) (updated []models.OrderState, filled []models.Fill) {
	isBar := batch.IsBars()
	quoteBySymbol := make(map[string]models.Quote, len(batch.Quotes))
	barBySymbol := make(map[string]models.Bar, len(batch.Bars))
	if isBar {
		for _, bar := range batch.Bars {
			barBySymbol[bar.Symbol] = bar
		}
	} else {
		for _, q := range batch.Quotes {
			quoteBySymbol[q.Symbol] = q
		}
	}

	ids := make([]string, len(b.orderIndex))
	copy(ids, b.orderIndex)

	// Step 1 - stop conversion.
	for _, id := range ids {
		order, ok := b.openOrders[id]
		if !ok {
			continue
		}
		if order.Type != models.OrderStop && order.Type != models.OrderStopLimit {
			continue
		}

		triggered := false
		if isBar {
			bar, ok := barBySymbol[order.Symbol]
			if !ok {
				continue
			}
			if order.Side == models.SideBuy && bar.High >= order.StopPrice {
				triggered = true
			}
			if order.Side == models.SideSell && bar.Low <= order.StopPrice {
				triggered = true
			}
		} else {
			q, ok := quoteBySymbol[order.Symbol]
			if !ok {
				continue
			}
			if order.Side == models.SideBuy && q.Price >= order.StopPrice {
				triggered = true
			}
			if order.Side == models.SideSell && q.Price <= order.StopPrice {
				triggered = true
			}
		}
		if !triggered {
			continue
		}

		if order.Type == models.OrderStop {
			order.Type = models.OrderMarket
		} else {
			order.Type = models.OrderLimit
		}
		order.Modified = batch.Timestamp
		updated = append(updated, order.Clone())
	}

	// Step 2 - fill pass (also covers orders just converted above).
	for _, id := range ids {
		order, ok := b.openOrders[id]
		if !ok {
			continue
		}
		if order.Type != models.OrderMarket && order.Type != models.OrderLimit {
			continue
		}

		var matchPrice, barVolume float64
		matched := false

		if isBar {
			bar, ok := barBySymbol[order.Symbol]
			if !ok {
				continue
			}
			barVolume = bar.Volume
			switch order.Type {
			case models.OrderMarket:
				matchPrice = bar.Open
				matched = true
			case models.OrderLimit:
				if order.Side == models.SideBuy {
					if bar.Low <= order.Price {
						matchPrice = math.Min(order.Price, bar.Open)
						matched = true
					}
				} else {
					if bar.High >= order.Price {
						matchPrice = math.Max(order.Price, bar.Open)
						matched = true
					}
				}
			}
		} else {
			q, ok := quoteBySymbol[order.Symbol]
			if !ok {
				continue
			}
			switch order.Type {
			case models.OrderMarket:
				if order.Side == models.SideBuy {
					matchPrice = orDefault(q.Ask, q.Price)
				} else {
					matchPrice = orDefault(q.Bid, q.Price)
				}
				matched = true
			case models.OrderLimit:
				if order.Side == models.SideBuy {
					ask := orDefault(q.Ask, q.Price)
					if ask <= order.Price {
						matchPrice = ask
						matched = true
					}
				} else {
					bid := orDefault(q.Bid, q.Price)
					if bid >= order.Price {
						matchPrice = bid
						matched = true
					}
				}
			}
		}

		if !matched {
			continue
		}

		// Step 3 - quantity shaping (volume slippage).
		qty := order.RemainingQuantity
		volumeCap := math.Inf(1)
		if isBar && barVolume > 0 && b.slippage.Volume != nil && b.slippage.Volume.MaxParticipation.IsPositive() {
			volumeCap = barVolume * b.slippage.Volume.MaxParticipation.InexactFloat64()
		}
		if qty > volumeCap {
			if b.slippage.Volume != nil && b.slippage.Volume.AllowPartialFills {
				qty = volumeCap
			} else {
				continue
			}
		}
		if qty <= 0 {
			continue
		}

		// Step 4 - price adjustment (price slippage).
		adjPrice := matchPrice
		if b.slippage.Price != nil {
			var slip float64
			if !b.slippage.Price.Fixed.IsZero() {
				slip += (b.slippage.Price.Fixed.InexactFloat64() / 10000) * matchPrice
			}
			if !b.slippage.Price.MarketImpact.IsZero() && isBar && barVolume > 0 {
				slip += (qty / barVolume) * b.slippage.Price.MarketImpact.InexactFloat64() * matchPrice
			}
			if order.Side == models.SideBuy {
				adjPrice += slip
			} else {
				adjPrice -= slip
			}
		}

		// Step 5 - commission. The fee schedule is decimal.Decimal (money-
		// safe rate/floor/cap), but notional/qty are derived from float64
		// market data, so the rate arithmetic itself runs in float64 and
		// only the schedule's own constants are pulled out of decimal.
		notional := adjPrice * qty
		comm := b.commission.Rate.InexactFloat64()*notional + b.commission.PerTrade.InexactFloat64()
		if max := b.commission.Maximum; max.IsPositive() && comm > max.InexactFloat64() {
			comm = max.InexactFloat64()
		}
		if min := b.commission.Minimum; min.IsPositive() && comm < min.InexactFloat64() {
			comm = min.InexactFloat64()
		}

		// Step 6 - apply.
		b.fillSeq++
		fill := models.Fill{
			ID:         fmt.Sprintf("f-%d", b.fillSeq),
			OrderID:    order.ID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Price:      adjPrice,
			Quantity:   qty,
			Commission: comm,
			Created:    batch.Timestamp,
		}
		filled = append(filled, fill)

		order.FilledQuantity += qty
		order.RemainingQuantity -= qty
		order.Modified = batch.Timestamp
		if order.RemainingQuantity <= 0 {
			order.RemainingQuantity = 0
			order.Status = models.StatusFilled
		} else {
			order.Status = models.StatusPartial
		}

		b.applyFill(order.Effect, order.Symbol, order.Side, adjPrice, qty, comm, batch.Timestamp)
		updated = append(updated, order.Clone())

		if order.Status == models.StatusFilled {
			b.removeOpenOrder(order.ID)
		}
	}

	return updated, filled
}

// applyFill updates the Position's cash and FIFO lot books for one
// fill. price/qty/commission arrive as float64 (the matching pass runs
// against float64 market data), and are converted to decimal.Decimal
// once here, at the single boundary where a fill's outcome is posted to
// the money-safe ledger, rather than carrying decimal through the
// matching arithmetic itself.
func (b *Broker) applyFill(effect models.OrderEffect, symbol string, side models.OrderSide, price, qty, commission float64, ts time.Time) {
	pos := b.position
	priceD := decimal.NewFromFloat(price)
	qtyD := decimal.NewFromFloat(qty)
	commD := decimal.NewFromFloat(commission)
	notionalD := priceD.Mul(qtyD)

	pos.TotalCommission = pos.TotalCommission.Add(commD)
	pos.Modified = ts

	switch effect {
	case models.EffectOpenLong:
		pos.Long[symbol] = append(pos.Long[symbol], models.LongLot{Quantity: qtyD, Price: priceD, TotalCost: notionalD})
		pos.Cash = pos.Cash.Sub(notionalD).Sub(commD)

	case models.EffectCloseLong:
		lots := pos.Long[symbol]
		remaining := qtyD
		for len(lots) > 0 && remaining.IsPositive() {
			lot := &lots[0]
			consume := decimal.Min(lot.Quantity, remaining)
			pos.RealisedPnL = pos.RealisedPnL.Add(priceD.Sub(lot.Price).Mul(consume))
			lot.Quantity = lot.Quantity.Sub(consume)
			lot.TotalCost = lot.TotalCost.Sub(consume.Mul(lot.Price))
			remaining = remaining.Sub(consume)
			if !lot.Quantity.IsPositive() {
				lots = lots[1:]
			}
		}
		pos.Long[symbol] = lots
		pos.Cash = pos.Cash.Add(notionalD).Sub(commD)

	case models.EffectOpenShort:
		pos.Short[symbol] = append(pos.Short[symbol], models.ShortLot{Quantity: qtyD, Price: priceD, TotalProceeds: notionalD})
		pos.Cash = pos.Cash.Add(notionalD).Sub(commD)

	case models.EffectCloseShort:
		lots := pos.Short[symbol]
		remaining := qtyD
		for len(lots) > 0 && remaining.IsPositive() {
			lot := &lots[0]
			consume := decimal.Min(lot.Quantity, remaining)
			pos.RealisedPnL = pos.RealisedPnL.Add(lot.Price.Sub(priceD).Mul(consume))
			lot.Quantity = lot.Quantity.Sub(consume)
			lot.TotalProceeds = lot.TotalProceeds.Sub(consume.Mul(lot.Price))
			remaining = remaining.Sub(consume)
			if !lot.Quantity.IsPositive() {
				lots = lots[1:]
			}
		}
		pos.Short[symbol] = lots
		pos.Cash = pos.Cash.Sub(notionalD).Sub(commD)
	}
}
