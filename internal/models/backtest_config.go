package models

import "github.com/shopspring/decimal"

// BacktestConfig is the per-client configuration supplied to login,
// spec.md §6. Cash and fee-schedule fields are decimal.Decimal, the
// same money-safe representation the corpus (Mrhb33-backtest,
// wyfcoding-financialTrading) uses for exactly this kind of value:
// decimal.Decimal implements json.Marshaler/Unmarshaler as a bare JSON
// number, so it costs nothing at the wire boundary spec.md fixes.
type BacktestConfig struct {
	InitialCash decimal.Decimal  `json:"initialCash"`
	RiskFree    decimal.Decimal  `json:"riskFree,omitempty"`
	Commission  *CommissionModel `json:"commission,omitempty"`
	Slippage    *SlippageModel   `json:"slippage,omitempty"`
}

// CommissionModel is the fee schedule applied to every fill.
type CommissionModel struct {
	Rate     decimal.Decimal `json:"rate,omitempty"`
	PerTrade decimal.Decimal `json:"perTrade,omitempty"`
	Minimum  decimal.Decimal `json:"minimum,omitempty"`
	Maximum  decimal.Decimal `json:"maximum,omitempty"`
}

// SlippageModel bundles the price- and volume-slippage sub-models.
type SlippageModel struct {
	Price  *PriceSlippage  `json:"price,omitempty"`
	Volume *VolumeSlippage `json:"volume,omitempty"`
}

// PriceSlippage is the additive-bps and market-impact price adjustment.
type PriceSlippage struct {
	Fixed        decimal.Decimal `json:"fixed,omitempty"`
	MarketImpact decimal.Decimal `json:"marketImpact,omitempty"`
}

// VolumeSlippage is the participation-cap fill-shaping model.
type VolumeSlippage struct {
	MaxParticipation  decimal.Decimal `json:"maxParticipation,omitempty"`
	AllowPartialFills bool            `json:"allowPartialFills,omitempty"`
}
