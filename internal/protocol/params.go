package protocol

import (
	"encoding/json"

	"github.com/backtest-replay/server/internal/models"
)

// Decode unmarshals a request's raw params into T, returning the zero
// value when raw is empty (methods with no params, e.g. init).
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

// LoginParams is the params shape of the login method.
type LoginParams struct {
	Config models.BacktestConfig `json:"config"`
}

// ReplayParams is the params shape of the replay method, spec.md §4.4.
type ReplayParams struct {
	Table           string `json:"table"`
	From            int64  `json:"from"`
	To              int64  `json:"to"`
	ReplayInterval  int    `json:"replayInterval"`
	ReplayID        string `json:"replayId"`
	PeriodicReport  int    `json:"periodicReport,omitempty"`
	TradeReport     bool   `json:"tradeReport,omitempty"`
	EndOfDayReport  bool   `json:"endOfDayReport,omitempty"`
	MarketMultiplex bool   `json:"marketMultiplex,omitempty"`
}
