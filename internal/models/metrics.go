package models

import "time"

// MetricsReportType distinguishes the three report flavors emitted by
// the metrics engine.
type MetricsReportType string

const (
	ReportPeriodic  MetricsReportType = "PERIODIC"
	ReportTrade     MetricsReportType = "TRADE"
	ReportEndOfDay  MetricsReportType = "ENDOFDAY"
)

// MetricsReport is the wire payload of a metrics event, spec.md §4.5.
type MetricsReport struct {
	ReportType          MetricsReportType `json:"reportType"`
	Timestamp           time.Time         `json:"timestamp"`
	Equity              float64           `json:"equity"`
	TotalReturn         float64           `json:"totalReturn"`
	Sharpe              float64           `json:"sharpe"`
	Sortino             float64           `json:"sortino"`
	WinRate             float64           `json:"winRate"`
	AvgGainLossRatio    float64           `json:"avgGainLossRatio"`
	Expectancy          float64           `json:"expectancy"`
	ProfitFactor        float64           `json:"profitFactor"`
	MaxDrawdown         float64           `json:"maxDrawdown"`
	MaxDrawdownDuration time.Duration     `json:"maxDrawdownDuration"`
}
