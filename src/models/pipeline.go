package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType distinguishes day trades from swing trades.
type TradeType string

const (
	TradeTypeDay   TradeType = "DAY"
	TradeTypeSwing TradeType = "SWING"
)

// DetectedOperation is a candidate operation derived from one or more line items.
// It only lives for the duration of a pipeline run.
type DetectedOperation struct {
	UserID       int64           `json:"user_id"`
	InvoiceID    string          `json:"invoice_id"`
	Sources      []LineItem      `json:"sources"`
	AssetCode    string          `json:"asset_code"`
	Side         Side            `json:"side"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalValue   decimal.Decimal `json:"total_value"`
	TradeDate    time.Time       `json:"trade_date"`
	DayTrade     *bool           `json:"day_trade,omitempty"`
	Observations string          `json:"observations"`
	Confidence   float64         `json:"confidence"`
	Reason       string          `json:"reason"`
}

// ClassifiedOperation is a detected operation with its trade type decided.
type ClassifiedOperation struct {
	Detected      DetectedOperation `json:"detected"`
	TradeType     TradeType         `json:"trade_type"`
	Confidence    float64           `json:"confidence"`
	Justification string            `json:"justification"`
}

// ConsolidationKey groups classified operations that merge into one consolidated operation.
type ConsolidationKey struct {
	AssetCode string
	Side      Side
	TradeType TradeType
	TradeDate string // 2006-01-02
}

func (k ConsolidationKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.AssetCode, k.Side, k.TradeType, k.TradeDate)
}

// ConsolidatedOperation merges classified operations sharing a ConsolidationKey.
type ConsolidatedOperation struct {
	Key              ConsolidationKey      `json:"-"`
	UserID           int64                 `json:"user_id"`
	AssetCode        string                `json:"asset_code"`
	Side             Side                  `json:"side"`
	TradeType        TradeType             `json:"trade_type"`
	TradeDate        time.Time             `json:"trade_date"`
	Quantity         int                   `json:"quantity"`
	TotalValue       decimal.Decimal       `json:"total_value"`
	UnitPrice        decimal.Decimal       `json:"unit_price"`
	Members          []ClassifiedOperation `json:"members"`
	Confidence       float64               `json:"confidence"`
	Confirmed        bool                  `json:"confirmed"`
	ReadyForCreation bool                  `json:"ready_for_creation"`
	Reason           string                `json:"reason"`
}

// LineItems returns every line item that contributed to the consolidated operation,
// in member order.
func (c ConsolidatedOperation) LineItems() []LineItem {
	var items []LineItem
	for _, m := range c.Members {
		items = append(items, m.Detected.Sources...)
	}
	return items
}

// LineItemIDs returns the identities of the contributing line items.
func (c ConsolidatedOperation) LineItemIDs() []string {
	items := c.LineItems()
	ids := make([]string, 0, len(items))
	for _, li := range items {
		ids = append(ids, li.ID)
	}
	return ids
}

// Eligible reports whether the operation may be integrated given the integration threshold.
func (c ConsolidatedOperation) Eligible(threshold float64) bool {
	return (c.ReadyForCreation && c.Confidence >= threshold) || c.Confirmed
}
