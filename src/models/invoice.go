package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the transaction side of a line item or operation.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "PENDING"
	InvoiceStatusProcessing InvoiceStatus = "PROCESSING"
	InvoiceStatusProcessed  InvoiceStatus = "PROCESSED"
	InvoiceStatusFailed     InvoiceStatus = "FAILED"
)

// Invoice is a brokerage trade confirmation as delivered by the line-item supplier.
type Invoice struct {
	ID            string        `json:"id"`
	UserID        int64         `json:"user_id"`
	InvoiceNumber string        `json:"invoice_number"`
	TradingDate   time.Time     `json:"trading_date"`
	Broker        string        `json:"broker"` // Source broker name, e.g. "XP", "CLEAR"
	Status        InvoiceStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
}

// WithStatus returns a copy of the invoice carrying the given status.
func (i Invoice) WithStatus(status InvoiceStatus, at time.Time) Invoice {
	i.Status = status
	if status == InvoiceStatusProcessed {
		i.ProcessedAt = &at
	}
	return i
}

// LineItem is one machine-extracted trade line of an invoice. It is never mutated
// after extraction.
type LineItem struct {
	ID           string          `json:"id"`
	InvoiceID    string          `json:"invoice_id"`
	Sequence     int             `json:"sequence"` // Position of the line within its invoice
	AssetCode    string          `json:"asset_code"`
	Side         Side            `json:"side"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalValue   decimal.Decimal `json:"total_value"`
	TradeDate    time.Time       `json:"trade_date"`
	DayTrade     *bool           `json:"day_trade,omitempty"` // nil when the supplier could not tell
	Observations string          `json:"observations"`
}

// HasDayTradeFlag reports whether the supplier provided a day-trade flag at all.
func (li LineItem) HasDayTradeFlag() bool {
	return li.DayTrade != nil
}

// FlaggedDayTrade reports whether the supplier flagged the line as a day trade.
func (li LineItem) FlaggedDayTrade() bool {
	return li.DayTrade != nil && *li.DayTrade
}

// InvoiceBundle is an invoice together with its explicitly fetched line items.
type InvoiceBundle struct {
	Invoice Invoice    `json:"invoice"`
	Items   []LineItem `json:"items"`
}

// Asset is the traded-instrument reference an operation or position points to.
type Asset struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}
