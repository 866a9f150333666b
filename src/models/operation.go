package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OperationKind string

const (
	OperationKindEntry     OperationKind = "ENTRY"
	OperationKindExit      OperationKind = "EXIT"
	OperationKindRoundTrip OperationKind = "ROUND_TRIP"
)

type OperationStatus string

const (
	OperationStatusActive    OperationStatus = "ACTIVE"
	OperationStatusWinner    OperationStatus = "WINNER"
	OperationStatusLoser     OperationStatus = "LOSER"
	OperationStatusBreakeven OperationStatus = "BREAKEVEN"
	OperationStatusHidden    OperationStatus = "HIDDEN"
)

// Operation is the durable, user-visible trade record.
//
// UnitPrice is the operation's own price (the entry price for entries, the exit
// price for exits and round trips) so that TotalValue ≈ Quantity × UnitPrice holds
// for every kind. EntryUnitPrice carries the cost basis used for profit/loss.
type Operation struct {
	ID             string          `json:"id"`
	UserID         int64           `json:"user_id"`
	AssetID        string          `json:"asset_id"`
	AssetCode      string          `json:"asset_code"`
	PositionID     string          `json:"position_id"`
	GroupID        string          `json:"group_id"`
	Kind           OperationKind   `json:"kind"`
	Side           Side            `json:"side"`
	TradeType      TradeType       `json:"trade_type"`
	EntryDate      time.Time       `json:"entry_date"`
	ExitDate       *time.Time      `json:"exit_date,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	EntryUnitPrice decimal.Decimal `json:"entry_unit_price"`
	TotalValue     decimal.Decimal `json:"total_value"`
	ProfitLoss     decimal.Decimal `json:"profit_loss"`
	ProfitLossPct  decimal.Decimal `json:"profit_loss_pct"` // 4 decimal places
	Status         OperationStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// WithStatus returns a copy of the operation carrying the given status.
func (o Operation) WithStatus(status OperationStatus, at time.Time) Operation {
	o.Status = status
	o.UpdatedAt = at
	return o
}

// DisplayProfitLossPct is the percentage as shown to users, rounded to 2 places.
func (o Operation) DisplayProfitLossPct() decimal.Decimal {
	return o.ProfitLossPct.Round(2)
}

// StatusForResult maps a realized result onto a terminal status. Exactly zero is
// BREAKEVEN rather than being folded into WINNER or LOSER.
func StatusForResult(result decimal.Decimal) OperationStatus {
	switch result.Sign() {
	case 1:
		return OperationStatusWinner
	case -1:
		return OperationStatusLoser
	default:
		return OperationStatusBreakeven
	}
}

type MappingType string

const (
	MappingNewOperation          MappingType = "NEW_OPERATION"
	MappingExistingOperationExit MappingType = "EXISTING_OPERATION_EXIT"
	MappingDayTradeEntry         MappingType = "DAY_TRADE_ENTRY"
	MappingDayTradeExit          MappingType = "DAY_TRADE_EXIT"
)

// SourceMapping is the write-once audit link from a line item to the operation
// it produced or affected.
type SourceMapping struct {
	ID          string      `json:"id"`
	LineItemID  string      `json:"line_item_id"`
	InvoiceID   string      `json:"invoice_id"`
	OperationID string      `json:"operation_id"`
	MappingType MappingType `json:"mapping_type"`
	Sequence    int         `json:"sequence"`
	CreatedAt   time.Time   `json:"created_at"`
}
