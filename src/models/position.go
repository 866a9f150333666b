package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "OPEN"
	PositionStatusPartial PositionStatus = "PARTIAL"
	PositionStatusClosed  PositionStatus = "CLOSED"
)

// Position is the durable per (user, asset) aggregate fed by entries and exits.
type Position struct {
	ID                    string          `json:"id"`
	UserID                int64           `json:"user_id"`
	AssetID               string          `json:"asset_id"`
	AssetCode             string          `json:"asset_code"`
	GroupID               string          `json:"group_id"`
	TotalQuantity         int             `json:"total_quantity"`     // Everything ever entered
	RemainingQuantity     int             `json:"remaining_quantity"` // Still open
	AveragePrice          decimal.Decimal `json:"average_price"`      // Weighted over remaining lots
	RealizedProfitLoss    decimal.Decimal `json:"realized_profit_loss"`
	RealizedProfitLossPct decimal.Decimal `json:"realized_profit_loss_pct"`
	Status                PositionStatus  `json:"status"`
	OpenedAt              time.Time       `json:"opened_at"`
	ClosedAt              *time.Time      `json:"closed_at,omitempty"`
}

// IsOpen reports whether the position still accepts exits.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusPartial
}

// EntryLot is one batch of units entered at a single date and price.
type EntryLot struct {
	ID                string          `json:"id"`
	PositionID        string          `json:"position_id"`
	EntryDate         time.Time       `json:"entry_date"`
	OriginalQuantity  int             `json:"original_quantity"`
	RemainingQuantity int             `json:"remaining_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Sequence          int             `json:"sequence"`
	FullyConsumed     bool            `json:"fully_consumed"`
}

// WithConsumed returns a copy of the lot with qty units consumed.
func (l EntryLot) WithConsumed(qty int) EntryLot {
	l.RemainingQuantity -= qty
	l.FullyConsumed = l.RemainingQuantity == 0
	return l
}

type ExitStrategy string

const ExitStrategyFIFO ExitStrategy = "FIFO"

// ExitRecord is the write-once trace of one lot consumed by one exit.
type ExitRecord struct {
	ID              string          `json:"id"`
	PositionID      string          `json:"position_id"`
	LotID           string          `json:"lot_id"`
	ExitOperationID string          `json:"exit_operation_id"`
	Quantity        int             `json:"quantity"`
	EntryUnitPrice  decimal.Decimal `json:"entry_unit_price"`
	ExitUnitPrice   decimal.Decimal `json:"exit_unit_price"`
	ProfitLoss      decimal.Decimal `json:"profit_loss"`
	ProfitLossPct   decimal.Decimal `json:"profit_loss_pct"`
	Strategy        ExitStrategy    `json:"strategy"`
	ExitDate        time.Time       `json:"exit_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

type GroupStatus string

const (
	GroupStatusOpen            GroupStatus = "OPEN"
	GroupStatusPartiallyClosed GroupStatus = "PARTIALLY_CLOSED"
	GroupStatusClosed          GroupStatus = "CLOSED"
)

// OperationGroup ties together every operation of one round-trip trade.
type OperationGroup struct {
	ID                  string          `json:"id"`
	PositionID          string          `json:"position_id"`
	UserID              int64           `json:"user_id"`
	AssetCode           string          `json:"asset_code"`
	OriginalOperationID string          `json:"original_operation_id"`
	TotalQuantity       int             `json:"total_quantity"`
	ClosedQuantity      int             `json:"closed_quantity"`
	RemainingQuantity   int             `json:"remaining_quantity"`
	TotalProfit         decimal.Decimal `json:"total_profit"`
	Status              GroupStatus     `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
}

type GroupRole string

const (
	GroupRoleOriginal           GroupRole = "ORIGINAL"
	GroupRolePartialExit        GroupRole = "PARTIAL_EXIT"
	GroupRoleConsolidatedResult GroupRole = "CONSOLIDATED_RESULT"
)

type OperationGroupItem struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id"`
	OperationID string    `json:"operation_id"`
	Role        GroupRole `json:"role"`
	Sequence    int       `json:"sequence"`
	CreatedAt   time.Time `json:"created_at"`
}

// PositionBook is everything the exit consolidation engine needs about one
// position. Callers load it explicitly; nothing is fetched lazily.
type PositionBook struct {
	Position   Position             `json:"position"`
	Group      OperationGroup       `json:"group"`
	Lots       []EntryLot           `json:"lots"`
	Items      []OperationGroupItem `json:"items"`
	Operations []Operation          `json:"operations"`
}

// OpenQuantity sums the remaining quantity of every lot.
func (b PositionBook) OpenQuantity() int {
	total := 0
	for _, l := range b.Lots {
		total += l.RemainingQuantity
	}
	return total
}

// Operation looks up a group operation by id.
func (b PositionBook) Operation(id string) (Operation, bool) {
	for _, op := range b.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// RoleOf returns the group role of an operation.
func (b PositionBook) RoleOf(operationID string) (GroupRole, bool) {
	for _, it := range b.Items {
		if it.OperationID == operationID {
			return it.Role, true
		}
	}
	return "", false
}
