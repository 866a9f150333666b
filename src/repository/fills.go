package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

// Fill sources.
const (
	FillSourceLot      = "lot"
	FillSourceExit     = "exit"
	FillSourceLineItem = "line_item"
)

// PriorFill is one trade already integrated for a user, as it was executed:
// an entry lot, an exit (its exit records summed), or a mapped line item.
type PriorFill struct {
	Source    string
	ID        string
	UnitPrice decimal.Decimal
}

type FillRepository interface {
	// FindMatching returns prior fills of userID with the given asset, side,
	// quantity and trade date. Price comparison is left to the caller.
	FindMatching(ctx context.Context, userID int64, assetCode string, side models.Side, quantity int, tradeDate time.Time) ([]PriorFill, error)
}

type sqliteFillRepository struct {
	q Querier
}

const mappedLineItemFills = `SELECT '` + FillSourceLineItem + `', li.id, li.unit_price
	FROM line_items li
	JOIN source_mappings sm ON sm.line_item_id = li.id
	JOIN invoices i ON i.id = li.invoice_id
	WHERE i.user_id = ? AND li.asset_code = ? AND li.side = ? AND li.quantity = ? AND li.trade_date = ?`

func (r *sqliteFillRepository) FindMatching(ctx context.Context, userID int64, assetCode string, side models.Side, quantity int, tradeDate time.Time) ([]PriorFill, error) {
	date := utils.FormatDate(tradeDate)
	var query string
	if side == models.SideSell {
		query = `SELECT '` + FillSourceExit + `', e.exit_operation_id, e.exit_unit_price
			FROM exit_records e
			JOIN positions p ON p.id = e.position_id
			WHERE p.user_id = ? AND p.asset_code = ? AND e.exit_date = ?
			GROUP BY e.exit_operation_id, e.exit_unit_price
			HAVING SUM(e.quantity) = ?
			UNION ALL ` + mappedLineItemFills
	} else {
		query = `SELECT '` + FillSourceLot + `', l.id, l.unit_price
			FROM entry_lots l
			JOIN positions p ON p.id = l.position_id
			WHERE p.user_id = ? AND p.asset_code = ? AND l.entry_date = ? AND l.original_quantity = ?
			UNION ALL ` + mappedLineItemFills
	}

	rows, err := r.q.QueryContext(ctx, query,
		userID, assetCode, date, quantity,
		userID, assetCode, string(side), quantity, date)
	if err != nil {
		return nil, dbError("find matching fills", err)
	}
	defer rows.Close()

	var fills []PriorFill
	for rows.Next() {
		var f PriorFill
		if err := rows.Scan(&f.Source, &f.ID, &f.UnitPrice); err != nil {
			return nil, dbError("scan fill", err)
		}
		fills = append(fills, f)
	}
	return fills, dbError("iterate fills", rows.Err())
}
