package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

type sqliteInvoiceRepository struct {
	q Querier
}

const invoiceColumns = `id, user_id, invoice_number, trading_date, broker, status, created_at, processed_at`

func scanInvoice(s rowScanner) (models.Invoice, error) {
	var inv models.Invoice
	var tradingDate, createdAt string
	var processedAt sql.NullString
	if err := s.Scan(&inv.ID, &inv.UserID, &inv.InvoiceNumber, &tradingDate, &inv.Broker, &inv.Status, &createdAt, &processedAt); err != nil {
		return inv, err
	}
	var err error
	if inv.TradingDate, err = parseStoredDate(tradingDate); err != nil {
		return inv, err
	}
	if inv.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return inv, err
	}
	if inv.ProcessedAt, err = parseNullableTimestamp(processedAt); err != nil {
		return inv, err
	}
	return inv, nil
}

func (r *sqliteInvoiceRepository) Create(ctx context.Context, inv models.Invoice) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO invoices (`+invoiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.UserID, inv.InvoiceNumber, utils.FormatDate(inv.TradingDate), inv.Broker, string(inv.Status),
		formatTimestamp(inv.CreatedAt), formatNullableTimestamp(inv.ProcessedAt))
	return dbError("create invoice", err)
}

func (r *sqliteInvoiceRepository) FindByID(ctx context.Context, id string) (models.Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inv, ErrNotFound
		}
		return inv, dbError("find invoice", err)
	}
	return inv, nil
}

func (r *sqliteInvoiceRepository) ListByUser(ctx context.Context, userID int64) ([]models.Invoice, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE user_id = ? ORDER BY trading_date ASC, invoice_number ASC`, userID)
	if err != nil {
		return nil, dbError("list invoices", err)
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, dbError("scan invoice", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, dbError("iterate invoices", rows.Err())
}

func (r *sqliteInvoiceRepository) UpdateStatus(ctx context.Context, id string, status models.InvoiceStatus, at time.Time) error {
	var processedAt sql.NullString
	if status == models.InvoiceStatusProcessed {
		processedAt = formatNullableTimestamp(&at)
	}
	res, err := r.q.ExecContext(ctx, `UPDATE invoices SET status = ?, processed_at = COALESCE(?, processed_at) WHERE id = ?`,
		string(status), processedAt, id)
	if err != nil {
		return dbError("update invoice status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqliteLineItemRepository struct {
	q Querier
}

const lineItemColumns = `id, invoice_id, sequence, asset_code, side, quantity, unit_price, total_value, trade_date, day_trade, observations`

func (r *sqliteLineItemRepository) Create(ctx context.Context, li models.LineItem) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO line_items (`+lineItemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		li.ID, li.InvoiceID, li.Sequence, li.AssetCode, string(li.Side), li.Quantity, li.UnitPrice, li.TotalValue,
		utils.FormatDate(li.TradeDate), nullableBool(li.DayTrade), li.Observations)
	return dbError("create line item", err)
}

func (r *sqliteLineItemRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]models.LineItem, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+lineItemColumns+` FROM line_items WHERE invoice_id = ? ORDER BY sequence ASC`, invoiceID)
	if err != nil {
		return nil, dbError("list line items", err)
	}
	defer rows.Close()

	var items []models.LineItem
	for rows.Next() {
		var li models.LineItem
		var tradeDate string
		var dayTrade sql.NullBool
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.Sequence, &li.AssetCode, &li.Side, &li.Quantity,
			&li.UnitPrice, &li.TotalValue, &tradeDate, &dayTrade, &li.Observations); err != nil {
			return nil, dbError("scan line item", err)
		}
		if li.TradeDate, err = parseStoredDate(tradeDate); err != nil {
			return nil, err
		}
		if dayTrade.Valid {
			flag := dayTrade.Bool
			li.DayTrade = &flag
		}
		items = append(items, li)
	}
	return items, dbError("iterate line items", rows.Err())
}

func nullableBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
