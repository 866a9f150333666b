package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

type sqliteOperationRepository struct {
	q Querier
}

const operationColumns = `id, user_id, asset_id, asset_code, position_id, group_id, kind, side, trade_type, entry_date, exit_date,
	quantity, unit_price, entry_unit_price, total_value, profit_loss, profit_loss_pct, status, created_at, updated_at`

func scanOperation(s rowScanner) (models.Operation, error) {
	var op models.Operation
	var entryDate, createdAt, updatedAt string
	var exitDate sql.NullString
	if err := s.Scan(&op.ID, &op.UserID, &op.AssetID, &op.AssetCode, &op.PositionID, &op.GroupID, &op.Kind, &op.Side,
		&op.TradeType, &entryDate, &exitDate, &op.Quantity, &op.UnitPrice, &op.EntryUnitPrice, &op.TotalValue,
		&op.ProfitLoss, &op.ProfitLossPct, &op.Status, &createdAt, &updatedAt); err != nil {
		return op, err
	}
	var err error
	if op.EntryDate, err = parseStoredDate(entryDate); err != nil {
		return op, err
	}
	if exitDate.Valid && exitDate.String != "" {
		d, err := parseStoredDate(exitDate.String)
		if err != nil {
			return op, err
		}
		op.ExitDate = &d
	}
	if op.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return op, err
	}
	if op.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return op, err
	}
	return op, nil
}

func (r *sqliteOperationRepository) Save(ctx context.Context, op models.Operation) error {
	var exitDate sql.NullString
	if op.ExitDate != nil {
		exitDate = sql.NullString{String: utils.FormatDate(*op.ExitDate), Valid: true}
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position_id = excluded.position_id,
			group_id = excluded.group_id,
			kind = excluded.kind,
			exit_date = excluded.exit_date,
			quantity = excluded.quantity,
			unit_price = excluded.unit_price,
			entry_unit_price = excluded.entry_unit_price,
			total_value = excluded.total_value,
			profit_loss = excluded.profit_loss,
			profit_loss_pct = excluded.profit_loss_pct,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		op.ID, op.UserID, op.AssetID, op.AssetCode, op.PositionID, op.GroupID, string(op.Kind), string(op.Side),
		string(op.TradeType), utils.FormatDate(op.EntryDate), exitDate, op.Quantity, op.UnitPrice, op.EntryUnitPrice,
		op.TotalValue, op.ProfitLoss, op.ProfitLossPct, string(op.Status), formatTimestamp(op.CreatedAt), formatTimestamp(op.UpdatedAt))
	return dbError("save operation", err)
}

func (r *sqliteOperationRepository) FindByID(ctx context.Context, id string) (models.Operation, error) {
	op, err := scanOperation(r.q.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return op, ErrNotFound
		}
		return op, dbError("find operation", err)
	}
	return op, nil
}

func (r *sqliteOperationRepository) list(ctx context.Context, action, query string, args ...any) ([]models.Operation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(action, err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, dbError(action, err)
		}
		ops = append(ops, op)
	}
	return ops, dbError(action, rows.Err())
}

func (r *sqliteOperationRepository) ListByGroup(ctx context.Context, groupID string) ([]models.Operation, error) {
	return r.list(ctx, "list group operations",
		`SELECT `+operationColumns+` FROM operations WHERE group_id = ? ORDER BY rowid ASC`, groupID)
}

func (r *sqliteOperationRepository) ListByUser(ctx context.Context, userID int64, includeHidden bool) ([]models.Operation, error) {
	if includeHidden {
		return r.list(ctx, "list operations",
			`SELECT `+operationColumns+` FROM operations WHERE user_id = ? ORDER BY entry_date ASC, rowid ASC`, userID)
	}
	return r.list(ctx, "list operations",
		`SELECT `+operationColumns+` FROM operations WHERE user_id = ? AND status <> ? ORDER BY entry_date ASC, rowid ASC`,
		userID, string(models.OperationStatusHidden))
}

type sqliteGroupRepository struct {
	q Querier
}

const groupColumns = `id, position_id, user_id, asset_code, original_operation_id, total_quantity, closed_quantity,
	remaining_quantity, total_profit, status, created_at`

func (r *sqliteGroupRepository) Save(ctx context.Context, g models.OperationGroup) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO operation_groups (`+groupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_quantity = excluded.total_quantity,
			closed_quantity = excluded.closed_quantity,
			remaining_quantity = excluded.remaining_quantity,
			total_profit = excluded.total_profit,
			status = excluded.status`,
		g.ID, g.PositionID, g.UserID, g.AssetCode, g.OriginalOperationID, g.TotalQuantity, g.ClosedQuantity,
		g.RemainingQuantity, g.TotalProfit, string(g.Status), formatTimestamp(g.CreatedAt))
	return dbError("save operation group", err)
}

func (r *sqliteGroupRepository) FindByID(ctx context.Context, id string) (models.OperationGroup, error) {
	var g models.OperationGroup
	var createdAt string
	err := r.q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM operation_groups WHERE id = ?`, id).Scan(
		&g.ID, &g.PositionID, &g.UserID, &g.AssetCode, &g.OriginalOperationID, &g.TotalQuantity, &g.ClosedQuantity,
		&g.RemainingQuantity, &g.TotalProfit, &g.Status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return g, ErrNotFound
		}
		return g, dbError("find operation group", err)
	}
	if g.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return g, err
	}
	return g, nil
}

func (r *sqliteGroupRepository) SaveItem(ctx context.Context, it models.OperationGroupItem) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO operation_group_items (id, group_id, operation_id, role, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET role = excluded.role`,
		it.ID, it.GroupID, it.OperationID, string(it.Role), it.Sequence, formatTimestamp(it.CreatedAt))
	return dbError("save operation group item", err)
}

func (r *sqliteGroupRepository) ListItems(ctx context.Context, groupID string) ([]models.OperationGroupItem, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, group_id, operation_id, role, sequence, created_at
		FROM operation_group_items WHERE group_id = ? ORDER BY sequence ASC`, groupID)
	if err != nil {
		return nil, dbError("list operation group items", err)
	}
	defer rows.Close()

	var items []models.OperationGroupItem
	for rows.Next() {
		var it models.OperationGroupItem
		var createdAt string
		if err := rows.Scan(&it.ID, &it.GroupID, &it.OperationID, &it.Role, &it.Sequence, &createdAt); err != nil {
			return nil, dbError("scan operation group item", err)
		}
		if it.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, dbError("iterate operation group items", rows.Err())
}
