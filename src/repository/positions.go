package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

type sqlitePositionRepository struct {
	q Querier
}

const positionColumns = `id, user_id, asset_id, asset_code, group_id, total_quantity, remaining_quantity, average_price,
	realized_profit_loss, realized_profit_loss_pct, status, opened_at, closed_at`

func scanPosition(s rowScanner) (models.Position, error) {
	var p models.Position
	var openedAt string
	var closedAt sql.NullString
	if err := s.Scan(&p.ID, &p.UserID, &p.AssetID, &p.AssetCode, &p.GroupID, &p.TotalQuantity, &p.RemainingQuantity,
		&p.AveragePrice, &p.RealizedProfitLoss, &p.RealizedProfitLossPct, &p.Status, &openedAt, &closedAt); err != nil {
		return p, err
	}
	var err error
	if p.OpenedAt, err = parseTimestamp(openedAt); err != nil {
		return p, err
	}
	if p.ClosedAt, err = parseNullableTimestamp(closedAt); err != nil {
		return p, err
	}
	return p, nil
}

func (r *sqlitePositionRepository) Save(ctx context.Context, p models.Position) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO positions (`+positionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			group_id = excluded.group_id,
			total_quantity = excluded.total_quantity,
			remaining_quantity = excluded.remaining_quantity,
			average_price = excluded.average_price,
			realized_profit_loss = excluded.realized_profit_loss,
			realized_profit_loss_pct = excluded.realized_profit_loss_pct,
			status = excluded.status,
			closed_at = excluded.closed_at`,
		p.ID, p.UserID, p.AssetID, p.AssetCode, p.GroupID, p.TotalQuantity, p.RemainingQuantity, p.AveragePrice,
		p.RealizedProfitLoss, p.RealizedProfitLossPct, string(p.Status), formatTimestamp(p.OpenedAt), formatNullableTimestamp(p.ClosedAt))
	return dbError("save position", err)
}

func (r *sqlitePositionRepository) FindByID(ctx context.Context, id string) (models.Position, error) {
	p, err := scanPosition(r.q.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, dbError("find position", err)
	}
	return p, nil
}

func (r *sqlitePositionRepository) FindOpen(ctx context.Context, userID int64, assetCode string) (models.Position, error) {
	p, err := scanPosition(r.q.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions
		WHERE user_id = ? AND asset_code = ? AND status IN (?, ?)
		ORDER BY rowid DESC LIMIT 1`,
		userID, assetCode, string(models.PositionStatusOpen), string(models.PositionStatusPartial)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, dbError("find open position", err)
	}
	return p, nil
}

func (r *sqlitePositionRepository) ListByUser(ctx context.Context, userID int64) ([]models.Position, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE user_id = ? ORDER BY rowid ASC`, userID)
	if err != nil {
		return nil, dbError("list positions", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, dbError("scan position", err)
		}
		positions = append(positions, p)
	}
	return positions, dbError("iterate positions", rows.Err())
}

type sqliteLotRepository struct {
	q Querier
}

const lotColumns = `id, position_id, entry_date, original_quantity, remaining_quantity, unit_price, sequence, fully_consumed`

func (r *sqliteLotRepository) Save(ctx context.Context, l models.EntryLot) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO entry_lots (`+lotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remaining_quantity = excluded.remaining_quantity,
			fully_consumed = excluded.fully_consumed`,
		l.ID, l.PositionID, utils.FormatDate(l.EntryDate), l.OriginalQuantity, l.RemainingQuantity, l.UnitPrice, l.Sequence, l.FullyConsumed)
	return dbError("save entry lot", err)
}

func (r *sqliteLotRepository) ListByPosition(ctx context.Context, positionID string) ([]models.EntryLot, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+lotColumns+` FROM entry_lots WHERE position_id = ? ORDER BY entry_date ASC, sequence ASC`, positionID)
	if err != nil {
		return nil, dbError("list entry lots", err)
	}
	defer rows.Close()

	var lots []models.EntryLot
	for rows.Next() {
		var l models.EntryLot
		var entryDate string
		if err := rows.Scan(&l.ID, &l.PositionID, &entryDate, &l.OriginalQuantity, &l.RemainingQuantity, &l.UnitPrice, &l.Sequence, &l.FullyConsumed); err != nil {
			return nil, dbError("scan entry lot", err)
		}
		if l.EntryDate, err = parseStoredDate(entryDate); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, dbError("iterate entry lots", rows.Err())
}

type sqliteExitRecordRepository struct {
	q Querier
}

const exitRecordColumns = `id, position_id, lot_id, exit_operation_id, quantity, entry_unit_price, exit_unit_price,
	profit_loss, profit_loss_pct, strategy, exit_date, created_at`

func (r *sqliteExitRecordRepository) Create(ctx context.Context, e models.ExitRecord) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO exit_records (`+exitRecordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PositionID, e.LotID, e.ExitOperationID, e.Quantity, e.EntryUnitPrice, e.ExitUnitPrice,
		e.ProfitLoss, e.ProfitLossPct, string(e.Strategy), utils.FormatDate(e.ExitDate), formatTimestamp(e.CreatedAt))
	return dbError("create exit record", err)
}

func (r *sqliteExitRecordRepository) ListByPosition(ctx context.Context, positionID string) ([]models.ExitRecord, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+exitRecordColumns+` FROM exit_records WHERE position_id = ? ORDER BY exit_date ASC, rowid ASC`, positionID)
	if err != nil {
		return nil, dbError("list exit records", err)
	}
	defer rows.Close()

	var records []models.ExitRecord
	for rows.Next() {
		var e models.ExitRecord
		var exitDate, createdAt string
		if err := rows.Scan(&e.ID, &e.PositionID, &e.LotID, &e.ExitOperationID, &e.Quantity, &e.EntryUnitPrice, &e.ExitUnitPrice,
			&e.ProfitLoss, &e.ProfitLossPct, &e.Strategy, &exitDate, &createdAt); err != nil {
			return nil, dbError("scan exit record", err)
		}
		if e.ExitDate, err = parseStoredDate(exitDate); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		records = append(records, e)
	}
	return records, dbError("iterate exit records", rows.Err())
}
