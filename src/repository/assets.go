package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/username/opsledger/src/models"
)

type sqliteAssetRepository struct {
	q Querier
}

func (r *sqliteAssetRepository) FindByCode(ctx context.Context, code string) (models.Asset, error) {
	var a models.Asset
	var createdAt string
	err := r.q.QueryRowContext(ctx, `SELECT id, code, created_at FROM assets WHERE code = ?`,
		strings.ToUpper(strings.TrimSpace(code))).Scan(&a.ID, &a.Code, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, ErrNotFound
		}
		return a, dbError("find asset", err)
	}
	if a.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return a, err
	}
	return a, nil
}

func (r *sqliteAssetRepository) Create(ctx context.Context, asset models.Asset) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO assets (id, code, created_at) VALUES (?, ?, ?)`,
		asset.ID, asset.Code, formatTimestamp(asset.CreatedAt))
	return dbError("create asset", err)
}

func (r *sqliteAssetRepository) FindOrCreate(ctx context.Context, code string, now time.Time) (models.Asset, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	asset, err := r.FindByCode(ctx, code)
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return asset, err
	}
	asset = models.Asset{ID: uuid.NewString(), Code: code, CreatedAt: now}
	if err := r.Create(ctx, asset); err != nil {
		return models.Asset{}, err
	}
	return asset, nil
}
