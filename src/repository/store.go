package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

// Querier is satisfied by *sql.DB and *sql.Tx, so every repository can run
// either standalone or inside the batch transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles every repository bound to one Querier.
type Store struct {
	q Querier

	Assets      AssetRepository
	Invoices    InvoiceRepository
	LineItems   LineItemRepository
	Positions   PositionRepository
	Lots        LotRepository
	ExitRecords ExitRecordRepository
	Operations  OperationRepository
	Groups      GroupRepository
	Mappings    MappingRepository
	Fills       FillRepository
}

func NewStore(q Querier) *Store {
	return &Store{
		q:           q,
		Assets:      &sqliteAssetRepository{q: q},
		Invoices:    &sqliteInvoiceRepository{q: q},
		LineItems:   &sqliteLineItemRepository{q: q},
		Positions:   &sqlitePositionRepository{q: q},
		Lots:        &sqliteLotRepository{q: q},
		ExitRecords: &sqliteExitRecordRepository{q: q},
		Operations:  &sqliteOperationRepository{q: q},
		Groups:      &sqliteGroupRepository{q: q},
		Mappings:    &sqliteMappingRepository{q: q},
		Fills:       &sqliteFillRepository{q: q},
	}
}

// WithSavepoint runs fn inside a SQLite savepoint. A failing fn rolls back only
// the writes made since the savepoint; the enclosing transaction stays usable.
func (s *Store) WithSavepoint(ctx context.Context, name string, fn func() error) error {
	name = savepointName(name)
	if _, err := s.q.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return dbError("open savepoint", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := s.q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, dbError("rollback savepoint", rbErr))
		}
		if _, relErr := s.q.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return errors.Join(err, dbError("release savepoint", relErr))
		}
		return err
	}
	if _, err := s.q.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return dbError("release savepoint", err)
	}
	return nil
}

func savepointName(name string) string {
	var b strings.Builder
	b.WriteString("sp_")
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// LoadBook loads everything the exit engine needs about one position.
func (s *Store) LoadBook(ctx context.Context, positionID string) (models.PositionBook, error) {
	var book models.PositionBook

	position, err := s.Positions.FindByID(ctx, positionID)
	if err != nil {
		return book, fmt.Errorf("load position %s: %w", positionID, err)
	}
	group, err := s.Groups.FindByID(ctx, position.GroupID)
	if err != nil {
		return book, fmt.Errorf("load group of position %s: %w", positionID, err)
	}
	lots, err := s.Lots.ListByPosition(ctx, positionID)
	if err != nil {
		return book, err
	}
	items, err := s.Groups.ListItems(ctx, group.ID)
	if err != nil {
		return book, err
	}
	ops, err := s.Operations.ListByGroup(ctx, group.ID)
	if err != nil {
		return book, err
	}

	book.Position = position
	book.Group = group
	book.Lots = lots
	book.Items = items
	book.Operations = ops
	return book, nil
}

// dbError categorizes a storage failure. Unique-constraint violations are
// reported as duplicates, everything else as DATABASE.
func dbError(action string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
		return apperrors.Wrap(apperrors.Duplicate, "", err, action+": record already exists")
	}
	return apperrors.Wrap(apperrors.Database, "", err, action+" failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

const timestampFormat = time.RFC3339Nano

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

func formatNullableTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*t), Valid: true}
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp '%s': %w", s, err)
	}
	return t, nil
}

func parseNullableTimestamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseStoredDate(s string) (time.Time, error) {
	return utils.ParseDate(s)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
