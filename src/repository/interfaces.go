package repository

import (
	"context"
	"errors"
	"time"

	"github.com/username/opsledger/src/models"
)

// ErrNotFound is returned by Find* lookups that match no row.
var ErrNotFound = errors.New("record not found")

type AssetRepository interface {
	FindByCode(ctx context.Context, code string) (models.Asset, error)
	Create(ctx context.Context, asset models.Asset) error
	// FindOrCreate resolves an asset by upper-cased code, creating it when absent.
	FindOrCreate(ctx context.Context, code string, now time.Time) (models.Asset, error)
}

type InvoiceRepository interface {
	Create(ctx context.Context, invoice models.Invoice) error
	FindByID(ctx context.Context, id string) (models.Invoice, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Invoice, error)
	UpdateStatus(ctx context.Context, id string, status models.InvoiceStatus, at time.Time) error
}

type LineItemRepository interface {
	Create(ctx context.Context, item models.LineItem) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]models.LineItem, error)
}

type PositionRepository interface {
	Save(ctx context.Context, position models.Position) error
	FindByID(ctx context.Context, id string) (models.Position, error)
	// FindOpen returns the OPEN or PARTIAL position of a user in an asset.
	FindOpen(ctx context.Context, userID int64, assetCode string) (models.Position, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Position, error)
}

type LotRepository interface {
	Save(ctx context.Context, lot models.EntryLot) error
	// ListByPosition returns lots in FIFO order: entry date, then sequence.
	ListByPosition(ctx context.Context, positionID string) ([]models.EntryLot, error)
}

type ExitRecordRepository interface {
	Create(ctx context.Context, record models.ExitRecord) error
	ListByPosition(ctx context.Context, positionID string) ([]models.ExitRecord, error)
}

type OperationRepository interface {
	Save(ctx context.Context, op models.Operation) error
	FindByID(ctx context.Context, id string) (models.Operation, error)
	ListByGroup(ctx context.Context, groupID string) ([]models.Operation, error)
	// ListByUser returns a user's operations; HIDDEN ones only when includeHidden is set.
	ListByUser(ctx context.Context, userID int64, includeHidden bool) ([]models.Operation, error)
}

type GroupRepository interface {
	Save(ctx context.Context, group models.OperationGroup) error
	FindByID(ctx context.Context, id string) (models.OperationGroup, error)
	SaveItem(ctx context.Context, item models.OperationGroupItem) error
	ListItems(ctx context.Context, groupID string) ([]models.OperationGroupItem, error)
}

type MappingRepository interface {
	Create(ctx context.Context, mapping models.SourceMapping) error
	ExistsForLineItem(ctx context.Context, lineItemID string) (bool, error)
	// MappedLineItems returns the subset of ids that already carry a mapping.
	MappedLineItems(ctx context.Context, lineItemIDs []string) (map[string]bool, error)
	MaxSequence(ctx context.Context, invoiceID string) (int, error)
	CountByInvoice(ctx context.Context, invoiceID string) (int, error)
	ListByOperation(ctx context.Context, operationID string) ([]models.SourceMapping, error)
}
