package services

import (
	"context"
	"errors"

	"github.com/username/opsledger/src/models"
)

var (
	ErrSessionNotFound  = errors.New("processing session not found")
	ErrPositionNotFound = errors.New("position not found")
)

// ProcessingService turns stored invoices into operations and positions.
type ProcessingService interface {
	ProcessBatch(ctx context.Context, invoiceIDs []string, userID int64, progress models.ProgressCallback) (*models.BatchResult, error)
	ProcessSingle(ctx context.Context, invoiceID string, userID int64) (*models.BatchResult, error)
	ProcessBatchWithRetry(ctx context.Context, invoiceIDs []string, userID int64, progress models.ProgressCallback) (*models.BatchResult, error)
}

// SessionStore keeps the progress of running and recently finished batches.
type SessionStore interface {
	Create(userID int64, invoiceIDs []string) models.ProcessingSession
	Update(session models.ProcessingSession) error
	Get(id string) (models.ProcessingSession, error)
	Cancel(id string) error
	Finish(id string, state models.SessionState, message string) error
	Expire(id string)
	ActiveForUser(userID int64) int
	ListForUser(userID int64) []models.ProcessingSession
}

// InvoiceService is the intake side: it stores invoices as delivered by the
// line-item supplier.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, userID int64, req CreateInvoiceRequest) (*models.InvoiceBundle, error)
	ListInvoices(ctx context.Context, userID int64) ([]models.Invoice, error)
}

// PortfolioService exposes the position books of a user.
type PortfolioService interface {
	ListPositions(ctx context.Context, userID int64) ([]models.Position, error)
	GetPosition(ctx context.Context, userID int64, positionID string) (*PositionDetail, error)
	ListOperations(ctx context.Context, userID int64, includeHidden bool) ([]models.Operation, error)
	InvalidateUserCache(userID int64)
}

// PositionDetail is a position with its lots, exit trail and group operations.
type PositionDetail struct {
	Position    models.Position             `json:"position"`
	Group       models.OperationGroup       `json:"group"`
	Lots        []models.EntryLot           `json:"lots"`
	ExitRecords []models.ExitRecord         `json:"exit_records"`
	Items       []models.OperationGroupItem `json:"items"`
	Operations  []models.Operation          `json:"operations"`
}
