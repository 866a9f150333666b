package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/repository"
	"github.com/username/opsledger/src/utils"
)

// CreateInvoiceRequest is an invoice as delivered by the line-item supplier.
type CreateInvoiceRequest struct {
	InvoiceNumber string            `json:"invoice_number"`
	TradingDate   string            `json:"trading_date"` // YYYY-MM-DD
	Broker        string            `json:"broker"`
	Items         []LineItemRequest `json:"items"`
}

type LineItemRequest struct {
	AssetCode    string          `json:"asset_code"`
	Side         string          `json:"side"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalValue   decimal.Decimal `json:"total_value"`
	TradeDate    string          `json:"trade_date,omitempty"` // Defaults to the invoice trading date
	DayTrade     *bool           `json:"day_trade,omitempty"`
	Observations string          `json:"observations,omitempty"`
}

type invoiceServiceImpl struct {
	db  *sql.DB
	now func() time.Time
}

func NewInvoiceService(db *sql.DB) InvoiceService {
	return &invoiceServiceImpl{db: db, now: time.Now}
}

// CreateInvoice stores the invoice and its line items as PENDING. Line items
// are kept as received; field checks run when the invoice is processed.
func (s *invoiceServiceImpl) CreateInvoice(ctx context.Context, userID int64, req CreateInvoiceRequest) (*models.InvoiceBundle, error) {
	invoiceNumber := strings.TrimSpace(req.InvoiceNumber)
	if invoiceNumber == "" {
		return nil, apperrors.New(apperrors.Validation, "", "invoice_number is required")
	}
	tradingDate, err := utils.ParseDate(req.TradingDate)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, invoiceNumber, err, "trading_date must be YYYY-MM-DD")
	}
	if len(req.Items) == 0 {
		return nil, apperrors.New(apperrors.Validation, invoiceNumber, "an invoice needs at least one line item")
	}

	bundle := &models.InvoiceBundle{
		Invoice: models.Invoice{
			ID:            uuid.NewString(),
			UserID:        userID,
			InvoiceNumber: invoiceNumber,
			TradingDate:   tradingDate,
			Broker:        strings.TrimSpace(req.Broker),
			Status:        models.InvoiceStatusPending,
			CreatedAt:     s.now(),
		},
	}
	for i, it := range req.Items {
		tradeDate := tradingDate
		if it.TradeDate != "" {
			if tradeDate, err = utils.ParseDate(it.TradeDate); err != nil {
				return nil, apperrors.Wrap(apperrors.Validation, invoiceNumber, err,
					fmt.Sprintf("item %d: trade_date must be YYYY-MM-DD", i+1))
			}
		}
		bundle.Items = append(bundle.Items, models.LineItem{
			ID:           uuid.NewString(),
			InvoiceID:    bundle.Invoice.ID,
			Sequence:     i + 1,
			AssetCode:    it.AssetCode,
			Side:         models.Side(strings.ToUpper(strings.TrimSpace(it.Side))),
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			TotalValue:   it.TotalValue,
			TradeDate:    tradeDate,
			DayTrade:     it.DayTrade,
			Observations: it.Observations,
		})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer tx.Rollback()

	store := repository.NewStore(tx)
	if err := store.Invoices.Create(ctx, bundle.Invoice); err != nil {
		if apperrors.Classify(err) == apperrors.Duplicate {
			return nil, apperrors.Wrap(apperrors.Duplicate, invoiceNumber, err, "invoice "+invoiceNumber+" was already submitted")
		}
		return nil, err
	}
	for _, li := range bundle.Items {
		if err := store.LineItems.Create(ctx, li); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing invoice: %w", err)
	}

	logger.FromContext(ctx).Info("Invoice stored", "userID", userID, "invoiceID", bundle.Invoice.ID,
		"invoiceNumber", invoiceNumber, "items", len(bundle.Items))
	return bundle, nil
}

func (s *invoiceServiceImpl) ListInvoices(ctx context.Context, userID int64) ([]models.Invoice, error) {
	invoices, err := repository.NewStore(s.db).Invoices.ListByUser(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return invoices, nil
}
