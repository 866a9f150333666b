package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/repository"
)

func TestCreateInvoiceStoresItemsInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dayTrade := true
	second := lineReq("VALE3", "sell", 5, "60", "300")
	second.TradeDate = "2024-03-02"
	second.DayTrade = &dayTrade

	bundle, err := env.invoices.CreateInvoice(ctx, 7, CreateInvoiceRequest{
		InvoiceNumber: " NF-10 ", TradingDate: "2024-03-01",
		Items: []LineItemRequest{lineReq("PETR4", "BUY", 100, "30.5", "3050"), second},
	})
	require.NoError(t, err)
	assert.Equal(t, "NF-10", bundle.Invoice.InvoiceNumber)
	assert.Equal(t, models.InvoiceStatusPending, bundle.Invoice.Status)

	items, err := repository.NewStore(env.db).LineItems.ListByInvoice(ctx, bundle.Invoice.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Sequence)
	assert.Equal(t, "2024-03-01", items[0].TradeDate.Format("2006-01-02"))
	assert.Equal(t, models.SideSell, items[1].Side)
	assert.Equal(t, "2024-03-02", items[1].TradeDate.Format("2006-01-02"))
	assert.True(t, items[1].FlaggedDayTrade())
	assert.False(t, items[0].HasDayTradeFlag())

	invoices, err := env.invoices.ListInvoices(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestCreateInvoiceRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.invoices.CreateInvoice(ctx, 7, CreateInvoiceRequest{TradingDate: "2024-03-01"})
	assert.Equal(t, apperrors.Validation, apperrors.Classify(err))

	_, err = env.invoices.CreateInvoice(ctx, 7, CreateInvoiceRequest{InvoiceNumber: "NF", TradingDate: "01/03/2024"})
	assert.Equal(t, apperrors.Validation, apperrors.Classify(err))

	_, err = env.invoices.CreateInvoice(ctx, 7, CreateInvoiceRequest{InvoiceNumber: "NF", TradingDate: "2024-03-01"})
	assert.Equal(t, apperrors.Validation, apperrors.Classify(err))

	req := CreateInvoiceRequest{InvoiceNumber: "NF", TradingDate: "2024-03-01",
		Items: []LineItemRequest{lineReq("PETR4", "BUY", 1, "1", "1")}}
	_, err = env.invoices.CreateInvoice(ctx, 7, req)
	require.NoError(t, err)
	_, err = env.invoices.CreateInvoice(ctx, 7, req)
	assert.Equal(t, apperrors.Duplicate, apperrors.Classify(err))
	assert.Equal(t, "invoice NF was already submitted", apperrors.UserMessage(err))

	_, err = env.invoices.CreateInvoice(ctx, 8, req)
	assert.NoError(t, err)
}
