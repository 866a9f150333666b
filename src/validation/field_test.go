package validation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/config"
	"github.com/username/opsledger/src/models"
)

var fixedNow = time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func item(id, invoiceID, asset string, side models.Side, qty int, price, total, tradeDate string) models.LineItem {
	t, _ := time.Parse("2006-01-02", tradeDate)
	return models.LineItem{
		ID: id, InvoiceID: invoiceID, AssetCode: asset, Side: side, Quantity: qty,
		UnitPrice: d(price), TotalValue: d(total), TradeDate: t,
	}
}

func newFieldValidator() *FieldValidator {
	return NewFieldValidator(config.DefaultRules().Validation).WithClock(func() time.Time { return fixedNow })
}

func TestValidateItemAcceptsConsistentItem(t *testing.T) {
	v := newFieldValidator()
	assert.NoError(t, v.ValidateItem(item("a", "inv", "PETR4", models.SideBuy, 100, "30.50", "3050.04", "2024-06-14")))
	assert.NoError(t, v.ValidateItem(item("b", "inv", "PETR4", models.SideBuy, 100, "30.50", "3050.00", "2024-06-15")))
}

func TestValidateItemCollectsEveryProblem(t *testing.T) {
	v := newFieldValidator()
	err := v.ValidateItem(item("bad", "inv", "", models.Side("X"), 0, "0.001", "0", "2024-06-16"))
	require.Error(t, err)
	assert.Equal(t, apperrors.Validation, apperrors.Classify(err))
	assert.Equal(t, "bad", apperrors.SubjectOf(err))

	msg := apperrors.UserMessage(err)
	for _, want := range []string{"asset code is required", "side must be BUY or SELL", "quantity must be positive",
		"below 0.01", "total value must be positive", "in the future"} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateItemValueAndAge(t *testing.T) {
	v := newFieldValidator()

	err := v.ValidateItem(item("a", "inv", "PETR4", models.SideBuy, 100, "30.50", "3050.06", "2024-06-14"))
	require.Error(t, err)
	assert.Contains(t, apperrors.UserMessage(err), "does not match quantity x price")

	err = v.ValidateItem(item("b", "inv", "PETR4", models.SideBuy, 100, "30.50", "3050", "2019-06-14"))
	require.Error(t, err)
	assert.Contains(t, apperrors.UserMessage(err), "older than 5 years")

	assert.NoError(t, v.ValidateItem(item("c", "inv", "PETR4", models.SideBuy, 100, "30.50", "3050", "2019-06-15")))
}

func TestValidateBatchSanitizesAndWarns(t *testing.T) {
	v := newFieldValidator()
	raw := item("a", "inv", " petr4\x00 ", models.Side("buy"), 100, "10", "1000", "2024-06-14")
	raw.Observations = "D\x07"
	items := []models.LineItem{
		raw,
		item("b", "inv", "PETR4", models.SideSell, 100, "16", "1600", "2024-06-14"),
		item("c", "inv", "VALE3", models.SideBuy, 10, "60", "600", "2024-06-14"),
		item("bad", "inv", "VALE3", models.SideBuy, -1, "60", "600", "2024-06-14"),
	}

	report := v.ValidateBatch(items)
	require.Len(t, report.Valid, 3)
	assert.Equal(t, "PETR4", report.Valid[0].AssetCode)
	assert.Equal(t, models.SideBuy, report.Valid[0].Side)
	assert.Equal(t, "D", report.Valid[0].Observations)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "bad", report.Rejected[0].Subject)

	require.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Warnings[0], "abnormal price spread for PETR4")
	assert.Contains(t, report.Warnings[1], "possible day trade: PETR4")
}
