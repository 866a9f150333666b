package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/config"
	"github.com/username/opsledger/src/models"
)

func bundle(id string, items int, price string) models.InvoiceBundle {
	b := models.InvoiceBundle{Invoice: models.Invoice{ID: id, InvoiceNumber: "NF-" + id}}
	for i := 0; i < items; i++ {
		b.Items = append(b.Items, item(fmt.Sprintf("%s-%d", id, i), id, "PETR4", models.SideBuy, 1, price, price, "2024-06-14"))
	}
	return b
}

func TestBatchLimits(t *testing.T) {
	limits := config.BatchLimits{
		MaxInvoicesPerBatch:  2,
		MaxItemsPerBatch:     5,
		MaxItemsPerInvoice:   3,
		MaxBatchValue:        10000,
		MaxConcurrentPerUser: 1,
	}
	v := NewBatchLimitValidator(limits)

	assert.NoError(t, v.CheckBundles([]models.InvoiceBundle{bundle("a", 3, "10"), bundle("b", 2, "10")}))

	err := v.CheckRequest(3)
	require.Error(t, err)
	assert.Equal(t, apperrors.Validation, apperrors.Classify(err))
	assert.Error(t, v.CheckRequest(0))

	err = v.CheckBundles([]models.InvoiceBundle{bundle("a", 4, "10")})
	require.Error(t, err)
	assert.Contains(t, apperrors.UserMessage(err), "has 4 line items, the limit is 3")

	err = v.CheckBundles([]models.InvoiceBundle{bundle("a", 3, "10"), bundle("b", 3, "10")})
	require.Error(t, err)
	assert.Contains(t, apperrors.UserMessage(err), "batch has 6 line items")

	err = v.CheckBundles([]models.InvoiceBundle{bundle("a", 1, "12500.50")})
	require.Error(t, err)
	assert.Contains(t, apperrors.UserMessage(err), "batch value 12,500.5 exceeds the limit of 10,000")

	assert.NoError(t, v.CheckConcurrency(7, 0))
	assert.Error(t, v.CheckConcurrency(7, 1))
}

func TestCheckReprocessing(t *testing.T) {
	inv := models.Invoice{ID: "inv", UserID: 7, Status: models.InvoiceStatusPending}
	assert.NoError(t, CheckReprocessing(inv, 7))
	assert.NoError(t, CheckReprocessing(inv.WithStatus(models.InvoiceStatusFailed, fixedNow), 7))

	assert.Error(t, CheckReprocessing(inv, 8))
	assert.Error(t, CheckReprocessing(inv.WithStatus(models.InvoiceStatusProcessed, fixedNow), 7))
	err := CheckReprocessing(inv.WithStatus(models.InvoiceStatusProcessing, fixedNow), 7)
	assert.Equal(t, apperrors.Validation, apperrors.Classify(err))
}
