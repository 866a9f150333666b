package validation

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/config"
	"github.com/username/opsledger/src/models"
)

// BatchLimitValidator enforces the hard ceilings of one batch. Any violation
// rejects the batch as a whole.
type BatchLimitValidator struct {
	limits config.BatchLimits
}

func NewBatchLimitValidator(limits config.BatchLimits) *BatchLimitValidator {
	return &BatchLimitValidator{limits: limits}
}

// CheckRequest validates the number of invoices requested, before anything is loaded.
func (v *BatchLimitValidator) CheckRequest(invoiceCount int) error {
	if invoiceCount == 0 {
		return apperrors.New(apperrors.Validation, "", "no invoices requested")
	}
	if invoiceCount > v.limits.MaxInvoicesPerBatch {
		return apperrors.Newf(apperrors.Validation, "", "batch has %s invoices, the limit is %s",
			humanize.Comma(int64(invoiceCount)), humanize.Comma(int64(v.limits.MaxInvoicesPerBatch)))
	}
	return nil
}

// CheckConcurrency validates the number of sessions the user already runs.
func (v *BatchLimitValidator) CheckConcurrency(userID int64, active int) error {
	if active >= v.limits.MaxConcurrentPerUser {
		return apperrors.Newf(apperrors.Validation, fmt.Sprintf("user %d", userID),
			"%d processing session(s) already running, the limit is %d", active, v.limits.MaxConcurrentPerUser)
	}
	return nil
}

// CheckBundles validates item counts and aggregate value of the loaded invoices.
func (v *BatchLimitValidator) CheckBundles(bundles []models.InvoiceBundle) error {
	var result *multierror.Error

	if err := v.CheckRequest(len(bundles)); err != nil {
		result = multierror.Append(result, err)
	}

	totalItems := 0
	totalValue := decimal.Zero
	for _, b := range bundles {
		if len(b.Items) > v.limits.MaxItemsPerInvoice {
			result = multierror.Append(result, apperrors.Newf(apperrors.Validation, b.Invoice.ID,
				"invoice %s has %s line items, the limit is %s", b.Invoice.InvoiceNumber,
				humanize.Comma(int64(len(b.Items))), humanize.Comma(int64(v.limits.MaxItemsPerInvoice))))
		}
		totalItems += len(b.Items)
		for _, it := range b.Items {
			totalValue = totalValue.Add(it.TotalValue.Abs())
		}
	}
	if totalItems > v.limits.MaxItemsPerBatch {
		result = multierror.Append(result, apperrors.Newf(apperrors.Validation, "",
			"batch has %s line items, the limit is %s", humanize.Comma(int64(totalItems)), humanize.Comma(int64(v.limits.MaxItemsPerBatch))))
	}
	maxValue := v.limits.MaxBatchValueDecimal()
	if maxValue.IsPositive() && totalValue.GreaterThan(maxValue) {
		result = multierror.Append(result, apperrors.Newf(apperrors.Validation, "",
			"batch value %s exceeds the limit of %s",
			humanize.CommafWithDigits(totalValue.InexactFloat64(), 2), humanize.CommafWithDigits(maxValue.InexactFloat64(), 2)))
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = joinedFormat
	return apperrors.Wrap(apperrors.Validation, "", result, limitMessage(result))
}

func limitMessage(result *multierror.Error) string {
	msgs := make([]string, 0, len(result.Errors))
	for _, err := range result.Errors {
		msgs = append(msgs, apperrors.UserMessage(err))
	}
	return "batch limits exceeded: " + strings.Join(msgs, "; ")
}
