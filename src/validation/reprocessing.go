package validation

import (
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/models"
)

// CheckReprocessing reports whether userID may (re)process the invoice.
func CheckReprocessing(invoice models.Invoice, userID int64) error {
	if invoice.UserID != userID {
		return apperrors.New(apperrors.Validation, invoice.ID, "invoice does not belong to the user")
	}
	switch invoice.Status {
	case models.InvoiceStatusProcessed:
		return apperrors.New(apperrors.Validation, invoice.ID, "invoice was already processed")
	case models.InvoiceStatusProcessing:
		return apperrors.New(apperrors.Validation, invoice.ID, "invoice is being processed")
	}
	return nil
}
