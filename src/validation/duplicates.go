package validation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/config"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/repository"
	"github.com/username/opsledger/src/utils"
)

// DuplicateReport splits a batch into items safe to process and duplicates.
type DuplicateReport struct {
	Unique     []models.LineItem
	Duplicates []Rejection
	Warnings   []string
}

// DuplicateDetector checks items against prior processing and against their
// siblings in the batch.
type DuplicateDetector struct {
	mappings repository.MappingRepository
	fills    repository.FillRepository
	rules    config.ValidationRules
}

func NewDuplicateDetector(mappings repository.MappingRepository, fills repository.FillRepository, rules config.ValidationRules) *DuplicateDetector {
	return &DuplicateDetector{mappings: mappings, fills: fills, rules: rules}
}

// Check classifies items. An error means the check itself could not complete,
// leaving duplicates unresolved; the caller must not proceed.
func (d *DuplicateDetector) Check(ctx context.Context, userID int64, items []models.LineItem) (DuplicateReport, error) {
	var report DuplicateReport
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	mapped, err := d.mappings.MappedLineItems(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("check processed line items: %w", err)
	}

	tolerance := d.rules.DuplicatePriceDiffDecimal()
	for _, it := range items {
		if mapped[it.ID] {
			report.Duplicates = append(report.Duplicates, Rejection{
				Subject:   it.ID,
				InvoiceID: it.InvoiceID,
				Err:       apperrors.New(apperrors.Duplicate, it.ID, "line item already processed"),
			})
			continue
		}

		// Operation rows aggregate fills (a closing SELL lives on as the round
		// trip, extra BUYs fold into the original entry), so match the fills.
		matches, err := d.fills.FindMatching(ctx, userID, it.AssetCode, it.Side, it.Quantity, it.TradeDate)
		if err != nil {
			return report, fmt.Errorf("check existing trades for %s: %w", it.ID, err)
		}
		if fill, found := firstWithinPrice(matches, it, tolerance); found {
			report.Duplicates = append(report.Duplicates, Rejection{
				Subject:   it.ID,
				InvoiceID: it.InvoiceID,
				Err: apperrors.Newf(apperrors.Duplicate, it.ID, "matches existing trade %s %s (%s %d %s on %s)",
					fill.Source, fill.ID, it.Side, it.Quantity, it.AssetCode, utils.FormatDate(it.TradeDate)),
			})
			continue
		}
		report.Unique = append(report.Unique, it)
	}

	report.Warnings = clusterWarnings(report.Unique, d.rules)
	return report, nil
}

func firstWithinPrice(fills []repository.PriorFill, item models.LineItem, tolerance decimal.Decimal) (repository.PriorFill, bool) {
	for _, f := range fills {
		if utils.WithinTolerance(f.UnitPrice, item.UnitPrice, tolerance) {
			return f, true
		}
	}
	return repository.PriorFill{}, false
}

// clusterWarnings flags items of different invoices that look like the same
// trade: equal asset, side, quantity and date with prices within tolerance.
func clusterWarnings(items []models.LineItem, rules config.ValidationRules) []string {
	tolerance := rules.DuplicatePriceDiffDecimal()
	var warnings []string
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if a.InvoiceID == b.InvoiceID || a.AssetCode != b.AssetCode || a.Side != b.Side || a.Quantity != b.Quantity {
				continue
			}
			if !utils.SameDay(a.TradeDate, b.TradeDate) || !utils.WithinTolerance(a.UnitPrice, b.UnitPrice, tolerance) {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("possible duplicate: line items %s and %s (%s %s %d @ %s) appear on invoices %s and %s",
				a.ID, b.ID, a.AssetCode, a.Side, a.Quantity, a.UnitPrice, a.InvoiceID, b.InvoiceID))
		}
	}
	return warnings
}
