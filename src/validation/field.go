// Package validation holds the checks run around the processing pipeline:
// per-item field validation, duplicate detection, batch limits, reprocessing
// eligibility and the pre-integration recheck.
package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/config"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

// Rejection is an item or invoice refused by a validation pass.
type Rejection struct {
	Subject   string `json:"subject"`
	InvoiceID string `json:"invoice_id,omitempty"`
	Err       error  `json:"-"`
}

// FieldReport is the outcome of field validation over a batch.
type FieldReport struct {
	Valid    []models.LineItem
	Rejected []Rejection
	Warnings []string
}

type FieldValidator struct {
	rules config.ValidationRules
	now   func() time.Time
}

func NewFieldValidator(rules config.ValidationRules) *FieldValidator {
	return &FieldValidator{rules: rules, now: time.Now}
}

// WithClock returns a validator judging dates against now.
func (v *FieldValidator) WithClock(now func() time.Time) *FieldValidator {
	return &FieldValidator{rules: v.rules, now: now}
}

func joinedFormat(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateItem checks one sanitized line item. Every failed rule is reported.
func (v *FieldValidator) ValidateItem(item models.LineItem) error {
	var result *multierror.Error

	if item.AssetCode == "" {
		result = multierror.Append(result, fmt.Errorf("asset code is required"))
	}
	if !item.Side.Valid() {
		result = multierror.Append(result, fmt.Errorf("side must be BUY or SELL, got '%s'", item.Side))
	}
	if item.Quantity <= 0 {
		result = multierror.Append(result, fmt.Errorf("quantity must be positive, got %d", item.Quantity))
	}
	minPrice := v.rules.MinUnitPriceDecimal()
	if item.UnitPrice.LessThan(minPrice) {
		result = multierror.Append(result, fmt.Errorf("unit price %s is below %s", item.UnitPrice, minPrice))
	}
	if !item.TotalValue.IsPositive() {
		result = multierror.Append(result, fmt.Errorf("total value must be positive, got %s", item.TotalValue))
	}
	if item.Quantity > 0 && item.UnitPrice.IsPositive() {
		expected := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		if !utils.WithinTolerance(expected, item.TotalValue, v.rules.ValueToleranceDecimal()) {
			result = multierror.Append(result, fmt.Errorf("total value %s does not match quantity x price %s", item.TotalValue, expected))
		}
	}
	if item.TradeDate.IsZero() {
		result = multierror.Append(result, fmt.Errorf("trade date is required"))
	} else {
		today := utils.DateOnly(v.now())
		tradeDay := utils.DateOnly(item.TradeDate)
		if tradeDay.After(today) {
			result = multierror.Append(result, fmt.Errorf("trade date %s is in the future", utils.FormatDate(tradeDay)))
		}
		if tradeDay.Before(today.AddDate(-v.rules.MaxAgeYears, 0, 0)) {
			result = multierror.Append(result, fmt.Errorf("trade date %s is older than %d years", utils.FormatDate(tradeDay), v.rules.MaxAgeYears))
		}
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = joinedFormat
	return apperrors.Wrap(apperrors.Validation, item.ID, result, result.Error())
}

// ValidateBatch sanitizes and checks every item, then derives batch warnings
// from the items that passed.
func (v *FieldValidator) ValidateBatch(items []models.LineItem) FieldReport {
	var report FieldReport
	for _, raw := range items {
		item := SanitizeLineItem(raw)
		if err := v.ValidateItem(item); err != nil {
			report.Rejected = append(report.Rejected, Rejection{Subject: item.ID, InvoiceID: item.InvoiceID, Err: err})
			continue
		}
		report.Valid = append(report.Valid, item)
	}
	report.Warnings = append(report.Warnings, v.spreadWarnings(report.Valid)...)
	report.Warnings = append(report.Warnings, dayTradeWarnings(report.Valid)...)
	return report
}

func (v *FieldValidator) spreadWarnings(items []models.LineItem) []string {
	type bounds struct{ min, max decimal.Decimal }
	byAsset := make(map[string]*bounds)
	for _, it := range items {
		b, ok := byAsset[it.AssetCode]
		if !ok {
			byAsset[it.AssetCode] = &bounds{min: it.UnitPrice, max: it.UnitPrice}
			continue
		}
		if it.UnitPrice.LessThan(b.min) {
			b.min = it.UnitPrice
		}
		if it.UnitPrice.GreaterThan(b.max) {
			b.max = it.UnitPrice
		}
	}

	limit := decimal.NewFromFloat(v.rules.PriceSpreadWarning)
	var warnings []string
	for _, asset := range sortedKeys(byAsset) {
		b := byAsset[asset]
		if !b.min.IsPositive() {
			continue
		}
		spread := b.max.Sub(b.min).Div(b.min)
		if spread.GreaterThan(limit) {
			warnings = append(warnings, fmt.Sprintf("abnormal price spread for %s: %s to %s (%s%%)",
				asset, b.min, b.max, spread.Mul(decimal.NewFromInt(100)).Round(2)))
		}
	}
	return warnings
}

func dayTradeWarnings(items []models.LineItem) []string {
	sides := make(map[string]map[models.Side]bool)
	for _, it := range items {
		if sides[it.AssetCode] == nil {
			sides[it.AssetCode] = make(map[models.Side]bool)
		}
		sides[it.AssetCode][it.Side] = true
	}
	var warnings []string
	for _, asset := range sortedKeys(sides) {
		if sides[asset][models.SideBuy] && sides[asset][models.SideSell] {
			warnings = append(warnings, fmt.Sprintf("possible day trade: %s is both bought and sold in this batch", asset))
		}
	}
	return warnings
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
