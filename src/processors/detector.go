package processors

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

const (
	baseDetectionConfidence = 0.5
	validPriceBonus         = 0.2
	validQuantityBonus      = 0.2
	assetCodeBonus          = 0.1
	tradeDateBonus          = 0.1
	dayTradeFlagBonus       = 0.1
)

var minValidPrice = decimal.RequireFromString("0.01")

// noPatterns is the default PatternScanner. It finds nothing.
type noPatterns struct{}

func (noPatterns) Scan(int64, string, []models.LineItem) []models.DetectedOperation { return nil }

// PatternDetector emits one DetectedOperation per structurally valid line item,
// plus whatever the day-trade and swing-trade scanners add per invoice.
type PatternDetector struct {
	dayTradeScanner   PatternScanner
	swingTradeScanner PatternScanner
}

func NewPatternDetector() *PatternDetector {
	return &PatternDetector{dayTradeScanner: noPatterns{}, swingTradeScanner: noPatterns{}}
}

// WithScanners returns a detector using the given pattern scanners. A nil
// scanner keeps the default.
func (d *PatternDetector) WithScanners(dayTrade, swingTrade PatternScanner) *PatternDetector {
	out := *d
	if dayTrade != nil {
		out.dayTradeScanner = dayTrade
	}
	if swingTrade != nil {
		out.swingTradeScanner = swingTrade
	}
	return &out
}

func (d *PatternDetector) Detect(userID int64, items []models.LineItem) DetectionResult {
	var result DetectionResult
	byInvoice := make(map[string][]models.LineItem)
	var invoiceOrder []string

	for _, item := range items {
		if reason := structuralProblem(item); reason != "" {
			logger.L.Debug("Skipping line item as low-confidence miss", "lineItemID", item.ID, "invoiceID", item.InvoiceID, "reason", reason)
			result.Misses = append(result.Misses, DetectionMiss{LineItemID: item.ID, InvoiceID: item.InvoiceID, Reason: reason})
			continue
		}
		result.Operations = append(result.Operations, detectItem(userID, item))

		if _, seen := byInvoice[item.InvoiceID]; !seen {
			invoiceOrder = append(invoiceOrder, item.InvoiceID)
		}
		byInvoice[item.InvoiceID] = append(byInvoice[item.InvoiceID], item)
	}

	for _, invoiceID := range invoiceOrder {
		invoiceItems := byInvoice[invoiceID]
		result.Operations = append(result.Operations, d.dayTradeScanner.Scan(userID, invoiceID, invoiceItems)...)
		result.Operations = append(result.Operations, d.swingTradeScanner.Scan(userID, invoiceID, invoiceItems)...)
	}

	logger.L.Debug("Detection finished", "userID", userID, "items", len(items), "detected", len(result.Operations), "misses", len(result.Misses))
	return result
}

func structuralProblem(item models.LineItem) string {
	switch {
	case strings.TrimSpace(item.AssetCode) == "":
		return "missing asset code"
	case !item.Side.Valid():
		return "side is neither BUY nor SELL"
	case item.Quantity <= 0:
		return "quantity is not positive"
	case !item.UnitPrice.IsPositive():
		return "unit price is not positive"
	}
	return ""
}

func detectItem(userID int64, item models.LineItem) models.DetectedOperation {
	confidence := baseDetectionConfidence
	var reasons []string
	if item.UnitPrice.GreaterThanOrEqual(minValidPrice) {
		confidence += validPriceBonus
		reasons = append(reasons, "valid price")
	}
	if item.Quantity > 0 {
		confidence += validQuantityBonus
		reasons = append(reasons, "valid quantity")
	}
	if item.AssetCode != "" {
		confidence += assetCodeBonus
		reasons = append(reasons, "asset code")
	}
	if !item.TradeDate.IsZero() {
		confidence += tradeDateBonus
		reasons = append(reasons, "trade date")
	}
	if item.HasDayTradeFlag() {
		confidence += dayTradeFlagBonus
		reasons = append(reasons, "day-trade flag")
	}

	return models.DetectedOperation{
		UserID:       userID,
		InvoiceID:    item.InvoiceID,
		Sources:      []models.LineItem{item},
		AssetCode:    strings.ToUpper(strings.TrimSpace(item.AssetCode)),
		Side:         item.Side,
		Quantity:     item.Quantity,
		UnitPrice:    item.UnitPrice,
		TotalValue:   item.TotalValue,
		TradeDate:    utils.DateOnly(item.TradeDate),
		DayTrade:     item.DayTrade,
		Observations: item.Observations,
		Confidence:   utils.CapConfidence(confidence),
		Reason:       "line item with " + strings.Join(reasons, ", "),
	}
}
