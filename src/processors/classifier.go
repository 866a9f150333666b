package processors

import (
	"strings"
	"unicode"

	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

const (
	markerDayTradeBonus  = 0.2
	sameDayDayTradeBonus = 0.1
	defaultSwingBonus    = 0.1
)

// DefaultDayTradeMarkers are the observation markers that flag a day trade.
var DefaultDayTradeMarkers = []string{"D", "DT", "DAY TRADE", "DAYTRADE"}

// TypeClassifier decides DAY vs SWING for detected operations. It is a pure
// function of its input.
type TypeClassifier struct {
	markers       []string
	sameDaySignal bool
}

// NewTypeClassifier builds a classifier. Empty markers fall back to
// DefaultDayTradeMarkers.
func NewTypeClassifier(markers []string, sameDaySignal bool) *TypeClassifier {
	if len(markers) == 0 {
		markers = DefaultDayTradeMarkers
	}
	normalized := make([]string, 0, len(markers))
	for _, m := range markers {
		if n := normalizeText(m); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &TypeClassifier{markers: normalized, sameDaySignal: sameDaySignal}
}

func (c *TypeClassifier) Classify(ops []models.DetectedOperation) []models.ClassifiedOperation {
	out := make([]models.ClassifiedOperation, 0, len(ops))
	for _, op := range ops {
		out = append(out, c.ClassifyOne(op, ops))
	}
	return out
}

// ClassifyOne classifies op. batch is the full run the operation belongs to and
// feeds the same-day opposite-side signal.
func (c *TypeClassifier) ClassifyOne(op models.DetectedOperation, batch []models.DetectedOperation) models.ClassifiedOperation {
	tradeType := models.TradeTypeSwing
	bonus := defaultSwingBonus
	justification := "no day-trade marker; default swing trade"

	if marker, ok := c.matchMarker(op.Observations); ok {
		tradeType = models.TradeTypeDay
		bonus = markerDayTradeBonus
		justification = "observations carry day-trade marker '" + marker + "'"
	} else if op.DayTrade != nil && *op.DayTrade {
		tradeType = models.TradeTypeDay
		bonus = markerDayTradeBonus
		justification = "line item flagged as day trade"
	} else if c.sameDaySignal && hasSameDayOpposite(op, batch) {
		tradeType = models.TradeTypeDay
		bonus = sameDayDayTradeBonus
		justification = "opposite-side trade of the same asset on the same date"
	}

	return models.ClassifiedOperation{
		Detected:      op,
		TradeType:     tradeType,
		Confidence:    utils.CapConfidence(op.Confidence + bonus),
		Justification: justification,
	}
}

func (c *TypeClassifier) matchMarker(observations string) (string, bool) {
	text := normalizeText(observations)
	if text == "" {
		return "", false
	}
	padded := " " + text + " "
	for _, m := range c.markers {
		if strings.Contains(padded, " "+m+" ") {
			return m, true
		}
	}
	return "", false
}

func hasSameDayOpposite(op models.DetectedOperation, batch []models.DetectedOperation) bool {
	if op.TradeDate.IsZero() {
		return false
	}
	for _, other := range batch {
		if other.AssetCode == op.AssetCode && other.Side == op.Side.Opposite() && utils.SameDay(other.TradeDate, op.TradeDate) {
			return true
		}
	}
	return false
}

// normalizeText upper-cases s and collapses every run of non-alphanumeric
// characters into a single space, so markers match on word boundaries.
func normalizeText(s string) string {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}
