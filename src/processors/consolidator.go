package processors

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

const (
	memberBonusStep = 0.1
	memberBonusCap  = 0.3
)

// Consolidator merges classified operations sharing asset, side, trade type and date.
type Consolidator struct {
	confirmedThreshold float64
	readyThreshold     float64
}

func NewConsolidator(confirmedThreshold, readyThreshold float64) *Consolidator {
	return &Consolidator{confirmedThreshold: confirmedThreshold, readyThreshold: readyThreshold}
}

func (c *Consolidator) Consolidate(userID int64, ops []models.ClassifiedOperation) ConsolidationResult {
	groups := make(map[models.ConsolidationKey][]models.ClassifiedOperation)
	for _, op := range ops {
		key := keyOf(op)
		groups[key] = append(groups[key], op)
	}

	keys := make([]models.ConsolidationKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	var result ConsolidationResult
	for _, key := range keys {
		consolidated, err := c.consolidateGroup(userID, key, groups[key])
		if err != nil {
			logger.L.Warn("Consolidation group failed", "key", key.String(), "error", err)
			result.Failures = append(result.Failures, GroupFailure{Key: key, Err: err})
			continue
		}
		result.Operations = append(result.Operations, consolidated)
	}
	return result
}

func keyOf(op models.ClassifiedOperation) models.ConsolidationKey {
	return models.ConsolidationKey{
		AssetCode: op.Detected.AssetCode,
		Side:      op.Detected.Side,
		TradeType: op.TradeType,
		TradeDate: utils.FormatDate(op.Detected.TradeDate),
	}
}

// keyLess orders by trade date, BUY before SELL, then asset code and trade type.
// Entries of a day therefore integrate before the exits of that day.
func keyLess(a, b models.ConsolidationKey) bool {
	if a.TradeDate != b.TradeDate {
		return a.TradeDate < b.TradeDate
	}
	if a.Side != b.Side {
		return a.Side == models.SideBuy
	}
	if a.AssetCode != b.AssetCode {
		return a.AssetCode < b.AssetCode
	}
	return a.TradeType < b.TradeType
}

func (c *Consolidator) consolidateGroup(userID int64, key models.ConsolidationKey, members []models.ClassifiedOperation) (models.ConsolidatedOperation, error) {
	quantity := 0
	total := decimal.Zero
	confidenceSum := 0.0
	for _, m := range members {
		if m.Detected.Quantity <= 0 {
			return models.ConsolidatedOperation{}, apperrors.Newf(apperrors.Detection, key.String(), "member with non-positive quantity %d", m.Detected.Quantity)
		}
		if m.Detected.TotalValue.IsNegative() {
			return models.ConsolidatedOperation{}, apperrors.New(apperrors.Detection, key.String(), "member with negative total value")
		}
		quantity += m.Detected.Quantity
		total = total.Add(m.Detected.TotalValue)
		confidenceSum += m.Confidence
	}
	if quantity == 0 {
		return models.ConsolidatedOperation{}, apperrors.New(apperrors.Detection, key.String(), "empty consolidation group")
	}

	n := len(members)
	bonus := memberBonusStep * float64(n)
	if bonus > memberBonusCap {
		bonus = memberBonusCap
	}
	confidence := utils.CapConfidence(confidenceSum/float64(n) + bonus)

	reason := "single operation"
	if n > 1 {
		reason = fmt.Sprintf("consolidated %d operations", n)
	}

	first := members[0].Detected
	return models.ConsolidatedOperation{
		Key:              key,
		UserID:           userID,
		AssetCode:        key.AssetCode,
		Side:             key.Side,
		TradeType:        key.TradeType,
		TradeDate:        first.TradeDate,
		Quantity:         quantity,
		TotalValue:       total,
		UnitPrice:        utils.UnitPrice(total, quantity),
		Members:          members,
		Confidence:       confidence,
		Confirmed:        confidence >= c.confirmedThreshold,
		ReadyForCreation: confidence >= c.readyThreshold,
		Reason:           reason,
	}, nil
}
