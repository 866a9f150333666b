package validation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/repository"
	"github.com/username/opsledger/src/utils"
)

var (
	minConsolidatedTolerance = decimal.RequireFromString("0.05")
	perUnitRoundingTolerance = decimal.RequireFromString("0.00005")
)

// PreIntegrationChecker re-validates consolidated operations right before
// they are integrated.
type PreIntegrationChecker struct {
	mappings repository.MappingRepository
}

func NewPreIntegrationChecker(mappings repository.MappingRepository) *PreIntegrationChecker {
	return &PreIntegrationChecker{mappings: mappings}
}

// ConsolidatedTolerance is the allowed gap between quantity x unit price and
// total value of a consolidated operation. The unit price carries 4 decimals,
// so the rounding error grows with quantity.
func ConsolidatedTolerance(quantity int) decimal.Decimal {
	t := perUnitRoundingTolerance.Mul(decimal.NewFromInt(int64(quantity)))
	if t.LessThan(minConsolidatedTolerance) {
		return minConsolidatedTolerance
	}
	return t
}

// Check returns the operations that may still be integrated and the rejected ones.
func (c *PreIntegrationChecker) Check(ctx context.Context, ops []models.ConsolidatedOperation) ([]models.ConsolidatedOperation, []Rejection, error) {
	var passed []models.ConsolidatedOperation
	var rejected []Rejection
	for _, op := range ops {
		subject := op.Key.String()
		mapped, err := c.mappings.MappedLineItems(ctx, op.LineItemIDs())
		if err != nil {
			return nil, nil, fmt.Errorf("recheck %s: %w", subject, err)
		}
		if len(mapped) > 0 {
			rejected = append(rejected, Rejection{Subject: subject,
				Err: apperrors.Newf(apperrors.Duplicate, subject, "%d source line item(s) already processed", len(mapped))})
			continue
		}
		expected := op.UnitPrice.Mul(decimal.NewFromInt(int64(op.Quantity)))
		if !utils.WithinTolerance(expected, op.TotalValue, ConsolidatedTolerance(op.Quantity)) {
			rejected = append(rejected, Rejection{Subject: subject,
				Err: apperrors.Newf(apperrors.Validation, subject, "total value %s inconsistent with %d x %s", op.TotalValue, op.Quantity, op.UnitPrice)})
			continue
		}
		passed = append(passed, op)
	}
	return passed, rejected, nil
}
