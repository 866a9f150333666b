package processors

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/models"
)

func testEngine() *ExitConsolidationEngine {
	n := 0
	clock := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	return NewExitConsolidationEngine().WithClock(
		func() string { n++; return fmt.Sprintf("id-%03d", n) },
		func() time.Time { return clock },
	)
}

func fill(side models.Side, tradeDate string, qty int, price string) Fill {
	p := d(price)
	return Fill{
		UserID:     7,
		AssetID:    "asset-xyz",
		AssetCode:  "XYZ11",
		Side:       side,
		TradeType:  models.TradeTypeSwing,
		Date:       date(tradeDate),
		Quantity:   qty,
		UnitPrice:  p,
		TotalValue: p.Mul(decimal.NewFromInt(int64(qty))),
	}
}

func TestOpenSetsAveragePrice(t *testing.T) {
	change, err := testEngine().Open(fill(models.SideBuy, "2024-03-01", 300, "1.03"))
	require.NoError(t, err)

	book := change.Book
	assert.Equal(t, "1.03", book.Position.AveragePrice.String())
	assert.Equal(t, 300, book.Position.RemainingQuantity)
	assert.Equal(t, models.PositionStatusOpen, book.Position.Status)
	assert.Equal(t, models.GroupStatusOpen, book.Group.Status)
	assert.Equal(t, change.Primary.ID, book.Group.OriginalOperationID)
	assert.Equal(t, models.OperationKindEntry, change.Primary.Kind)
	assert.True(t, change.Primary.TotalValue.Equal(d("309")))

	role, ok := book.RoleOf(change.Primary.ID)
	require.True(t, ok)
	assert.Equal(t, models.GroupRoleOriginal, role)
	require.Len(t, change.CreatedLots, 1)
	assert.Equal(t, 1, change.CreatedLots[0].Sequence)
}

func TestOpenRejectsShortFlows(t *testing.T) {
	_, err := testEngine().Open(fill(models.SideSell, "2024-03-01", 10, "1.00"))
	require.Error(t, err)
	assert.Equal(t, apperrors.Integration, apperrors.Classify(err))
}

func TestEnterRecomputesWeightedAverage(t *testing.T) {
	engine := testEngine()
	opened, err := engine.Open(fill(models.SideBuy, "2024-03-01", 100, "1.00"))
	require.NoError(t, err)

	entered, err := engine.Enter(opened.Book, fill(models.SideBuy, "2024-03-02", 200, "1.06"))
	require.NoError(t, err)

	book := entered.Book
	assert.Equal(t, "1.04", book.Position.AveragePrice.String())
	assert.Equal(t, 300, book.Position.TotalQuantity)
	assert.Equal(t, 300, book.Position.RemainingQuantity)
	assert.Equal(t, 300, book.Group.TotalQuantity)
	require.Len(t, book.Lots, 2)
	assert.Equal(t, 2, book.Lots[1].Sequence)

	original := entered.Primary
	assert.Equal(t, opened.Primary.ID, original.ID)
	assert.Equal(t, 300, original.Quantity)
	assert.True(t, original.TotalValue.Equal(d("312")))
	assert.Equal(t, "1.04", original.UnitPrice.String())
	require.Len(t, entered.UpdatedOperations, 1)
	assert.Empty(t, entered.CreatedOperations)
}

func TestRoundTripProfitInvariant(t *testing.T) {
	engine := testEngine()
	opened, err := engine.Open(fill(models.SideBuy, "2024-03-01", 300, "1.03"))
	require.NoError(t, err)

	partial, err := engine.Exit(opened.Book, fill(models.SideSell, "2024-03-05", 75, "1.73"))
	require.NoError(t, err)
	assert.False(t, partial.Final)

	slice := partial.Primary
	assert.Equal(t, models.OperationKindExit, slice.Kind)
	assert.Equal(t, "52.5", slice.ProfitLoss.String())
	assert.Equal(t, models.OperationStatusWinner, slice.Status)
	assert.Equal(t, models.PositionStatusPartial, partial.Book.Position.Status)
	assert.Equal(t, models.GroupStatusPartiallyClosed, partial.Book.Group.Status)
	assert.Equal(t, 225, partial.Book.Position.RemainingQuantity)
	assert.Equal(t, 75, partial.Book.Group.ClosedQuantity)
	assert.Equal(t, "1.03", partial.Book.Position.AveragePrice.String())
	role, _ := partial.Book.RoleOf(slice.ID)
	assert.Equal(t, models.GroupRolePartialExit, role)
	require.Len(t, partial.ExitRecords, 1)
	assert.Equal(t, slice.ID, partial.ExitRecords[0].ExitOperationID)
	assert.Equal(t, "67.9612", partial.ExitRecords[0].ProfitLossPct.String())

	final, err := engine.Exit(partial.Book, fill(models.SideSell, "2024-03-08", 225, "0.46"))
	require.NoError(t, err)
	require.True(t, final.Final)

	terminal := final.Primary
	assert.Equal(t, models.OperationKindRoundTrip, terminal.Kind)
	assert.Equal(t, "-75.75", terminal.ProfitLoss.String())
	assert.Equal(t, "-24.5146", terminal.ProfitLossPct.String())
	assert.Equal(t, "-24.51", terminal.DisplayProfitLossPct().String())
	assert.Equal(t, models.OperationStatusLoser, terminal.Status)
	assert.Equal(t, 300, terminal.Quantity)
	assert.True(t, terminal.TotalValue.Equal(d("233.25")))

	book := final.Book
	assert.Equal(t, models.PositionStatusClosed, book.Position.Status)
	assert.NotNil(t, book.Position.ClosedAt)
	assert.Equal(t, 0, book.Position.RemainingQuantity)
	assert.Equal(t, "1.03", book.Position.AveragePrice.String())
	assert.Equal(t, models.GroupStatusClosed, book.Group.Status)
	assert.Equal(t, "-75.75", book.Group.TotalProfit.String())

	// Exactly one visible terminal operation; the partial exit is hidden and the
	// original entry is left as it was.
	visibleTerminal := 0
	for _, op := range book.Operations {
		role, _ := book.RoleOf(op.ID)
		switch role {
		case models.GroupRoleOriginal:
			assert.Equal(t, models.OperationStatusActive, op.Status)
			assert.True(t, op.TotalValue.Equal(d("309")))
		case models.GroupRolePartialExit:
			assert.Equal(t, models.OperationStatusHidden, op.Status)
		case models.GroupRoleConsolidatedResult:
			if op.Status != models.OperationStatusHidden {
				visibleTerminal++
			}
		}
	}
	assert.Equal(t, 1, visibleTerminal)
	require.Len(t, final.UpdatedOperations, 1)
	assert.Equal(t, slice.ID, final.UpdatedOperations[0].ID)
}

func TestExitConsumesLotsFIFO(t *testing.T) {
	engine := testEngine()
	opened, err := engine.Open(fill(models.SideBuy, "2024-03-01", 100, "10"))
	require.NoError(t, err)
	entered, err := engine.Enter(opened.Book, fill(models.SideBuy, "2024-03-02", 100, "12"))
	require.NoError(t, err)

	exited, err := engine.Exit(entered.Book, fill(models.SideSell, "2024-03-03", 150, "11"))
	require.NoError(t, err)

	require.Len(t, exited.ExitRecords, 2)
	first, second := exited.ExitRecords[0], exited.ExitRecords[1]
	assert.Equal(t, 100, first.Quantity)
	assert.Equal(t, "100", first.ProfitLoss.String())
	assert.Equal(t, "10", first.ProfitLossPct.String())
	assert.Equal(t, 50, second.Quantity)
	assert.Equal(t, "-50", second.ProfitLoss.String())
	assert.Equal(t, "-8.3333", second.ProfitLossPct.String())

	slice := exited.Primary
	assert.Equal(t, "50", slice.ProfitLoss.String())
	assert.Equal(t, "3.125", slice.ProfitLossPct.String())
	assert.Equal(t, models.OperationStatusWinner, slice.Status)
	assert.Equal(t, "10.6667", slice.EntryUnitPrice.String())
	assert.Equal(t, "2024-03-01", slice.EntryDate.Format("2006-01-02"))

	book := exited.Book
	assert.True(t, book.Lots[0].FullyConsumed)
	assert.Equal(t, 50, book.Lots[1].RemainingQuantity)
	assert.Equal(t, "12", book.Position.AveragePrice.String())
	assert.Equal(t, "3.125", book.Position.RealizedProfitLossPct.String())
}

func TestExitAboveOpenQuantityFails(t *testing.T) {
	engine := testEngine()
	opened, err := engine.Open(fill(models.SideBuy, "2024-03-01", 100, "10"))
	require.NoError(t, err)

	_, err = engine.Exit(opened.Book, fill(models.SideSell, "2024-03-02", 101, "11"))
	require.Error(t, err)
	assert.Equal(t, apperrors.Integration, apperrors.Classify(err))

	closed, err := engine.Exit(opened.Book, fill(models.SideSell, "2024-03-02", 100, "10"))
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusBreakeven, closed.Primary.Status)

	_, err = engine.Exit(closed.Book, fill(models.SideSell, "2024-03-03", 1, "10"))
	assert.Equal(t, apperrors.Integration, apperrors.Classify(err))
	_, err = engine.Enter(closed.Book, fill(models.SideBuy, "2024-03-03", 1, "10"))
	assert.Equal(t, apperrors.Integration, apperrors.Classify(err))
}

func TestLotConservationOverRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		engine := testEngine()
		change, err := engine.Open(fill(models.SideBuy, "2024-01-01", 1+rng.Intn(500), "10"))
		require.NoError(t, err)
		book := change.Book

		for step := 0; step < 20 && book.Position.IsOpen(); step++ {
			tradeDate := time.Date(2024, 1, 2+step, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
			price := decimal.NewFromInt(int64(5 + rng.Intn(10))).String()
			if rng.Intn(2) == 0 {
				change, err = engine.Enter(book, fill(models.SideBuy, tradeDate, 1+rng.Intn(200), price))
			} else {
				change, err = engine.Exit(book, fill(models.SideSell, tradeDate, 1+rng.Intn(book.OpenQuantity()), price))
			}
			require.NoError(t, err)

			prevOriginal := map[string]int{}
			for _, l := range book.Lots {
				prevOriginal[l.ID] = l.RemainingQuantity
			}
			book = change.Book

			sum := 0
			for _, l := range book.Lots {
				sum += l.RemainingQuantity
				assert.LessOrEqual(t, l.RemainingQuantity, l.OriginalQuantity)
				if prev, ok := prevOriginal[l.ID]; ok {
					assert.LessOrEqual(t, l.RemainingQuantity, prev)
				}
			}
			assert.Equal(t, book.Position.RemainingQuantity, sum)
		}
	}
}
