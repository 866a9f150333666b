package processors

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/utils"
)

// Fill is one consolidated trade applied to a position.
type Fill struct {
	UserID     int64
	AssetID    string
	AssetCode  string
	Side       models.Side
	TradeType  models.TradeType
	Date       time.Time
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalValue decimal.Decimal
}

// PositionChange is the outcome of applying a Fill to a PositionBook. Book is
// the complete state afterwards; the remaining fields list what must be
// persisted to get there.
type PositionChange struct {
	Book              models.PositionBook
	CreatedOperations []models.Operation
	UpdatedOperations []models.Operation
	CreatedLots       []models.EntryLot
	UpdatedLots       []models.EntryLot
	ExitRecords       []models.ExitRecord
	CreatedItems      []models.OperationGroupItem

	// Primary is the operation the fill's line items map to.
	Primary models.Operation
	// Final is set when the fill closed the position.
	Final bool
}

// ExitConsolidationEngine does the lot accounting of positions. It never
// touches storage: every method maps a book and a fill to a PositionChange.
type ExitConsolidationEngine struct {
	newID func() string
	now   func() time.Time
}

func NewExitConsolidationEngine() *ExitConsolidationEngine {
	return &ExitConsolidationEngine{newID: uuid.NewString, now: time.Now}
}

// WithClock returns an engine using the given id generator and clock.
func (e *ExitConsolidationEngine) WithClock(newID func() string, now func() time.Time) *ExitConsolidationEngine {
	return &ExitConsolidationEngine{newID: newID, now: now}
}

func checkFill(f Fill) error {
	if f.Quantity <= 0 {
		return apperrors.Newf(apperrors.Integration, f.AssetCode, "fill quantity must be positive, got %d", f.Quantity)
	}
	if !f.UnitPrice.IsPositive() {
		return apperrors.New(apperrors.Integration, f.AssetCode, "fill unit price must be positive")
	}
	return nil
}

// Open starts a new position from an entry fill: position, original
// operation, first lot and operation group.
func (e *ExitConsolidationEngine) Open(f Fill) (PositionChange, error) {
	if err := checkFill(f); err != nil {
		return PositionChange{}, err
	}
	if f.Side != models.SideBuy {
		return PositionChange{}, apperrors.New(apperrors.Integration, f.AssetCode, "cannot open a position with a SELL: short flows are not supported")
	}
	now := e.now()
	positionID, groupID, opID := e.newID(), e.newID(), e.newID()
	date := utils.DateOnly(f.Date)

	op := models.Operation{
		ID:             opID,
		UserID:         f.UserID,
		AssetID:        f.AssetID,
		AssetCode:      f.AssetCode,
		PositionID:     positionID,
		GroupID:        groupID,
		Kind:           models.OperationKindEntry,
		Side:           f.Side,
		TradeType:      f.TradeType,
		EntryDate:      date,
		Quantity:       f.Quantity,
		UnitPrice:      f.UnitPrice,
		EntryUnitPrice: f.UnitPrice,
		TotalValue:     f.TotalValue,
		ProfitLoss:     decimal.Zero,
		ProfitLossPct:  decimal.Zero,
		Status:         models.OperationStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	lot := models.EntryLot{
		ID:                e.newID(),
		PositionID:        positionID,
		EntryDate:         date,
		OriginalQuantity:  f.Quantity,
		RemainingQuantity: f.Quantity,
		UnitPrice:         f.UnitPrice,
		Sequence:          1,
	}
	position := models.Position{
		ID:                    positionID,
		UserID:                f.UserID,
		AssetID:               f.AssetID,
		AssetCode:             f.AssetCode,
		GroupID:               groupID,
		TotalQuantity:         f.Quantity,
		RemainingQuantity:     f.Quantity,
		AveragePrice:          f.UnitPrice,
		RealizedProfitLoss:    decimal.Zero,
		RealizedProfitLossPct: decimal.Zero,
		Status:                models.PositionStatusOpen,
		OpenedAt:              now,
	}
	group := models.OperationGroup{
		ID:                  groupID,
		PositionID:          positionID,
		UserID:              f.UserID,
		AssetCode:           f.AssetCode,
		OriginalOperationID: opID,
		TotalQuantity:       f.Quantity,
		RemainingQuantity:   f.Quantity,
		TotalProfit:         decimal.Zero,
		Status:              models.GroupStatusOpen,
		CreatedAt:           now,
	}
	item := models.OperationGroupItem{
		ID:          e.newID(),
		GroupID:     groupID,
		OperationID: opID,
		Role:        models.GroupRoleOriginal,
		Sequence:    1,
		CreatedAt:   now,
	}

	change := PositionChange{
		Book: models.PositionBook{
			Position:   position,
			Group:      group,
			Lots:       []models.EntryLot{lot},
			Items:      []models.OperationGroupItem{item},
			Operations: []models.Operation{op},
		},
		CreatedOperations: []models.Operation{op},
		CreatedLots:       []models.EntryLot{lot},
		CreatedItems:      []models.OperationGroupItem{item},
		Primary:           op,
	}
	return change, verifyConservation(change.Book)
}

// Enter adds an entry lot to an open position. The original operation is
// re-expressed with the cumulative quantity and value of every entry.
func (e *ExitConsolidationEngine) Enter(book models.PositionBook, f Fill) (PositionChange, error) {
	if err := checkFill(f); err != nil {
		return PositionChange{}, err
	}
	if f.Side != models.SideBuy {
		return PositionChange{}, apperrors.New(apperrors.Integration, f.AssetCode, "entries into a position must be BUY")
	}
	if !book.Position.IsOpen() {
		return PositionChange{}, apperrors.Newf(apperrors.Integration, f.AssetCode, "position %s is %s", book.Position.ID, book.Position.Status)
	}
	original, ok := book.Operation(book.Group.OriginalOperationID)
	if !ok {
		return PositionChange{}, apperrors.Newf(apperrors.System, f.AssetCode, "original operation %s missing from book", book.Group.OriginalOperationID)
	}
	now := e.now()

	lot := models.EntryLot{
		ID:                e.newID(),
		PositionID:        book.Position.ID,
		EntryDate:         utils.DateOnly(f.Date),
		OriginalQuantity:  f.Quantity,
		RemainingQuantity: f.Quantity,
		UnitPrice:         f.UnitPrice,
		Sequence:          nextLotSequence(book.Lots),
	}
	lots := append(cloneLots(book.Lots), lot)

	position := book.Position
	position.TotalQuantity += f.Quantity
	position.RemainingQuantity += f.Quantity
	position.AveragePrice = averagePrice(lots, position.AveragePrice)

	group := book.Group
	group.TotalQuantity += f.Quantity
	group.RemainingQuantity += f.Quantity

	original.Quantity += f.Quantity
	original.TotalValue = original.TotalValue.Add(f.TotalValue)
	original.UnitPrice = utils.UnitPrice(original.TotalValue, original.Quantity)
	original.EntryUnitPrice = original.UnitPrice
	original.UpdatedAt = now

	change := PositionChange{
		Book: models.PositionBook{
			Position:   position,
			Group:      group,
			Lots:       lots,
			Items:      book.Items,
			Operations: replaceOperation(book.Operations, original),
		},
		UpdatedOperations: []models.Operation{original},
		CreatedLots:       []models.EntryLot{lot},
		Primary:           original,
	}
	return change, verifyConservation(change.Book)
}

// Exit consumes open lots FIFO for a SELL fill. A partial exit books one
// PARTIAL_EXIT operation carrying the slice result. The final exit books one
// ROUND_TRIP operation whose result is every exit's proceeds minus the
// original investment, and hides the earlier partial exits.
func (e *ExitConsolidationEngine) Exit(book models.PositionBook, f Fill) (PositionChange, error) {
	if err := checkFill(f); err != nil {
		return PositionChange{}, err
	}
	if f.Side != models.SideSell {
		return PositionChange{}, apperrors.New(apperrors.Integration, f.AssetCode, "exits must be SELL")
	}
	if !book.Position.IsOpen() {
		return PositionChange{}, apperrors.Newf(apperrors.Integration, f.AssetCode, "position %s is %s", book.Position.ID, book.Position.Status)
	}
	open := book.OpenQuantity()
	if f.Quantity > open {
		return PositionChange{}, apperrors.Newf(apperrors.Integration, f.AssetCode, "exit quantity %d exceeds open quantity %d", f.Quantity, open)
	}
	original, ok := book.Operation(book.Group.OriginalOperationID)
	if !ok {
		return PositionChange{}, apperrors.Newf(apperrors.System, f.AssetCode, "original operation %s missing from book", book.Group.OriginalOperationID)
	}

	now := e.now()
	exitDate := utils.DateOnly(f.Date)
	exitOpID := e.newID()

	lots := cloneLots(book.Lots)
	sortFIFO(lots)

	var records []models.ExitRecord
	var updatedLots []models.EntryLot
	var firstEntry time.Time
	sliceCost := decimal.Zero
	sliceResult := decimal.Zero
	toConsume := f.Quantity
	for i := range lots {
		if toConsume == 0 {
			break
		}
		lot := lots[i]
		if lot.RemainingQuantity == 0 {
			continue
		}
		qty := utils.MinInt(toConsume, lot.RemainingQuantity)
		qtyDec := decimal.NewFromInt(int64(qty))
		cost := lot.UnitPrice.Mul(qtyDec)
		pl := f.UnitPrice.Sub(lot.UnitPrice).Mul(qtyDec)

		records = append(records, models.ExitRecord{
			ID:              e.newID(),
			PositionID:      book.Position.ID,
			LotID:           lot.ID,
			ExitOperationID: exitOpID,
			Quantity:        qty,
			EntryUnitPrice:  lot.UnitPrice,
			ExitUnitPrice:   f.UnitPrice,
			ProfitLoss:      pl,
			ProfitLossPct:   utils.Percent(pl, cost),
			Strategy:        models.ExitStrategyFIFO,
			ExitDate:        exitDate,
			CreatedAt:       now,
		})
		if firstEntry.IsZero() {
			firstEntry = lot.EntryDate
		}
		lots[i] = lot.WithConsumed(qty)
		updatedLots = append(updatedLots, lots[i])
		sliceCost = sliceCost.Add(cost)
		sliceResult = sliceResult.Add(pl)
		toConsume -= qty
	}

	position := book.Position
	position.RemainingQuantity -= f.Quantity
	position.AveragePrice = averagePrice(lots, position.AveragePrice)

	group := book.Group
	group.ClosedQuantity += f.Quantity
	group.RemainingQuantity -= f.Quantity

	change := PositionChange{
		UpdatedLots: updatedLots,
		ExitRecords: records,
	}
	operations := cloneOperations(book.Operations)
	items := append([]models.OperationGroupItem(nil), book.Items...)
	itemSeq := nextItemSequence(book.Items)

	if position.RemainingQuantity > 0 {
		exitOp := models.Operation{
			ID:             exitOpID,
			UserID:         f.UserID,
			AssetID:        position.AssetID,
			AssetCode:      position.AssetCode,
			PositionID:     position.ID,
			GroupID:        group.ID,
			Kind:           models.OperationKindExit,
			Side:           models.SideSell,
			TradeType:      f.TradeType,
			EntryDate:      firstEntry,
			ExitDate:       &exitDate,
			Quantity:       f.Quantity,
			UnitPrice:      f.UnitPrice,
			EntryUnitPrice: utils.UnitPrice(sliceCost, f.Quantity),
			TotalValue:     f.TotalValue,
			ProfitLoss:     sliceResult,
			ProfitLossPct:  utils.Percent(sliceResult, sliceCost),
			Status:         models.StatusForResult(sliceResult),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		item := models.OperationGroupItem{
			ID: e.newID(), GroupID: group.ID, OperationID: exitOpID,
			Role: models.GroupRolePartialExit, Sequence: itemSeq, CreatedAt: now,
		}

		position.Status = models.PositionStatusPartial
		position.RealizedProfitLoss = position.RealizedProfitLoss.Add(sliceResult)
		position.RealizedProfitLossPct = utils.Percent(position.RealizedProfitLoss, consumedCost(lots))
		group.TotalProfit = group.TotalProfit.Add(sliceResult)
		group.Status = models.GroupStatusPartiallyClosed

		operations = append(operations, exitOp)
		items = append(items, item)
		change.CreatedOperations = []models.Operation{exitOp}
		change.CreatedItems = []models.OperationGroupItem{item}
		change.Primary = exitOp
	} else {
		proceeds := f.TotalValue
		for i, op := range operations {
			if op.ID == original.ID {
				continue
			}
			if role, _ := book.RoleOf(op.ID); role == models.GroupRolePartialExit {
				proceeds = proceeds.Add(op.TotalValue)
			}
			if op.Status != models.OperationStatusHidden {
				operations[i] = op.WithStatus(models.OperationStatusHidden, now)
				change.UpdatedOperations = append(change.UpdatedOperations, operations[i])
			}
		}

		investment := original.TotalValue
		result := proceeds.Sub(investment)
		pct := utils.Percent(result, investment)
		exitedQty := group.ClosedQuantity

		terminal := models.Operation{
			ID:             exitOpID,
			UserID:         f.UserID,
			AssetID:        position.AssetID,
			AssetCode:      position.AssetCode,
			PositionID:     position.ID,
			GroupID:        group.ID,
			Kind:           models.OperationKindRoundTrip,
			Side:           original.Side,
			TradeType:      f.TradeType,
			EntryDate:      original.EntryDate,
			ExitDate:       &exitDate,
			Quantity:       exitedQty,
			UnitPrice:      utils.UnitPrice(proceeds, exitedQty),
			EntryUnitPrice: original.UnitPrice,
			TotalValue:     proceeds,
			ProfitLoss:     result,
			ProfitLossPct:  pct,
			Status:         models.StatusForResult(result),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		item := models.OperationGroupItem{
			ID: e.newID(), GroupID: group.ID, OperationID: exitOpID,
			Role: models.GroupRoleConsolidatedResult, Sequence: itemSeq, CreatedAt: now,
		}

		position.Status = models.PositionStatusClosed
		position.ClosedAt = &now
		position.RealizedProfitLoss = result
		position.RealizedProfitLossPct = pct
		group.TotalProfit = result
		group.Status = models.GroupStatusClosed

		operations = append(operations, terminal)
		items = append(items, item)
		change.CreatedOperations = []models.Operation{terminal}
		change.CreatedItems = []models.OperationGroupItem{item}
		change.Primary = terminal
		change.Final = true
	}

	change.Book = models.PositionBook{
		Position:   position,
		Group:      group,
		Lots:       lots,
		Items:      items,
		Operations: operations,
	}
	return change, verifyConservation(change.Book)
}

// verifyConservation checks that the lots account for exactly the open quantity.
func verifyConservation(book models.PositionBook) error {
	sum := 0
	for _, l := range book.Lots {
		if l.RemainingQuantity < 0 || l.RemainingQuantity > l.OriginalQuantity {
			return apperrors.Newf(apperrors.System, book.Position.AssetCode, "lot %s remaining %d outside [0, %d]", l.ID, l.RemainingQuantity, l.OriginalQuantity)
		}
		if l.FullyConsumed != (l.RemainingQuantity == 0) {
			return apperrors.Newf(apperrors.System, book.Position.AssetCode, "lot %s consumed flag out of sync", l.ID)
		}
		sum += l.RemainingQuantity
	}
	if sum != book.Position.RemainingQuantity {
		return apperrors.Newf(apperrors.System, book.Position.AssetCode, "lot conservation broken: lots hold %d, position %d", sum, book.Position.RemainingQuantity)
	}
	if book.Group.ID != "" && book.Group.RemainingQuantity != book.Position.RemainingQuantity {
		return apperrors.Newf(apperrors.System, book.Position.AssetCode, "group remaining %d differs from position remaining %d", book.Group.RemainingQuantity, book.Position.RemainingQuantity)
	}
	return nil
}

// averagePrice is the quantity-weighted price of the remaining lots. A fully
// consumed book keeps the previous average.
func averagePrice(lots []models.EntryLot, previous decimal.Decimal) decimal.Decimal {
	qty := 0
	value := decimal.Zero
	for _, l := range lots {
		if l.RemainingQuantity == 0 {
			continue
		}
		qty += l.RemainingQuantity
		value = value.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.RemainingQuantity))))
	}
	if qty == 0 {
		return previous
	}
	return utils.UnitPrice(value, qty)
}

// consumedCost is the entry value of every unit already exited.
func consumedCost(lots []models.EntryLot) decimal.Decimal {
	cost := decimal.Zero
	for _, l := range lots {
		consumed := l.OriginalQuantity - l.RemainingQuantity
		if consumed > 0 {
			cost = cost.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(consumed))))
		}
	}
	return cost
}

func sortFIFO(lots []models.EntryLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].EntryDate.Equal(lots[j].EntryDate) {
			return lots[i].EntryDate.Before(lots[j].EntryDate)
		}
		return lots[i].Sequence < lots[j].Sequence
	})
}

func nextLotSequence(lots []models.EntryLot) int {
	seq := 0
	for _, l := range lots {
		if l.Sequence > seq {
			seq = l.Sequence
		}
	}
	return seq + 1
}

func nextItemSequence(items []models.OperationGroupItem) int {
	seq := 0
	for _, it := range items {
		if it.Sequence > seq {
			seq = it.Sequence
		}
	}
	return seq + 1
}

func cloneLots(lots []models.EntryLot) []models.EntryLot {
	return append([]models.EntryLot(nil), lots...)
}

func cloneOperations(ops []models.Operation) []models.Operation {
	return append([]models.Operation(nil), ops...)
}

func replaceOperation(ops []models.Operation, op models.Operation) []models.Operation {
	out := cloneOperations(ops)
	for i := range out {
		if out[i].ID == op.ID {
			out[i] = op
		}
	}
	return out
}
