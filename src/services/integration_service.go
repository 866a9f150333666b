package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/processors"
	"github.com/username/opsledger/src/repository"
)

// IntegrationOutcome is what one consolidated operation did to the books.
type IntegrationOutcome struct {
	Change   processors.PositionChange
	Mappings []models.SourceMapping
}

// IntegrationProcessor applies eligible consolidated operations to positions
// and records where every line item went.
type IntegrationProcessor struct {
	engine *processors.ExitConsolidationEngine
	newID  func() string
	now    func() time.Time
}

func NewIntegrationProcessor(engine *processors.ExitConsolidationEngine) *IntegrationProcessor {
	return &IntegrationProcessor{engine: engine, newID: uuid.NewString, now: time.Now}
}

// WithClock returns a processor using the given id generator and clock.
func (p *IntegrationProcessor) WithClock(newID func() string, now func() time.Time) *IntegrationProcessor {
	return &IntegrationProcessor{engine: p.engine.WithClock(newID, now), newID: newID, now: now}
}

// Integrate writes op through store. Callers wrap it in a savepoint so a
// failure leaves no partial writes behind.
func (p *IntegrationProcessor) Integrate(ctx context.Context, store *repository.Store, op models.ConsolidatedOperation) (IntegrationOutcome, error) {
	var outcome IntegrationOutcome
	subject := op.Key.String()
	log := logger.FromContext(ctx)

	asset, err := store.Assets.FindOrCreate(ctx, op.AssetCode, p.now())
	if err != nil {
		return outcome, err
	}

	fill := processors.Fill{
		UserID:     op.UserID,
		AssetID:    asset.ID,
		AssetCode:  asset.Code,
		Side:       op.Side,
		TradeType:  op.TradeType,
		Date:       op.TradeDate,
		Quantity:   op.Quantity,
		UnitPrice:  op.UnitPrice,
		TotalValue: op.TotalValue,
	}

	var change processors.PositionChange
	position, err := store.Positions.FindOpen(ctx, op.UserID, asset.Code)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if op.Side == models.SideSell {
			return outcome, apperrors.Newf(apperrors.Integration, subject,
				"no open position in %s to sell from; short flows are not supported", asset.Code)
		}
		change, err = p.engine.Open(fill)
	case err != nil:
		return outcome, err
	default:
		book, loadErr := store.LoadBook(ctx, position.ID)
		if loadErr != nil {
			return outcome, loadErr
		}
		if op.Side == models.SideBuy {
			change, err = p.engine.Enter(book, fill)
		} else {
			change, err = p.engine.Exit(book, fill)
		}
	}
	if err != nil {
		return outcome, err
	}

	if err := persistChange(ctx, store, change); err != nil {
		return outcome, err
	}

	mappings, err := p.mapSources(ctx, store, op, change.Primary)
	if err != nil {
		return outcome, err
	}

	log.Info("Integrated consolidated operation",
		"key", subject, "operationID", change.Primary.ID, "positionID", change.Book.Position.ID,
		"positionStatus", change.Book.Position.Status, "final", change.Final)
	outcome.Change = change
	outcome.Mappings = mappings
	return outcome, nil
}

// persistChange writes a PositionChange parents first.
func persistChange(ctx context.Context, store *repository.Store, change processors.PositionChange) error {
	if err := store.Positions.Save(ctx, change.Book.Position); err != nil {
		return err
	}
	for _, op := range change.CreatedOperations {
		if err := store.Operations.Save(ctx, op); err != nil {
			return err
		}
	}
	for _, op := range change.UpdatedOperations {
		if err := store.Operations.Save(ctx, op); err != nil {
			return err
		}
	}
	if err := store.Groups.Save(ctx, change.Book.Group); err != nil {
		return err
	}
	for _, it := range change.CreatedItems {
		if err := store.Groups.SaveItem(ctx, it); err != nil {
			return err
		}
	}
	for _, lot := range change.CreatedLots {
		if err := store.Lots.Save(ctx, lot); err != nil {
			return err
		}
	}
	for _, lot := range change.UpdatedLots {
		if err := store.Lots.Save(ctx, lot); err != nil {
			return err
		}
	}
	for _, rec := range change.ExitRecords {
		if err := store.ExitRecords.Create(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// mapSources links every contributing line item to the operation it affected.
// Sequences increase per invoice across batches.
func (p *IntegrationProcessor) mapSources(ctx context.Context, store *repository.Store, op models.ConsolidatedOperation, target models.Operation) ([]models.SourceMapping, error) {
	mappingType := mappingTypeFor(op.TradeType, op.Side)
	now := p.now()
	var mappings []models.SourceMapping
	for _, li := range op.LineItems() {
		seq, err := store.Mappings.MaxSequence(ctx, li.InvoiceID)
		if err != nil {
			return nil, err
		}
		m := models.SourceMapping{
			ID:          p.newID(),
			LineItemID:  li.ID,
			InvoiceID:   li.InvoiceID,
			OperationID: target.ID,
			MappingType: mappingType,
			Sequence:    seq + 1,
			CreatedAt:   now,
		}
		if err := store.Mappings.Create(ctx, m); err != nil {
			return nil, fmt.Errorf("map line item %s: %w", li.ID, err)
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func mappingTypeFor(tradeType models.TradeType, side models.Side) models.MappingType {
	switch {
	case tradeType == models.TradeTypeDay && side == models.SideBuy:
		return models.MappingDayTradeEntry
	case tradeType == models.TradeTypeDay:
		return models.MappingDayTradeExit
	case side == models.SideBuy:
		return models.MappingNewOperation
	default:
		return models.MappingExistingOperationExit
	}
}
