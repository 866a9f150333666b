package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/config"
	"github.com/username/opsledger/src/database"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/processors"
	"github.com/username/opsledger/src/repository"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db        *sql.DB
	sessions  *CacheSessionStore
	portfolio PortfolioService
	invoices  InvoiceService
	rules     config.Rules
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:", 1)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return &testEnv{
		db:        db,
		sessions:  NewCacheSessionStore(time.Minute, time.Minute),
		portfolio: NewPortfolioService(db, cache.New(time.Minute, time.Minute)),
		invoices:  NewInvoiceService(db),
		rules:     config.DefaultRules(),
	}
}

func (e *testEnv) service(opts ...ProcessingOption) ProcessingService {
	opts = append([]ProcessingOption{WithProcessingClock(func() time.Time { return testNow })}, opts...)
	return NewProcessingService(e.db, e.rules, e.sessions, e.portfolio, opts...)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lineReq(asset, side string, qty int, price, total string) LineItemRequest {
	return LineItemRequest{AssetCode: asset, Side: side, Quantity: qty, UnitPrice: dec(price), TotalValue: dec(total)}
}

func (e *testEnv) invoice(t *testing.T, userID int64, number, tradingDate string, items ...LineItemRequest) string {
	t.Helper()
	bundle, err := e.invoices.CreateInvoice(context.Background(), userID, CreateInvoiceRequest{
		InvoiceNumber: number, TradingDate: tradingDate, Broker: "XP", Items: items,
	})
	require.NoError(t, err)
	return bundle.Invoice.ID
}

func (e *testEnv) invoiceStatus(t *testing.T, id string) models.InvoiceStatus {
	t.Helper()
	inv, err := repository.NewStore(e.db).Invoices.FindByID(context.Background(), id)
	require.NoError(t, err)
	return inv.Status
}

func TestProcessBatchRoundTripAcrossInvoices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buy := env.invoice(t, 7, "NF-1", "2024-03-01", lineReq("xyz11", "buy", 300, "1.03", "309"))
	sell1 := env.invoice(t, 7, "NF-2", "2024-03-05", lineReq("XYZ11", "SELL", 75, "1.73", "129.75"))
	sell2 := env.invoice(t, 7, "NF-3", "2024-03-08", lineReq("XYZ11", "SELL", 225, "0.46", "103.5"))

	var checkpoints []int
	result, err := env.service().ProcessBatch(ctx, []string{buy, sell1, sell2}, 7, func(p int, _ string) {
		checkpoints = append(checkpoints, p)
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, []int{10, 20, 40, 60, 80, 100}, checkpoints)
	assert.Equal(t, 3, result.Stats.ValidatedInvoices)
	assert.Equal(t, 3, result.Stats.EligibleOperations)
	assert.Equal(t, 3, result.Stats.CreatedOperations)
	assert.Equal(t, 100.0, result.SuccessRate)
	assert.Empty(t, result.Failures)

	positions, err := env.portfolio.ListPositions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	position := positions[0]
	assert.Equal(t, models.PositionStatusClosed, position.Status)
	assert.Equal(t, 0, position.RemainingQuantity)
	assert.Equal(t, "-75.75", position.RealizedProfitLoss.String())

	visible, err := env.portfolio.ListOperations(ctx, 7, false)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	terminal := visible[1]
	assert.Equal(t, models.OperationKindRoundTrip, terminal.Kind)
	assert.Equal(t, 300, terminal.Quantity)
	assert.Equal(t, "-75.75", terminal.ProfitLoss.String())
	assert.Equal(t, "-24.5146", terminal.ProfitLossPct.String())
	assert.Equal(t, "-24.51", terminal.DisplayProfitLossPct().String())
	assert.Equal(t, models.OperationStatusLoser, terminal.Status)

	detail, err := env.portfolio.GetPosition(ctx, 7, position.ID)
	require.NoError(t, err)
	assert.Len(t, detail.ExitRecords, 2)
	assert.Len(t, detail.Items, 3)

	for _, id := range []string{buy, sell1, sell2} {
		assert.Equal(t, models.InvoiceStatusProcessed, env.invoiceStatus(t, id))
	}

	session, err := env.sessions.Get(result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateCompleted, session.State)
	assert.Equal(t, 100, session.Progress)

	_, err = env.portfolio.GetPosition(ctx, 8, position.ID)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestProcessBatchTwiceCreatesNothingNew(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.invoice(t, 7, "NF-1", "2024-03-01", lineReq("XYZ11", "BUY", 100, "10", "1000"))
	svc := env.service()

	first, err := svc.ProcessBatch(ctx, []string{id}, 7, nil)
	require.NoError(t, err)
	require.True(t, first.Success)

	// Reprocessing a processed invoice is refused at the invoice level.
	second, err := svc.ProcessBatch(ctx, []string{id}, 7, nil)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, 1, second.Stats.InvalidInvoices)

	// The same trade delivered on a second invoice is a duplicate item.
	again := env.invoice(t, 7, "NF-1-COPY", "2024-03-01", lineReq("XYZ11", "BUY", 100, "10", "1000"))
	third, err := svc.ProcessBatch(ctx, []string{again}, 7, nil)
	require.NoError(t, err)
	assert.False(t, third.Success)
	assert.Equal(t, 1, third.Stats.DuplicateItems)
	assert.Equal(t, 0, third.Stats.CreatedOperations)
	require.Len(t, third.Failures, 1)
	assert.Equal(t, string(apperrors.Duplicate), third.Failures[0].Category)
	assert.Equal(t, models.InvoiceStatusPending, env.invoiceStatus(t, again))

	ops, err := env.portfolio.ListOperations(ctx, 7, true)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestProcessBatchKeepsOtherOperationsWhenOneFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.invoice(t, 7, "NF-1", "2024-03-01",
		lineReq("AAA3", "BUY", 10, "5", "50"),
		lineReq("BBB3", "SELL", 10, "5", "50"),
	)

	result, err := env.service().ProcessBatch(ctx, []string{id}, 7, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.Stats.CreatedOperations)
	assert.Equal(t, 1, result.Stats.FailedOperations)
	assert.Equal(t, 50.0, result.SuccessRate)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, string(apperrors.Integration), result.Failures[0].Category)
	assert.Equal(t, models.InvoiceStatusProcessed, env.invoiceStatus(t, id))

	positions, err := env.portfolio.ListPositions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAA3", positions[0].AssetCode)
}

type failingIntegrator struct {
	next     Integrator
	failOn   string
	err      error
	failures int
	calls    int
}

func (f *failingIntegrator) Integrate(ctx context.Context, store *repository.Store, op models.ConsolidatedOperation) (IntegrationOutcome, error) {
	f.calls++
	if op.AssetCode == f.failOn && f.failures > 0 {
		f.failures--
		return IntegrationOutcome{}, f.err
	}
	return f.next.Integrate(ctx, store, op)
}

func TestProcessBatchRollsBackOnSystemError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.invoice(t, 7, "NF-1", "2024-03-01",
		lineReq("AAA3", "BUY", 10, "5", "50"),
		lineReq("ZZZ3", "BUY", 10, "5", "50"),
	)
	integrator := &failingIntegrator{
		next:     NewIntegrationProcessor(processors.NewExitConsolidationEngine()),
		failOn:   "ZZZ3",
		failures: 1,
		err:      apperrors.New(apperrors.System, "ZZZ3", "lot conservation broken"),
	}

	result, err := env.service(WithIntegrator(integrator)).ProcessBatch(ctx, []string{id}, 7, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.System, apperrors.Classify(err))
	assert.False(t, result.Success)

	positions, err := env.portfolio.ListPositions(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Equal(t, models.InvoiceStatusPending, env.invoiceStatus(t, id))

	session, err := env.sessions.Get(result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateFailed, session.State)
}

func TestProcessBatchWithRetryRecoversFromDatabaseErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.invoice(t, 7, "NF-1", "2024-03-01", lineReq("AAA3", "BUY", 10, "5", "50"))
	integrator := &failingIntegrator{
		next:     NewIntegrationProcessor(processors.NewExitConsolidationEngine()),
		failOn:   "AAA3",
		failures: 1,
		err:      apperrors.Wrap(apperrors.Database, "", errors.New("database is locked"), "save position failed"),
	}
	var delays []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	result, err := env.service(WithIntegrator(integrator), WithRetrySleep(sleep)).
		ProcessBatchWithRetry(ctx, []string{id}, 7, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, delays)
	assert.Equal(t, models.InvoiceStatusProcessed, env.invoiceStatus(t, id))
}

func TestProcessBatchWithRetryDoesNotRetryValidation(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(WithRetrySleep(func(context.Context, time.Duration) error {
		t.Fatal("validation failures must not be retried")
		return nil
	}))
	result, err := svc.ProcessBatchWithRetry(context.Background(), nil, 7, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.Validation, apperrors.Classify(err))
	assert.Equal(t, 1, result.Attempts)
}

func TestRetryDelay(t *testing.T) {
	rules := config.RetryRules{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, RetryDelay(rules, 1))
	assert.Equal(t, 2*time.Second, RetryDelay(rules, 2))
	assert.Equal(t, 3*time.Second, RetryDelay(rules, 5))
}

func TestProcessBatchEarlyStops(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service()

	result, err := svc.ProcessBatch(ctx, []string{"missing"}, 7, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Stats.InvalidInvoices)

	other := env.invoice(t, 8, "NF-8", "2024-03-01", lineReq("AAA3", "BUY", 10, "5", "50"))
	result, err = svc.ProcessBatch(ctx, []string{other}, 7, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "invoice does not belong to the user", result.Failures[0].Message)

	bad := env.invoice(t, 7, "NF-BAD", "2024-03-01", lineReq("AAA3", "BUY", 10, "5", "999"))
	result, err = svc.ProcessBatch(ctx, []string{bad}, 7, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Stats.RejectedItems)
	assert.Equal(t, models.InvoiceStatusPending, env.invoiceStatus(t, bad))
}

func TestProcessBatchStopsBeforeIntegrationWhenCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.invoice(t, 7, "NF-1", "2024-03-01", lineReq("AAA3", "BUY", 10, "5", "50"))

	var sessionID string
	progress := func(p int, _ string) {
		if p == 40 {
			sessionID = env.sessions.ListForUser(7)[0].ID
			require.NoError(t, env.sessions.Cancel(sessionID))
		}
	}
	result, err := env.service().ProcessBatch(ctx, []string{id}, 7, progress)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "processing cancelled", result.Message)
	assert.Equal(t, 0, result.Stats.CreatedOperations)
	assert.Equal(t, models.InvoiceStatusPending, env.invoiceStatus(t, id))

	session, err := env.sessions.Get(result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateCancelled, session.State)
}

func TestProcessBatchCancelledEarlyStillValidatesAndDetects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.invoice(t, 7, "NF-1", "2024-03-01", lineReq("AAA3", "BUY", 10, "5", "50"))

	var checkpoints []int
	progress := func(p int, _ string) {
		checkpoints = append(checkpoints, p)
		if p == 10 {
			require.NoError(t, env.sessions.Cancel(env.sessions.ListForUser(7)[0].ID))
		}
	}
	result, err := env.service().ProcessBatch(ctx, []string{id}, 7, progress)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "processing cancelled", result.Message)
	assert.Equal(t, []int{10, 20, 40, 60}, checkpoints)
	assert.Equal(t, 1, result.Stats.ValidItems)
	assert.Equal(t, 1, result.Stats.DetectedOperations)
	assert.Equal(t, 1, result.Stats.EligibleOperations)
	assert.Equal(t, 0, result.Stats.CreatedOperations)
	assert.Equal(t, models.InvoiceStatusPending, env.invoiceStatus(t, id))

	positions, err := env.portfolio.ListPositions(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, positions)

	session, err := env.sessions.Get(result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateCancelled, session.State)
}

func TestProcessBatchEndsCancelledWhenContextIsCancelled(t *testing.T) {
	env := newTestEnv(t)
	id := env.invoice(t, 7, "NF-1", "2024-03-01", lineReq("AAA3", "BUY", 10, "5", "50"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := env.service(WithRetrySleep(func(context.Context, time.Duration) error {
		t.Fatal("cancelled batches must not be retried")
		return nil
	}))
	result, err := svc.ProcessBatchWithRetry(ctx, []string{id}, 7, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, apperrors.Cancelled, apperrors.Classify(err))
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "processing cancelled", result.Message)
	assert.Equal(t, models.InvoiceStatusPending, env.invoiceStatus(t, id))

	session, err := env.sessions.Get(result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateCancelled, session.State)
}

func TestProcessBatchRejectsResentClosingSell(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service()
	process := func(id string) *models.BatchResult {
		t.Helper()
		result, err := svc.ProcessBatch(ctx, []string{id}, 7, nil)
		require.NoError(t, err)
		return result
	}

	require.True(t, process(env.invoice(t, 7, "NF-1", "2024-03-01", lineReq("AAA3", "BUY", 100, "10", "1000"))).Success)
	require.True(t, process(env.invoice(t, 7, "NF-2", "2024-03-02", lineReq("AAA3", "SELL", 100, "12", "1200"))).Success)
	require.True(t, process(env.invoice(t, 7, "NF-3", "2024-03-04", lineReq("AAA3", "BUY", 100, "11", "1100"))).Success)

	copied := env.invoice(t, 7, "NF-2-COPY", "2024-03-02", lineReq("AAA3", "SELL", 100, "12", "1200"))
	result := process(copied)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Stats.DuplicateItems)
	assert.Equal(t, 0, result.Stats.CreatedOperations)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, string(apperrors.Duplicate), result.Failures[0].Category)

	positions, err := env.portfolio.ListPositions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	var open []models.Position
	for _, p := range positions {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	require.Len(t, open, 1)
	assert.Equal(t, 100, open[0].RemainingQuantity)
	assert.True(t, open[0].RealizedProfitLoss.IsZero())
}

func TestProcessBatchRejectsResentAdditionalEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service()

	for _, id := range []string{
		env.invoice(t, 7, "NF-1", "2024-03-01", lineReq("AAA3", "BUY", 100, "10", "1000")),
		env.invoice(t, 7, "NF-2", "2024-03-02", lineReq("AAA3", "BUY", 100, "11", "1100")),
	} {
		result, err := svc.ProcessBatch(ctx, []string{id}, 7, nil)
		require.NoError(t, err)
		require.True(t, result.Success, result.Message)
	}

	copied := env.invoice(t, 7, "NF-2-COPY", "2024-03-02", lineReq("AAA3", "BUY", 100, "11", "1100"))
	result, err := svc.ProcessBatch(ctx, []string{copied}, 7, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Stats.DuplicateItems)
	assert.Equal(t, 0, result.Stats.CreatedOperations)

	positions, err := env.portfolio.ListPositions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 200, positions[0].RemainingQuantity)

	detail, err := env.portfolio.GetPosition(ctx, 7, positions[0].ID)
	require.NoError(t, err)
	assert.Len(t, detail.Lots, 2)
}

func TestProcessBatchRefusesConcurrentSessionsOfOneUser(t *testing.T) {
	env := newTestEnv(t)
	running := env.sessions.Create(7, []string{"x"})

	result, err := env.service().ProcessBatch(context.Background(), []string{"y"}, 7, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.Validation, apperrors.Classify(err))
	assert.False(t, result.Success)

	require.NoError(t, env.sessions.Finish(running.ID, models.SessionStateCompleted, "done"))
	result, err = env.service().ProcessBatch(context.Background(), []string{"y"}, 7, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
}

func TestDayTradeMappings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.invoice(t, 7, "NF-1", "2024-03-01",
		lineReq("AAA3", "BUY", 10, "5", "50"),
		lineReq("AAA3", "SELL", 10, "6", "60"),
	)

	result, err := env.service().ProcessBatch(ctx, []string{id}, 7, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Operations, 2)
	assert.Equal(t, models.TradeTypeDay, result.Operations[1].TradeType)
	assert.Equal(t, "10", result.Operations[1].ProfitLoss.String())

	store := repository.NewStore(env.db)
	entry, err := store.Mappings.ListByOperation(ctx, result.Operations[0].ID)
	require.NoError(t, err)
	require.Len(t, entry, 1)
	assert.Equal(t, models.MappingDayTradeEntry, entry[0].MappingType)
	assert.Equal(t, 1, entry[0].Sequence)

	exit, err := store.Mappings.ListByOperation(ctx, result.Operations[1].ID)
	require.NoError(t, err)
	require.Len(t, exit, 1)
	assert.Equal(t, models.MappingDayTradeExit, exit[0].MappingType)
	assert.Equal(t, 2, exit[0].Sequence)
}
