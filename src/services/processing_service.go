package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/config"
	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/processors"
	"github.com/username/opsledger/src/repository"
	"github.com/username/opsledger/src/tracing"
	"github.com/username/opsledger/src/utils"
	"github.com/username/opsledger/src/validation"
	"go.opentelemetry.io/otel/attribute"
)

// Progress checkpoints of a batch.
const (
	progressValidated    = 10
	progressFetched      = 20
	progressDetected     = 40
	progressConsolidated = 60
	progressIntegrated   = 80
	progressFinished     = 100
)

// Integrator applies one consolidated operation through a store.
type Integrator interface {
	Integrate(ctx context.Context, store *repository.Store, op models.ConsolidatedOperation) (IntegrationOutcome, error)
}

type processingServiceImpl struct {
	db           *sql.DB
	rules        config.Rules
	sessions     SessionStore
	portfolio    PortfolioService
	detector     processors.OperationDetector
	classifier   processors.OperationClassifier
	consolidator processors.OperationConsolidator
	integrator   Integrator
	limits       *validation.BatchLimitValidator
	fields       *validation.FieldValidator
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	admission sync.Mutex
}

type ProcessingOption func(*processingServiceImpl)

// WithIntegrator replaces the integration step.
func WithIntegrator(integrator Integrator) ProcessingOption {
	return func(s *processingServiceImpl) { s.integrator = integrator }
}

// WithDetector replaces the pattern detector.
func WithDetector(detector processors.OperationDetector) ProcessingOption {
	return func(s *processingServiceImpl) { s.detector = detector }
}

// WithProcessingClock sets the clock used for validation and timestamps.
func WithProcessingClock(now func() time.Time) ProcessingOption {
	return func(s *processingServiceImpl) { s.now = now }
}

// WithRetrySleep sets how ProcessBatchWithRetry waits between attempts.
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) ProcessingOption {
	return func(s *processingServiceImpl) { s.sleep = sleep }
}

func NewProcessingService(db *sql.DB, rules config.Rules, sessions SessionStore, portfolio PortfolioService, opts ...ProcessingOption) ProcessingService {
	s := &processingServiceImpl{
		db:           db,
		rules:        rules,
		sessions:     sessions,
		portfolio:    portfolio,
		detector:     processors.NewPatternDetector(),
		classifier:   processors.NewTypeClassifier(rules.Classifier.DayTradeMarkers, rules.Classifier.SameDaySignal),
		consolidator: processors.NewConsolidator(rules.Thresholds.Confirmed, rules.Thresholds.Ready),
		limits:       validation.NewBatchLimitValidator(rules.Limits),
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.integrator == nil {
		s.integrator = NewIntegrationProcessor(processors.NewExitConsolidationEngine())
	}
	s.fields = validation.NewFieldValidator(rules.Validation).WithClock(s.now)
	return s
}

func (s *processingServiceImpl) ProcessSingle(ctx context.Context, invoiceID string, userID int64) (*models.BatchResult, error) {
	return s.ProcessBatch(ctx, []string{invoiceID}, userID, nil)
}

// ProcessBatch runs every stage over the invoices inside one transaction. A
// non-nil error means the batch was rejected or aborted; data-driven early
// stops only set Success to false.
func (s *processingServiceImpl) ProcessBatch(ctx context.Context, invoiceIDs []string, userID int64, progress models.ProgressCallback) (*models.BatchResult, error) {
	result := &models.BatchResult{
		Stats:     models.StageStats{RequestedInvoices: len(invoiceIDs)},
		Attempts:  1,
		StartedAt: s.now(),
	}
	log := logger.FromContext(ctx)

	if err := s.limits.CheckRequest(len(invoiceIDs)); err != nil {
		return s.rejectRequest(result, err), err
	}
	session, err := s.admit(userID, invoiceIDs)
	if err != nil {
		return s.rejectRequest(result, err), err
	}
	result.SessionID = session.ID

	ctx, span := tracing.StartSpan(ctx, "ProcessBatch",
		attribute.Int64("user.id", userID),
		attribute.Int("batch.invoices", len(invoiceIDs)),
		attribute.String("session.id", session.ID))
	log = logger.FromContext(ctx)
	log.Info("ProcessBatch START", "userID", userID, "sessionID", session.ID, "invoices", len(invoiceIDs))

	run := &batchRun{
		svc:      s,
		ctx:      ctx,
		userID:   userID,
		ids:      invoiceIDs,
		session:  session,
		progress: progress,
		result:   result,
		report:   apperrors.NewReport(),
	}
	err = run.execute()
	if apperrors.Classify(err) == apperrors.Cancelled {
		run.cancelled = true
	}
	if err != nil {
		run.report.Add("", err)
		result.Success = false
		result.Message = apperrors.UserMessage(err)
	}
	run.complete()
	tracing.EndSpan(span, err)

	state := models.SessionStateFailed
	switch {
	case result.Success:
		state = models.SessionStateCompleted
	case run.cancelled:
		state = models.SessionStateCancelled
	}
	if finishErr := s.sessions.Finish(session.ID, state, result.Message); finishErr != nil {
		log.Warn("Could not finish processing session", "sessionID", session.ID, "error", finishErr)
	}

	log.Info("ProcessBatch END", "userID", userID, "sessionID", session.ID, "success", result.Success,
		"created", result.Stats.CreatedOperations, "failed", result.Stats.FailedOperations,
		"duration", result.FinishedAt.Sub(result.StartedAt))
	return result, err
}

// ProcessBatchWithRetry reruns the batch after DATABASE or NETWORK failures,
// waiting base delay x attempt between attempts.
func (s *processingServiceImpl) ProcessBatchWithRetry(ctx context.Context, invoiceIDs []string, userID int64, progress models.ProgressCallback) (*models.BatchResult, error) {
	maxAttempts := s.rules.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var result *models.BatchResult
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = s.ProcessBatch(ctx, invoiceIDs, userID, progress)
		result.Attempts = attempt
		if err == nil || !apperrors.Classify(err).Retryable() || attempt == maxAttempts {
			return result, err
		}
		delay := RetryDelay(s.rules.Retry, attempt)
		logger.FromContext(ctx).Warn("Batch failed with a retryable error, retrying",
			"userID", userID, "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return result, errors.Join(err, sleepErr)
		}
	}
	return result, err
}

// RetryDelay is base x attempt, capped at the configured maximum.
func RetryDelay(rules config.RetryRules, attempt int) time.Duration {
	delay := rules.BaseDelay * time.Duration(attempt)
	if rules.MaxDelay > 0 && delay > rules.MaxDelay {
		return rules.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// admit opens a session unless the user already runs too many.
func (s *processingServiceImpl) admit(userID int64, invoiceIDs []string) (models.ProcessingSession, error) {
	s.admission.Lock()
	defer s.admission.Unlock()
	if err := s.limits.CheckConcurrency(userID, s.sessions.ActiveForUser(userID)); err != nil {
		return models.ProcessingSession{}, err
	}
	return s.sessions.Create(userID, invoiceIDs), nil
}

func (s *processingServiceImpl) rejectRequest(result *models.BatchResult, err error) *models.BatchResult {
	report := apperrors.NewReport()
	report.Add("", err)
	result.Success = false
	result.Message = apperrors.UserMessage(err)
	result.Failures = report.Failures()
	result.Errors = report.Summary(result.Stats.RequestedInvoices)
	result.FinishedAt = s.now()
	return result
}

// batchRun is the state of one ProcessBatch invocation.
type batchRun struct {
	svc      *processingServiceImpl
	ctx      context.Context
	userID   int64
	ids      []string
	session  models.ProcessingSession
	progress models.ProgressCallback
	result   *models.BatchResult
	report   *apperrors.Report
	store    *repository.Store

	stopped   bool
	cancelled bool

	invoices   []models.Invoice
	fetched    int
	unique     []models.LineItem
	classified []models.ClassifiedOperation
	eligible   []models.ConsolidatedOperation
}

func (r *batchRun) execute() error {
	if err := r.checkCancelled(); err != nil {
		return err
	}
	tx, err := r.svc.db.BeginTx(r.ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.Database, "", err, "could not start the batch transaction")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.FromContext(r.ctx).Error("Failed to roll back batch transaction", "sessionID", r.session.ID, "error", rbErr)
		}
	}()
	r.store = repository.NewStore(tx)

	stages := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"validate", r.validateInvoices},
		{"fetch", r.fetchItems},
		{"detect", r.detectAndClassify},
		{"consolidate", r.consolidate},
		{"integrate", r.integrate},
		{"finalize", r.finalize},
	}
	for _, stage := range stages {
		if err := r.checkCancelled(); err != nil {
			return err
		}
		if r.cancelled && stage.name == "integrate" {
			r.stop("processing cancelled")
			return nil
		}
		if err := r.stage(stage.name, stage.run); err != nil {
			return err
		}
		if r.stopped {
			return nil
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.Database, "", err, "could not commit the batch")
	}
	committed = true
	r.result.Success = true
	if r.svc.portfolio != nil {
		r.svc.portfolio.InvalidateUserCache(r.userID)
	}
	r.checkpoint(progressFinished, "finalize", r.result.Message)
	return nil
}

func (r *batchRun) stage(name string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(r.ctx, "stage."+name, attribute.String("session.id", r.session.ID))
	err := fn(ctx)
	tracing.EndSpan(span, err)
	return err
}

// stop ends the batch early without an error.
func (r *batchRun) stop(message string) {
	r.stopped = true
	r.result.Success = false
	r.result.Message = message
	logger.FromContext(r.ctx).Info("Batch stopped early", "sessionID", r.session.ID, "stage", r.result.Stage, "reason", message)
}

// checkCancelled aborts when the caller's context is done and otherwise only
// records a cancel request on the session. A cancelled batch still validates,
// detects and consolidates, then stops before integration.
func (r *batchRun) checkCancelled() error {
	if err := r.ctx.Err(); err != nil {
		r.cancelled = true
		return apperrors.Wrap(apperrors.Classify(err), "", err, "processing cancelled")
	}
	if r.cancelled {
		return nil
	}
	session, err := r.svc.sessions.Get(r.session.ID)
	if err == nil && session.Cancelled {
		r.cancelled = true
		logger.FromContext(r.ctx).Info("Cancel requested, stopping before integration", "sessionID", r.session.ID)
	}
	return nil
}

func (r *batchRun) checkpoint(progress int, stage, message string) {
	r.session = r.session.WithProgress(progress, stage, message, r.svc.now())
	if err := r.svc.sessions.Update(r.session); err != nil {
		logger.FromContext(r.ctx).Warn("Could not update processing session", "sessionID", r.session.ID, "error", err)
	}
	r.result.Progress = progress
	r.result.Stage = stage
	if r.progress != nil {
		r.progress(progress, message)
	}
}

func (r *batchRun) warn(warnings ...string) {
	r.result.Warnings = append(r.result.Warnings, warnings...)
}

func (r *batchRun) reject(rejections []validation.Rejection) {
	for _, rej := range rejections {
		r.report.Add(rej.Subject, rej.Err)
	}
}

func (r *batchRun) validateInvoices(ctx context.Context) error {
	stats := &r.result.Stats
	seen := make(map[string]bool, len(r.ids))
	for _, id := range r.ids {
		if seen[id] {
			r.warn(fmt.Sprintf("invoice %s requested more than once", id))
			continue
		}
		seen[id] = true

		invoice, err := r.store.Invoices.FindByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			r.report.Add(id, apperrors.New(apperrors.Validation, id, "invoice not found"))
			stats.InvalidInvoices++
			continue
		}
		if err != nil {
			return err
		}
		if err := validation.CheckReprocessing(invoice, r.userID); err != nil {
			r.report.Add(id, err)
			stats.InvalidInvoices++
			continue
		}
		r.invoices = append(r.invoices, invoice)
	}
	stats.ValidatedInvoices = len(r.invoices)
	if len(r.invoices) == 0 {
		r.stop("none of the requested invoices can be processed")
		return nil
	}

	now := r.svc.now()
	for _, inv := range r.invoices {
		if err := r.store.Invoices.UpdateStatus(ctx, inv.ID, models.InvoiceStatusProcessing, now); err != nil {
			return err
		}
	}
	r.checkpoint(progressValidated, "validate", fmt.Sprintf("%d of %d invoices accepted", len(r.invoices), len(r.ids)))
	return nil
}

func (r *batchRun) fetchItems(ctx context.Context) error {
	stats := &r.result.Stats
	bundles := make([]models.InvoiceBundle, 0, len(r.invoices))
	var items []models.LineItem
	for _, inv := range r.invoices {
		invoiceItems, err := r.store.LineItems.ListByInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		bundles = append(bundles, models.InvoiceBundle{Invoice: inv, Items: invoiceItems})
		items = append(items, invoiceItems...)
	}
	r.fetched = len(items)
	if err := r.svc.limits.CheckBundles(bundles); err != nil {
		return err
	}

	fields := r.svc.fields.ValidateBatch(items)
	r.reject(fields.Rejected)
	r.warn(fields.Warnings...)
	stats.ValidItems = len(fields.Valid)
	stats.RejectedItems = len(fields.Rejected)

	duplicates, err := validation.NewDuplicateDetector(r.store.Mappings, r.store.Fills, r.svc.rules.Validation).
		Check(ctx, r.userID, fields.Valid)
	if err != nil {
		return err
	}
	r.reject(duplicates.Duplicates)
	r.warn(duplicates.Warnings...)
	stats.DuplicateItems = len(duplicates.Duplicates)
	r.unique = duplicates.Unique

	if len(r.unique) == 0 {
		r.stop("no new line items to process")
		return nil
	}
	r.checkpoint(progressFetched, "fetch", fmt.Sprintf("%d line items ready", len(r.unique)))
	return nil
}

func (r *batchRun) detectAndClassify(ctx context.Context) error {
	stats := &r.result.Stats
	detection := r.svc.detector.Detect(r.userID, r.unique)
	for _, miss := range detection.Misses {
		r.report.Add(miss.LineItemID, apperrors.New(apperrors.Detection, miss.LineItemID, miss.Reason))
	}
	stats.DetectedOperations = len(detection.Operations)
	if !detection.Success() {
		r.stop("no operations detected")
		return nil
	}

	r.classified = r.svc.classifier.Classify(detection.Operations)
	stats.ClassifiedOperations = len(r.classified)
	r.checkpoint(progressDetected, "detect", fmt.Sprintf("%d operations detected", len(r.classified)))
	return nil
}

func (r *batchRun) consolidate(ctx context.Context) error {
	stats := &r.result.Stats
	consolidated := r.svc.consolidator.Consolidate(r.userID, r.classified)
	for _, f := range consolidated.Failures {
		r.report.Add(f.Key.String(), f.Err)
	}
	stats.ConsolidatedOperations = len(consolidated.Operations)

	threshold := r.svc.rules.Thresholds.Integration
	var eligible []models.ConsolidatedOperation
	for _, op := range consolidated.Operations {
		if !op.Eligible(threshold) {
			r.warn(fmt.Sprintf("%s %s %d on %s skipped: confidence %.2f below %.2f",
				op.Side, op.AssetCode, op.Quantity, utils.FormatDate(op.TradeDate), op.Confidence, threshold))
			continue
		}
		eligible = append(eligible, op)
	}

	passed, rejected, err := validation.NewPreIntegrationChecker(r.store.Mappings).Check(ctx, eligible)
	if err != nil {
		return err
	}
	r.reject(rejected)
	r.eligible = passed
	stats.EligibleOperations = len(passed)
	if len(passed) == 0 {
		r.stop("no eligible operations to integrate")
		return nil
	}
	r.checkpoint(progressConsolidated, "consolidate", fmt.Sprintf("%d operations eligible", len(passed)))
	return nil
}

// integrate applies each eligible operation in its own savepoint. Item-level
// failures cost only that operation; fatal and retryable ones abort the batch.
func (r *batchRun) integrate(ctx context.Context) error {
	stats := &r.result.Stats
	log := logger.FromContext(ctx)
	for i, op := range r.eligible {
		var outcome IntegrationOutcome
		err := r.store.WithSavepoint(ctx, fmt.Sprintf("op_%d", i), func() error {
			var err error
			outcome, err = r.svc.integrator.Integrate(ctx, r.store, op)
			return err
		})
		if err != nil {
			category := apperrors.Classify(err)
			if category.Fatal() || category.Retryable() || category == apperrors.Cancelled {
				log.Error("Integration aborted the batch", "key", op.Key.String(), "category", category, "error", err)
				return err
			}
			log.Warn("Integration failed for operation", "key", op.Key.String(), "category", category, "error", err)
			r.report.Add(op.Key.String(), err)
			stats.FailedOperations++
			continue
		}
		stats.CreatedOperations++
		r.result.Operations = append(r.result.Operations, outcome.Change.Primary)
	}

	if stats.CreatedOperations == 0 {
		r.stop("no operation could be integrated")
		return nil
	}
	r.checkpoint(progressIntegrated, "integrate", fmt.Sprintf("%d operations integrated", stats.CreatedOperations))
	return nil
}

// finalize settles invoice statuses: PROCESSED when at least one line item
// was mapped, FAILED otherwise.
func (r *batchRun) finalize(ctx context.Context) error {
	now := r.svc.now()
	processed := 0
	for _, inv := range r.invoices {
		n, err := r.store.Mappings.CountByInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		status := models.InvoiceStatusFailed
		if n > 0 {
			status = models.InvoiceStatusProcessed
			processed++
		}
		if err := r.store.Invoices.UpdateStatus(ctx, inv.ID, status, now); err != nil {
			return err
		}
	}
	stats := r.result.Stats
	r.result.Message = fmt.Sprintf("%d of %d invoices processed: %d operations created, %d failed",
		processed, len(r.invoices), stats.CreatedOperations, stats.FailedOperations)
	return nil
}

func (r *batchRun) complete() {
	stats := r.result.Stats
	if attempted := stats.CreatedOperations + stats.FailedOperations; attempted > 0 {
		r.result.SuccessRate = utils.RoundFloat(float64(stats.CreatedOperations)/float64(attempted)*100, 2)
	}
	subjects := r.fetched + stats.InvalidInvoices
	if subjects < r.report.Len() {
		subjects = r.report.Len()
	}
	r.result.Failures = r.report.Failures()
	r.result.Errors = r.report.Summary(subjects)
	r.result.FinishedAt = r.svc.now()
}
