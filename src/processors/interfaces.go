package processors

import (
	"github.com/username/opsledger/src/models"
)

// PatternScanner looks across the items of one invoice for multi-item trade
// patterns and returns the extra detections it finds.
type PatternScanner interface {
	Scan(userID int64, invoiceID string, items []models.LineItem) []models.DetectedOperation
}

// DetectionMiss is a line item the detector skipped.
type DetectionMiss struct {
	LineItemID string `json:"line_item_id"`
	InvoiceID  string `json:"invoice_id"`
	Reason     string `json:"reason"`
}

// DetectionResult is the detector output for one batch.
type DetectionResult struct {
	Operations []models.DetectedOperation
	Misses     []DetectionMiss
}

// Success reports whether anything was detected at all.
func (r DetectionResult) Success() bool {
	return len(r.Operations) > 0
}

// GroupFailure is a consolidation group that could not be merged.
type GroupFailure struct {
	Key models.ConsolidationKey
	Err error
}

// ConsolidationResult is the consolidator output for one batch.
type ConsolidationResult struct {
	Operations []models.ConsolidatedOperation
	Failures   []GroupFailure
}

// OperationDetector turns line items into detected operations.
type OperationDetector interface {
	Detect(userID int64, items []models.LineItem) DetectionResult
}

// OperationClassifier decides the trade type of detected operations.
type OperationClassifier interface {
	Classify(ops []models.DetectedOperation) []models.ClassifiedOperation
}

// OperationConsolidator merges classified operations sharing a consolidation key.
type OperationConsolidator interface {
	Consolidate(userID int64, ops []models.ClassifiedOperation) ConsolidationResult
}
