package models

import "time"

type SessionState string

const (
	SessionStateRunning   SessionState = "RUNNING"
	SessionStateCompleted SessionState = "COMPLETED"
	SessionStateFailed    SessionState = "FAILED"
	SessionStateCancelled SessionState = "CANCELLED"
)

// ProcessingSession tracks the progress of one orchestrator invocation.
type ProcessingSession struct {
	ID         string       `json:"id"`
	UserID     int64        `json:"user_id"`
	InvoiceIDs []string     `json:"invoice_ids"`
	Progress   int          `json:"progress"` // 0-100
	Stage      string       `json:"stage"`
	Message    string       `json:"message"`
	Cancelled  bool         `json:"cancelled"`
	State      SessionState `json:"state"`
	StartedAt  time.Time    `json:"started_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// WithProgress returns a copy of the session advanced to the given checkpoint.
func (s ProcessingSession) WithProgress(progress int, stage, message string, at time.Time) ProcessingSession {
	s.Progress = progress
	s.Stage = stage
	s.Message = message
	s.UpdatedAt = at
	return s
}

// Active reports whether the session is still running.
func (s ProcessingSession) Active() bool {
	return s.State == SessionStateRunning
}

// ProgressCallback receives a percentage checkpoint and a human-readable status.
type ProgressCallback func(progress int, status string)

// ItemFailure is the per-item failure record kept in a batch result.
type ItemFailure struct {
	Subject     string `json:"subject"` // Line item, invoice or consolidation key
	Category    string `json:"category"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// StageStats holds the per-stage counters of a batch.
type StageStats struct {
	RequestedInvoices      int `json:"requested_invoices"`
	ValidatedInvoices      int `json:"validated_invoices"`
	InvalidInvoices        int `json:"invalid_invoices"`
	ValidItems             int `json:"valid_items"`
	RejectedItems          int `json:"rejected_items"`
	DuplicateItems         int `json:"duplicate_items"`
	DetectedOperations     int `json:"detected_operations"`
	ClassifiedOperations   int `json:"classified_operations"`
	ConsolidatedOperations int `json:"consolidated_operations"`
	EligibleOperations     int `json:"eligible_operations"`
	CreatedOperations      int `json:"created_operations"`
	FailedOperations       int `json:"failed_operations"`
}

// ErrorSummary is the operator-facing digest of a batch's failures.
type ErrorSummary struct {
	Total        int            `json:"total"`
	ByCategory   map[string]int `json:"by_category"`
	ErrorRate    float64        `json:"error_rate"`
	MostFrequent string         `json:"most_frequent,omitempty"`
}

// BatchResult is returned by ProcessBatch.
type BatchResult struct {
	SessionID   string        `json:"session_id"`
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	Progress    int           `json:"progress"`
	Stage       string        `json:"stage"`
	Stats       StageStats    `json:"stats"`
	SuccessRate float64       `json:"success_rate"` // Percentage of eligible operations integrated
	Warnings    []string      `json:"warnings"`
	Failures    []ItemFailure `json:"failures"`
	Errors      ErrorSummary  `json:"errors"`
	Operations  []Operation   `json:"operations"` // Operations created or re-expressed by this batch
	Attempts    int           `json:"attempts"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}
