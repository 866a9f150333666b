// Package apperrors carries the error categories of the processing pipeline.
// Recoverability is a property of the category, so callers decide how to react
// by inspecting the error rather than its concrete type.
package apperrors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Category string

const (
	Validation  Category = "VALIDATION"
	Duplicate   Category = "DUPLICATE"
	Detection   Category = "DETECTION"
	Integration Category = "INTEGRATION"
	Database    Category = "DATABASE"
	Network     Category = "NETWORK"
	System      Category = "SYSTEM"
	Unknown     Category = "UNKNOWN"
	Cancelled   Category = "CANCELLED" // Caller's context was cancelled
)

// Recoverable reports whether processing may continue after an error of this
// category, either per item or through a batch retry.
func (c Category) Recoverable() bool {
	switch c {
	case Detection, Integration, Database, Network:
		return true
	}
	return false
}

// ItemLevel reports whether a failure only costs the offending item.
func (c Category) ItemLevel() bool {
	return c == Detection || c == Integration
}

// Retryable reports whether the whole batch may be retried with backoff.
func (c Category) Retryable() bool {
	return c == Database || c == Network
}

// Fatal reports whether the error aborts the batch.
func (c Category) Fatal() bool {
	return c == System || c == Unknown
}

// Error is a categorized pipeline error with a message safe to show users.
type Error struct {
	Category Category
	Subject  string // Item, invoice or key the error is about; may be empty
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	if e.Subject != "" {
		b.WriteString(" [")
		b.WriteString(e.Subject)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports the recoverability of the error's category.
func (e *Error) Recoverable() bool { return e.Category.Recoverable() }

func New(category Category, subject, message string) *Error {
	return &Error{Category: category, Subject: subject, Message: message}
}

func Newf(category Category, subject, format string, args ...any) *Error {
	return &Error{Category: category, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a category and user-facing message to err. A nil err yields nil.
func Wrap(category Category, subject string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Subject: subject, Message: message, Err: err}
}

// Classify returns the category of err. Categorized errors keep theirs; known
// transport and storage failures are mapped; everything else is UNKNOWN.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Network
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Network
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return Database
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") {
		return Database
	}
	return Unknown
}

// UserMessage returns the user-facing message of err.
func UserMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "processing cancelled"
	}
	return "an unexpected error occurred"
}

// SubjectOf returns the subject recorded on a categorized error.
func SubjectOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Subject
	}
	return ""
}
