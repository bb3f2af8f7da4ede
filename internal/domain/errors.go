package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrValidation     = errors.New("validation failed")
	ErrReconciliation = errors.New("balance reconciliation conflict")
)

// Validation reason codes.
const (
	ReasonMissingField               = "missing_field"
	ReasonInvalidAmount              = "invalid_amount"
	ReasonInvalidDirection           = "invalid_direction"
	ReasonUnsupportedCurrency        = "unsupported_currency"
	ReasonCurrencyMismatch           = "currency_mismatch"
	ReasonDuplicate                  = "duplicate"
	ReasonPaidDateInFuture           = "paid_date_in_future"
	ReasonPaidDateBeforeStartPeriod  = "paid_date_before_start_period"
	ReasonPaidDateNotBeforeActive    = "paid_date_not_before_active_period"
	ReasonInvalidPeriod              = "invalid_period"
	ReasonCategoryNotFound           = "category_not_found"
	ReasonCategoryExists             = "category_exists"
	ReasonReservedCategory           = "reserved_category"
	ReasonUnmappedCategory           = "unmapped_category"
	ReasonInvalidMapping             = "invalid_mapping"
	ReasonEmptyBatch                 = "empty_batch"
	ReasonDuplicateSourceTransaction = "duplicate_source_transaction"
	ReasonUnknownCommand             = "unknown_command"
	ReasonInvalidStatus              = "invalid_status"
)

// NotFoundError reports a missing ledger, job, mapping or staging session.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// InvalidStateError reports an operation that is illegal in the current
// ledger or job status.
type InvalidStateError struct {
	Operation string
	State     string
	Detail    string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("%s is not allowed in state %s", e.Operation, e.State)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InvalidState builds an InvalidStateError.
func InvalidState(operation, state, detail string) error {
	return &InvalidStateError{Operation: operation, State: state, Detail: detail}
}

// ValidationError reports malformed or out-of-bounds input. Reason is one of
// the Reason* codes and is stable enough to branch on.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(reason, format string, args ...interface{}) error {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReconciliationError reports a confirmed balance that does not match the
// calculated one and was neither forced nor adjusted.
type ReconciliationError struct {
	Confirmed  Money
	Calculated Money
	Difference Money
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("confirmed balance %s differs from calculated balance %s by %s",
		e.Confirmed, e.Calculated, e.Difference)
}

func (e *ReconciliationError) Unwrap() error { return ErrReconciliation }

// ReasonOf returns the validation reason carried by err, if any.
func ReasonOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
