package log

import (
	"errors"

	"github.com/shopspring/decimal"

	"smartspend/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldErrorType  = "error_type"
	FieldOperation  = "operation"
	FieldOwnerID    = "owner_id"
	FieldPeriod     = "period"
	FieldEntryID    = "entry_id"
	FieldEntryType  = "entry_type"
	FieldAmount     = "amount"
	FieldCategory   = "category"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentAdvice    = "advice"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentRateLimit = "rate_limit"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpAddEntry    = "add_entry"
	OpUpdateEntry = "update_entry"
	OpDeleteEntry = "delete_entry"
	OpSetBudget   = "set_budget"
	OpRecompute   = "recompute"
	OpAdvise      = "advise"
	OpChat        = "chat"
	OpExport      = "export"
	OpRead        = "read"
)

// Error types attached as error_type.
const (
	ErrorTypeValidation  = "validation_error"
	ErrorTypeAuth        = "auth_error"
	ErrorTypeNotFound    = "not_found_error"
	ErrorTypePersistence = "persistence_error"
	ErrorTypeOutOfSync   = "out_of_sync_error"
	ErrorTypeCanceled    = "canceled"
	ErrorTypeInternal    = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	if requestID != "" {
		f[FieldRequestID] = requestID
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithOwner(owner string) LogFields {
	if owner != "" {
		f[FieldOwnerID] = owner
	}
	return f
}

func (f LogFields) WithPeriod(period core.PeriodKey) LogFields {
	if period != "" {
		f[FieldPeriod] = string(period)
	}
	return f
}

// WithEntry adds the identifying fields of an entry; the title stays out of logs.
func (f LogFields) WithEntry(e core.Entry) LogFields {
	if e.ID != "" {
		f[FieldEntryID] = e.ID
	}
	f[FieldEntryType] = string(e.Type)
	f[FieldAmount] = e.Amount.StringFixed(2)
	f[FieldCategory] = core.NormalizeCategory(e.Category)
	return f
}

func (f LogFields) WithAmount(amount decimal.Decimal) LogFields {
	f[FieldAmount] = amount.StringFixed(2)
	return f
}

// WithError adds the error text and its classified type.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = ErrorType(err)
	}
	return f
}

// ErrorType classifies err into one of the ErrorType constants.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case core.IsCancellation(err):
		return ErrorTypeCanceled
	case core.IsValidation(err):
		return ErrorTypeValidation
	case errors.Is(err, core.ErrNotAuthenticated):
		return ErrorTypeAuth
	case errors.Is(err, core.ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, core.ErrBudgetOutOfSync):
		return ErrorTypeOutOfSync
	case errors.Is(err, core.ErrPersistence):
		return ErrorTypePersistence
	default:
		return ErrorTypeInternal
	}
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
