package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeUnrecognizedDrug = "UNRECOGNIZED_DRUG"
	ErrCodeKnowledgeBase    = "KNOWLEDGE_BASE_UNAVAILABLE"
	ErrCodeModelTimeout     = "MODEL_TIMEOUT"
	ErrCodeModelUnavailable = "MODEL_UNAVAILABLE"
	ErrCodeInvalidOverride  = "INVALID_OVERRIDE_REQUEST"
	ErrCodeCacheCorruption  = "CACHE_CORRUPTION"
	ErrCodeBatchPatient     = "BATCH_PATIENT_FAILURE"
	ErrCodeDatabase         = "DATABASE_ERROR"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// Sentinel errors for the engine's failure taxonomy. Recoverable conditions
// degrade the check and surface as warnings; anything that would turn into a
// clinically wrong "no interaction" result escalates instead of degrading.
var (
	// ErrKnowledgeBaseUnavailable is fatal for rule-sourced results; the
	// engine falls back to ML-only output with a warning.
	ErrKnowledgeBaseUnavailable = errors.New("knowledge base unavailable")

	// ErrModelTimeout is non-fatal; the check degrades to rule-only results.
	ErrModelTimeout = errors.New("ml model timed out")

	// ErrModelUnavailable is non-fatal; the check degrades to rule-only results.
	ErrModelUnavailable = errors.New("ml model unavailable")

	// ErrCacheCorruption is treated as a cache miss and never surfaced to callers.
	ErrCacheCorruption = errors.New("cache entry corrupted")

	// ErrNoCoverage means neither rules nor ML could run; returning an empty
	// result here would hide risk, so the check fails instead.
	ErrNoCoverage = errors.New("no interaction coverage available")
)

// EngineError is a standardized error response carried across the API boundary.
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError with timestamp.
func NewEngineError(code, message, details, requestID string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// InvalidOverrideError rejects one override call without affecting anything
// else in flight. It records which validation rule the submission broke.
type InvalidOverrideError struct {
	Reason string
}

// Error implements the error interface
func (e *InvalidOverrideError) Error() string {
	return fmt.Sprintf("invalid override request: %s", e.Reason)
}

// NewInvalidOverrideError creates a new InvalidOverrideError.
func NewInvalidOverrideError(reason string) *InvalidOverrideError {
	return &InvalidOverrideError{Reason: reason}
}

// BatchPatientError isolates one patient's failure inside a batch. The batch
// itself continues; only this patient's entry records the failure.
type BatchPatientError struct {
	PatientID string
	Err       error
}

// Error implements the error interface
func (e *BatchPatientError) Error() string {
	return fmt.Sprintf("batch patient %s failed: %v", e.PatientID, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *BatchPatientError) Unwrap() error {
	return e.Err
}

// Warning is a non-fatal condition recorded in the RunLog and surfaced in
// response metadata so reduced coverage is never mistaken for a clean result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// String renders the warning for RunLog storage.
func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}

// UnrecognizedDrugWarning builds the non-fatal warning attached when the
// normalizer cannot confidently resolve a drug.
func UnrecognizedDrugWarning(name string) Warning {
	return Warning{
		Code:    ErrCodeUnrecognizedDrug,
		Message: fmt.Sprintf("drug %q could not be confidently resolved; interaction coverage for it is reduced", name),
	}
}

// DegradedMLWarning builds the warning attached when ML scoring was skipped.
func DegradedMLWarning(cause error) Warning {
	code := ErrCodeModelUnavailable
	if errors.Is(cause, ErrModelTimeout) {
		code = ErrCodeModelTimeout
	}
	return Warning{
		Code:    code,
		Message: fmt.Sprintf("ml scoring unavailable, results are rule-only: %v", cause),
	}
}

// DegradedRulesWarning builds the warning attached when the knowledge base
// could not serve rule evaluation.
func DegradedRulesWarning(cause error) Warning {
	return Warning{
		Code:    ErrCodeKnowledgeBase,
		Message: fmt.Sprintf("knowledge base unavailable, results are ml-only: %v", cause),
	}
}
