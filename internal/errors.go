package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeReference    ErrorType = "REFERENCE_ERROR"
	ErrorTypeState        ErrorType = "STATE_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeUnavailable  ErrorType = "UNAVAILABLE"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidWeekYear  ErrorCode = "INVALID_WEEK_YEAR"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidDecision  ErrorCode = "INVALID_DECISION"
	ErrCodeReasonRequired   ErrorCode = "REJECTION_REASON_REQUIRED"

	ErrCodeBatchAlreadyExists ErrorCode = "BATCH_ALREADY_EXISTS"
	ErrCodeBusinessNotFound   ErrorCode = "BUSINESS_NOT_FOUND"
	ErrCodeBatchNotFound      ErrorCode = "BATCH_NOT_FOUND"
	ErrCodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeItemNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyVerified    ErrorCode = "ALREADY_VERIFIED"

	ErrCodeMissingFile      ErrorCode = "MISSING_FILE"
	ErrCodeInvalidFileType  ErrorCode = "INVALID_FILE_TYPE"
	ErrCodeFileTooLarge     ErrorCode = "FILE_TOO_LARGE"
	ErrCodeInvalidCSVFormat ErrorCode = "INVALID_CSV_FORMAT"
	ErrCodeInvalidCSVData   ErrorCode = "INVALID_CSV_DATA"

	ErrCodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	ErrCodeConcurrentUpdate      ErrorCode = "CONCURRENT_MODIFICATION"
	ErrCodeExtensionRejected     ErrorCode = "DEADLINE_EXTENSION_REJECTED"
	ErrCodeUnauthorizedAccess    ErrorCode = "UNAUTHORIZED_ACCESS"
	ErrCodeAdminRequired         ErrorCode = "ADMIN_REQUIRED"
	ErrCodeAdminCannotDecide     ErrorCode = "ADMIN_CANNOT_DECIDE"
	ErrCodeInvalidToken          ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired          ErrorCode = "TOKEN_EXPIRED"
	ErrCodeStorageUnavailable    ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeFileStoreUnavailable  ErrorCode = "FILE_STORAGE_UNAVAILABLE"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
	ErrCodeSweepInProgress       ErrorCode = "SWEEP_IN_PROGRESS"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			messages := make([]string, len(validationErrors.Errors))
			for i, err := range validationErrors.Errors {
				messages[i] = err.Message
			}
			return strings.Join(messages, "; ")
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause and WithDetails return a copy so shared sentinel values stay untouched.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Is matches on error code so errors.Is works against the sentinels below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// StateDetails names the current status and the statuses the operation accepts.
type StateDetails struct {
	CurrentStatus   string   `json:"current_status"`
	AllowedStatuses []string `json:"allowed_statuses"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewUnavailableError(message string, code ErrorCode, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// NewStateError reports a transition that is not valid from the current status.
func NewStateError(message, current string, allowed []string) *AppError {
	return &AppError{
		Type:       ErrorTypeState,
		Code:       ErrCodeInvalidTransition,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Details: StateDetails{
			CurrentStatus:   current,
			AllowedStatuses: allowed,
		},
	}
}

var (
	ErrBatchAlreadyExists = NewConflictError("a batch already exists for this business and week", ErrCodeBatchAlreadyExists)
	ErrBusinessNotFound   = NewNotFoundError("business not found", ErrCodeBusinessNotFound)
	ErrInvalidWeekYear    = NewValidationError("week must be between 1 and 53 and year cannot be in the past", ErrCodeInvalidWeekYear)
	ErrBatchNotFound      = NewNotFoundError("payment batch not found", ErrCodeBatchNotFound)
	ErrSessionNotFound    = NewNotFoundError("verification session not found", ErrCodeSessionNotFound)
	ErrItemNotFound       = NewNotFoundError("verification item not found", ErrCodeItemNotFound)
	ErrAlreadyVerified    = NewConflictError("transaction has already been verified", ErrCodeAlreadyVerified)

	ErrMissingFile      = NewValidationError("verification file is required", ErrCodeMissingFile)
	ErrInvalidFileType  = NewValidationError("verification file must be a CSV (text/csv)", ErrCodeInvalidFileType)
	ErrFileTooLarge     = &AppError{Type: ErrorTypeValidation, Code: ErrCodeFileTooLarge, Message: "verification file exceeds the upload size limit", StatusCode: http.StatusRequestEntityTooLarge}
	ErrInvalidCSVFormat = NewValidationError("verification file is missing required columns", ErrCodeInvalidCSVFormat)
	ErrInvalidCSVData   = NewValidationError("verification file contains invalid rows", ErrCodeInvalidCSVData)

	ErrConcurrentUpdate   = NewConflictError("record was modified concurrently, retry the operation", ErrCodeConcurrentUpdate)
	ErrExtensionRejected  = NewValidationError("deadline cannot be extended", ErrCodeExtensionRejected)
	ErrUnauthorizedAccess = NewForbiddenError("actor cannot access this batch", ErrCodeUnauthorizedAccess)
	ErrAdminRequired      = NewForbiddenError("administrator role required", ErrCodeAdminRequired)
	ErrAdminCannotDecide  = NewForbiddenError("administrators cannot author verification decisions", ErrCodeAdminCannotDecide)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// AsAppError maps any error to an AppError, treating unknown errors as storage failures.
func AsAppError(err error) *AppError {
	if appErr, ok := IsAppError(err); ok {
		return appErr
	}
	return NewUnavailableError("storage unavailable", ErrCodeStorageUnavailable, err)
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
