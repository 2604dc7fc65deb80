// Package errors provides custom error types for the sync engine
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodePushConflict      ErrorCode = "PUSH_CONFLICT"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeDuplicateAccount  ErrorCode = "DUPLICATE_ACCOUNT"
	ErrCodeLockHeld          ErrorCode = "LOCK_HELD"
	ErrCodeAuthFailure       ErrorCode = "AUTH_FAILURE"
)

// Operation represents the type of sync operation
type Operation string

const (
	OpSync      Operation = "sync"
	OpPush      Operation = "push"
	OpPull      Operation = "pull"
	OpApply     Operation = "apply"
	OpStore     Operation = "store"
	OpLoad      Operation = "load"
	OpIngest    Operation = "ingest"
	OpReconcile Operation = "reconcile"
	OpLock      Operation = "lock"
	OpDerive    Operation = "derive"
	OpBootstrap Operation = "bootstrap"
	OpClose     Operation = "close"
)

// SyncError represents an error that occurred during synchronization
// or provider ingestion.
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "protocol")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewNetworkError creates a new network-related SyncError
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "protocol",
		Err:       cause,
		Retryable: true,
	}
}

// NewPushConflictError creates a SyncError for an optimistic-concurrency
// rejection from the server. Retryable: the next pull fetches the
// authoritative state and the following push is computed from it.
func NewPushConflictError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodePushConflict,
		Op:        OpPush,
		Component: "protocol",
		Err:       cause,
		Retryable: true,
	}
}

// NewDuplicateAccountError creates a SyncError for a provider response
// that lists the same external account id more than once. Fatal to the
// ingestion that detected it, never retried automatically.
func NewDuplicateAccountError(accountNames []string) *SyncError {
	return &SyncError{
		Code:      ErrCodeDuplicateAccount,
		Op:        OpIngest,
		Component: "provider",
		Err:       fmt.Errorf("provider returned duplicate accounts: %v", accountNames),
		Retryable: false,
		Metadata:  map[string]interface{}{"account_names": accountNames},
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewAuthError creates a SyncError for credential or headless
// re-initialization failures.
func NewAuthError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeAuthFailure,
		Op:        op,
		Component: "auth",
		Err:       cause,
		Retryable: false,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsDuplicateAccount reports whether err is a duplicate-account
// ingestion failure, the only sync-side error surfaced to the user.
func IsDuplicateAccount(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == ErrCodeDuplicateAccount
	}
	return false
}

// IsPushConflict reports whether err is a server push rejection.
func IsPushConflict(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == ErrCodePushConflict
	}
	return false
}
