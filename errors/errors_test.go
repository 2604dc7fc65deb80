package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSyncError_Error(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		component string
		code      ErrorCode
		err       error
		want      string
	}{
		{
			name:      "with component and code",
			op:        OpSync,
			component: "store",
			code:      ErrCodeStorageFailure,
			err:       fmt.Errorf("failed to connect"),
			want:      "sync operation failed in store component [STORAGE_FAILURE]: failed to connect",
		},
		{
			name:      "with component no code",
			op:        OpSync,
			component: "store",
			err:       fmt.Errorf("failed to connect"),
			want:      "sync operation failed in store component: failed to connect",
		},
		{
			name: "without component with code",
			op:   OpPush,
			code: ErrCodeNetworkFailure,
			err:  fmt.Errorf("network error"),
			want: "push operation failed [NETWORK_FAILURE]: network error",
		},
		{
			name: "without component or code",
			op:   OpPush,
			err:  fmt.Errorf("network error"),
			want: "push operation failed: network error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &SyncError{
				Op:        tt.op,
				Component: tt.component,
				Err:       tt.err,
				Code:      tt.code,
			}

			if got := e.Error(); got != tt.want {
				t.Errorf("SyncError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewNetworkError(t *testing.T) {
	cause := fmt.Errorf("network failure")
	syncErr := NewNetworkError(OpPull, cause)

	if syncErr.Code != ErrCodeNetworkFailure {
		t.Errorf("NewNetworkError() Code = %v, want %v", syncErr.Code, ErrCodeNetworkFailure)
	}
	if syncErr.Component != "protocol" {
		t.Errorf("NewNetworkError() Component = %v, want %v", syncErr.Component, "protocol")
	}
	if syncErr.Err != cause {
		t.Errorf("NewNetworkError() Err = %v, want %v", syncErr.Err, cause)
	}
	if !syncErr.Retryable {
		t.Error("NewNetworkError() created non-retryable error")
	}
}

func TestNewStorageError(t *testing.T) {
	cause := fmt.Errorf("storage failure")
	syncErr := NewStorageError(OpStore, cause)

	if syncErr.Code != ErrCodeStorageFailure {
		t.Errorf("NewStorageError() Code = %v, want %v", syncErr.Code, ErrCodeStorageFailure)
	}
	if syncErr.Component != "store" {
		t.Errorf("NewStorageError() Component = %v, want %v", syncErr.Component, "store")
	}
	if !syncErr.Retryable {
		t.Error("NewStorageError() created non-retryable error")
	}
}

func TestNewPushConflictError(t *testing.T) {
	cause := fmt.Errorf("server rejected push: changed since last pull")
	syncErr := NewPushConflictError(cause)

	if syncErr.Code != ErrCodePushConflict {
		t.Errorf("NewPushConflictError() Code = %v, want %v", syncErr.Code, ErrCodePushConflict)
	}
	if syncErr.Op != OpPush {
		t.Errorf("NewPushConflictError() Op = %v, want %v", syncErr.Op, OpPush)
	}
	if !syncErr.Retryable {
		t.Error("push conflicts must be retryable: the next cycle reconciles")
	}
	if !IsPushConflict(syncErr) {
		t.Error("IsPushConflict() did not detect push conflict")
	}
	if !IsPushConflict(fmt.Errorf("wrapped: %w", syncErr)) {
		t.Error("IsPushConflict() did not unwrap")
	}
}

func TestNewDuplicateAccountError(t *testing.T) {
	syncErr := NewDuplicateAccountError([]string{"Checking", "Checking"})

	if syncErr.Code != ErrCodeDuplicateAccount {
		t.Errorf("Code = %v, want %v", syncErr.Code, ErrCodeDuplicateAccount)
	}
	if syncErr.Retryable {
		t.Error("duplicate-account errors require user action, not retry")
	}
	names, ok := syncErr.Metadata["account_names"].([]string)
	if !ok || len(names) != 2 {
		t.Errorf("Metadata account_names = %v", syncErr.Metadata["account_names"])
	}
	if !IsDuplicateAccount(fmt.Errorf("link failed: %w", syncErr)) {
		t.Error("IsDuplicateAccount() did not unwrap")
	}
	if IsDuplicateAccount(fmt.Errorf("plain error")) {
		t.Error("IsDuplicateAccount() false positive")
	}
}

func TestNewValidationError(t *testing.T) {
	cause := fmt.Errorf("validation failed")
	syncErr := NewValidationError(OpSync, cause)

	if syncErr.Code != ErrCodeValidationFailure {
		t.Errorf("NewValidationError() Code = %v, want %v", syncErr.Code, ErrCodeValidationFailure)
	}
	if syncErr.Retryable {
		t.Error("NewValidationError() created retryable error when it shouldn't")
	}
}

func TestSyncError_Unwrap(t *testing.T) {
	originalErr := fmt.Errorf("original error")
	e := &SyncError{
		Op:  OpSync,
		Err: originalErr,
	}

	if unwrapped := e.Unwrap(); unwrapped != originalErr {
		t.Errorf("SyncError.Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "retryable sync error",
			err:  NewNetworkError(OpSync, fmt.Errorf("temporary error")),
			want: true,
		},
		{
			name: "non-retryable sync error",
			err:  NewValidationError(OpSync, fmt.Errorf("permanent error")),
			want: false,
		},
		{
			name: "non-sync error",
			err:  fmt.Errorf("regular error"),
			want: false,
		},
		{
			name: "wrapped retryable error",
			err:  fmt.Errorf("wrapped: %w", NewNetworkError(OpSync, fmt.Errorf("temporary"))),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorsAs(t *testing.T) {
	var syncErr *SyncError
	err := fmt.Errorf("wrapped: %w", NewNetworkError(OpSync, fmt.Errorf("inner")))

	if !errors.As(err, &syncErr) {
		t.Error("errors.As() failed to detect SyncError")
	}

	if syncErr.Op != OpSync {
		t.Errorf("errors.As() Op = %v, want %v", syncErr.Op, OpSync)
	}
}
