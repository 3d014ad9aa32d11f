package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTaxiStreamError_Error(t *testing.T) {
	err := New(ErrCategoryStorage, CodeUploadFailed, "upload failed")
	expected := "[STORAGE:UPLOAD_FAILED] upload failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestTaxiStreamError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("unexpected EOF")
	err := NewStreamIOError("reading rides.gz", cause)
	expected := "[STREAM:READ_FAILED] reading rides.gz: unexpected EOF"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestTaxiStreamError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewCallbackError("sink rejected row", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestTaxiStreamError_Is(t *testing.T) {
	err1 := NewMalformedRecordError(3, "expected 11 fields", nil)
	err2 := NewMalformedRecordError(9, "bad float", nil)
	err3 := NewStreamIOError("read", nil)

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if !errors.Is(err1, ErrMalformedRecord) {
		t.Error("malformed record error should match the sentinel")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryConfiguration, CodeFileUnreadable, false},
		{ErrCategoryConfiguration, CodeInvalidParameter, false},
		{ErrCategoryRecord, CodeMalformedRecord, false},
		{ErrCategoryStream, CodeReadFailed, false},
		{ErrCategoryConsumer, CodeCallbackFailed, false},
		{ErrCategorySink, CodeWriteFailed, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategory(t *testing.T) {
	err := NewConfigurationError("serving speed factor must be positive")
	if GetCategory(err) != ErrCategoryConfiguration {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryConfiguration)
	}
	if !IsConfigurationError(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsConfigurationError should see through wrapping")
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-TaxiStreamError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := NewFileUnreadableError("/missing.gz", fmt.Errorf("no such file"))
	if GetCode(err) != CodeFileUnreadable {
		t.Errorf("got %q, want %q", GetCode(err), CodeFileUnreadable)
	}
	if err.Details["path"] != "/missing.gz" {
		t.Errorf("expected path detail, got %v", err.Details)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-TaxiStreamError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryRecord, CodeMalformedRecord, "bad line")
	detailed := err.WithDetails(map[string]interface{}{"line": 7})

	if detailed.Details["line"] != 7 {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	m := NewMalformedRecordError(4, "bad ride id", cause)
	if m.Category != ErrCategoryRecord || m.Code != CodeMalformedRecord || m.Details["line"] != 4 {
		t.Error("NewMalformedRecordError mismatch")
	}

	s := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}

	k := NewSinkError("copy failed", cause)
	if k.Category != ErrCategorySink || k.Code != CodeWriteFailed {
		t.Error("NewSinkError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
