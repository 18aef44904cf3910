// Package errors provides unit tests for error codes.
package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorFormat(t *testing.T) {
	err := New(ErrConflict, "phone number already exists")

	want := "[CONFLICT] phone number already exists"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestAppErrorWrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := Wrap(ErrGateway, "create patient", inner)

	if !errors.Is(err, inner) {
		t.Error("Expected wrapped error to match with errors.Is")
	}

	if err.Unwrap() != inner {
		t.Error("Expected Unwrap to return the inner error")
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := New(ErrNotFound, "patient missing")

	if !Is(err, ErrNotFound) {
		t.Error("Expected Is to match NOT_FOUND")
	}

	if Is(err, ErrConflict) {
		t.Error("Did not expect Is to match CONFLICT")
	}
}

func TestIsWalksWrappedChain(t *testing.T) {
	base := New(ErrConflict, "duplicate phone")
	wrapped := fmt.Errorf("sync item 42: %w", base)

	if !Is(wrapped, ErrConflict) {
		t.Error("Expected Is to find CONFLICT through fmt.Errorf wrapping")
	}

	double := Wrap(ErrSyncFailed, "drain", wrapped)
	if !Is(double, ErrConflict) {
		t.Error("Expected Is to find CONFLICT through AppError wrapping")
	}
}

func TestIsNilError(t *testing.T) {
	if Is(nil, ErrInternal) {
		t.Error("Expected Is(nil, ...) to be false")
	}
}
