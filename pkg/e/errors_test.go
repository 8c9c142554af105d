package e

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusFor(t *testing.T) {
	tables := []struct {
		name     string
		err      error
		expected int
	}{
		{"object not found", ErrObjectNotFound, http.StatusNotFound},
		{"payload too large", ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"session not found", ErrUploadSessionNotFound, http.StatusGone},
		{"session expired", ErrUploadSessionExpired, http.StatusGone},
		{"scan failed", ErrScanFailed, http.StatusBadGateway},
		{"scan timeout", ErrScanTimeout, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped sentinel", fmt.Errorf("outer: %w", ErrObjectNotFound), http.StatusNotFound},
		{"storage error status wins", &StorageError{Op: "scan", Status: http.StatusUnprocessableEntity, Err: ErrPayloadTooLarge}, http.StatusUnprocessableEntity},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			if status := StatusFor(table.err); status != table.expected {
				t.Errorf("Expected %d, got %d", table.expected, status)
			}
		})
	}
}

func TestStorageErrorUnwrap(t *testing.T) {
	err := &StorageError{Op: "upload", Status: http.StatusRequestEntityTooLarge, Err: ErrPayloadTooLarge}
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Error("Expected StorageError to unwrap to its sentinel")
	}
	if err.Error() != "storage upload failed: payload too large" {
		t.Errorf("Unexpected error string %q", err.Error())
	}
}
