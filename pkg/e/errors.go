package e

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrObjectNotFound        = errors.New("object not found")
	ErrPayloadTooLarge       = errors.New("payload too large")
	ErrUploadSessionNotFound = errors.New("upload session not found")
	ErrUploadSessionExpired  = errors.New("upload session expired")
	ErrScanTimeout           = errors.New("scan timed out")
	ErrScanFailed            = errors.New("scan failed")
	ErrNotImplemented        = errors.New("not implemented")
)

// StorageError wraps a backend failure with the HTTP-equivalent status
// the boundary layer should render. Err may be nil when the sentinel
// alone describes the failure.
type StorageError struct {
	Op     string
	Status int
	Err    error
}

func (s *StorageError) Error() string {
	if s.Err == nil {
		return fmt.Sprintf("storage %s failed", s.Op)
	}
	return fmt.Sprintf("storage %s failed: %s", s.Op, s.Err.Error())
}

func (s *StorageError) Unwrap() error {
	return s.Err
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Status: http.StatusInternalServerError, Err: err}
}

// StatusFor maps an error to the HTTP-equivalent status callers render.
// Unknown errors map to 500.
func StatusFor(err error) int {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Status
	}

	switch {
	case errors.Is(err, ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUploadSessionNotFound), errors.Is(err, ErrUploadSessionExpired):
		return http.StatusGone
	case errors.Is(err, ErrScanTimeout), errors.Is(err, ErrScanFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
