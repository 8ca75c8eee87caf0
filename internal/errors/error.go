package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// transport errors
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrTransportFailure  = errors.New("transport failure")

	// authentication errors
	ErrAuthFailed = errors.New("authentication failed")

	// protocol status errors
	ErrFolderNotFound        = errors.New("folder not found")
	ErrInvalidSyncKey        = errors.New("invalid sync key")
	ErrItemNotFound          = errors.New("item not found")
	ErrSizeExceeded          = errors.New("object size exceeds server limit")
	ErrServerRejected        = errors.New("request rejected by server")
	ErrCapabilityUnsupported = errors.New("operation not supported by server version")

	// parse errors
	ErrMissingResponseField = errors.New("expected field missing from response")
)

// ProtocolStatusError carries the raw ActiveSync status code of a
// non-success response alongside the mapped sentinel.
type ProtocolStatusError struct {
	Command string
	Status  int
	Err     error
}

func (e *ProtocolStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %v", e.Command, e.Status, e.Err)
}

func (e *ProtocolStatusError) Unwrap() error {
	return e.Err
}

func NewProtocolStatusError(command string, status int) *ProtocolStatusError {
	return &ProtocolStatusError{Command: command, Status: status, Err: mapStatus(status)}
}

// ActiveSync top-level Sync status codes shared across commands.
const (
	StatusSuccess        = 1
	StatusInvalidSyncKey = 3
	StatusProtocolError  = 4
	StatusServerError    = 5
	StatusConversion     = 6
	StatusObjectNotFound = 8
	StatusOutOfSpace     = 9
	StatusFolderChanged  = 12
)

func mapStatus(status int) error {
	switch status {
	case StatusInvalidSyncKey:
		return ErrInvalidSyncKey
	case StatusObjectNotFound:
		return ErrItemNotFound
	case StatusOutOfSpace:
		return ErrSizeExceeded
	case StatusFolderChanged:
		return ErrFolderNotFound
	default:
		return ErrServerRejected
	}
}

// MissingField names the response field a parser could not find.
func MissingField(field string) error {
	return errors.Wrap(ErrMissingResponseField, field)
}
