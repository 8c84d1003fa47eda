package push

import (
	"errors"
	"fmt"
)

// Sentinel errors. These are expected, recoverable conditions a caller is
// meant to branch on with errors.Is.
var (
	// ErrDecryptionFailed is the single failure kind for every decryption
	// problem: bad tag, malformed header, bad padding, unknown encoding.
	// Causes are deliberately not distinguished so the component cannot be
	// used as a decryption oracle.
	ErrDecryptionFailed = errors.New("push: decryption failed")

	// ErrUnknownChannel is returned by decrypt when no channel exists for
	// the identifier. A message can legitimately arrive after a local
	// unsubscribe, so this is not fatal.
	ErrUnknownChannel = errors.New("push: unknown channel")

	// ErrChannelNotFound is the store-level miss for a channel lookup.
	ErrChannelNotFound = errors.New("push: channel not found")

	// ErrDuplicateChannel is returned when persisting a channel whose
	// identifier already exists.
	ErrDuplicateChannel = errors.New("push: channel already registered")

	// ErrNoDeviceRecord is returned when no device record has been
	// registered yet.
	ErrNoDeviceRecord = errors.New("push: no device record")

	// ErrUAIDGone signals that the bridge service no longer recognises the
	// current device identifier. All local channels are invalid once this
	// is observed.
	ErrUAIDGone = errors.New("push: device identifier no longer recognised")

	// ErrMissingBridgeToken is returned when registration is attempted
	// without a native bridge token.
	ErrMissingBridgeToken = errors.New("push: missing bridge token")
)

// StorageError wraps a failure of the persistence backend. Sentinel
// conditions (not found, duplicate) are plain sentinel errors, not
// StorageErrors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("push: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err with the failing store operation.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// CommunicationError describes a failed exchange with the bridge service.
// Temporary errors (timeouts, 5xx) are eligible for retry; everything else
// surfaces immediately.
type CommunicationError struct {
	Op        string
	Status    int
	Err       error
	Transient bool
}

func (e *CommunicationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("push: %s: bridge returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("push: %s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// Temporary reports whether the failure is worth retrying.
func (e *CommunicationError) Temporary() bool { return e.Transient }
