package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeNotAMember         = "not_a_member"
	ErrCodeStorageUnavailable = "storage_unavailable"
	ErrCodeConnectionClosing  = "connection_closing"
	ErrCodeConnectionClosed   = "connection_closed"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
)

var (
	// ErrNotAMember rejects an attach for an identity outside the room roster.
	ErrNotAMember = errors.New("not a member of the room")
	// ErrStorageUnavailable is returned when the persistence gateway failed or
	// timed out while the roster was being loaded. The room fails open; the
	// caller retries with backoff.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrConnectionClosing rejects submissions on a draining connection.
	ErrConnectionClosing = errors.New("connection closing")
	// ErrConnectionClosed rejects operations on a terminated connection.
	ErrConnectionClosed = errors.New("connection closed")

	// errRoomRetired marks a Room handle that already left the registry.
	// Never surfaced: Registry.Attach re-resolves the room and retries.
	errRoomRetired = errors.New("room retired")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// AsCoreError maps a domain error to its wire-level code/message pair.
func AsCoreError(err error) *CoreError {
	switch {
	case errors.Is(err, ErrNotAMember):
		return &CoreError{Code: ErrCodeNotAMember, Message: "not a member of the room"}
	case errors.Is(err, ErrStorageUnavailable):
		return &CoreError{Code: ErrCodeStorageUnavailable, Message: "storage unavailable, retry later"}
	case errors.Is(err, ErrConnectionClosing):
		return &CoreError{Code: ErrCodeConnectionClosing, Message: "connection is closing"}
	case errors.Is(err, ErrConnectionClosed):
		return &CoreError{Code: ErrCodeConnectionClosed, Message: "connection is closed"}
	default:
		return &CoreError{Code: ErrCodeBadRequest, Message: err.Error()}
	}
}
