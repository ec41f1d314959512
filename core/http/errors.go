package http

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest marks input the parser cannot make sense of
	ErrMalformedRequest = errors.New("malformed request")
	// ErrRequestTooLarge marks a request exceeding a configured limit
	ErrRequestTooLarge = errors.New("request too large")
)

// ProtocolError is a parse failure together with the response it maps to.
// The parser state is unrecoverable after one, so the connection is closed
// once the error response is written.
type ProtocolError struct {
	Err    error
	Status int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func malformed(format string, args ...any) *ProtocolError {
	return &ProtocolError{Err: ErrMalformedRequest, Status: StatusBadRequest, Reason: fmt.Sprintf(format, args...)}
}

func tooLarge(status int, format string, args ...any) *ProtocolError {
	return &ProtocolError{Err: ErrRequestTooLarge, Status: status, Reason: fmt.Sprintf(format, args...)}
}
