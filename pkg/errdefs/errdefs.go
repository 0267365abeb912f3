// Package errdefs defines the error taxonomy shared by every archapi component.
//
// Components translate runtime, transport and decoding faults into one of the
// sentinel kinds below at their boundary, so callers can classify any error
// with errors.Is without knowing where it came from.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a configuration, module, job, fleet or
	// correlation record does not exist. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrBusy is returned when a device already has a non-terminal job.
	ErrBusy = errors.New("busy")

	// ErrTransport covers unreachable members and non-2xx responses.
	ErrTransport = errors.New("transport failure")

	// ErrDecode covers malformed payloads from members, registries or files.
	ErrDecode = errors.New("decode failure")

	// ErrAction is returned when a container action fails mid-job.
	ErrAction = errors.New("action failure")

	// ErrInvalid is returned for malformed input such as a bad job id.
	ErrInvalid = errors.New("invalid argument")
)

type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

func newf(kind error, cause error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// NotFoundf returns an ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error { return newf(ErrNotFound, nil, format, args...) }

// Invalidf returns an ErrInvalid with a formatted message.
func Invalidf(format string, args ...any) error { return newf(ErrInvalid, nil, format, args...) }

// Transport wraps cause as an ErrTransport.
func Transport(cause error, format string, args ...any) error {
	return newf(ErrTransport, cause, format, args...)
}

// Decode wraps cause as an ErrDecode.
func Decode(cause error, format string, args ...any) error {
	return newf(ErrDecode, cause, format, args...)
}

// Action wraps cause as an ErrAction.
func Action(cause error, format string, args ...any) error {
	return newf(ErrAction, cause, format, args...)
}

// BusyError reports the job blocking a new admission.
type BusyError struct {
	JobID int64
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("the device is still busy with job %d", e.JobID)
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }

// Busy returns a BusyError for the given blocking job.
func Busy(jobID int64) error { return &BusyError{JobID: jobID} }

// IsNotFound reports whether err is classified as ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsBusy reports whether err is classified as ErrBusy.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// Kind returns a short label for err, used for metrics and log fields.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrAction):
		return "action"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	default:
		return "internal"
	}
}
