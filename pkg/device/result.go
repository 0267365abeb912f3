package device

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuemby/archapi/pkg/errdefs"
)

// Kind tags a Result
type Kind int

const (
	KindOk Kind = iota
	KindError
	KindBusy
)

// Wire statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusBusy  = "busy"
	StatusReady = "ready"
)

// Result is the outcome of a device operation. It is turned into the wire
// Envelope only at the transport edge.
type Result struct {
	Kind    Kind
	Message any
	Data    any
	JobID   int64

	// status overrides the wire status derived from Kind
	status string
}

// Ok returns a successful result carrying data
func Ok(data any) Result {
	return Result{Kind: KindOk, Message: map[string]any{}, Data: data}
}

// Info returns a successful result whose payload is informational and
// travels in the message field
func Info(message any) Result {
	return Result{Kind: KindOk, Message: message, Data: map[string]any{}}
}

// Error returns a failed result
func Error(message string, data any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{Kind: KindError, Message: message, Data: data}
}

// Failure converts err into a failed result. Busy errors become busy results.
func Failure(err error) Result {
	var busy *errdefs.BusyError
	if errors.As(err, &busy) {
		return Busy(busy.JobID)
	}
	return Error(err.Error(), nil)
}

// Busy returns a result naming the job that blocks new work
func Busy(jobID int64) Result {
	return Result{Kind: KindBusy, JobID: jobID}
}

// WithStatus returns r with its wire status replaced
func (r Result) WithStatus(status string) Result {
	r.status = status
	return r
}

// IsOk reports whether the result is a success
func (r Result) IsOk() bool {
	return r.Kind == KindOk
}

// Envelope is the wire form shared by every endpoint
type Envelope struct {
	Status  string `json:"status"`
	Message any    `json:"message"`
	Data    any    `json:"data"`
}

// Envelope serializes the result
func (r Result) Envelope() Envelope {
	var env Envelope
	switch r.Kind {
	case KindBusy:
		env = Envelope{
			Status:  StatusError,
			Message: (&errdefs.BusyError{JobID: r.JobID}).Error(),
			Data:    map[string]any{"job_id": r.JobID},
		}
	case KindError:
		env = Envelope{Status: StatusError, Message: r.Message, Data: r.Data}
	default:
		env = Envelope{Status: StatusOK, Message: r.Message, Data: r.Data}
	}
	if r.status != "" {
		env.Status = r.status
	}
	return env
}

// MarshalJSON encodes the result as its envelope
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Envelope())
}

// DecodeEnvelope parses an envelope received from a device
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errdefs.Decode(err, "malformed envelope")
	}
	if env.Status == "" {
		return nil, errdefs.Decode(nil, "envelope has no status")
	}
	return &env, nil
}

// DecodeData decodes the envelope data into v
func (e *Envelope) DecodeData(v any) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return errdefs.Decode(err, "failed to re-encode envelope data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errdefs.Decode(err, "unexpected envelope data")
	}
	return nil
}

// MessageString returns the message when it is a string
func (e *Envelope) MessageString() string {
	switch m := e.Message.(type) {
	case string:
		return m
	case nil:
		return ""
	default:
		return fmt.Sprint(m)
	}
}
