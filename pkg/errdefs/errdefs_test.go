package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "none"},
		{name: "not found", err: NotFoundf("module %s", "watchtower"), want: "not_found"},
		{name: "busy", err: Busy(7), want: "busy"},
		{name: "transport", err: Transport(cause, "botA"), want: "transport"},
		{name: "decode", err: Decode(cause, "botA"), want: "decode"},
		{name: "action", err: Action(cause, "start"), want: "action"},
		{name: "invalid", err: Invalidf("bad id"), want: "invalid"},
		{name: "wrapped", err: fmt.Errorf("failed to resolve: %w", NotFoundf("x")), want: "not_found"},
		{name: "plain", err: cause, want: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestBusyErrorCarriesJobID(t *testing.T) {
	err := fmt.Errorf("admission: %w", Busy(42))

	var busy *BusyError
	assert.True(t, errors.As(err, &busy))
	assert.Equal(t, int64(42), busy.JobID)
	assert.True(t, IsBusy(err))
	assert.Contains(t, err.Error(), "42")
}

func TestCauseIsUnwrapped(t *testing.T) {
	cause := errors.New("timeout")
	err := Transport(cause, "request to %s failed", "botB")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "request to botB failed: timeout", err.Error())
}
