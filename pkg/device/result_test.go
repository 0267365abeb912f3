package device

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{"ok", Ok(map[string]int{"n": 1}), `{"status":"ok","message":{},"data":{"n":1}}`},
		{"error", Error("boom", nil), `{"status":"error","message":"boom","data":{}}`},
		{"busy", Busy(7), `{"status":"error","message":"the device is still busy with job 7","data":{"job_id":7}}`},
		{"info", Info([]int{1}), `{"status":"ok","message":[1],"data":{}}`},
		{"ready", Result{Data: map[string]any{}}.WithStatus(StatusReady), `{"status":"ready","message":null,"data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.result)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestFailure(t *testing.T) {
	busy := Failure(fmt.Errorf("failed to admit: %w", errdefs.Busy(3)))
	assert.Equal(t, KindBusy, busy.Kind)
	assert.Equal(t, int64(3), busy.JobID)

	nf := Failure(errdefs.NotFoundf("configuration town not found"))
	assert.Equal(t, KindError, nf.Kind)
	assert.Equal(t, "configuration town not found", nf.Message)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"status":"ok","message":{},"data":{"status":"ok","job_id":12}}`))
	require.NoError(t, err)

	var ticket struct {
		Status string `json:"status"`
		JobID  int64  `json:"job_id"`
	}
	require.NoError(t, env.DecodeData(&ticket))
	assert.Equal(t, int64(12), ticket.JobID)

	_, err = DecodeEnvelope([]byte(`<html>`))
	assert.Equal(t, "decode", errdefs.Kind(err))

	_, err = DecodeEnvelope([]byte(`{"data":{}}`))
	assert.Equal(t, "decode", errdefs.Kind(err))
}

func TestMessageString(t *testing.T) {
	assert.Equal(t, "x", (&Envelope{Message: "x"}).MessageString())
	assert.Equal(t, "", (&Envelope{}).MessageString())
}
