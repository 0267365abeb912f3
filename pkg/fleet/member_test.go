package fleet

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMembers(t *testing.T, handler http.Handler) (*HTTPMembers, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	return NewHTTPMembers(HTTPConfig{Port: p, RetryMax: 2, Timeout: 2 * time.Second}), host
}

func TestMemberURL(t *testing.T) {
	m := NewHTTPMembers(HTTPConfig{Port: 8083, HostSuffix: ".local"})
	assert.Equal(t, "http://botA.local:8083/device/configuration/set/town", m.URL("botA", "/configuration/set/town"))
}

func TestMemberQuery(t *testing.T) {
	m, host := testMembers(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/device/clearance", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"busy","message":null,"data":{"job_id":4}}`))
	}))

	env, err := m.Query(context.Background(), host, "/clearance")
	require.NoError(t, err)
	assert.Equal(t, "busy", env.Status)

	var data struct {
		JobID int64 `json:"job_id"`
	}
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, int64(4), data.JobID)
}

func TestMemberQueryRetriesButCommandDoesNot(t *testing.T) {
	var hits int32
	m, host := testMembers(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	m.queries.RetryWaitMin = time.Millisecond
	m.queries.RetryWaitMax = time.Millisecond

	_, err := m.Query(context.Background(), host, "/")
	assert.Equal(t, "transport", errdefs.Kind(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	atomic.StoreInt32(&hits, 0)
	_, err = m.Command(context.Background(), host, "/configuration/set/town")
	assert.Equal(t, "transport", errdefs.Kind(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestMemberDecodeFailure(t *testing.T) {
	m, host := testMembers(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>nginx</html>`))
	}))

	_, err := m.Query(context.Background(), host, "/")
	assert.Equal(t, "decode", errdefs.Kind(err))
}

func TestMemberUnreachable(t *testing.T) {
	m := NewHTTPMembers(HTTPConfig{Port: 1, Timeout: time.Second})
	_, err := m.Command(context.Background(), "127.0.0.1", "/")
	assert.Equal(t, "transport", errdefs.Kind(err))
}
