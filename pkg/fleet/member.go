package fleet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/archapi/pkg/device"
	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/hashicorp/go-retryablehttp"
)

const maxEnvelopeSize = 4 << 20

// Members reaches the device API of other fleet members
type Members interface {
	// Query performs a read. It may be retried.
	Query(ctx context.Context, host, endpoint string) (*device.Envelope, error)
	// Command performs a mutating call exactly once
	Command(ctx context.Context, host, endpoint string) (*device.Envelope, error)
}

// HTTPConfig configures HTTPMembers
type HTTPConfig struct {
	Port int
	// HostSuffix is appended to every hostname, e.g. ".local"
	HostSuffix string
	RetryMax   int
	Timeout    time.Duration
}

// HTTPMembers calls members at http://<host><suffix>:<port>/device<endpoint>
type HTTPMembers struct {
	cfg     HTTPConfig
	queries *retryablehttp.Client
	plain   *retryablehttp.Client
}

// NewHTTPMembers creates an HTTP member client
func NewHTTPMembers(cfg HTTPConfig) *HTTPMembers {
	logger := log.NewLeveled(log.WithComponent("fleet"))

	queries := retryablehttp.NewClient()
	queries.RetryMax = cfg.RetryMax
	queries.RetryWaitMin = 100 * time.Millisecond
	queries.RetryWaitMax = time.Second
	queries.HTTPClient.Timeout = cfg.Timeout
	queries.Logger = logger

	plain := retryablehttp.NewClient()
	plain.RetryMax = 0
	plain.HTTPClient.Timeout = cfg.Timeout
	plain.Logger = logger

	return &HTTPMembers{cfg: cfg, queries: queries, plain: plain}
}

// URL returns the member URL of endpoint
func (m *HTTPMembers) URL(host, endpoint string) string {
	return fmt.Sprintf("http://%s%s:%d/device%s", host, m.cfg.HostSuffix, m.cfg.Port, endpoint)
}

func (m *HTTPMembers) Query(ctx context.Context, host, endpoint string) (*device.Envelope, error) {
	return m.do(ctx, m.queries, host, endpoint)
}

func (m *HTTPMembers) Command(ctx context.Context, host, endpoint string) (*device.Envelope, error) {
	return m.do(ctx, m.plain, host, endpoint)
}

func (m *HTTPMembers) do(ctx context.Context, client *retryablehttp.Client, host, endpoint string) (*device.Envelope, error) {
	url := m.URL(host, endpoint)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errdefs.Transport(err, "%s is unreachable", host)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeSize))
	if err != nil {
		return nil, errdefs.Transport(err, "failed to read response from %s", host)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errdefs.Transport(nil, "%s returned %s", host, resp.Status)
	}
	env, err := device.DecodeEnvelope(body)
	if err != nil {
		return nil, errdefs.Decode(err, "unexpected response from %s", host)
	}
	return env, nil
}

// timedCall wraps a member call with its request metrics
func timedCall(op string, call func() (*device.Envelope, error)) (*device.Envelope, error) {
	timer := metrics.NewTimer()
	env, err := call()
	timer.ObserveDurationVec(metrics.FleetMemberRequestDuration, op)
	if err != nil {
		metrics.FleetMemberFailures.WithLabelValues(op, errdefs.Kind(err)).Inc()
	}
	return env, err
}
