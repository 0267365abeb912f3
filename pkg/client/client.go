package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/archapi/pkg/device"
	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultTimeout  = 15 * time.Second
	DefaultRetryMax = 2
	maxResponseSize = 8 << 20
)

// Client calls the archapi HTTP API of one device
type Client struct {
	base    string
	queries *retryablehttp.Client
	plain   *retryablehttp.Client
}

// NewClient creates a client for addr. addr is either a base URL or a
// host:port pair, in which case plain HTTP is used.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	logger := log.NewLeveled(log.WithComponent("client"))

	queries := retryablehttp.NewClient()
	queries.RetryMax = DefaultRetryMax
	queries.RetryWaitMin = 200 * time.Millisecond
	queries.RetryWaitMax = 2 * time.Second
	queries.HTTPClient.Timeout = DefaultTimeout
	queries.Logger = logger

	// mutating calls are never repeated
	plain := retryablehttp.NewClient()
	plain.RetryMax = 0
	plain.HTTPClient.Timeout = DefaultTimeout
	plain.Logger = logger

	return &Client{base: base, queries: queries, plain: plain}
}

// Base returns the base URL of the device
func (c *Client) Base() string {
	return c.base
}

// Get performs a read against path and returns the envelope
func (c *Client) Get(ctx context.Context, path string) (*device.Envelope, error) {
	return c.do(ctx, c.queries, path)
}

// Exec performs a mutating call against path exactly once
func (c *Client) Exec(ctx context.Context, path string) (*device.Envelope, error) {
	return c.do(ctx, c.plain, path)
}

func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, path string) (*device.Envelope, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, errdefs.Transport(err, "%s is unreachable", c.base)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errdefs.Transport(err, "failed to read response from %s", c.base)
	}
	env, err := device.DecodeEnvelope(body)
	if err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, errdefs.Transport(nil, "%s returned %s", c.base, resp.Status)
		}
		return nil, errdefs.Decode(err, "unexpected response from %s", c.base)
	}
	return env, nil
}

// check turns an error envelope into an error
func check(env *device.Envelope, err error) (*device.Envelope, error) {
	if err != nil {
		return nil, err
	}
	if env.Status == device.StatusError {
		var busy struct {
			JobID int64 `json:"job_id"`
		}
		if env.DecodeData(&busy) == nil && busy.JobID > 0 && strings.Contains(env.MessageString(), "busy") {
			return env, errdefs.Busy(busy.JobID)
		}
		return env, errors.New(env.MessageString())
	}
	return env, nil
}

// Info returns the device description
func (c *Client) Info(ctx context.Context) (*device.DeviceInfo, error) {
	env, err := check(c.Get(ctx, "/device/"))
	if err != nil {
		return nil, err
	}
	var info device.DeviceInfo
	if err := env.DecodeData(&info); err != nil {
		return nil, errdefs.Decode(err, "malformed device description")
	}
	return &info, nil
}

// Clearance reports whether the device would admit a new job, and the
// blocking job id when it would not
func (c *Client) Clearance(ctx context.Context) (bool, int64, error) {
	env, err := check(c.Get(ctx, "/device/clearance"))
	if err != nil {
		return false, 0, err
	}
	var data struct {
		JobID int64 `json:"job_id"`
	}
	_ = env.DecodeData(&data)
	return env.Status == device.StatusReady, data.JobID, nil
}

// SetConfiguration starts a set-configuration job and returns its id
func (c *Client) SetConfiguration(ctx context.Context, config string) (int64, error) {
	return c.start(ctx, "/device/configuration/set/"+url.PathEscape(config))
}

// Pull starts a pull job for image and returns its id
func (c *Client) Pull(ctx context.Context, image string) (int64, error) {
	return c.start(ctx, "/device/pull/"+image)
}

func (c *Client) start(ctx context.Context, path string) (int64, error) {
	env, err := check(c.Exec(ctx, path))
	if err != nil {
		return 0, err
	}
	var ticket struct {
		JobID int64 `json:"job_id"`
	}
	if err := env.DecodeData(&ticket); err != nil || ticket.JobID == 0 {
		return 0, errdefs.Decode(err, "response carries no job id")
	}
	return ticket.JobID, nil
}

// Job returns a job snapshot. Unknown ids are NotFound.
func (c *Client) Job(ctx context.Context, id int64) (*types.Job, error) {
	env, err := check(c.Get(ctx, "/device/monitor/"+strconv.FormatInt(id, 10)))
	if err != nil {
		return nil, err
	}
	var job types.Job
	if err := env.DecodeData(&job); err != nil {
		return nil, errdefs.Decode(err, "malformed job %d", id)
	}
	if job.ID == 0 {
		return nil, errdefs.NotFoundf("job %d not found", id)
	}
	return &job, nil
}

// Wait polls a job until it is terminal or ctx is done. progress, if not
// nil, sees every snapshot.
func (c *Client) Wait(ctx context.Context, id int64, interval time.Duration, progress func(*types.Job)) (*types.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(job)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Clear cancels and forgets every job on the device
func (c *Client) Clear(ctx context.Context) (int, error) {
	env, err := check(c.Exec(ctx, "/device/clear"))
	if err != nil {
		return 0, err
	}
	var data struct {
		Cleared int `json:"cleared"`
	}
	_ = env.DecodeData(&data)
	return data.Cleared, nil
}

// FleetSet sets a configuration on every member of a fleet led by this device
func (c *Client) FleetSet(ctx context.Context, config, fleet string) (*device.Envelope, error) {
	return check(c.Exec(ctx, fmt.Sprintf("/fleet/configuration/set/%s/%s", url.PathEscape(config), url.PathEscape(fleet))))
}

// FleetMonitor returns the progress of the last fleet job
func (c *Client) FleetMonitor(ctx context.Context, id int64, fleet string) (*device.Envelope, error) {
	return check(c.Get(ctx, fmt.Sprintf("/fleet/monitor/%d/%s", id, url.PathEscape(fleet))))
}
