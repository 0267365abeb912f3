package fleet

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/archapi/pkg/device"
	"github.com/cuemby/archapi/pkg/discovery"
	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/events"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/cuemby/archapi/pkg/orchestrator"
	"github.com/cuemby/archapi/pkg/resolver"
	"github.com/cuemby/archapi/pkg/storage"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMemberTimeout = 10 * time.Second
	DefaultConcurrency   = 8
)

// TreeResolver expands a configuration together with its sub-configurations
type TreeResolver interface {
	ResolveTree(robotType, name string) (*resolver.Tree, error)
}

// Publisher receives fleet events
type Publisher interface {
	Publish(event *events.Event)
}

// Config configures an Orchestrator
type Config struct {
	// Local is the device leading the fleet
	Local    *device.Service
	Fleets   *Files
	Members  Members
	Scanner  discovery.Scanner
	Resolver TreeResolver
	Storage  storage.Store
	Broker   Publisher

	MemberTimeout time.Duration
	Concurrency   int
}

// Orchestrator runs fleet-wide operations from the local device
type Orchestrator struct {
	local    *device.Service
	fleets   *Files
	members  Members
	scanner  discovery.Scanner
	resolver TreeResolver
	store    storage.Store
	broker   Publisher

	timeout     time.Duration
	concurrency int

	// serializes mutating fleet operations
	mu     sync.Mutex
	logger zerolog.Logger
}

// New creates a fleet orchestrator
func New(cfg Config) *Orchestrator {
	if cfg.MemberTimeout <= 0 {
		cfg.MemberTimeout = DefaultMemberTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		local:       cfg.Local,
		fleets:      cfg.Fleets,
		members:     cfg.Members,
		scanner:     cfg.Scanner,
		resolver:    cfg.Resolver,
		store:       cfg.Storage,
		broker:      cfg.Broker,
		timeout:     cfg.MemberTimeout,
		concurrency: cfg.Concurrency,
		logger:      log.WithComponent("fleet"),
	}
}

// reply is one member's answer, or why there is none
type reply struct {
	env *device.Envelope
	err error
}

// failed reports whether the member failed to answer or answered an error
func (r reply) failed() bool {
	return r.err != nil || r.env.Status == device.StatusError
}

// envelope returns the member's envelope, or an error envelope for a failure
func (r reply) envelope() device.Envelope {
	if r.err != nil {
		return device.Error(r.err.Error(), nil).Envelope()
	}
	return *r.env
}

// fanOut calls every host concurrently with its own timeout. It returns
// after every call finished; one failure never cancels the others.
func (o *Orchestrator) fanOut(ctx context.Context, op string, hosts []string, call func(ctx context.Context, host string) (*device.Envelope, error)) map[string]reply {
	replies := make(map[string]reply, len(hosts))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, host := range hosts {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()

			env, err := timedCall(op, func() (*device.Envelope, error) { return call(cctx, host) })
			if err != nil {
				o.logger.Warn().Err(err).Str("device", host).Str("endpoint", op).Msg("Fleet member call failed")
			}
			mu.Lock()
			replies[host] = reply{env: env, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return replies
}

func (o *Orchestrator) query(ctx context.Context, op string, hosts []string, endpoint string) map[string]reply {
	return o.fanOut(ctx, op, hosts, func(ctx context.Context, host string) (*device.Envelope, error) {
		return o.members.Query(ctx, host, endpoint)
	})
}

// loadFleet reads a fleet and returns its members other than the local device
func (o *Orchestrator) loadFleet(name string) (*types.Fleet, []string, error) {
	fl, err := o.fleets.Load(name)
	if err != nil {
		return nil, nil, err
	}
	return fl, fl.Without(o.local.Hostname()), nil
}

func (o *Orchestrator) observe(op string, r device.Result) device.Result {
	metrics.FleetOperationsTotal.WithLabelValues(op, r.Envelope().Status).Inc()
	return r
}

// DefaultResponse collects the default response of every fleet device
func (o *Orchestrator) DefaultResponse(ctx context.Context, fleetName string) device.Result {
	_, members, err := o.loadFleet(fleetName)
	if err != nil {
		return o.observe("default", device.Failure(err))
	}
	main := o.local.Default()
	if !main.IsOk() {
		return o.observe("default", main)
	}

	replies := o.query(ctx, "/", members, "/")
	data, failed := merge(o.local.Hostname(), main, replies)
	if len(failed) > 0 {
		return o.observe("default", device.Error("A fleet device encountered an error: "+strings.Join(failed, ", "), data))
	}
	return o.observe("default", device.Ok(data))
}

// ConfigurationStatus collects the container status of every fleet device
func (o *Orchestrator) ConfigurationStatus(ctx context.Context, fleetName string) device.Result {
	_, members, err := o.loadFleet(fleetName)
	if err != nil {
		return o.observe("status", device.Failure(err))
	}
	main := o.local.ConfigurationStatus(ctx)
	replies := o.query(ctx, "/configuration/status", members, "/configuration/status")

	data, failed := merge(o.local.Hostname(), main, replies)
	if !main.IsOk() {
		failed = append([]string{o.local.Hostname()}, failed...)
	}
	if len(failed) > 0 {
		return o.observe("status", device.Error("A fleet device encountered an error: "+strings.Join(failed, ", "), data))
	}
	return o.observe("status", device.Ok(data))
}

// merge keys every envelope by hostname and lists the failed members
func merge(mainHost string, main device.Result, replies map[string]reply) (map[string]device.Envelope, []string) {
	data := make(map[string]device.Envelope, len(replies)+1)
	data[mainHost] = main.Envelope()
	var failed []string
	for host, r := range replies {
		data[host] = r.envelope()
		if r.failed() {
			failed = append(failed, host)
		}
	}
	sort.Strings(failed)
	return data, failed
}

// ConfigurationInfo resolves a configuration for the local robot type and
// every sub-configuration its device kinds declare
func (o *Orchestrator) ConfigurationInfo(config string) device.Result {
	tree, err := o.resolver.ResolveTree(o.local.RobotType(), config)
	if err != nil {
		return o.observe("info", device.Failure(err))
	}
	return o.observe("info", device.Ok(tree))
}

// SetResult is the data of a successful fleet set-configuration
type SetResult struct {
	Status  string                     `json:"status"`
	JobID   int64                      `json:"job_id"`
	Devices map[string]device.Envelope `json:"data"`
}

// ConfigurationSetConfig applies config to the local device and every
// member of the fleet. If any device is busy or unreachable nothing is
// applied anywhere.
func (o *Orchestrator) ConfigurationSetConfig(ctx context.Context, config, fleetName string) device.Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	logger := log.WithFleet(fleetName)

	rc, err := o.local.Resolve(config)
	if err != nil {
		return o.observe("set", device.Failure(err))
	}
	_, members, err := o.loadFleet(fleetName)
	if err != nil {
		return o.observe("set", device.Failure(err))
	}

	if rejected := o.admit(ctx, fleetName, members); rejected != nil {
		return o.observe("set", *rejected)
	}

	main := o.local.SetResolved(rc)
	if !main.IsOk() {
		return o.observe("set", main)
	}
	ticket := main.Data.(orchestrator.Ticket)

	replies := o.fanOut(ctx, "/configuration/set", members, func(ctx context.Context, host string) (*device.Envelope, error) {
		return o.members.Command(ctx, host, "/configuration/set/"+config)
	})

	record := &types.FleetCorrelationRecord{
		Fleet:         fleetName,
		Configuration: config,
		JobID:         ticket.JobID,
		Instance:      o.local.Instance(),
		Devices:       make(map[string]int64, len(replies)),
		CreatedAt:     time.Now(),
	}
	devices := make(map[string]device.Envelope, len(replies))
	var failed []string
	for host, r := range replies {
		devices[host] = r.envelope()
		if r.failed() {
			failed = append(failed, host)
			continue
		}
		var t orchestrator.Ticket
		if err := r.env.DecodeData(&t); err != nil || t.JobID == 0 {
			failed = append(failed, host)
			continue
		}
		record.Devices[host] = t.JobID
	}
	sort.Strings(failed)

	if err := o.store.SaveRecord(record); err != nil {
		logger.Error().Err(err).Msg("Failed to save fleet correlation record")
		return o.observe("set", device.Failure(fmt.Errorf("failed to save fleet record: %w", err)))
	}
	o.publish(events.EventFleetConfigSet, fleetName, fmt.Sprintf("configuration %s set on fleet %s", config, fleetName), map[string]string{
		"configuration": config,
		"job_id":        strconv.FormatInt(ticket.JobID, 10),
		"failed":        strings.Join(failed, ","),
	})
	logger.Info().
		Str("configuration", config).
		Int64("job_id", ticket.JobID).
		Int("members", len(members)).
		Int("failed", len(failed)).
		Msg("Fleet configuration set")

	data := SetResult{Status: orchestrator.TicketOK, JobID: ticket.JobID, Devices: devices}
	if len(failed) > 0 {
		return o.observe("set", device.Error("Failed to set configuration on: "+strings.Join(failed, ", "), data))
	}
	return o.observe("set", device.Ok(data))
}

// Rejection is the data of a fleet set-configuration refused at admission
type Rejection struct {
	Busy        []string                   `json:"busy"`
	Unreachable []string                   `json:"unreachable"`
	Clearance   map[string]device.Envelope `json:"clearance"`
}

// admit checks the clearance of the local device and every member
// concurrently. It returns nil when all of them are ready.
func (o *Orchestrator) admit(ctx context.Context, fleetName string, members []string) *device.Result {
	local := o.local.Clearance()
	replies := o.query(ctx, "/clearance", members, "/clearance")

	rej := Rejection{Busy: []string{}, Unreachable: []string{}, Clearance: map[string]device.Envelope{}}
	var reasons []string

	mainHost := o.local.Hostname()
	rej.Clearance[mainHost] = local.Envelope()
	if local.Envelope().Status == device.StatusBusy {
		rej.Busy = append(rej.Busy, mainHost)
	}

	for host, r := range replies {
		rej.Clearance[host] = r.envelope()
		switch {
		case r.err != nil:
			rej.Unreachable = append(rej.Unreachable, host)
		case r.env.Status == device.StatusBusy:
			rej.Busy = append(rej.Busy, host)
		case r.env.Status != device.StatusReady:
			rej.Unreachable = append(rej.Unreachable, host)
		}
	}
	if len(rej.Busy) == 0 && len(rej.Unreachable) == 0 {
		return nil
	}

	sort.Strings(rej.Busy)
	sort.Strings(rej.Unreachable)
	for _, host := range rej.Busy {
		reasons = append(reasons, host+" is busy")
	}
	for _, host := range rej.Unreachable {
		reasons = append(reasons, host+" is unreachable")
	}
	message := "One or more fleet devices are still busy with another process, cannot proceed: " + strings.Join(reasons, ", ")

	o.publish(events.EventFleetRejected, fleetName, message, map[string]string{
		"busy":        strings.Join(rej.Busy, ","),
		"unreachable": strings.Join(rej.Unreachable, ","),
	})
	logger := log.WithFleet(fleetName)
	logger.Warn().
		Strs("busy", rej.Busy).
		Strs("unreachable", rej.Unreachable).
		Msg("Fleet set-configuration rejected")

	r := device.Error(message, rej)
	return &r
}

// MonitorID reports the jobs started by the fleet's last set-configuration.
// id must be the job id of the local device in that record.
func (o *Orchestrator) MonitorID(ctx context.Context, id int64, fleetName string) device.Result {
	record, err := o.store.GetRecord(fleetName)
	if err != nil {
		return o.observe("monitor", device.Failure(err))
	}
	if record.JobID != id {
		return o.observe("monitor", device.Error(fmt.Sprintf("The specified id %d does not match most recent process for fleet %s", id, fleetName), nil))
	}

	mainHost := o.local.Hostname()
	if record.Instance != o.local.Instance() {
		return o.observe("monitor", device.Error(fmt.Sprintf("The process %d of fleet %s is stale: %s restarted since it was started", id, fleetName, mainHost), nil))
	}
	job, err := o.local.Job(id)
	if err != nil {
		return o.observe("monitor", device.Error(fmt.Sprintf("The process %d of fleet %s is stale: it no longer exists on %s", id, fleetName, mainHost), nil))
	}

	_, members, err := o.loadFleet(fleetName)
	if err != nil {
		return o.observe("monitor", device.Failure(err))
	}

	replies := o.fanOut(ctx, "/monitor", members, func(ctx context.Context, host string) (*device.Envelope, error) {
		jobID, ok := record.Devices[host]
		if !ok {
			return nil, errdefs.NotFoundf("no process recorded for %s in fleet %s", host, fleetName)
		}
		env, err := o.members.Query(ctx, host, "/monitor/"+strconv.FormatInt(jobID, 10))
		if err != nil || env.Status == device.StatusError {
			return env, err
		}
		// an unknown id answers ok with the ledger snapshot, which is not the job
		var memberJob types.Job
		if env.DecodeData(&memberJob) != nil || memberJob.ID != jobID {
			return nil, errdefs.NotFoundf("process %d no longer exists on %s", jobID, host)
		}
		return env, nil
	})

	data := map[string]any{mainHost: job}
	var failed []string
	for host, r := range replies {
		if r.failed() {
			failed = append(failed, host)
			data[host] = r.envelope()
			continue
		}
		data[host] = r.env.Data
	}
	sort.Strings(failed)
	if len(failed) > 0 {
		return o.observe("monitor", device.Error("A fleet device encountered an error: "+strings.Join(failed, ", "), data))
	}
	return o.observe("monitor", device.Ok(data))
}

// ScanResult partitions known devices by reachability
type ScanResult struct {
	Online  []string `json:"online"`
	Offline []string `json:"offline"`
}

// FleetScan checks which devices named in any fleet file are online
func (o *Orchestrator) FleetScan(ctx context.Context) device.Result {
	fleets, err := o.fleets.All()
	if err != nil {
		return o.observe("scan", device.Failure(err))
	}
	found, err := o.scanner.Scan(ctx)
	if err != nil {
		return o.observe("scan", device.Failure(fmt.Errorf("failed to scan for devices: %w", err)))
	}

	online := make(map[string]bool, len(found))
	for host := range found {
		online[host] = true
	}
	res := ScanResult{Online: []string{}, Offline: []string{}}
	seen := map[string]bool{}
	for _, fl := range fleets {
		up, down := fl.Partition(online)
		for _, h := range up {
			if !seen[h] {
				seen[h] = true
				res.Online = append(res.Online, h)
			}
		}
		for _, h := range down {
			if !seen[h] {
				seen[h] = true
				res.Offline = append(res.Offline, h)
			}
		}
	}
	return o.observe("scan", device.Result{Kind: device.KindOk, Data: res})
}

// FleetInfo returns a fleet definition
func (o *Orchestrator) FleetInfo(fleetName string) device.Result {
	fl, err := o.fleets.Load(fleetName)
	if err != nil {
		return o.observe("fleet_info", device.Failure(err))
	}
	return o.observe("fleet_info", device.Ok(fl))
}

// ListFleets lists the fleet names
func (o *Orchestrator) ListFleets() device.Result {
	names, err := o.fleets.List()
	if err != nil {
		return o.observe("fleet_list", device.Failure(err))
	}
	return o.observe("fleet_list", device.Ok(map[string]any{"fleets": names}))
}

// Record returns the correlation record of a fleet
func (o *Orchestrator) Record(fleetName string) (*types.FleetCorrelationRecord, error) {
	return o.store.GetRecord(fleetName)
}

func (o *Orchestrator) publish(t events.EventType, fleetName, message string, metadata map[string]string) {
	if o.broker == nil {
		return
	}
	metadata["fleet"] = fleetName
	o.broker.Publish(&events.Event{
		Type:     t,
		Message:  message,
		Metadata: metadata,
	})
}
