package fleet

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/archapi/pkg/device"
	"github.com/cuemby/archapi/pkg/device/devicetest"
	"github.com/cuemby/archapi/pkg/discovery"
	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/events"
	"github.com/cuemby/archapi/pkg/resolver"
	"github.com/cuemby/archapi/pkg/storage"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMembers routes member calls to in-process devices
type fakeMembers struct {
	mu      sync.Mutex
	devices map[string]*device.Service
	down    map[string]bool
	hang    map[string]bool
	calls   []string
}

func (f *fakeMembers) Query(ctx context.Context, host, endpoint string) (*device.Envelope, error) {
	return f.call(ctx, host, endpoint)
}

func (f *fakeMembers) Command(ctx context.Context, host, endpoint string) (*device.Envelope, error) {
	return f.call(ctx, host, endpoint)
}

func (f *fakeMembers) call(ctx context.Context, host, endpoint string) (*device.Envelope, error) {
	f.mu.Lock()
	f.calls = append(f.calls, host+" "+endpoint)
	svc, down, hang := f.devices[host], f.down[host], f.hang[host]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, errdefs.Transport(ctx.Err(), "%s is unreachable", host)
	}
	if down || svc == nil {
		return nil, errdefs.Transport(nil, "%s is unreachable", host)
	}

	var r device.Result
	switch {
	case endpoint == "/":
		r = svc.Default()
	case endpoint == "/clearance":
		r = svc.Clearance()
	case endpoint == "/configuration/status":
		r = svc.ConfigurationStatus(ctx)
	case strings.HasPrefix(endpoint, "/configuration/set/"):
		r = svc.SetConfiguration(strings.TrimPrefix(endpoint, "/configuration/set/"))
	case strings.HasPrefix(endpoint, "/monitor/"):
		id, _ := strconv.ParseInt(strings.TrimPrefix(endpoint, "/monitor/"), 10, 64)
		r = svc.Monitor(id)
	default:
		return nil, errdefs.Transport(nil, "%s returned 404 Not Found", host)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return device.DecodeEnvelope(raw)
}

func (f *fakeMembers) callsTo(suffix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.Contains(c, suffix) {
			out = append(out, c)
		}
	}
	return out
}

type recordingBroker struct {
	mu     sync.Mutex
	events []*events.Event
}

func (b *recordingBroker) Publish(e *events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBroker) kinds() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.EventType
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	fleet   *Orchestrator
	leader  *devicetest.Device
	bots    map[string]*devicetest.Device
	members *fakeMembers
	scanner *discovery.Static
	broker  *recordingBroker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol.yaml"), []byte("devices:\n  botA: duckiebot\n  botB: duckiebot\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "town.yaml"), []byte("devices:\n  - watchtower01\n  - botA\n  - watchtower02\n"), 0o644))

	leader := devicetest.New(t, devicetest.Options{Hostname: "watchtower01", RobotType: "watchtower"})
	bots := map[string]*devicetest.Device{
		"botA": devicetest.New(t, devicetest.Options{Hostname: "botA", RobotType: "duckiebot"}),
		"botB": devicetest.New(t, devicetest.Options{Hostname: "botB", RobotType: "duckiebot"}),
	}
	members := &fakeMembers{
		devices: map[string]*device.Service{"botA": bots["botA"].Service, "botB": bots["botB"].Service},
		down:    map[string]bool{},
		hang:    map[string]bool{},
	}
	scanner := discovery.NewStatic("watchtower01", "botA")
	broker := &recordingBroker{}

	o := New(Config{
		Local:         leader.Service,
		Fleets:        NewFiles(dir),
		Members:       members,
		Scanner:       scanner,
		Resolver:      resolver.New(leader.Catalog, "watchtower"),
		Storage:       storage.NewMemoryStore(),
		Broker:        broker,
		MemberTimeout: 200 * time.Millisecond,
	})
	return &harness{fleet: o, leader: leader, bots: bots, members: members, scanner: scanner, broker: broker}
}

func TestSetConfigRejectedWhenMemberBusy(t *testing.T) {
	h := newHarness(t)

	botA := h.bots["botA"]
	botA.Runtime.Gate = make(chan struct{})
	defer close(botA.Runtime.Gate)
	busy := botA.Service.PullImage("duckietown/dt-core:daffy")
	require.True(t, busy.IsOk())

	r := h.fleet.ConfigurationSetConfig(context.Background(), "town", "patrol")
	assert.Equal(t, device.KindError, r.Kind)
	assert.Contains(t, r.Message, "botA is busy")

	rej, ok := r.Data.(Rejection)
	require.True(t, ok)
	assert.Equal(t, []string{"botA"}, rej.Busy)
	assert.Empty(t, rej.Unreachable)
	assert.Equal(t, device.StatusBusy, rej.Clearance["botA"].Status)
	assert.Equal(t, device.StatusReady, rej.Clearance["botB"].Status)

	assert.Empty(t, h.members.callsTo("/configuration/set"))
	assert.Empty(t, h.leader.Orchestrator.Ledger().IDs())
	assert.Len(t, h.bots["botB"].Orchestrator.Ledger().IDs(), 0)
	assert.Contains(t, h.broker.kinds(), events.EventFleetRejected)

	_, err := h.fleet.Record("patrol")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestSetConfigRejectedWhenLeaderBusy(t *testing.T) {
	h := newHarness(t)
	h.leader.Runtime.Gate = make(chan struct{})
	defer close(h.leader.Runtime.Gate)
	require.True(t, h.leader.Service.PullImage("duckietown/dt-core:daffy").IsOk())

	r := h.fleet.ConfigurationSetConfig(context.Background(), "town", "patrol")
	require.Equal(t, device.KindError, r.Kind)
	assert.Equal(t, []string{"watchtower01"}, r.Data.(Rejection).Busy)
	assert.Empty(t, h.members.callsTo("/configuration/set"))
}

func TestSetConfigRejectedWhenMemberUnreachable(t *testing.T) {
	h := newHarness(t)
	h.members.down["botB"] = true
	h.members.hang["botA"] = true

	start := time.Now()
	r := h.fleet.ConfigurationSetConfig(context.Background(), "town", "patrol")
	require.Equal(t, device.KindError, r.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)

	rej := r.Data.(Rejection)
	assert.Empty(t, rej.Busy)
	assert.Equal(t, []string{"botA", "botB"}, rej.Unreachable)
	assert.Contains(t, r.Message, "botB is unreachable")
	assert.Empty(t, h.members.callsTo("/configuration/set"))
}

func TestSetConfigUnknownConfiguration(t *testing.T) {
	h := newHarness(t)

	r := h.fleet.ConfigurationSetConfig(context.Background(), "missing", "patrol")
	require.Equal(t, device.KindError, r.Kind)
	assert.Contains(t, r.Message, "missing")
	assert.Empty(t, h.members.callsTo("/clearance"))
}

func TestSetConfigThenMonitor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.fleet.ConfigurationSetConfig(ctx, "town", "patrol")
	require.True(t, r.IsOk(), "%v", r.Message)
	set := r.Data.(SetResult)
	assert.Equal(t, "ok", set.Status)
	require.Contains(t, set.Devices, "botA")
	require.Contains(t, set.Devices, "botB")

	record, err := h.fleet.Record("patrol")
	require.NoError(t, err)
	assert.Equal(t, set.JobID, record.JobID)
	assert.Equal(t, "town", record.Configuration)
	assert.Equal(t, "watchtower01-boot", record.Instance)
	assert.Equal(t, map[string]int64{"botA": 1, "botB": 1}, record.Devices)
	assert.Contains(t, h.broker.kinds(), events.EventFleetConfigSet)

	// a mismatched id contacts nobody
	before := len(h.members.callsTo("/monitor"))
	wrong := h.fleet.MonitorID(ctx, set.JobID+1, "patrol")
	assert.Equal(t, device.KindError, wrong.Kind)
	assert.Contains(t, wrong.Message, "does not match most recent process for fleet patrol")
	assert.Equal(t, before, len(h.members.callsTo("/monitor")))

	require.Eventually(t, func() bool {
		m := h.fleet.MonitorID(ctx, set.JobID, "patrol")
		if !m.IsOk() {
			return false
		}
		data := m.Data.(map[string]any)
		main := data["watchtower01"].(*types.Job)
		if main.Status != types.JobStatusComplete {
			return false
		}
		for _, bot := range []string{"botA", "botB"} {
			job, ok := data[bot].(map[string]any)
			if !ok || job["status"] != string(types.JobStatusComplete) {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	assert.Len(t, h.members.callsTo("/monitor/1"), len(h.members.callsTo("/monitor")))
}

func TestMonitorWithoutRecord(t *testing.T) {
	h := newHarness(t)

	r := h.fleet.MonitorID(context.Background(), 1, "patrol")
	assert.Equal(t, device.KindError, r.Kind)
	assert.Contains(t, r.Message, "there is no process for fleet patrol")
	assert.Empty(t, h.members.calls)
}

func TestMonitorDetectsStaleRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.fleet.ConfigurationSetConfig(ctx, "town", "patrol")
	require.True(t, r.IsOk())
	id := r.Data.(SetResult).JobID

	clearCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.True(t, h.leader.Service.ClearJobs(clearCtx).IsOk())

	m := h.fleet.MonitorID(ctx, id, "patrol")
	assert.Equal(t, device.KindError, m.Kind)
	assert.Contains(t, m.Message, "stale")
}

func TestMonitorReportsMemberThatLostItsJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.fleet.ConfigurationSetConfig(ctx, "town", "patrol")
	require.True(t, r.IsOk())
	id := r.Data.(SetResult).JobID

	clearCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.True(t, h.bots["botA"].Service.ClearJobs(clearCtx).IsOk())

	m := h.fleet.MonitorID(ctx, id, "patrol")
	assert.Equal(t, device.KindError, m.Kind)
	assert.Contains(t, m.Message, "botA")
	assert.NotContains(t, m.Message, "botB")

	data := m.Data.(map[string]any)
	lost := data["botA"].(device.Envelope)
	assert.Equal(t, "error", lost.Status)
	assert.Contains(t, lost.Message, "process 1 no longer exists on botA")
}

func TestDefaultResponseKeepsPartialResults(t *testing.T) {
	h := newHarness(t)
	h.members.down["botB"] = true

	r := h.fleet.DefaultResponse(context.Background(), "patrol")
	assert.Equal(t, device.KindError, r.Kind)
	assert.Contains(t, r.Message, "botB")

	data := r.Data.(map[string]device.Envelope)
	assert.Equal(t, "ok", data["watchtower01"].Status)
	assert.Equal(t, "ok", data["botA"].Status)
	assert.Equal(t, "error", data["botB"].Status)
}

func TestConfigurationStatusAllHealthy(t *testing.T) {
	h := newHarness(t)

	r := h.fleet.ConfigurationStatus(context.Background(), "patrol")
	require.True(t, r.IsOk())
	assert.Len(t, r.Data.(map[string]device.Envelope), 3)
}

func TestUnknownFleet(t *testing.T) {
	h := newHarness(t)

	r := h.fleet.DefaultResponse(context.Background(), "nowhere")
	assert.Equal(t, device.KindError, r.Kind)
	assert.Contains(t, r.Message, "nowhere.yaml")
}

func TestConfigurationInfoTree(t *testing.T) {
	h := newHarness(t)

	r := h.fleet.ConfigurationInfo("town")
	require.True(t, r.IsOk())
	tree := r.Data.(*resolver.Tree)
	assert.Equal(t, "town", tree.Configuration.Name)
	require.Contains(t, tree.Devices, "duckiebot")
	assert.Equal(t, "patrol", tree.Devices["duckiebot"].Configuration.Name)

	env := h.fleet.ConfigurationInfo("missing").Envelope()
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, env.Message, "missing")
	assert.Equal(t, map[string]any{}, env.Data)
}

func TestFleetScan(t *testing.T) {
	h := newHarness(t)

	r := h.fleet.FleetScan(context.Background())
	require.True(t, r.IsOk())
	res := r.Data.(ScanResult)
	assert.Equal(t, []string{"botA", "watchtower01"}, res.Online)
	assert.Equal(t, []string{"botB", "watchtower02"}, res.Offline)
	assert.Nil(t, r.Envelope().Message)
}

func TestFleetInfoAndList(t *testing.T) {
	h := newHarness(t)

	info := h.fleet.FleetInfo("patrol")
	require.True(t, info.IsOk())
	assert.Equal(t, []string{"botA", "botB"}, info.Data.(*types.Fleet).Hostnames())

	list := h.fleet.ListFleets()
	assert.Equal(t, map[string]any{"fleets": []string{"patrol", "town"}}, list.Data)
}
