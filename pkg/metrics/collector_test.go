package metrics

import (
	"testing"
	"time"

	"github.com/cuemby/archapi/pkg/events"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type staticJobs map[int64]*types.Job

func (s staticJobs) Snapshot() map[int64]*types.Job { return s }

func TestCollectorSamplesLedger(t *testing.T) {
	c := NewCollector(staticJobs{
		1: {ID: 1, Status: types.JobStatusComplete},
		2: {ID: 2, Status: types.JobStatusComplete},
		3: {ID: 3, Status: types.JobStatusProcessing},
	}, nil)

	c.collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(JobsInLedger.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(JobsInLedger.WithLabelValues("processing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(JobsInLedger.WithLabelValues("error")))
}

func TestCollectorObservesEvents(t *testing.T) {
	c := NewCollector(staticJobs{}, nil)

	created := testutil.ToFloat64(JobsCreated.WithLabelValues("pull-image"))
	failed := testutil.ToFloat64(JobsTotal.WithLabelValues("pull-image", "error"))
	rejected := testutil.ToFloat64(FleetAdmissionRejections)

	c.observe(&events.Event{Type: events.EventJobCreated, Metadata: map[string]string{"kind": "pull-image"}})
	c.observe(&events.Event{Type: events.EventJobFailed, Metadata: map[string]string{
		"kind": "pull-image", "status": "error", "duration": (3 * time.Second).String(),
	}})
	c.observe(&events.Event{Type: events.EventFleetRejected})

	assert.Equal(t, created+1, testutil.ToFloat64(JobsCreated.WithLabelValues("pull-image")))
	assert.Equal(t, failed+1, testutil.ToFloat64(JobsTotal.WithLabelValues("pull-image", "error")))
	assert.Equal(t, rejected+1, testutil.ToFloat64(FleetAdmissionRejections))
}

func TestCollectorStartStop(t *testing.T) {
	b := events.NewBroker()
	b.Start()
	defer b.Stop()

	c := NewCollector(staticJobs{}, b)
	c.Start()
	assert.Equal(t, 1, b.SubscriberCount())

	c.Stop()
	assert.Equal(t, 0, b.SubscriberCount())
}
