package metrics

import (
	"time"

	"github.com/cuemby/archapi/pkg/events"
	"github.com/cuemby/archapi/pkg/types"
)

// JobSource exposes the ledger state the collector samples
type JobSource interface {
	Snapshot() map[int64]*types.Job
}

// Collector turns lifecycle events into counters and periodically samples
// the job ledger into gauges
type Collector struct {
	jobs     JobSource
	broker   *events.Broker
	sub      events.Subscriber
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(jobs JobSource, broker *events.Broker) *Collector {
	return &Collector{
		jobs:     jobs,
		broker:   broker,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	if c.broker != nil {
		c.sub = c.broker.Subscribe(
			events.EventJobCreated,
			events.EventJobCompleted,
			events.EventJobFailed,
			events.EventJobTerminated,
			events.EventJobsCleared,
			events.EventFleetRejected,
			events.EventCatalogChanged,
		)
	}

	sub := c.sub
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case ev, ok := <-sub:
				if !ok {
					sub = nil
					continue
				}
				c.observe(ev)
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	if c.sub != nil {
		c.broker.Unsubscribe(c.sub)
	}
}

func (c *Collector) collect() {
	if c.jobs == nil {
		return
	}

	counts := map[types.JobStatus]int{
		types.JobStatusProcessing: 0,
		types.JobStatusComplete:   0,
		types.JobStatusError:      0,
		types.JobStatusTerminated: 0,
	}
	for _, job := range c.jobs.Snapshot() {
		counts[job.Status]++
	}

	for status, count := range counts {
		JobsInLedger.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) observe(ev *events.Event) {
	kind := ev.Metadata["kind"]

	switch ev.Type {
	case events.EventJobCreated:
		JobsCreated.WithLabelValues(kind).Inc()
	case events.EventJobCompleted, events.EventJobFailed, events.EventJobTerminated:
		JobsTotal.WithLabelValues(kind, ev.Metadata["status"]).Inc()
		if d, err := time.ParseDuration(ev.Metadata["duration"]); err == nil && d > 0 {
			JobDuration.WithLabelValues(kind).Observe(d.Seconds())
		}
	case events.EventJobsCleared:
		LedgerClears.Inc()
		c.collect()
	case events.EventFleetRejected:
		FleetAdmissionRejections.Inc()
	case events.EventCatalogChanged:
		CatalogChanges.Inc()
	}
}
