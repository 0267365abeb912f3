package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	assert.GreaterOrEqual(t, timer.Duration(), 20*time.Millisecond)
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_pull_seconds",
		Help: "test",
	})

	NewTimer().ObserveDuration(h)
	NewTimer().ObserveDuration(h)

	assert.Equal(t, 1, testutil.CollectAndCount(h))
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_member_request_seconds",
		Help: "test",
	}, []string{"endpoint"})

	NewTimer().ObserveDurationVec(vec, "/clearance")
	NewTimer().ObserveDurationVec(vec, "/configuration/set")
	NewTimer().ObserveDurationVec(vec, "/clearance")

	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}
