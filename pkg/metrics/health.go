package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// ComponentStatus is the last state a component reported
type ComponentStatus struct {
	Healthy  bool      `json:"healthy"`
	Critical bool      `json:"critical"`
	Message  string    `json:"message,omitempty"`
	Updated  time.Time `json:"updated"`
}

// HealthStatus is the /health response. A failing critical component makes
// the device unhealthy; any other failing component only degrades it.
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
}

// Readiness tells whether every critical component is up
type Readiness struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
	// Pending lists the critical components not ready yet, sorted
	Pending []string `json:"pending,omitempty"`
	Message string   `json:"message,omitempty"`
}

type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]ComponentStatus
	critical   map[string]bool
	started    time.Time
	version    string
}

func newHealthRegistry(critical ...string) *healthRegistry {
	r := &healthRegistry{
		components: make(map[string]ComponentStatus),
		started:    time.Now(),
	}
	r.setCritical(critical)
	return r
}

func (r *healthRegistry) setCritical(names []string) {
	r.critical = make(map[string]bool, len(names))
	for _, n := range names {
		r.critical[n] = true
	}
}

// health is the process-wide registry; catalog, runtime and api gate readiness
var health = newHealthRegistry("catalog", "runtime", "api")

// SetCriticalComponents replaces the components readiness waits for
func SetCriticalComponents(names ...string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.setCritical(names)
}

// SetVersion sets the version reported by /health
func SetVersion(version string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.version = version
}

// RegisterComponent records the state of a component
func RegisterComponent(name string, healthy bool, message string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.components[name] = ComponentStatus{
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is RegisterComponent for components already known
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth returns the overall health
func GetHealth() HealthStatus {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := StatusHealthy
	components := make(map[string]ComponentStatus, len(health.components))
	for name, c := range health.components {
		c.Critical = health.critical[name]
		components[name] = c
		if c.Healthy {
			continue
		}
		if c.Critical {
			status = StatusUnhealthy
		} else if status == StatusHealthy {
			status = StatusDegraded
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    health.version,
		Uptime:     time.Since(health.started).Round(time.Second).String(),
	}
}

// GetReadiness reports ready once every critical component is registered
// and healthy
func GetReadiness() Readiness {
	health.mu.RLock()
	defer health.mu.RUnlock()

	components := make(map[string]string, len(health.critical))
	var pending []string
	for name := range health.critical {
		c, ok := health.components[name]
		switch {
		case !ok:
			components[name] = "not registered"
			pending = append(pending, name)
		case !c.Healthy:
			components[name] = "not ready: " + c.Message
			pending = append(pending, name)
		default:
			components[name] = StatusReady
		}
	}
	sort.Strings(pending)

	r := Readiness{
		Status:     StatusReady,
		Timestamp:  time.Now(),
		Components: components,
		Pending:    pending,
	}
	if len(pending) > 0 {
		r.Status = StatusNotReady
		r.Message = "waiting for " + strings.Join(pending, ", ")
	}
	return r
}

// HealthHandler serves GetHealth. Only an unhealthy device answers 503.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := GetHealth()
		code := http.StatusOK
		if h.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	}
}

// LivenessHandler answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health.mu.RLock()
		started := health.started
		health.mu.RUnlock()
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
