package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_duckietown._tcp"
	Domain      = "local."

	// OnlinePrefix marks the instance every running device announces
	OnlinePrefix = "DT::ONLINE::"

	DefaultTimeout = 3 * time.Second
)

// Service is a device found on the local network
type Service struct {
	Hostname  string         `json:"hostname"`
	Port      int            `json:"port"`
	Addresses []string       `json:"addresses,omitempty"`
	TXT       map[string]any `json:"txt"`
}

// Scanner finds online devices
type Scanner interface {
	Scan(ctx context.Context) (map[string]Service, error)
}

// Zeroconf browses mDNS for announced devices
type Zeroconf struct {
	// Timeout bounds a scan when ctx carries no deadline
	Timeout time.Duration
}

// NewZeroconf creates an mDNS scanner
func NewZeroconf(timeout time.Duration) *Zeroconf {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Zeroconf{Timeout: timeout}
}

// Scan browses for the duration of the timeout and returns every device
// announcing itself online
func (z *Zeroconf) Scan(ctx context.Context) (map[string]Service, error) {
	logger := log.WithComponent("discovery")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, z.Timeout)
		defer cancel()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Service)
	var mu sync.Mutex
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc, ok := fromEntry(entry)
				if !ok {
					continue
				}
				mu.Lock()
				found[svc.Hostname] = svc
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", ServiceType, err)
	}
	<-ctx.Done()
	<-done

	mu.Lock()
	defer mu.Unlock()
	metrics.DevicesDiscovered.Set(float64(len(found)))
	logger.Debug().Int("devices", len(found)).Msg("mDNS scan finished")
	return found, nil
}

// fromEntry converts an mDNS entry. Only DT::ONLINE::<hostname> instances
// are accepted.
func fromEntry(entry *zeroconf.ServiceEntry) (Service, bool) {
	hostname, ok := ParseInstance(entry.Instance)
	if !ok {
		return Service{}, false
	}
	svc := Service{
		Hostname: hostname,
		Port:     entry.Port,
		TXT:      parseTXT(entry.Text),
	}
	for _, ip := range entry.AddrIPv4 {
		svc.Addresses = append(svc.Addresses, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		svc.Addresses = append(svc.Addresses, ip.String())
	}
	return svc, true
}

// ParseInstance extracts the hostname from an online instance name
func ParseInstance(instance string) (string, bool) {
	instance = strings.TrimSuffix(instance, "."+ServiceType+"."+Domain)
	// some stacks return the colons escaped
	instance = strings.ReplaceAll(instance, `\:`, ":")
	parts := strings.Split(instance, "::")
	if len(parts) != 3 || parts[0] != "DT" || parts[1] != "ONLINE" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// parseTXT decodes the JSON payload devices put in their first TXT record
func parseTXT(text []string) map[string]any {
	out := map[string]any{}
	if len(text) == 0 || text[0] == "" {
		return out
	}
	if err := json.Unmarshal([]byte(text[0]), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// Static is a fixed scanner for tests and pinned deployments
type Static struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewStatic returns a scanner reporting the given hostnames online
func NewStatic(hostnames ...string) *Static {
	s := &Static{services: make(map[string]Service)}
	for _, h := range hostnames {
		s.services[h] = Service{Hostname: h, TXT: map[string]any{}}
	}
	return s
}

// Set replaces the online set
func (s *Static) Set(hostnames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = make(map[string]Service, len(hostnames))
	for _, h := range hostnames {
		s.services[h] = Service{Hostname: h, TXT: map[string]any{}}
	}
}

func (s *Static) Scan(ctx context.Context) (map[string]Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Service, len(s.services))
	for k, v := range s.services {
		out[k] = v
	}
	metrics.DevicesDiscovered.Set(float64(len(out)))
	return out, nil
}

// Hostnames returns the sorted hostnames of a scan result
func Hostnames(services map[string]Service) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
