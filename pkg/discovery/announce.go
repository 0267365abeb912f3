package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/archapi/pkg/log"
	"github.com/grandcat/zeroconf"
)

// Announcer publishes this device as online over mDNS
type Announcer struct {
	server *zeroconf.Server
}

// Announce registers DT::ONLINE::<hostname> on port with txt as its JSON
// TXT payload
func Announce(hostname string, port int, txt map[string]any) (*Announcer, error) {
	payload, err := json.Marshal(txt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode TXT payload: %w", err)
	}
	server, err := zeroconf.Register(OnlinePrefix+hostname, ServiceType, Domain, port, []string{string(payload)}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logger := log.WithComponent("discovery")
	logger.Info().
		Str("hostname", hostname).
		Int("port", port).
		Msg("Announcing device over mDNS")
	return &Announcer{server: server}, nil
}

// Stop withdraws the announcement
func (a *Announcer) Stop() {
	if a.server != nil {
		a.server.Shutdown()
	}
}
