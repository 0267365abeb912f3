package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstance(t *testing.T) {
	tests := []struct {
		instance string
		want     string
		ok       bool
	}{
		{"DT::ONLINE::watchtower01", "watchtower01", true},
		{"DT::ONLINE::autobot01._duckietown._tcp.local.", "autobot01", true},
		{`DT\:\:ONLINE\:\:autobot02`, "autobot02", true},
		{"DT::BUSY::autobot01", "", false},
		{"DT::ONLINE", "", false},
		{"DT::ONLINE::", "", false},
		{"printer", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.instance, func(t *testing.T) {
			got, ok := ParseInstance(tt.instance)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("DT::ONLINE::autobot01", ServiceType, Domain)
	entry.Port = 8083
	entry.Text = []string{`{"type":"duckiebot","version":"daffy"}`}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}

	svc, ok := fromEntry(entry)
	require.True(t, ok)
	assert.Equal(t, "autobot01", svc.Hostname)
	assert.Equal(t, 8083, svc.Port)
	assert.Equal(t, "duckiebot", svc.TXT["type"])
	assert.Equal(t, []string{"192.168.1.20"}, svc.Addresses)

	_, ok = fromEntry(zeroconf.NewServiceEntry("other", ServiceType, Domain))
	assert.False(t, ok)
}

func TestParseTXT(t *testing.T) {
	assert.Empty(t, parseTXT(nil))
	assert.Empty(t, parseTXT([]string{"not json"}))
	assert.Equal(t, map[string]any{"a": "b"}, parseTXT([]string{`{"a":"b"}`}))
}

func TestStatic(t *testing.T) {
	s := NewStatic("botB", "botA")

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"botA", "botB"}, Hostnames(found))

	s.Set("botC")
	found, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"botC"}, Hostnames(found))
}
