package catalog

import (
	"testing"

	"github.com/cuemby/archapi/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
)

func fsnotifyWrite(name string) fsnotify.Event {
	return fsnotify.Event{Name: name, Op: fsnotify.Write}
}

func TestNormalizePorts(t *testing.T) {
	tests := []struct {
		name    string
		specs   []string
		want    map[string]int
		wantErr bool
	}{
		{name: "external internal", specs: []string{"8080:80"}, want: map[string]int{"80": 8080}},
		{name: "single port", specs: []string{"9090"}, want: map[string]int{"9090": 9090}},
		{name: "with ip", specs: []string{"0.0.0.0:8443:443"}, want: map[string]int{"443": 8443}},
		{name: "udp", specs: []string{"5353:53/udp"}, want: map[string]int{"53/udp": 5353}},
		{name: "empty", specs: nil, want: nil},
		{name: "bad external", specs: []string{"x:80"}, wantErr: true},
		{name: "bad protocol", specs: []string{"80:80/icmp"}, wantErr: true},
		{name: "too many parts", specs: []string{"a:b:c:d"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizePorts(tt.specs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeVolumes(t *testing.T) {
	got, err := normalizeVolumes([]string{"/host:/container", "/data:/data:ro"})
	assert.NoError(t, err)
	assert.Equal(t, map[string]types.VolumeBind{
		"/host": {Target: "/container", Mode: "rw"},
		"/data": {Target: "/data", Mode: "ro"},
	}, got)

	_, err = normalizeVolumes([]string{"/only"})
	assert.Error(t, err)

	_, err = normalizeVolumes([]string{"/a:/b:rx"})
	assert.Error(t, err)
}

func TestNormalizeRestartAndDetach(t *testing.T) {
	detach := false
	def, err := normalize("svc", &moduleFile{Configuration: &rawContainer{
		Image:   "svc",
		Restart: "unless-stopped",
		Detach:  &detach,
		Name:    "plain",
	}}, "")
	assert.NoError(t, err)
	assert.Equal(t, "unless-stopped", def.Configuration.RestartPolicy.Name)
	assert.False(t, def.Configuration.Detach)
	assert.Equal(t, "plain", def.Configuration.Name)

	_, err = normalize("svc", &moduleFile{Configuration: &rawContainer{Image: "svc", Restart: "sometimes"}}, "")
	assert.Error(t, err)
}
