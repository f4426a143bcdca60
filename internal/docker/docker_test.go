package docker

import (
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/fleetwatch/internal/logging"
	"github.com/chis/fleetwatch/internal/tunnel"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		ref  string
		want Reference
	}{
		{"nginx", Reference{Domain: "docker.io", Path: "library/nginx", Tag: "latest"}},
		{"nginx:1.25.3", Reference{Domain: "docker.io", Path: "library/nginx", Tag: "1.25.3"}},
		{"linuxserver/radarr:5.2", Reference{Domain: "docker.io", Path: "linuxserver/radarr", Tag: "5.2"}},
		{"ghcr.io/owner/app:v1.0.0", Reference{Domain: "ghcr.io", Path: "owner/app", Tag: "v1.0.0"}},
		{"registry.lan:5000/team/api", Reference{Domain: "registry.lan:5000", Path: "team/api", Tag: "latest"}},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParseReference(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseReference("UPPER/case")
	assert.Error(t, err)
}

func TestImageReference(t *testing.T) {
	ref, ok := ImageReference(container.Summary{Image: "nginx:1.25"}, image.InspectResponse{})
	assert.True(t, ok)
	assert.Equal(t, "nginx:1.25", ref)

	digestOnly := container.Summary{Image: "sha256:0123456789abcdef"}
	ref, ok = ImageReference(digestOnly, image.InspectResponse{RepoTags: []string{"redis:7.2", "redis:7"}})
	assert.True(t, ok)
	assert.Equal(t, "redis:7.2", ref)

	_, ok = ImageReference(digestOnly, image.InspectResponse{})
	assert.False(t, ok)
}

func TestRepoDigest(t *testing.T) {
	assert.Equal(t, "sha256:abc", RepoDigest(image.InspectResponse{RepoDigests: []string{"nginx@sha256:abc", "other@sha256:def"}}))
	assert.Equal(t, "", RepoDigest(image.InspectResponse{}))
}

func TestConfigImage(t *testing.T) {
	assert.Equal(t, "sha256:parent", ConfigImage([]byte(`{"Id": "sha256:img1", "Config": {"Image": "sha256:parent"}}`)))
	assert.Equal(t, "sha256:legacy", ConfigImage([]byte(`{"Config": {"Image": ""}, "ContainerConfig": {"Image": "sha256:legacy"}}`)))
	assert.Equal(t, "", ConfigImage([]byte(`{"Id": "sha256:img1", "Config": null}`)))
	assert.Equal(t, "", ConfigImage(nil))
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "web", ContainerName(container.Summary{ID: "c1", Names: []string{"/web"}}))
	assert.Equal(t, "c1", ContainerName(container.Summary{ID: "c1"}))
}

const statsSample = `{
	"read": "2026-03-01T10:00:00Z",
	"cpu_stats": {
		"cpu_usage": {"total_usage": 300000000},
		"system_cpu_usage": 2000000000,
		"online_cpus": 2
	},
	"precpu_stats": {
		"cpu_usage": {"total_usage": 100000000},
		"system_cpu_usage": 1000000000
	},
	"memory_stats": {
		"usage": 104857600,
		"limit": 419430400,
		"stats": {"inactive_file": 20971520}
	},
	"networks": {
		"eth0": {"rx_bytes": 1000, "tx_bytes": 500},
		"eth1": {"rx_bytes": 24, "tx_bytes": 12}
	}
}`

func TestComputeStats(t *testing.T) {
	sample, err := DecodeStats(strings.NewReader(statsSample))
	require.NoError(t, err)

	stats := ComputeStats("c1", sample)
	assert.Equal(t, "c1", stats.ContainerID)
	assert.InDelta(t, 40.0, stats.CPUPercent, 0.001)
	assert.Equal(t, uint64(83886080), stats.MemoryUsage)
	assert.Equal(t, uint64(419430400), stats.MemoryLimit)
	assert.InDelta(t, 20.0, stats.MemoryPercent, 0.001)
	assert.Equal(t, uint64(1024), stats.NetworkRx)
	assert.Equal(t, uint64(512), stats.NetworkTx)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), stats.CreatedAt)
}

func TestComputeStatsWithoutPreviousSample(t *testing.T) {
	sample, err := DecodeStats(strings.NewReader(`{"cpu_stats": {"cpu_usage": {"total_usage": 5}}, "memory_stats": {"usage": 10, "stats": {"cache": 4}}}`))
	require.NoError(t, err)

	stats := ComputeStats("c1", sample)
	assert.Zero(t, stats.CPUPercent)
	assert.Equal(t, uint64(6), stats.MemoryUsage)
	assert.Zero(t, stats.MemoryPercent)
	assert.False(t, stats.CreatedAt.IsZero())
}

func TestComputeStatsEmptyPreviousCPU(t *testing.T) {
	// Single read: the daemon sends precpu_stats without usage
	sample, err := DecodeStats(strings.NewReader(`{
		"read": "2026-03-01T10:00:00Z",
		"preread": "0001-01-01T00:00:00Z",
		"cpu_stats": {
			"cpu_usage": {"total_usage": 4000000000},
			"system_cpu_usage": 800000000000,
			"online_cpus": 4
		},
		"precpu_stats": {"cpu_usage": {"total_usage": 0}, "throttling_data": {}},
		"memory_stats": {"usage": 1048576, "limit": 4194304}
	}`))
	require.NoError(t, err)

	stats := ComputeStats("c1", sample)
	assert.Zero(t, stats.CPUPercent)
	assert.InDelta(t, 25.0, stats.MemoryPercent, 0.001)
}

func TestDecodeStatsError(t *testing.T) {
	_, err := DecodeStats(strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestTLSFiles(t *testing.T) {
	assert.False(t, TLSFiles{}.Enabled())
	assert.True(t, TLSFiles{CAFile: "/ca.pem"}.Enabled())
}

func TestClientConstructors(t *testing.T) {
	cli, err := NewSocketClient("/var/run/docker.sock")
	require.NoError(t, err)
	assert.Equal(t, "unix:///var/run/docker.sock", cli.DaemonHost())

	cli, err = NewTCPClient("10.0.0.5", 0, TLSFiles{})
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.5:2375", cli.DaemonHost())

	agent, err := tunnel.New(tunnel.Config{Host: "10.0.0.5", Username: "root", Password: "pw"}, logging.Discard())
	require.NoError(t, err)
	cli, err = NewTunnelClient(agent)
	require.NoError(t, err)
	assert.Equal(t, tunnelHost, cli.DaemonHost())
}
