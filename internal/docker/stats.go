package docker

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/chis/fleetwatch/internal/model"
)

// DecodeStats reads one stats sample from a non streamed stats body.
func DecodeStats(body io.Reader) (container.StatsResponse, error) {
	var stats container.StatsResponse
	if err := json.NewDecoder(body).Decode(&stats); err != nil {
		return container.StatsResponse{}, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, nil
}

// ComputeStats converts a stats sample to a snapshot. CPU usage is relative
// to the whole host, as reported by docker stats, and stays zero when the
// sample has no previous CPU reading. Memory usage excludes the page cache.
func ComputeStats(containerID string, s container.StatsResponse) model.ContainerStats {
	out := model.ContainerStats{
		ContainerID: containerID,
		MemoryLimit: s.MemoryStats.Limit,
		CreatedAt:   s.Read.UTC(),
	}
	if out.CreatedAt.IsZero() || out.CreatedAt.Year() < 2000 {
		out.CreatedAt = time.Now().UTC()
	}

	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if s.PreCPUStats.SystemUsage > 0 && cpuDelta > 0 && systemDelta > 0 {
		out.CPUPercent = cpuDelta / systemDelta * cpus * 100
	}

	usage := s.MemoryStats.Usage
	// cgroup v2 reports inactive_file, v1 reports cache
	cache, ok := s.MemoryStats.Stats["inactive_file"]
	if !ok {
		cache = s.MemoryStats.Stats["cache"]
	}
	if cache < usage {
		usage -= cache
	}
	out.MemoryUsage = usage
	if s.MemoryStats.Limit > 0 {
		out.MemoryPercent = float64(usage) / float64(s.MemoryStats.Limit) * 100
	}

	for _, n := range s.Networks {
		out.NetworkRx += n.RxBytes
		out.NetworkTx += n.TxBytes
	}
	return out
}
