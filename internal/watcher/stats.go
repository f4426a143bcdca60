package watcher

import (
	"context"
	"fmt"

	"code.cloudfoundry.org/bytefmt"

	"github.com/chis/fleetwatch/internal/docker"
	"github.com/chis/fleetwatch/internal/model"
)

// CollectStats records one resource usage snapshot for every stored
// container of the watcher. Failures are logged per container.
func (w *Docker) CollectStats(ctx context.Context) error {
	api, done := w.client()
	if api == nil {
		return ErrNotConnected
	}
	defer done()

	if w.deps.Stats == nil {
		return nil
	}

	containers, err := w.deps.Containers.ListContainersByWatcher(ctx, w.Name())
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	log := w.Log()
	for _, c := range containers {
		stats, err := w.sampleStats(ctx, api, c)
		if err != nil {
			log.WithError(err).Debug("Unable to collect stats of %s", c.Name)
			continue
		}
		if err := w.deps.Stats.CreateStats(ctx, stats); err != nil {
			log.WithError(err).Warn("Unable to save stats of %s", c.Name)
			continue
		}
		log.Debug("Stats of %s: cpu %.2f%%, memory %sB / %sB", c.Name, stats.CPUPercent,
			bytefmt.ByteSize(stats.MemoryUsage), bytefmt.ByteSize(stats.MemoryLimit))
	}
	return nil
}

func (w *Docker) sampleStats(ctx context.Context, api docker.API, c model.Container) (model.ContainerStats, error) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	// A non streamed sample waits for a second read so precpu_stats is set
	resp, err := api.ContainerStats(ctx, c.ID, false)
	if err != nil {
		return model.ContainerStats{}, err
	}
	defer resp.Body.Close()

	sample, err := docker.DecodeStats(resp.Body)
	if err != nil {
		return model.ContainerStats{}, err
	}
	return docker.ComputeStats(c.ID, sample), nil
}
