package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	dtypes "github.com/docker/docker/api/types/container"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chis/fleetwatch/internal/docker"
	"github.com/chis/fleetwatch/internal/events"
	"github.com/chis/fleetwatch/internal/logging"
	"github.com/chis/fleetwatch/internal/model"
	"github.com/chis/fleetwatch/internal/registry"
	"github.com/chis/fleetwatch/internal/storage"
	"github.com/chis/fleetwatch/internal/version"
)

// Watch scans the device: it lists the watched containers, prunes stored
// containers gone from the host, resolves the newest version of every
// container concurrently and persists the results. Per-container failures
// are recorded on the container and never abort the scan.
func (w *Docker) Watch(ctx context.Context) ([]model.ContainerReport, error) {
	api, done := w.client()
	if api == nil {
		return nil, ErrNotConnected
	}
	defer done()

	scanID := uuid.NewString()
	ctx = logging.WithCorrelationID(ctx, scanID)
	log := w.Log().WithField("scan", scanID)

	start := time.Now()
	log.InfoContext(ctx, "Cron started")

	containers, err := w.getContainers(ctx, api, log)
	if err != nil {
		return nil, err
	}

	reports := make([]model.ContainerReport, len(containers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i := range containers {
		g.Go(func() error {
			reports[i] = w.resolve(gctx, api, containers[i], log)
			return nil
		})
	}
	_ = g.Wait()

	w.deps.Events.Publish(events.ContainerReports(w.ID(), reports))
	log.InfoContext(ctx, "Cron finished (%d containers watched, %s)", len(reports), time.Since(start).Round(time.Millisecond))
	return reports, nil
}

// getContainers lists the watched containers of the device with their
// image details, and prunes stored containers no longer on the host.
func (w *Docker) getContainers(ctx context.Context, api docker.API, log *logging.Logger) ([]model.Container, error) {
	summaries, err := api.ContainerList(ctx, dtypes.ListOptions{All: w.config.WatchAll})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	watched := make([]dtypes.Summary, 0, len(summaries))
	for _, s := range summaries {
		if isWatched(s.Labels, w.config.WatchByDefault) {
			watched = append(watched, s)
		}
	}

	details := make([]*model.Container, len(watched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i := range watched {
		g.Go(func() error {
			c, err := w.imageDetails(gctx, api, watched[i])
			if err != nil {
				log.WithError(err).Warn("Unable to get image details of %s", docker.ContainerName(watched[i]))
				return nil
			}
			details[i] = c
			return nil
		})
	}
	_ = g.Wait()

	containers := make([]model.Container, 0, len(details))
	for _, c := range details {
		if c != nil {
			containers = append(containers, *c)
		}
	}

	w.prune(ctx, summaries, log)
	return containers, nil
}

// imageDetails builds the model of a container. A stored container without
// error is reused, with its status refreshed. It returns nil for containers
// whose image cannot be named.
func (w *Docker) imageDetails(ctx context.Context, api docker.API, s dtypes.Summary) (*model.Container, error) {
	if stored, err := w.deps.Containers.FindContainer(ctx, s.ID); err == nil && stored.Error == nil {
		stored.Status = s.State
		return &stored, nil
	}

	img, _, err := api.ImageInspectWithRaw(ctx, s.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image %s: %w", s.Image, err)
	}

	name := docker.ContainerName(s)
	refName, ok := docker.ImageReference(s, img)
	if !ok {
		w.Log().Warn("Cannot get a reliable tag for the image of %s (%s); ignoring it", name, s.Image)
		return nil, nil
	}
	ref, err := docker.ParseReference(refName)
	if err != nil {
		return nil, err
	}

	labels := s.Labels
	transform := labels[LabelTagTransform]
	semver := version.Parse(version.Transform(transform, ref.Tag)) != nil

	image := model.Image{
		ID:       img.ID,
		Name:     ref.Path,
		Registry: model.ImageRegistry{URL: ref.Domain},
		Tag:      model.ImageTag{Value: ref.Tag, Semver: semver},
		Digest: model.ImageDigest{
			Watch: isDigestWatched(labels, semver),
			Repo:  docker.RepoDigest(img),
		},
		OS:           img.Os,
		Architecture: img.Architecture,
		Created:      img.Created,
	}
	if img.Variant != "" {
		image.Variant = []string{img.Variant}
	}

	c := &model.Container{
		ID:            s.ID,
		Name:          name,
		Status:        s.State,
		Watcher:       w.Name(),
		IncludeTags:   labels[LabelTagInclude],
		ExcludeTags:   labels[LabelTagExclude],
		TransformTags: transform,
		LinkTemplate:  labels[LabelLinkTemplate],
		DisplayName:   labels[LabelDisplayName],
		DisplayIcon:   labels[LabelDisplayIcon],
		Image:         w.normalizeImage(image),
	}
	if c.DisplayName == "" {
		c.DisplayName = name
	}
	return c, nil
}

// normalizeImage lets the first matching provider rewrite the image
// registry. Images matched by no provider get the unknown registry.
func (w *Docker) normalizeImage(image model.Image) model.Image {
	for _, p := range w.providers() {
		if p.Match(image) {
			return p.NormalizeImage(image)
		}
	}
	w.Log().Warn("No registry provider found for %s (%s)", image.Name, image.Registry.URL)
	out := image.Clone()
	out.Registry.Name = "unknown"
	return out
}

// prune deletes stored containers of this watcher missing from the host.
func (w *Docker) prune(ctx context.Context, current []dtypes.Summary, log *logging.Logger) {
	stored, err := w.deps.Containers.ListContainersByWatcher(ctx, w.Name())
	if err != nil {
		log.WithError(err).Warn("Unable to list stored containers for pruning")
		return
	}

	alive := make(map[string]bool, len(current))
	for _, s := range current {
		alive[s.ID] = true
	}
	for _, c := range stored {
		if alive[c.ID] {
			continue
		}
		if err := w.deps.Containers.DeleteContainer(ctx, c.ID); err != nil {
			log.WithError(err).Warn("Unable to prune container %s", c.Name)
			continue
		}
		log.Info("Pruned container %s", c.Name)
	}
}

// resolve finds the newest version of a container, persists it and
// publishes its report.
func (w *Docker) resolve(ctx context.Context, api docker.API, c model.Container, log *logging.Logger) model.ContainerReport {
	log = log.WithField("container", c.Name)

	c.Error = nil
	result, err := w.findNewVersion(ctx, api, &c, log)
	if err != nil {
		log.WithError(err).Warn("Unable to find a new version")
		c.Result = nil
		c.Error = &model.ContainerError{Message: err.Error()}
	} else {
		c.Result = result
	}

	c.UpdateAvailable = updateAvailable(c)
	c.UpdateKind = version.Classify(&c)
	if c.Result != nil {
		c.Result.Link = version.RenderLink(c.LinkTemplate, c.TransformTags, c.Result.Tag)
	}

	report := model.ContainerReport{Container: c}
	stored, err := w.deps.Containers.FindContainer(ctx, c.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		saved, err := w.deps.Containers.CreateContainer(ctx, c)
		if err != nil {
			log.WithError(err).Warn("Unable to save container")
		} else {
			report.Container = saved
		}
		report.Changed = c.UpdateAvailable
	case err != nil:
		log.WithError(err).Warn("Unable to load stored container")
	default:
		saved, err := w.deps.Containers.UpdateContainer(ctx, c)
		if err != nil {
			log.WithError(err).Warn("Unable to save container")
		} else {
			report.Container = saved
		}
		report.Changed = stored.ResultChanged(c) && c.UpdateAvailable
	}

	w.deps.Events.Publish(events.ContainerReport(w.ID(), report))
	return report
}

// findNewVersion queries the container's registry for its newest tag and,
// when digest watching is active, for the digest of that tag.
func (w *Docker) findNewVersion(ctx context.Context, api docker.API, c *model.Container, log *logging.Logger) (*model.Result, error) {
	provider, ok := w.provider(c.Image.Registry.Name)
	if !ok {
		return nil, fmt.Errorf("unsupported registry (%s)", c.Image.Registry.Name)
	}

	result := &model.Result{Tag: c.Image.Tag.Value}

	tags, err := provider.GetTags(ctx, c.Image)
	if err != nil {
		return nil, err
	}
	if candidates := version.TagCandidates(c, tags, log); len(candidates) > 0 {
		result.Tag = candidates[0]
	}

	if c.Image.Digest.Watch && c.Image.Digest.Repo != "" {
		if err := w.resolveDigest(ctx, api, provider, c, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// resolveDigest sets the remote digest of the result tag on result and the
// local digest on the container image. A version 2 manifest means the local
// digest is the manifest digest recorded by the daemon. A version 1 config
// descriptor compares image config digests, which is the image id, and a
// legacy schema 1 manifest compares the config image of the inspected image.
func (w *Docker) resolveDigest(ctx context.Context, api docker.API, provider registry.Provider, c *model.Container, result *model.Result) error {
	target := c.Image.Clone()
	target.Tag.Value = result.Tag
	remote, err := provider.GetImageManifestDigest(ctx, target, "")
	if err != nil {
		return err
	}
	result.Digest = remote.Digest
	result.Created = remote.Created

	if remote.Version == 2 {
		local, err := provider.GetImageManifestDigest(ctx, c.Image, c.Image.Digest.Repo)
		if err != nil {
			return err
		}
		c.Image.Digest.Value = local.Digest
		return nil
	}

	img, raw, err := api.ImageInspectWithRaw(ctx, c.Image.ID)
	if err != nil {
		return fmt.Errorf("failed to inspect image %s: %w", c.Image.ID, err)
	}
	if remote.Legacy {
		c.Image.Digest.Value = docker.ConfigImage(raw)
		return nil
	}
	c.Image.Digest.Value = img.ID
	return nil
}

// updateAvailable compares the local image with the result. An update is
// available when the transformed tags differ or, for watched digests known
// on both sides, when the digests differ. Without digests the creation
// dates are compared instead.
func updateAvailable(c model.Container) bool {
	if c.Result == nil {
		return false
	}

	available := version.Transform(c.TransformTags, c.Image.Tag.Value) != version.Transform(c.TransformTags, c.Result.Tag)
	if c.Image.Digest.Watch && c.Image.Digest.Value != "" && c.Result.Digest != "" {
		return available || c.Image.Digest.Value != c.Result.Digest
	}
	if c.Image.Created != "" && c.Result.Created != "" {
		available = available || !sameInstant(c.Image.Created, c.Result.Created)
	}
	return available
}

func sameInstant(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ta.Equal(tb)
}
