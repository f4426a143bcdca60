package watcher

import (
	"context"
	"errors"
	"time"

	devents "github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"

	"github.com/chis/fleetwatch/internal/events"
	"github.com/chis/fleetwatch/internal/storage"
)

// watchedActions are the container event actions the watcher subscribes to.
var watchedActions = []devents.Action{
	devents.ActionCreate,
	devents.ActionDestroy,
	devents.ActionStart,
	devents.ActionStop,
	devents.ActionPause,
	devents.ActionUnPause,
	devents.ActionDie,
	devents.ActionUpdate,
}

func eventFilters() filters.Args {
	args := filters.NewArgs(filters.Arg("type", string(devents.ContainerEventType)))
	for _, action := range watchedActions {
		args.Add("event", string(action))
	}
	return args
}

// listenEvents follows the daemon event stream until ctx is done. A broken
// stream is resubscribed after the events retry delay.
func (w *Docker) listenEvents(ctx context.Context) {
	log := w.Log()
	for {
		err := w.streamEvents(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Warn("Docker event stream failed, resubscribing in %s", w.options.EventsRetry)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.options.EventsRetry):
		}
	}
}

// streamEvents consumes one subscription to the event stream.
func (w *Docker) streamEvents(ctx context.Context) error {
	api, done := w.client()
	if api == nil {
		return ErrNotConnected
	}
	defer done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, errs := api.Events(ctx, devents.ListOptions{Filters: eventFilters()})
	w.Log().Debug("Listening to docker events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case msg, ok := <-messages:
			if !ok {
				return errors.New("event stream closed")
			}
			w.handleEvent(ctx, msg)
		}
	}
}

// handleEvent debounces a scan for create and destroy events and refreshes
// the stored status of the container for any other action.
func (w *Docker) handleEvent(ctx context.Context, msg devents.Message) {
	log := w.Log().WithField("event", string(msg.Action))

	switch msg.Action {
	case devents.ActionCreate, devents.ActionDestroy:
		w.mu.RLock()
		d := w.debounce
		w.mu.RUnlock()
		if d != nil {
			log.Debug("Container %s changed, scheduling a scan", msg.Actor.ID)
			d.trigger()
		}
		return
	}

	if err := w.updateContainerStatus(ctx, msg.Actor.ID); err != nil {
		log.WithError(err).Debug("Unable to update status of container %s", msg.Actor.ID)
	}
}

// updateContainerStatus stores the current status of a known container and
// publishes it when it changed.
func (w *Docker) updateContainerStatus(ctx context.Context, containerID string) error {
	stored, err := w.deps.Containers.FindContainer(ctx, containerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	api, done := w.client()
	if api == nil {
		return ErrNotConnected
	}
	defer done()

	inspect, err := api.ContainerInspect(ctx, containerID)
	if err != nil {
		return err
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return nil
	}

	status := inspect.State.Status
	if status == stored.Status {
		return nil
	}

	w.Log().Info("Status of container %s changed from %s to %s", stored.Name, stored.Status, status)
	stored.Status = status
	saved, err := w.deps.Containers.UpdateContainer(ctx, stored)
	if err != nil {
		return err
	}
	w.deps.Events.Publish(events.ContainerStatus(w.ID(), saved))
	return nil
}
