package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/image"

	"github.com/chis/fleetwatch/internal/docker"
)

// FakeDocker is a scriptable docker.API.
type FakeDocker struct {
	mu         sync.Mutex
	containers []container.Summary
	images     map[string]image.InspectResponse
	raws       map[string][]byte
	states     map[string]string
	stats      map[string]string

	// Messages feeds every event subscription
	Messages chan events.Message

	PingErr error
	listErr error

	subscriptions int
	lists         int
	closed        bool
}

var _ docker.API = (*FakeDocker)(nil)

// NewFakeDocker returns a daemon without containers.
func NewFakeDocker() *FakeDocker {
	return &FakeDocker{
		images:   make(map[string]image.InspectResponse),
		raws:     make(map[string][]byte),
		states:   make(map[string]string),
		stats:    make(map[string]string),
		Messages: make(chan events.Message, 16),
	}
}

// SetContainers replaces the listed containers.
func (f *FakeDocker) SetContainers(containers ...container.Summary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers = containers
	for _, c := range containers {
		f.states[c.ID] = c.State
	}
}

// SetListErr makes ContainerList fail with err, or succeed when err is nil.
func (f *FakeDocker) SetListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// Containers returns the listed containers.
func (f *FakeDocker) Containers() []container.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]container.Summary(nil), f.containers...)
}

// SetImage registers the inspect response of an image reference or id.
func (f *FakeDocker) SetImage(ref string, img image.InspectResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = img
}

// SetImageRaw sets the raw inspect body returned for an image reference or
// id, for fields the typed response does not carry.
func (f *FakeDocker) SetImageRaw(ref, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raws[ref] = []byte(raw)
}

// SetState sets the status returned by ContainerInspect.
func (f *FakeDocker) SetState(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = status
}

// SetStats sets the raw JSON stats sample of a container.
func (f *FakeDocker) SetStats(id, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[id] = body
}

// Subscriptions returns the number of event subscriptions opened.
func (f *FakeDocker) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions
}

// Lists returns the number of container list calls.
func (f *FakeDocker) Lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// Closed reports whether Close was called.
func (f *FakeDocker) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeDocker) Ping(ctx context.Context) (types.Ping, error) {
	if f.PingErr != nil {
		return types.Ping{}, f.PingErr
	}
	return types.Ping{APIVersion: "1.47", OSType: "linux"}, nil
}

func (f *FakeDocker) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]container.Summary, 0, len(f.containers))
	for _, c := range f.containers {
		if options.All || c.State == "running" {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeDocker) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.states[containerID]
	if !ok {
		return container.InspectResponse{}, fmt.Errorf("no such container: %s", containerID)
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    containerID,
			State: &container.State{Status: status},
		},
	}, nil
}

func (f *FakeDocker) ImageInspectWithRaw(ctx context.Context, imageID string) (image.InspectResponse, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[imageID]
	if !ok {
		return image.InspectResponse{}, nil, fmt.Errorf("no such image: %s", imageID)
	}
	if raw, ok := f.raws[imageID]; ok {
		return img, raw, nil
	}
	raw, err := json.Marshal(img)
	if err != nil {
		return image.InspectResponse{}, nil, err
	}
	return img, raw, nil
}

func (f *FakeDocker) Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error) {
	f.mu.Lock()
	f.subscriptions++
	f.mu.Unlock()
	return f.Messages, make(chan error)
}

// ContainerStats serves the sample set with SetStats. Streaming is not
// supported.
func (f *FakeDocker) ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error) {
	if stream {
		return container.StatsResponseReader{}, fmt.Errorf("streamed stats: %w", ErrMockUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.stats[containerID]
	if !ok {
		return container.StatsResponseReader{}, fmt.Errorf("no stats for %s: %w", containerID, ErrMockUnavailable)
	}
	return container.StatsResponseReader{Body: io.NopCloser(strings.NewReader(body)), OSType: "linux"}, nil
}

func (f *FakeDocker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
