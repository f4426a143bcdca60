// Package docker connects to device Docker daemons and converts Engine API
// objects into the fleet model.
package docker

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/chis/fleetwatch/internal/tunnel"
)

// tunnelHost is the placeholder daemon URL used over SSH. The agent ignores
// the dialed address.
const tunnelHost = "http://docker.example.com"

// API is the part of the Engine API used by watchers. *client.Client
// implements it.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (image.InspectResponse, []byte, error)
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error)
	Close() error
}

var _ API = (*client.Client)(nil)

// NewTunnelClient returns a client whose connections are dial-stdio
// sessions opened by agent.
func NewTunnelClient(agent *tunnel.Agent) (*client.Client, error) {
	// WithHost resets the transport dialer, so the agent dialer is set after it
	cli, err := client.NewClientWithOpts(
		client.WithHTTPClient(tunnel.NewHTTPClient(agent)),
		client.WithHost(tunnelHost),
		client.WithDialContext(agent.DialContext),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// NewSocketClient returns a client for a local unix socket.
func NewSocketClient(socket string) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+socket),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// TLSFiles locates the client certificate material of a TCP daemon.
type TLSFiles struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

// Enabled reports whether any TLS file is configured.
func (f TLSFiles) Enabled() bool {
	return f.CAFile != "" || f.CertFile != "" || f.KeyFile != ""
}

// NewTCPClient returns a client for a daemon listening on host:port, over
// TLS when files are given.
func NewTCPClient(host string, port int, tls TLSFiles) (*client.Client, error) {
	if port == 0 {
		port = 2375
		if tls.Enabled() {
			port = 2376
		}
	}
	opts := []client.Opt{
		client.WithHost("tcp://" + net.JoinHostPort(host, strconv.Itoa(port))),
		client.WithAPIVersionNegotiation(),
	}
	if tls.Enabled() {
		opts = append(opts, client.WithTLSClientConfig(tls.CAFile, tls.CertFile, tls.KeyFile))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}
