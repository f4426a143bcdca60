// Package tunnel carries the Docker Engine API over SSH.
//
// An Agent holds one SSH connection to a device. Every DialContext opens a
// session on it running `docker system dial-stdio` and returns the session's
// standard streams as a net.Conn, so an http.Transport can use a remote
// daemon without any open port. Any error on the session, the stream or the
// SSH connection closes both and drops the connection; the next dial
// reconnects.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/chis/fleetwatch/internal/logging"
	"github.com/chis/fleetwatch/internal/model"
)

// DialStdioCommand relays the Docker API over the session's stdio.
const DialStdioCommand = "docker system dial-stdio"

const (
	defaultSSHPort     = 22
	defaultDialTimeout = 10 * time.Second
)

// ErrAgentClosed is returned by DialContext after Close.
var ErrAgentClosed = errors.New("tunnel agent closed")

// session is the part of an SSH session used by the agent.
type session interface {
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	Start(cmd string) error
	Wait() error
	Close() error
}

// sshClient is the part of an SSH client used by the agent.
type sshClient interface {
	NewSession() (session, error)
	Wait() error
	Close() error
}

// Config holds the SSH parameters of a device.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string
	Passphrase string

	// Timeout bounds the TCP connect and SSH handshake
	Timeout time.Duration

	// HostKeyCallback verifies the device host key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
}

// ConfigFromCredentials builds a Config from resolved device credentials.
func ConfigFromCredentials(creds model.SSHCredentials) Config {
	return Config{
		Host:       creds.Host,
		Port:       creds.Port,
		Username:   creds.Username,
		Password:   creds.Password,
		PrivateKey: creds.PrivateKey,
		Passphrase: creds.Passphrase,
	}
}

func (c Config) address() string {
	port := c.Port
	if port == 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if c.PrivateKey != "" {
		var signer ssh.Signer
		var err error
		if c.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(c.PrivateKey), []byte(c.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(c.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no SSH password or private key for %s", c.address())
	}

	hostKeyCallback := c.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	return &ssh.ClientConfig{
		User:            c.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Agent dials Docker API connections through one SSH connection.
type Agent struct {
	addr    string
	connect func(ctx context.Context) (sshClient, error)
	log     *logging.Logger

	mu     sync.Mutex
	client sshClient
	closed bool
}

// New creates an agent for a device. It does not connect until the first dial.
func New(cfg Config, log *logging.Logger) (*Agent, error) {
	clientConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Default()
	}

	addr := cfg.address()
	connect := func(ctx context.Context) (sshClient, error) {
		dialer := net.Dialer{Timeout: clientConfig.Timeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &clientAdapter{ssh.NewClient(c, chans, reqs)}, nil
	}

	return newAgent(addr, connect, log), nil
}

func newAgent(addr string, connect func(ctx context.Context) (sshClient, error), log *logging.Logger) *Agent {
	return &Agent{
		addr:    addr,
		connect: connect,
		log:     log.WithField("ssh", addr),
	}
}

// DialContext opens a dial-stdio session and returns it as a connection.
// network and addr are ignored: every connection goes to the device daemon.
func (a *Agent) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, err := a.sshClient(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		a.destroy(client, err)
		return nil, fmt.Errorf("failed to open SSH session to %s: %w", a.addr, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		a.destroy(client, err)
		return nil, fmt.Errorf("failed to open session stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		a.destroy(client, err)
		return nil, fmt.Errorf("failed to open session stdout: %w", err)
	}

	if err := sess.Start(DialStdioCommand); err != nil {
		sess.Close()
		a.destroy(client, err)
		return nil, fmt.Errorf("failed to start %q on %s: %w", DialStdioCommand, a.addr, err)
	}

	conn := &stdioConn{
		agent:   a,
		client:  client,
		session: sess,
		stdin:   stdin,
		stdout:  stdout,
		remote:  stdioAddr(a.addr),
	}
	go conn.watch()
	return conn, nil
}

// sshClient returns the live SSH client, connecting when there is none.
func (a *Agent) sshClient(ctx context.Context) (sshClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrAgentClosed
	}
	if a.client != nil {
		return a.client, nil
	}

	client, err := a.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", a.addr, err)
	}
	a.client = client
	a.log.Debug("SSH connection established")

	go func() {
		err := client.Wait()
		a.destroy(client, err)
	}()
	return client, nil
}

// destroy closes client and forgets it if it is still the live one.
func (a *Agent) destroy(client sshClient, cause error) {
	a.mu.Lock()
	live := a.client == client
	if live {
		a.client = nil
	}
	a.mu.Unlock()

	if !live {
		return
	}
	if cause != nil && !errors.Is(cause, io.EOF) {
		a.log.WithError(cause).Warn("SSH tunnel destroyed")
	} else {
		a.log.Debug("SSH tunnel closed")
	}
	client.Close()
}

// Close closes the SSH connection. Later dials fail with ErrAgentClosed.
func (a *Agent) Close() error {
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.closed = true
	a.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// Connected reports whether the agent currently holds an SSH connection.
func (a *Agent) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client != nil
}

// clientAdapter narrows *ssh.Client to sshClient.
type clientAdapter struct {
	*ssh.Client
}

func (c *clientAdapter) NewSession() (session, error) {
	s, err := c.Client.NewSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}
