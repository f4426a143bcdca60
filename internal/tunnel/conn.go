package tunnel

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// MaxConnsPerHost bounds the dial-stdio sessions an HTTP client keeps open
// through one agent.
const MaxConnsPerHost = 256

// stdioAddr is the address of a dial-stdio connection.
type stdioAddr string

func (a stdioAddr) Network() string { return "ssh" }
func (a stdioAddr) String() string  { return string(a) }

// stdioConn exposes a dial-stdio session as a net.Conn. Deadlines are not
// supported by SSH channels and are accepted as no-ops.
type stdioConn struct {
	agent   *Agent
	client  sshClient
	session session
	stdin   io.WriteCloser
	stdout  io.Reader
	remote  stdioAddr

	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *stdioConn) Read(p []byte) (int, error) {
	n, err := c.stdout.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		c.fail(err)
	}
	return n, err
}

func (c *stdioConn) Write(p []byte) (int, error) {
	n, err := c.stdin.Write(p)
	if err != nil {
		c.fail(err)
	}
	return n, err
}

// Close tears the session down immediately.
func (c *stdioConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.stdin.Close()
		c.session.Close()
	})
	return nil
}

// watch waits for the remote command to exit. A clean exit only ends this
// connection; a failed one destroys the tunnel.
func (c *stdioConn) watch() {
	err := c.session.Wait()
	if err == nil {
		c.Close()
		return
	}
	c.fail(err)
}

func (c *stdioConn) fail(err error) {
	if c.closed.Load() {
		return
	}
	c.Close()
	c.agent.destroy(c.client, err)
}

func (c *stdioConn) LocalAddr() net.Addr  { return stdioAddr("dial-stdio") }
func (c *stdioConn) RemoteAddr() net.Addr { return c.remote }

func (c *stdioConn) SetDeadline(time.Time) error      { return nil }
func (c *stdioConn) SetReadDeadline(time.Time) error  { return nil }
func (c *stdioConn) SetWriteDeadline(time.Time) error { return nil }

// NewHTTPClient returns an HTTP client whose connections are dialed by the
// agent. The connection ceiling is high because every keep-alive connection
// shares the agent's single SSH connection.
func NewHTTPClient(agent *Agent) *http.Client {
	return &http.Client{
		Transport: NewTransport(agent),
	}
}

// NewTransport returns the transport used by NewHTTPClient.
func NewTransport(agent *Agent) *http.Transport {
	return &http.Transport{
		DialContext:         agent.DialContext,
		MaxIdleConns:        MaxConnsPerHost,
		MaxIdleConnsPerHost: MaxConnsPerHost,
		MaxConnsPerHost:     MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
}
