// Package timinglink maintains the outbound TCP connection to the timing
// unit: pipe-delimited framing, capped exponential reconnect, and the write
// path for operator scoring commands.
package timinglink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/slalomlive/backend/internal/protocol"
)

// ErrNotConnected is returned by Write while the link is down. Operator
// commands must fail loudly, not queue.
var ErrNotConnected = errors.New("timinglink: not connected")

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

var statusNames = map[Status]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Handler receives link events. Callbacks fire from the client's internal
// goroutines; receivers that need serialization must funnel into their own
// channel. Nil callbacks are skipped.
type Handler struct {
	OnFrame  func(protocol.Frame)
	OnStatus func(Status)
	OnError  func(error)
}

type Config struct {
	Host         string
	Port         int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Client owns a single outbound connection to the timing unit.
type Client struct {
	mu       sync.Mutex
	host     string
	port     int
	initial  time.Duration
	max      time.Duration
	handler  Handler
	conn     net.Conn
	status   Status
	failures int
	retry    *time.Timer
	started  bool
	stopped  bool
}

func New(cfg Config, handler Handler) *Client {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Client{
		host:    cfg.Host,
		port:    cfg.Port,
		initial: cfg.InitialDelay,
		max:     cfg.MaxDelay,
		handler: handler,
	}
}

// Start begins connection attempts. Without a host the client idles until
// SetHost supplies one (the discovery flow). Calling Start twice is a no-op.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	host := c.host
	c.mu.Unlock()

	if host != "" {
		go c.attempt()
	}
}

// SetHost updates the timing unit address and, when the link is down,
// connects immediately with a fresh backoff. Used when UDP discovery learns
// the unit's address, including after a DHCP lease change.
func (c *Client) SetHost(host string) {
	c.mu.Lock()
	c.host = host
	c.failures = 0
	connect := c.started && !c.stopped && c.conn == nil && host != ""
	if connect && c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	if connect {
		go c.attempt()
	}
}

// Stop closes the link and cancels any pending reconnect. Idempotent, and
// safe to call before Start.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.setStatus(StatusDisconnected)
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Write sends one XML command to the unit, appending the pipe terminator if
// absent. Fails immediately while disconnected.
func (c *Client) Write(xml string) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}
	if !strings.HasSuffix(xml, "|") {
		xml += "|"
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write([]byte(xml)); err != nil {
		return fmt.Errorf("timinglink write: %w", err)
	}
	return nil
}

func (c *Client) attempt() {
	c.mu.Lock()
	if c.stopped || c.conn != nil {
		c.mu.Unlock()
		return
	}
	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
	c.mu.Unlock()

	c.setStatus(StatusConnecting)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		c.emitError(fmt.Errorf("timinglink connect %s: %w", addr, err))
		c.setStatus(StatusDisconnected)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.failures = 0
	c.mu.Unlock()

	log.Printf("[timinglink] connected to %s", addr)
	c.setStatus(StatusConnected)
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	scanner.Split(splitPipe)

	for scanner.Scan() {
		frame := strings.TrimSpace(scanner.Text())
		if frame == "" {
			continue
		}
		if c.handler.OnFrame != nil {
			c.handler.OnFrame(protocol.Frame{XML: frame, Origin: protocol.OriginTCP})
		}
	}
	if err := scanner.Err(); err != nil {
		c.emitError(fmt.Errorf("timinglink read: %w", err))
	}
	c.handleDisconnect(conn)
}

func (c *Client) handleDisconnect(conn net.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection or Stop already took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	stopped := c.stopped
	c.mu.Unlock()

	conn.Close()
	if stopped {
		return
	}
	log.Printf("[timinglink] connection lost")
	c.setStatus(StatusDisconnected)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.failures++
	delay := backoffDelay(c.initial, c.max, c.failures)
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(delay, c.attempt)
	c.mu.Unlock()

	log.Printf("[timinglink] reconnect in %s", delay)
}

// backoffDelay returns the wait before the Nth consecutive failed attempt:
// initial*2^(N-1), capped at max.
func backoffDelay(initial, max time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := initial
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// setStatus emits the transition only when the status actually changed.
func (c *Client) setStatus(status Status) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	if c.handler.OnStatus != nil {
		c.handler.OnStatus(status)
	}
}

func (c *Client) emitError(err error) {
	if c.handler.OnError != nil {
		c.handler.OnError(err)
	}
}

// splitPipe is a bufio.SplitFunc yielding pipe-delimited segments. The
// trailing incomplete segment stays buffered until its delimiter arrives;
// whatever remains at connection close is dropped.
func splitPipe(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '|'); i >= 0 {
		return i + 1, data[:i], nil
	}
	return 0, nil, nil
}
