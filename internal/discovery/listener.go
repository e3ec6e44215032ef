// Package discovery learns the timing unit's address by passively sniffing
// the UDP broadcast traffic it emits on the timing port. Saves operators
// from configuring an IP that changes with every DHCP lease.
package discovery

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/slalomlive/backend/internal/protocol"
)

// Handler receives discovery events. Callbacks fire from the listener's
// read goroutine and timer. Nil callbacks are skipped.
type Handler struct {
	// OnDiscovered reports the first sender whose payload carries the
	// timing unit root element. Fires at most once per discovery cycle.
	OnDiscovered func(host string)
	// OnMessage reports every matching datagram's payload and sender.
	OnMessage func(xml, host string)
	// OnTimeout fires if no unit is discovered before the timeout elapses.
	OnTimeout func()
}

type Listener struct {
	mu         sync.Mutex
	port       int
	timeout    time.Duration
	handler    Handler
	conn       *net.UDPConn
	discovered string
	timer      *time.Timer
	stopped    bool
}

func New(port int, timeout time.Duration, handler Handler) *Listener {
	return &Listener{
		port:    port,
		timeout: timeout,
		handler: handler,
	}
}

// Start binds the UDP socket and begins sniffing. The timeout timer is
// armed immediately.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return fmt.Errorf("discovery: listener stopped")
	}
	if l.conn != nil {
		return nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: l.port})
	if err != nil {
		return fmt.Errorf("discovery: bind udp :%d: %w", l.port, err)
	}
	l.conn = conn
	l.armTimerLocked()

	go l.readLoop(conn)
	log.Printf("[discovery] sniffing on udp :%d", l.Port())
	return nil
}

// Port returns the bound UDP port (useful when started on port 0).
func (l *Listener) Port() int {
	if l.conn == nil {
		return l.port
	}
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Stop closes the socket and cancels the timeout. Idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	l.stopped = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Reset clears the discovered host and re-arms the timeout so the unit can
// be re-discovered, e.g. after the TCP link drops and the unit may have
// moved to a new address.
func (l *Listener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.discovered = ""
	l.armTimerLocked()
}

// Discovered returns the currently known unit host, empty if none.
func (l *Listener) Discovered() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discovered
}

func (l *Listener) armTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.timeout <= 0 {
		return
	}
	l.timer = time.AfterFunc(l.timeout, func() {
		l.mu.Lock()
		fire := !l.stopped && l.discovered == ""
		l.mu.Unlock()
		if fire && l.handler.OnTimeout != nil {
			l.handler.OnTimeout()
		}
	})
}

func (l *Listener) readLoop(conn *net.UDPConn) {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Socket closed by Stop, or a transient failure either way the
			// loop ends; Reset+Start builds a new one.
			return
		}
		payload := string(buf[:n])
		if !protocol.HasTimingRoot(payload) {
			continue
		}
		host := addr.IP.String()

		if l.handler.OnMessage != nil {
			l.handler.OnMessage(payload, host)
		}

		l.mu.Lock()
		first := l.discovered == ""
		if first {
			l.discovered = host
			if l.timer != nil {
				l.timer.Stop()
				l.timer = nil
			}
		}
		l.mu.Unlock()

		if first {
			log.Printf("[discovery] timing unit at %s", host)
			if l.handler.OnDiscovered != nil {
				l.handler.OnDiscovered(host)
			}
		}
	}
}
