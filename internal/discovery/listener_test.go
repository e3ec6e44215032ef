package discovery

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

const beacon = `<TimingUnit System="Main"><TimeOfDay Time="14:00:00"/></TimingUnit>`

type recorder struct {
	mu         sync.Mutex
	discovered []string
	messages   []string
	timeouts   int
}

func (r *recorder) handler() Handler {
	return Handler{
		OnDiscovered: func(host string) {
			r.mu.Lock()
			r.discovered = append(r.discovered, host)
			r.mu.Unlock()
		},
		OnMessage: func(xml, host string) {
			r.mu.Lock()
			r.messages = append(r.messages, xml)
			r.mu.Unlock()
		},
		OnTimeout: func() {
			r.mu.Lock()
			r.timeouts++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.discovered), len(r.messages), r.timeouts
}

func sendTo(t *testing.T, port int, payload string) {
	t.Helper()
	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestDiscoveryReportsFirstMatchOnce(t *testing.T) {
	rec := &recorder{}
	l := New(0, time.Minute, rec.handler())
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	sendTo(t, l.Port(), beacon)
	waitFor(t, func() bool { d, _, _ := rec.counts(); return d > 0 })

	// Further beacons add messages but no second discovery.
	sendTo(t, l.Port(), beacon)
	waitFor(t, func() bool { _, m, _ := rec.counts(); return m >= 2 })

	d, m, _ := rec.counts()
	if d != 1 {
		t.Errorf("discovered %d times, want 1", d)
	}
	if m < 2 {
		t.Errorf("messages = %d, want >= 2", m)
	}
	if l.Discovered() == "" {
		t.Error("Discovered() empty after beacon")
	}
}

func TestDiscoveryIgnoresForeignDatagrams(t *testing.T) {
	rec := &recorder{}
	l := New(0, time.Minute, rec.handler())
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	sendTo(t, l.Port(), "random noise")
	sendTo(t, l.Port(), `<Other><Thing/></Other>`)
	sendTo(t, l.Port(), beacon)

	waitFor(t, func() bool { d, _, _ := rec.counts(); return d > 0 })
	d, m, _ := rec.counts()
	if d != 1 || m != 1 {
		t.Errorf("discovered=%d messages=%d, want 1/1 (noise must be ignored)", d, m)
	}
}

func TestDiscoveryTimeout(t *testing.T) {
	rec := &recorder{}
	l := New(0, 50*time.Millisecond, rec.handler())
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	waitFor(t, func() bool { _, _, to := rec.counts(); return to > 0 })
}

func TestDiscoveryResetReArms(t *testing.T) {
	rec := &recorder{}
	l := New(0, 80*time.Millisecond, rec.handler())
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	sendTo(t, l.Port(), beacon)
	waitFor(t, func() bool { d, _, _ := rec.counts(); return d > 0 })

	// Discovery cancelled the timer; Reset must re-arm it.
	l.Reset()
	if l.Discovered() != "" {
		t.Error("Reset did not clear the discovered host")
	}
	waitFor(t, func() bool { _, _, to := rec.counts(); return to > 0 })

	// And the unit can be discovered again.
	sendTo(t, l.Port(), beacon)
	waitFor(t, func() bool { d, _, _ := rec.counts(); return d >= 2 })
}
