package bridge

import (
	"sync"
	"time"
)

// Adapter health statuses reported on /api/health.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// failedThreshold is the consecutive failure count at which an adapter is
// reported failed rather than degraded.
const failedThreshold = 5

// adapterHealth tracks consecutive failure counts for one ingestion adapter.
// Adapters report from their own goroutines while the health endpoint reads
// from HTTP handlers, so all fields sit behind the mutex.
type adapterHealth struct {
	mu       sync.Mutex
	failures int
	lastErr  string
	lastFail time.Time
	lastOK   time.Time
}

func (h *adapterHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastErr = ""
	h.lastOK = time.Now()
}

func (h *adapterHealth) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastFail = time.Now()
}

// AdapterStatus is the JSON-facing health summary for one adapter.
type AdapterStatus struct {
	Status    string    `json:"status"`
	Failures  int       `json:"consecutiveFailures"`
	LastError string    `json:"lastError,omitempty"`
	LastOK    time.Time `json:"lastOk,omitzero"`
}

func (h *adapterHealth) snapshot() AdapterStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := StatusHealthy
	switch {
	case h.failures >= failedThreshold:
		status = StatusFailed
	case h.failures > 0:
		status = StatusDegraded
	}
	return AdapterStatus{
		Status:    status,
		Failures:  h.failures,
		LastError: h.lastErr,
		LastOK:    h.lastOK,
	}
}

// ProcessStats carries the bridge's own resource usage, for operators
// running it headless on venue hardware.
type ProcessStats struct {
	PID           int32   `json:"pid"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryRSS     uint64  `json:"memoryRssBytes"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Health is the document served at /api/health.
type Health struct {
	Status         string                   `json:"status"`
	LinkStatus     string                   `json:"linkStatus"`
	DiscoveredHost string                   `json:"discoveredHost,omitempty"`
	CurrentRaceID  string                   `json:"currentRaceId,omitempty"`
	Clients        int                      `json:"connectedClients"`
	Adapters       map[string]AdapterStatus `json:"adapters"`
	Process        ProcessStats             `json:"process"`
}
