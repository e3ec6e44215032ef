// Package bridge wires the ingestion adapters, the decoder, the race state
// and the scoreboard hub together. All decoding and state folding happens on
// one goroutine fed by a frame channel, so adapters never contend over the
// canonical state.
package bridge

import (
	"log"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/slalomlive/backend/internal/config"
	"github.com/slalomlive/backend/internal/discovery"
	"github.com/slalomlive/backend/internal/event"
	"github.com/slalomlive/backend/internal/filesource"
	"github.com/slalomlive/backend/internal/metrics"
	"github.com/slalomlive/backend/internal/protocol"
	"github.com/slalomlive/backend/internal/race"
	"github.com/slalomlive/backend/internal/timinglink"
	"github.com/slalomlive/backend/internal/ws"
)

// frameBuffer sizes the adapter-to-decoder channel. A full buffer means the
// decode loop is stuck; newer frames win over stale ones, so drop and log.
const frameBuffer = 256

type Bridge struct {
	cfg     *config.Config
	state   *event.State
	merger  *race.Merger
	hub     *ws.Hub
	metrics *metrics.Metrics

	link    *timinglink.Client
	disc    *discovery.Listener
	poller  *filesource.Poller
	watcher *filesource.Watcher
	differ  *filesource.Differ

	frames  chan protocol.Frame
	done    chan struct{}
	proc    *process.Process
	started time.Time

	linkHealth *adapterHealth
	discHealth *adapterHealth
	fileHealth *adapterHealth
}

func New(cfg *config.Config, state *event.State, merger *race.Merger, hub *ws.Hub, m *metrics.Metrics) *Bridge {
	b := &Bridge{
		cfg:        cfg,
		state:      state,
		merger:     merger,
		hub:        hub,
		metrics:    m,
		differ:     filesource.NewDiffer(),
		frames:     make(chan protocol.Frame, frameBuffer),
		done:       make(chan struct{}),
		linkHealth: &adapterHealth{},
		discHealth: &adapterHealth{},
		fileHealth: &adapterHealth{},
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		b.proc = proc
	}

	b.link = timinglink.New(timinglink.Config{
		Host:         cfg.Timing.Host,
		Port:         cfg.Timing.Port,
		InitialDelay: cfg.Timing.ReconnectInitial,
		MaxDelay:     cfg.Timing.ReconnectMax,
	}, timinglink.Handler{
		OnFrame:  func(f protocol.Frame) { b.offer(f) },
		OnStatus: b.onLinkStatus,
		OnError:  b.linkHealth.recordFailure,
	})

	if cfg.Discovery.Enabled {
		b.disc = discovery.New(cfg.Timing.Port, cfg.Discovery.Timeout, discovery.Handler{
			OnDiscovered: b.onDiscovered,
			OnMessage: func(xml, host string) {
				b.discHealth.recordSuccess()
				b.offer(protocol.Frame{XML: xml, Origin: protocol.OriginUDP})
			},
			OnTimeout: func() {
				log.Printf("[bridge] no timing unit discovered within %s", cfg.Discovery.Timeout)
			},
		})
	}

	if cfg.File.Path != "" {
		b.poller = filesource.NewPoller(cfg.File.Path, cfg.File.PollInterval, filesource.Handler{
			OnMessage: b.onFileContent,
			OnError:   b.fileHealth.recordFailure,
		})
		b.watcher = filesource.NewWatcher(cfg.File.Path, cfg.File.Debounce, cfg.File.PollInterval, b.poller.ForcePoll)
	}

	state.SetNotify(func(snap event.Snapshot) {
		hub.Broadcast(snap)
		if m != nil {
			m.BroadcastsSent.Inc()
		}
	})
	if m != nil {
		hub.SetCountObserver(func(n int) { m.ConnectedClients.Set(float64(n)) })
	}

	return b
}

// Start launches every configured adapter and the decode loop.
func (b *Bridge) Start() {
	b.started = time.Now()

	b.link.Start()
	if b.disc != nil {
		if err := b.disc.Start(); err != nil {
			log.Printf("[bridge] discovery unavailable: %v", err)
			b.discHealth.recordFailure(err)
		}
	}
	if b.poller != nil {
		b.poller.Start()
		b.watcher.Start()
	}

	go b.run()
}

// Stop shuts the adapters down and ends the decode loop. Safe to call once.
func (b *Bridge) Stop() {
	b.link.Stop()
	if b.disc != nil {
		b.disc.Stop()
	}
	if b.watcher != nil {
		b.watcher.Stop()
	}
	if b.poller != nil {
		b.poller.Stop()
	}
	close(b.done)
}

// Writer exposes the outbound command path for the HTTP layer.
func (b *Bridge) Writer() ws.CommandWriter {
	return b.link
}

// Inject feeds a frame from outside the built-in adapters, used by the
// simulated feed.
func (b *Bridge) Inject(f protocol.Frame) {
	b.offer(f)
}

// offer hands a frame to the decode loop without blocking the adapter.
func (b *Bridge) offer(f protocol.Frame) {
	if b.metrics != nil {
		b.metrics.FrameReceived(f.Origin)
	}
	select {
	case b.frames <- f:
	default:
		log.Printf("[bridge] frame buffer full, dropping %s frame (%d bytes)", f.Origin, len(f.XML))
	}
}

func (b *Bridge) run() {
	for {
		select {
		case frame := <-b.frames:
			b.handleFrame(frame)
		case <-b.done:
			return
		}
	}
}

// handleFrame decodes one frame and folds every message it carries into the
// race state, dispatching the derived events.
func (b *Bridge) handleFrame(frame protocol.Frame) {
	for _, msg := range protocol.Decode(frame.XML) {
		if msg.Kind() == protocol.KindUnknown {
			if b.metrics != nil {
				b.metrics.DecodeFailures.Inc()
			}
			log.Printf("[bridge] unrecognized %s payload (%d bytes)", frame.Origin, len(frame.XML))
			continue
		}
		if b.metrics != nil {
			b.metrics.MessageAccepted(msg.Kind())
		}
		b.linkFrameObserved(frame.Origin)

		if res, ok := msg.(protocol.Results); ok {
			msg = b.merger.ProcessResults(res)
		}

		for _, ev := range b.state.ProcessMessage(msg) {
			b.dispatch(ev)
		}
	}
}

func (b *Bridge) dispatch(ev event.Event) {
	switch ev.Type {
	case event.Finish:
		if ev.Competitor != nil {
			log.Printf("[bridge] finish: bib %s in %s", ev.Competitor.Bib, ev.RaceID)
		}
	case event.RaceChange:
		log.Printf("[bridge] active race now %s", ev.RaceID)
	case event.ScheduleChange:
		log.Printf("[bridge] schedule changed, flushing run cache")
		b.merger.ClearAll()
		b.differ.Reset()
	}
}

func (b *Bridge) linkFrameObserved(origin protocol.Origin) {
	switch origin {
	case protocol.OriginTCP:
		b.linkHealth.recordSuccess()
	case protocol.OriginUDP:
		b.discHealth.recordSuccess()
	case protocol.OriginFile:
		b.fileHealth.recordSuccess()
	}
}

func (b *Bridge) onLinkStatus(status timinglink.Status) {
	log.Printf("[bridge] timing link %s", status)
	if b.metrics != nil {
		if status == timinglink.StatusConnected {
			b.metrics.LinkConnected.Set(1)
		} else {
			b.metrics.LinkConnected.Set(0)
		}
		if status == timinglink.StatusConnecting {
			b.metrics.LinkReconnects.Inc()
		}
	}

	// A dropped link re-arms discovery: the unit may come back on a new
	// address after a venue network change.
	if status == timinglink.StatusDisconnected && b.disc != nil {
		b.disc.Reset()
	}
}

func (b *Bridge) onDiscovered(host string) {
	log.Printf("[bridge] timing unit discovered at %s", host)
	b.discHealth.recordSuccess()
	b.link.SetHost(host)
}

// onFileContent reports which export sections changed, then feeds the whole
// document through the normal decode path.
func (b *Bridge) onFileContent(content string) {
	b.fileHealth.recordSuccess()
	if sections, err := b.differ.CheckContent(content); err == nil && len(sections) > 0 {
		log.Printf("[bridge] export sections changed: %v", sections)
	}
	b.offer(protocol.Frame{XML: content, Origin: protocol.OriginFile})
}

// Health assembles the /api/health document.
func (b *Bridge) Health() interface{} {
	adapters := map[string]AdapterStatus{
		"timinglink": b.linkHealth.snapshot(),
	}
	if b.disc != nil {
		adapters["discovery"] = b.discHealth.snapshot()
	}
	if b.poller != nil {
		adapters["file"] = b.fileHealth.snapshot()
	}

	overall := StatusHealthy
	for _, a := range adapters {
		if a.Status == StatusFailed {
			overall = StatusFailed
			break
		}
		if a.Status == StatusDegraded {
			overall = StatusDegraded
		}
	}

	h := Health{
		Status:        overall,
		LinkStatus:    b.link.Status().String(),
		CurrentRaceID: b.state.Snapshot().CurrentRaceID,
		Clients:       b.hub.SessionCount(),
		Adapters:      adapters,
		Process:       b.processStats(),
	}
	if b.disc != nil {
		h.DiscoveredHost = b.disc.Discovered()
	}
	return h
}

func (b *Bridge) processStats() ProcessStats {
	stats := ProcessStats{PID: int32(os.Getpid())}
	if !b.started.IsZero() {
		stats.UptimeSeconds = time.Since(b.started).Seconds()
	}
	if b.proc == nil {
		return stats
	}
	if cpu, err := b.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := b.proc.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryRSS = mem.RSS
	}
	return stats
}
