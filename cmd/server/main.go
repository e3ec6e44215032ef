package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slalomlive/backend/internal/bridge"
	"github.com/slalomlive/backend/internal/config"
	"github.com/slalomlive/backend/internal/event"
	"github.com/slalomlive/backend/internal/metrics"
	"github.com/slalomlive/backend/internal/race"
	"github.com/slalomlive/backend/internal/sim"
	"github.com/slalomlive/backend/internal/ws"
)

func main() {
	simMode := flag.Bool("sim", false, "Generate a simulated timing feed instead of connecting to hardware")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	timingHost := flag.String("timing-host", "", "Override timing unit host (skips discovery)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *timingHost != "" {
		cfg.Timing.Host = *timingHost
		cfg.Discovery.Enabled = false
	}
	if *simMode {
		// A simulated feed replaces every real adapter.
		cfg.Timing.Host = ""
		cfg.Discovery.Enabled = false
		cfg.File.Path = ""
	}

	state := event.NewState(cfg.Event.HighlightDuration)
	hub := ws.NewHub()
	m := metrics.New()
	b := bridge.New(cfg, state, race.NewMerger(), hub, m)

	server := ws.NewServer(hub, state.Snapshot, b.Health, b.Writer(), cfg.Server.AllowedOrigins)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	mux.Handle("/metrics", m.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.Start()
	if *simMode {
		log.Println("Starting in simulation mode")
		gen := sim.NewGenerator(500*time.Millisecond, b.Inject)
		gen.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		b.Stop()
		state.Destroy()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
