package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awmdev/awm/internal/config"
	"github.com/awmdev/awm/internal/events"
	"github.com/awmdev/awm/internal/logging"
	"github.com/awmdev/awm/internal/meta"
	"github.com/awmdev/awm/internal/web"
)

// vapidSubject identifies this sender to push gateways. Self-hosted, so a
// real contact address is not required.
const vapidSubject = "mailto:awm@localhost"

// newIngestServer assembles the event endpoint from config. listen
// overrides the configured address when non-empty.
func newIngestServer(cfg *config.Config, listen string, buffer *events.Buffer, store *meta.Store) (*web.Server, error) {
	if listen == "" {
		listen = cfg.Ingest.Listen
	}
	perSec, burst := cfg.Ingest.GetRate()

	wcfg := web.Config{
		ListenAddr:  listen,
		Buffer:      buffer,
		Meta:        store,
		ForwardURLs: cfg.Ingest.ForwardURLs,
		RatePerSec:  perSec,
		RateBurst:   burst,
	}

	if cfg.Notify.Enabled {
		dir, err := config.Dir()
		if err != nil {
			return nil, fmt.Errorf("push notifications need a home directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
		push, err := web.NewPushService(dir, vapidSubject, cfg.Notify.Templates)
		if err != nil {
			return nil, fmt.Errorf("push service: %w", err)
		}
		wcfg.Push = push
	}

	return web.NewServer(wcfg), nil
}

// handleServe runs the event endpoint in the foreground, without the TUI.
func handleServe(opts globalOptions, mgr *config.Manager, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", "", "Listen address (default from config, else "+web.DefaultListenAddr+")")

	fs.Usage = func() {
		fmt.Println("Usage: awm serve [options]")
		fmt.Println()
		fmt.Println("Run the event endpoint standalone: agents POST events, browsers and")
		fmt.Println("other tools read them back as JSON, SSE, or websocket.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Routes:")
		fmt.Println("  POST /events           Ingest an event")
		fmt.Println("  GET  /events           Recent events as JSON")
		fmt.Println("  GET  /events/stream    Live events over SSE")
		fmt.Println("  GET  /events/ws        Live events over websocket")
		fmt.Println("  GET  /healthz          Liveness and buffered count")
		fmt.Println()
		fmt.Println("The endpoint is unauthenticated; keep it on loopback or a trusted")
		fmt.Println("network.")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, cfgErr := mgr.Load()
	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
	}

	initLogging(cfg, opts.debug)
	defer logging.Shutdown()

	store := openMetaStore()
	if store != nil {
		defer store.Close()
	}

	srv, err := newIngestServer(cfg, *listen, events.New(0), store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			mainLog.Error("shutdown_failed", slog.String("error", err.Error()))
		}
	}()

	fmt.Printf("awm event endpoint on http://%s\n", srv.Addr())
	fmt.Printf("  report:     curl -XPOST http://%s/events \\\n", srv.Addr())
	fmt.Println("                -d '{\"session\":\"awm-claude-1\",\"kind\":\"status\",\"payload\":{\"status\":\"done\"}}'")
	fmt.Printf("  read back:  curl http://%s/events\n", srv.Addr())
	if cfg.Notify.Enabled {
		fmt.Println("  web push:   enabled")
	}
	if n := len(cfg.Ingest.ForwardURLs); n > 0 {
		fmt.Printf("  forwarding: %d upstream(s)\n", n)
	}
	fmt.Println("Stop with Ctrl+C.")

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
