package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/termrelay/relayd/internal/auth"
	"github.com/termrelay/relayd/internal/bridge"
	"github.com/termrelay/relayd/internal/config"
	"github.com/termrelay/relayd/internal/discovery"
	"github.com/termrelay/relayd/internal/mdns"
	"github.com/termrelay/relayd/internal/registry"
	"github.com/termrelay/relayd/internal/server"
	"github.com/termrelay/relayd/internal/storage"
	"github.com/termrelay/relayd/internal/tmux"
)

// shutdownTimeout bounds the graceful HTTP drain on termination.
const shutdownTimeout = 10 * time.Second

// runServe implements "relayd serve": load config, wire the components,
// serve until SIGINT/SIGTERM, then shut down in dependency order.
func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.termrelay/config.toml)")
	addr := fs.String("addr", "", "Listen address (overrides config)")
	token := fs.String("token", "", "Pre-shared auth token (overrides config)")
	qr := fs.Bool("qr", false, "Display a connect QR code on startup")
	useMdns := fs.Bool("mdns", false, "Enable mDNS/Bonjour advertisement")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: relayd serve [options]

Start the relay daemon: discover assistant CLI sessions from their
conversation logs and expose them for remote attach over HTTP+WebSocket.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *token != "" {
		cfg.AuthToken = *token
	}
	if *useMdns {
		cfg.MdnsEnabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	if _, err := config.DefaultConfigDir(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := serve(cfg, stdout, *qr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// serve wires the components, runs the server, and tears everything down in
// the reverse dependency order on a termination signal.
func serve(cfg *config.Config, stdout io.Writer, showQR bool) error {
	store, err := storage.Open(cfg.AuditDB)
	if err != nil {
		// The audit log is best-effort infrastructure; a broken database
		// file must not keep sessions unreachable.
		log.Printf("serve: audit log unavailable: %v", err)
		store = nil
	}

	br := bridge.New(bridge.Config{
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		MaxMissedPongs:    cfg.HeartbeatMaxMissed,
		OnClosed: func(sessionID string) {
			if store != nil {
				if err := store.RecordEvent(context.Background(), sessionID, storage.EventWSClose, ""); err != nil {
					log.Printf("serve: audit write failed: %v", err)
				}
			}
		},
	}, nil)

	tmuxMgr := tmux.NewManager(tmux.Config{
		Prefix:      cfg.TmuxPrefix,
		CLIBinary:   cfg.CLIBinary,
		MaxSessions: cfg.MaxSessions,
		Cols:        cfg.DefaultCols,
		Rows:        cfg.DefaultRows,
	}, br)

	disco := discovery.New(cfg.LogDir, cfg.CacheFile)
	if err := disco.Start(); err != nil {
		return fmt.Errorf("failed to start session discovery: %w", err)
	}

	// Clean up after any unclean previous shutdown before accepting work.
	if rec, err := tmuxMgr.Reconcile(context.Background()); err != nil {
		log.Printf("serve: reconcile failed: %v", err)
	} else if len(rec.AdoptedSessions) > 0 {
		log.Printf("serve: adopted %d surviving windows from a previous run", len(rec.AdoptedSessions))
	}

	tokens := auth.NewTokenManager()
	reg := registry.New(disco, tmuxMgr, br)

	srv := server.New(server.Deps{
		Config:     cfg,
		Version:    Version,
		Authorizer: auth.NewAuthorizer(cfg.AuthToken, cfg.AuthTokenHash),
		Tokens:     tokens,
		Registry:   reg,
		Discovery:  disco,
		Tmux:       tmuxMgr,
		Bridge:     br,
		Store:      store,
	})

	var advertiser *mdns.Advertiser
	if cfg.MdnsEnabled {
		advertiser = mdns.NewAdvertiser(mdns.Config{
			Port:    portOf(cfg.Addr),
			Version: Version,
		})
		if err := advertiser.Start(); err != nil {
			log.Printf("serve: mdns advertisement failed: %v", err)
			advertiser = nil
		}
	}

	printBanner(stdout, cfg, showQR)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("serve: received %v, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Shutdown order: stop accepting connections, stop timers, close all
	// PTYs, then flush discovery's cache synchronously.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("serve: HTTP shutdown: %v", err)
	}

	if advertiser != nil {
		advertiser.Stop()
	}
	tokens.Stop()
	tmuxMgr.Stop()
	br.Stop()
	disco.Stop()
	if store != nil {
		store.Close()
	}

	log.Printf("serve: shutdown complete")
	return nil
}

// printBanner shows the connection summary, optionally with a QR code the
// client app can scan instead of typing the address.
func printBanner(w io.Writer, cfg *config.Config, showQR bool) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "  termrelay daemon")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintf(w, "  Address:   %s\n", cfg.Addr)
	fmt.Fprintf(w, "  CLI:       %s\n", cfg.CLIBinary)
	fmt.Fprintf(w, "  Log dir:   %s\n", cfg.LogDir)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	if !showQR {
		return
	}

	payload := fmt.Sprintf("termrelay://connect?host=%s", url.QueryEscape(cfg.Addr))
	code, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "QR code unavailable: %v\n", err)
		return
	}
	fmt.Fprint(w, code.ToSmallString(false))
	fmt.Fprintf(w, "\n  Scan to connect (token entered separately).\n\n")
}

// portOf extracts the numeric port from a host:port address.
func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
