package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/termrelay/relayd/internal/config"
)

// runStatus implements "relayd status": query a running daemon's open
// status endpoint and print a summary.
func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.termrelay/config.toml)")
	addr := fs.String("addr", "", "Daemon address (overrides config)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	target := *addr
	if target == "" {
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
		target = cfg.Addr
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + target + "/api/status")
	if err != nil {
		fmt.Fprintf(stderr, "Daemon not reachable at %s: %v\n", target, err)
		return 1
	}
	defer resp.Body.Close()

	var status struct {
		Version        string `json:"version"`
		APIVersion     string `json:"apiVersion"`
		Claude         string `json:"claude"`
		ActiveSessions int    `json:"activeSessions"`
		TmuxSessions   []struct {
			SessionID string `json:"sessionId"`
			Attached  bool   `json:"attached"`
		} `json:"tmuxSessions"`
		Uptime int64 `json:"uptime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(stderr, "Error: malformed status response: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Daemon:           %s (api v%s) at %s\n", status.Version, status.APIVersion, target)
	fmt.Fprintf(stdout, "CLI:              %s\n", status.Claude)
	fmt.Fprintf(stdout, "Uptime:           %s\n", (time.Duration(status.Uptime) * time.Second).String())
	fmt.Fprintf(stdout, "Active terminals: %d\n", status.ActiveSessions)
	fmt.Fprintf(stdout, "Tmux windows:     %d\n", len(status.TmuxSessions))
	for _, s := range status.TmuxSessions {
		state := "detached"
		if s.Attached {
			state = "attached"
		}
		fmt.Fprintf(stdout, "  %s (%s)\n", s.SessionID, state)
	}
	return 0
}
