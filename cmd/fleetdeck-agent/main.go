package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

var AppVersion string

// The agent is the payload the server deploys to managed hosts. It does
// one thing: prove liveness by writing the current epoch second to the
// heartbeat file on every tick. The server reads the file over SSH and
// flags hosts whose heartbeat goes stale.
func main() {
	heartbeatFile := flag.String("heartbeat-file", "/opt/fleetdeck/heartbeat", "file the heartbeat timestamp is written to")
	interval := flag.Duration("interval", 30*time.Second, "heartbeat interval")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	slog.Info("FleetDeck Agent", "version", AppVersion, "heartbeat_file", *heartbeatFile, "interval", *interval)

	if err := writeHeartbeat(*heartbeatFile); err != nil {
		slog.Error("Failed to write initial heartbeat", "error", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := writeHeartbeat(*heartbeatFile); err != nil {
				slog.Error("Failed to write heartbeat", "error", err)
			}
		case sig := <-quit:
			slog.Info("Received shutdown signal", "signal", sig)
			return
		}
	}
}

// writeHeartbeat replaces the heartbeat file atomically so a concurrent
// remote read never sees a partial write.
func writeHeartbeat(path string) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	stamp := strconv.FormatInt(time.Now().Unix(), 10) + "\n"
	if err := os.WriteFile(tmp, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace heartbeat: %w", err)
	}
	return nil
}
