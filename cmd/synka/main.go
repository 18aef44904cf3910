package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/synkahealth/synka-client/internal/config"
	"github.com/synkahealth/synka-client/internal/connectivity"
	"github.com/synkahealth/synka-client/internal/db"
	"github.com/synkahealth/synka-client/internal/gateway"
	"github.com/synkahealth/synka-client/internal/logging"
	"github.com/synkahealth/synka-client/internal/patients"
	syncengine "github.com/synkahealth/synka-client/internal/sync"
)

// app bundles the wired-up client stack.
type app struct {
	cfg      *config.Config
	database *db.DB
	engine   *syncengine.Engine
	monitor  *connectivity.Monitor
	svc      *patients.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(os.Stderr, logLevel(cfg.LogLevel))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	store := db.NewPatientStore(database)
	queue := db.NewQueueStore(database)
	gw := gateway.NewHTTPGateway(cfg.APIBaseURL, cfg.APIToken)
	monitor := connectivity.NewMonitor(gw.HealthURL(), connectivity.DefaultProbeInterval)

	engine := syncengine.NewEngine(store, queue, gw, monitor, syncengine.Config{
		Interval:   cfg.Interval(),
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.MaxRetries,
	})
	svc := patients.NewService(store, queue, gw, monitor, engine)

	return &app{cfg: cfg, database: database, engine: engine, monitor: monitor, svc: svc}, nil
}

func (a *app) close() {
	a.database.Close()
}

func logLevel(s string) logging.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

var rootCmd = &cobra.Command{
	Use:   "synka",
	Short: "Offline-first patient sync client",
	Long: `Synka keeps a local patient database in step with the clinic server.

Reads and writes always hit the local SQLite store first; mutations made
while offline are queued and drained automatically once connectivity
returns.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the client with auto-sync and the local status feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		hub := NewWSHub()
		a.engine.SetEventSink(hub.EventSink)

		a.monitor.Start()
		defer a.monitor.Stop()
		a.engine.StartAutoSync()
		defer a.engine.StopAutoSync()

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.handleWS)
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			status, err := a.svc.Status()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(status)
		})

		server := &http.Server{Addr: "localhost:" + a.cfg.WSPort, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Status server stopped", err)
			}
		}()

		fmt.Printf("Synka running, status feed on ws://localhost:%s/ws\n", a.cfg.WSPort)
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		return server.Shutdown(context.Background())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one blocking sync drain",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.monitor.Check()
		res := a.svc.SyncNow(cmd.Context())
		fmt.Printf("Synced %d, failed %d\n", res.Success, res.Failed)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and pending mutation count",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.monitor.Check()
		status, err := a.svc.Status()
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Re-queue unsynced records dropped at the retry ceiling",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.monitor.Check()
		count, err := a.svc.RequeueUnsynced(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Re-queued %d records\n", count)
		return nil
	},
}

var clearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Drop queue entries that exhausted their retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		removed, err := a.engine.ClearFailed()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d failed entries\n", removed)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove local duplicate patients sharing a phone number",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		removed, err := a.svc.CleanupDuplicates()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d duplicates\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd, syncCmd, statusCmd, requeueCmd, cleanupCmd, clearFailedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
