// Command driftsync-cli is a demo client REPL wiring the Client Sync
// Engine to the SQLite store adapter, the HTTP remote, and the realtime
// client, grounded on theanswer42-bt-go's cobra command layout
// (cmd/bt/main.go).
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/adapter/httpremote"
	"github.com/driftsync/driftsync/adapter/sqlite"
	"github.com/driftsync/driftsync/collection"
	driftconfig "github.com/driftsync/driftsync/config"
	"github.com/driftsync/driftsync/realtime"
	"github.com/driftsync/driftsync/syncclient"
)

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "driftsync-cli",
	Short: "driftsync demo client",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(syncCmd, createCmd, listCmd, statusCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "run one sync cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx := context.Background()
		if err := app.engine.Init(ctx); err != nil {
			return fmt.Errorf("init engine: %w", err)
		}
		app.startRealtime(ctx)
		ran, err := app.engine.Sync(ctx, true)
		if err != nil {
			return err
		}
		fmt.Printf("sync ran=%v status=%s\n", ran, app.engine.Status())
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create [table] [json]",
	Short: "optimistically create a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx := context.Background()
		if err := app.engine.Init(ctx); err != nil {
			return fmt.Errorf("init engine: %w", err)
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
		record, err := app.engine.Create(ctx, args[0], data)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(record, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list [table]",
	Short: "print the current rows of a table via a Reactive Collection View",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx := context.Background()
		if err := app.engine.Init(ctx); err != nil {
			return fmt.Errorf("init engine: %w", err)
		}

		view := collection.New(app.engine, args[0], nil)
		defer view.Close()
		if err := view.Reload(ctx); err != nil {
			return err
		}
		out, _ := json.MarshalIndent(view.Data(), "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the engine's sync status and client id",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx := context.Background()
		if err := app.engine.Init(ctx); err != nil {
			return fmt.Errorf("init engine: %w", err)
		}
		fmt.Printf("client_id=%s status=%s\n", app.engine.ClientID(), app.engine.Status())
		return nil
	},
}

type app struct {
	db     *sql.DB
	engine *syncclient.Engine
	logger *slog.Logger

	realtime        *realtime.Client
	realtimeEnabled bool
	serverURL       string
	token           string
	reconnectDelay  time.Duration
}

func newApp() (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := driftconfig.LoadClientConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	store := sqlite.New(db, logger)
	remote := httpremote.New(cfg.ServerURL, cfg.JWTToken)

	engineConfig := syncclient.DefaultConfig()
	engineConfig.SyncIntervalMS = cfg.SyncIntervalMS
	engineConfig.BatchSize = cfg.BatchSize
	engineConfig.ConflictPolicy = syncclient.ConflictPolicy(strings.ReplaceAll(cfg.ConflictPolicy, "_", "-"))

	engine := syncclient.New(store, remote, engineConfig, syncclient.WithLogger(logger))

	a := &app{db: db, engine: engine, logger: logger, serverURL: cfg.ServerURL, token: cfg.JWTToken, reconnectDelay: cfg.ReconnectDelay, realtimeEnabled: cfg.RealtimeEnabled}
	return a, nil
}

// startRealtime wires the Realtime Client once the engine has a stable
// client id (post-Init); the teacher's demo binaries have no analogue
// since the teacher carries no realtime transport.
func (a *app) startRealtime(ctx context.Context) {
	if !a.realtimeEnabled {
		return
	}
	endpoint := strings.Replace(a.serverURL, "http", "ws", 1) + "/realtime?token=" + a.token
	a.realtime = realtime.NewClient(realtime.ClientConfig{
		Endpoint:             endpoint,
		ClientID:             a.engine.ClientID(),
		ReconnectInterval:    a.reconnectDelay,
		MaxReconnectInterval: 30 * a.reconnectDelay,
	}, func(payload realtime.OperationsPayload) {
		a.engine.ApplyRealtimeBatch(context.Background(), payload.Operations)
	}, a.logger)
	a.realtime.Connect(ctx)
}

func (a *app) close() {
	if a.realtime != nil {
		a.realtime.Destroy()
	}
	a.engine.Destroy()
	_ = a.db.Close()
}
