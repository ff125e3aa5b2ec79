// Command driftsyncd runs the demo sync server: push/pull/realtime/
// status endpoints backed by the Postgres server-store adapter,
// grounded on the teacher's examples/nethttp_server demo but using
// gorilla/mux for routing and cobra/viper for CLI/config, per
// SPEC_FULL.md's ambient stack.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/adapter/jwtauth"
	"github.com/driftsync/driftsync/adapter/postgres"
	"github.com/driftsync/driftsync/adapter/postgres/migrations"
	"github.com/driftsync/driftsync/config"
	"github.com/driftsync/driftsync/realtime"
	"github.com/driftsync/driftsync/syncmodel"
	"github.com/driftsync/driftsync/syncserver"
)

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "driftsyncd",
	Short: "driftsync demo sync server",
	RunE:  runServe,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadServerConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	schema := demoSchema(cfg.SchemaVersion)

	if err := runMigrations(cfg.DatabaseURL, schema.Tables()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	store := postgres.New(pool, logger)

	rtServer := realtime.NewServer(realtime.ServerConfig{
		MaxPerUser:        cfg.MaxConnPerUser,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ConnectionTimeout: cfg.ConnectionTimeout,
	}, logger)
	defer rtServer.Destroy()

	engine := syncserver.NewEngine(store, schema, syncserver.WithNotifier(rtServer), syncserver.WithLogger(logger))
	auth := jwtauth.New(cfg.JWTSecret)
	handlers := syncserver.NewHTTPHandlers(engine, auth)

	router := mux.NewRouter()
	router.HandleFunc("/health", syncserver.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", handlers.HandleStatus).Methods(http.MethodGet)
	router.HandleFunc("/schema-version", handlers.HandleSchemaVersion).Methods(http.MethodGet)
	router.HandleFunc("/sync/push", handlers.HandlePush).Methods(http.MethodPost)
	router.HandleFunc("/sync/pull", handlers.HandlePull).Methods(http.MethodGet)
	router.HandleFunc("/dummy-signin", dummySignin(auth, logger)).Methods(http.MethodPost)

	rtHandler := realtime.NewHandler(rtServer, func(r *http.Request) (string, string, error) {
		claims, err := auth.FromQuery(r)
		if err != nil {
			return "", "", err
		}
		return claims.Subject, claims.ClientID, nil
	}, logger)
	router.Handle("/realtime", rtHandler).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: router,
	}

	logger.Info("driftsyncd listening", "address", cfg.ListenAddress)
	return srv.ListenAndServe()
}

// demoSchema mirrors the teacher's registered-tables demo: a handful of
// generic business tables with per-user row ownership.
func demoSchema(version int) *syncserver.Schema {
	ownedByUser := func(userID string) map[string]any { return map[string]any{"user_id": userID} }
	return syncserver.NewSchema(version,
		syncmodel.TableConfig{Table: "notes", Where: ownedByUser},
		syncmodel.TableConfig{Table: "tasks", Where: ownedByUser},
	)
}

func runMigrations(databaseURL string, tables []string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.Apply(db, tables)
}

func dummySignin(auth *jwtauth.Auth, logger *slog.Logger) http.HandlerFunc {
	type request struct {
		User   string `json:"user"`
		Device string `json:"device"`
	}
	type response struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_request"})
			return
		}
		if req.Device == "" {
			req.Device = fmt.Sprintf("device-%d", time.Now().UnixNano())
		}
		token, err := auth.GenerateToken(req.User, req.Device, time.Hour)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		logger.Info("issued dummy token", "user", req.User, "device", req.Device)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response{Token: token, ExpiresIn: int64(time.Hour.Seconds())})
	}
}
