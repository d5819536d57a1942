package main

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"projects/config"
	"projects/logging"
	"projects/metrics"
)

//go:embed schema.sql
var schema string

type app struct {
	db      *sql.DB
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
}

func main() {
	configPath := pflag.String("config", "", "YAML configuration file")
	pflag.String("addr", ":8080", "listen address")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.Parse()

	cfg, err := config.Load(*configPath, pflag.CommandLine)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.Log.Format = "json"
	cfg.Log.File = ""
	logger, done, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer done()

	if err := cfg.Server.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.Server.PGConn)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	logger.Info("connected to database")

	if _, err := db.Exec(schema); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{db: db, cfg: cfg, log: logger, metrics: metrics.New(reg)}
	mux := a.routes()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "db unhealthy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	logger.Info("listening", zap.String("addr", cfg.Server.Addr))
	logger.Fatal("server stopped", zap.Error(http.ListenAndServe(cfg.Server.Addr, mux)))
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/google/callback", a.handleGoogleCallback)
	mux.HandleFunc("GET /api/admin/check", a.handleAdminCheck)
	mux.HandleFunc("GET /api/rounds", a.handleListRounds)
	mux.HandleFunc("POST /api/rounds", a.handleCreateRound)
	mux.HandleFunc("DELETE /api/rounds/{roundID}", a.handleDeleteRound)
	mux.HandleFunc("POST /api/rounds/{roundID}/admins", a.handleAddRoundAdmin)
	mux.HandleFunc("DELETE /api/rounds/{roundID}/admins/{adminID}", a.handleRemoveRoundAdmin)
	mux.HandleFunc("GET /api/rounds/{roundID}", a.handleGetRound)
	mux.HandleFunc("PATCH /api/rounds/{roundID}", a.handleUpdateRound)
	mux.HandleFunc("GET /api/rounds/{roundID}/me", a.handleRoundMe)
	mux.HandleFunc("PUT /api/rounds/{roundID}/slots", a.handleUploadSlots)
	mux.HandleFunc("PUT /api/rounds/{roundID}/preferences", a.handleUploadPreferences)
	mux.HandleFunc("GET /api/rounds/{roundID}/students", a.handleListStudents)
	mux.HandleFunc("POST /api/rounds/{roundID}/solve", a.handleSolve)
	mux.HandleFunc("GET /api/rounds/{roundID}/runs/{runID}/assignments.csv", a.handleRunAssignments)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
