package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailreach/internal/app"
	"mailreach/internal/config"
	"mailreach/internal/logging"
)

func main() {
	cfg := config.FromEnv()
	log := logging.New(cfg.LogLevel, cfg.LogJSON)
	defer func() { _ = log.Sync() }()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(startCtx, cfg, log)
	cancel()
	if err != nil {
		log.Fatal("❌ Startup failed", zap.Error(err))
	}
	defer a.Close()

	if a.Queue.Enabled() {
		log.Info("✅ Task queue connected, bulk jobs run on workers")
	} else {
		log.Info("⚠️ No REDIS_URL set, bulk jobs run inline")
	}
	if cfg.APISecretKey == "" {
		log.Warn("⚠️ API_SECRET_KEY not set, endpoints are unauthenticated")
	}

	s := &server{app: a, log: log, started: time.Now()}
	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      s.routes(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Info("🚀 mailreach API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("❌ Server error", zap.Error(err))
		}
	}()

	<-quit
	log.Info("⏳ Shutdown signal received, draining in-flight requests")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown incomplete", zap.Error(err))
	}
	log.Info("✅ Server shut down cleanly")
}

type server struct {
	app     *app.App
	log     *zap.Logger
	started time.Time
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", s.cors(s.auth(s.handleVerify)))
	mux.HandleFunc("/batch", s.cors(s.auth(s.handleBatch)))
	mux.HandleFunc("/jobs", s.cors(s.auth(s.handleUpload)))
	mux.HandleFunc("/jobs/status", s.cors(s.auth(s.handleStatus)))
	mux.HandleFunc("/jobs/results", s.cors(s.auth(s.handleResults)))
	mux.HandleFunc("/stats", s.cors(s.auth(s.handleStats)))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.cors(s.handleInfo))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// cors sets permissive headers for browser clients. Restrict the origin when
// fronting this with a specific UI.
func (s *server) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service": "mailreach",
		"version": "1.0.0",
		"capabilities": []string{
			"Tiered verification (cache, fast, SMTP, pattern, enrichment, re-verify)",
			"Catch-all disambiguation",
			"Provider-aware confidence scoring",
			"Bulk CSV jobs",
			"Prometheus metrics",
		},
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
