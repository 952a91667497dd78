package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"graphrag"
)

func main() {
	// .env is optional; real env vars win.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env")
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := graphrag.FromEnv()
	addr := os.Getenv("GRAPHRAG_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	svc, err := graphrag.New(cfg)
	if err != nil {
		slog.Error("creating service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()
	svc.StartScheduler()

	h := newHandler(svc)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /query", h.handleQuery)
	mux.HandleFunc("POST /query2", h.handleQuery2)
	mux.HandleFunc("POST /answer", h.handleAnswer)
	mux.HandleFunc("GET /path", h.handlePath)
	mux.HandleFunc("GET /similar", h.handleSimilar)
	mux.HandleFunc("GET /graph", h.handleGraph)
	mux.HandleFunc("GET /nodes", h.handleNodes)
	mux.HandleFunc("GET /edges", h.handleEdges)
	mux.HandleFunc("POST /cluster", h.handleCluster)
	mux.HandleFunc("POST /cluster/summarize", h.handleClusterSummarize)
	mux.HandleFunc("POST /layout", h.handleLayout)
	mux.HandleFunc("POST /centrality", h.handleCentrality)
	mux.HandleFunc("POST /snapshots", h.handleSnapshotCreate)
	mux.HandleFunc("GET /snapshots", h.handleSnapshotList)
	mux.HandleFunc("GET /snapshots/diff", h.handleSnapshotDiff)
	mux.HandleFunc("POST /index/run", h.handleIndexRun)
	mux.HandleFunc("GET /index/status", h.handleIndexStatus)
	mux.HandleFunc("GET /index/log", h.handleIndexLog)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	mux.Handle("GET /metrics/prom", svc.Metrics().Handler())
	mux.HandleFunc("GET /stream", h.handleStream)
	mux.HandleFunc("POST /reset", h.handleReset)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(cfg.APIKey, handler)
	handler = corsMiddleware(os.Getenv("GRAPHRAG_CORS_ORIGINS"), handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (SSE, long ingests)
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
}
