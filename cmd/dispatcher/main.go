// Command dispatcher runs the periodic sweep-discover-spawn loop described
// in spec §4.6: it never executes a job itself, only decides how many
// one-shot cmd/worker processes to launch, for which queue keys, each cycle.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/evalpipe/evalpipe/pkg/database"
	"github.com/evalpipe/evalpipe/pkg/queue"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	workerBinary := flag.String("worker-binary", os.Getenv("WORKER_BINARY"), "path to the cmd/worker executable")
	addr := flag.String("addr", ":8080", "address for the health/metrics HTTP server")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if *workerBinary == "" {
		*workerBinary = "./worker"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := database.NewClient(ctx, database.Config{
		URL:                       cfg.Database.URL,
		MaxOpenConns:              cfg.Database.MaxOpenConns,
		MaxIdleConns:              cfg.Database.MaxIdleConns,
		DisablePreparedStatements: cfg.Database.DisablePreparedStatements,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	registry := prometheus.NewRegistry()
	metrics := queue.NewMetrics(registry)

	spawner := queue.NewProcessSpawner(*workerBinary)
	dispatcher := queue.NewDispatcher(client.DB, &cfg.Queue, spawner)
	dispatcher.SetMetrics(metrics)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := client.StdDB().PingContext(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: *addr, Handler: router}
	go func() {
		slog.Info("dispatcher health/metrics server listening", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	dispatcher.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
