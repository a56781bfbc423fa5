// Command worker is the one-shot process described in spec §4.6: it
// acquires exactly one slot for WORKER_QUEUE_KEY, claims and runs exactly
// one job, releases the slot, and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/evalpipe/evalpipe/pkg/classifier"
	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/evalpipe/evalpipe/pkg/database"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/objectstore"
	"github.com/evalpipe/evalpipe/pkg/pipeline"
	"github.com/evalpipe/evalpipe/pkg/queue"
	"github.com/evalpipe/evalpipe/pkg/sandbox"
	"github.com/evalpipe/evalpipe/pkg/verdict"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	queueKey := os.Getenv("WORKER_QUEUE_KEY")
	if queueKey == "" {
		slog.Error("WORKER_QUEUE_KEY is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
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

	objects, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to construct object store", "error", err)
		os.Exit(1)
	}

	p := pipeline.New(client.DB, &cfg.Queue)
	runner := sandbox.NewProcessRunner(cfg.Sandbox)
	classify := classifier.NewAnthropicClassifier(cfg.Anthropic)
	synthesize := verdict.NewAnthropicSynthesizer(cfg.Anthropic)

	handlers := queue.HandlerRegistry{
		models.JobTypeTrial:    pipeline.NewTrialHandler(p, runner, objects, cfg.Storage.Enabled),
		models.JobTypeAnalysis: pipeline.NewAnalysisHandler(p, classify, objects, cfg.Queue.AnalysisTimeout),
		models.JobTypeVerdict:  pipeline.NewVerdictHandler(p, synthesize),
	}

	workerID := fmt.Sprintf("worker-%s", uuid.NewString())
	w := queue.NewWorker(workerID, client.DB, &cfg.Queue, handlers)

	runCtx, runCancel := context.WithTimeout(ctx, cfg.Queue.WorkerTimeout)
	defer runCancel()

	if err := w.RunOne(runCtx, queueKey); err != nil {
		slog.Error("worker run failed", "queue_key", queueKey, "error", err)
		os.Exit(1)
	}
}

func newObjectStore(ctx context.Context, cfg config.StorageConfig) (objectstore.Store, error) {
	if cfg.Enabled {
		return objectstore.NewS3Store(ctx, cfg)
	}
	return objectstore.NewLocalStore(cfg.LocalDir)
}
