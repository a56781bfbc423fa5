package queue

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// ProcessSpawner spawns the one-shot worker binary as a detached OS process,
// passing the queue key via the WORKER_QUEUE_KEY environment variable. It
// never waits for the process to exit — the dispatcher's job ends at launch
// (spec §4.6: workers terminate themselves).
type ProcessSpawner struct {
	// WorkerBinary is the path to the cmd/worker executable.
	WorkerBinary string
	// ExtraEnv is appended to the spawned process's environment, useful in
	// tests to point the worker at a test database.
	ExtraEnv []string
}

// NewProcessSpawner constructs a ProcessSpawner targeting workerBinary.
func NewProcessSpawner(workerBinary string) *ProcessSpawner {
	return &ProcessSpawner{WorkerBinary: workerBinary}
}

// Spawn launches one worker process for queueKey.
func (p *ProcessSpawner) Spawn(ctx context.Context, queueKey string) error {
	cmd := exec.Command(p.WorkerBinary)
	cmd.Env = append(os.Environ(), append(p.ExtraEnv, "WORKER_QUEUE_KEY="+queueKey)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn worker for %s: %w", queueKey, err)
	}

	// Reap the child asynchronously once it exits so it does not become a
	// zombie; the dispatcher never waits on it directly.
	go func() { _ = cmd.Wait() }()
	return nil
}

// FakeSpawner records spawn calls in-memory instead of launching processes,
// for dispatcher tests.
type FakeSpawner struct {
	Spawned []string
	Err     error
}

// Spawn records queueKey and returns f.Err.
func (f *FakeSpawner) Spawn(ctx context.Context, queueKey string) error {
	f.Spawned = append(f.Spawned, queueKey)
	return f.Err
}
