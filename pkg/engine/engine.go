// Package engine executes stored pipeline definitions: it resolves runtime
// parameters, runs each step in order against an in-memory dataset,
// applies the retry policy, and records per-step and per-execution history
// through the store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabflow/tabflow/pkg/models"
	"github.com/tabflow/tabflow/pkg/observability"
)

// Store is the slice of the definition store the engine needs. The engine
// never assumes a particular backing; anything that can persist execution
// records and file metadata will do.
type Store interface {
	CreateExecution(exec *models.Execution) error
	UpdateExecution(exec *models.Execution) error
	GetExecution(id string) (*models.Execution, error)
	AppendExecutionLog(id string, entry models.ExecutionLog) error
	RegisterFile(f models.FileInfo) error
}

type Options struct {
	UploadDir     string
	OutputDir     string
	MaxConcurrent int
	FS            FS
	Logger        *slog.Logger
	Metrics       *observability.MetricsRegistry
}

type Engine struct {
	store   Store
	fs      FS
	log     *slog.Logger
	metrics *observability.MetricsRegistry

	uploadDir string
	outputDir string
	sem       chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc

	wg sync.WaitGroup
}

func New(store Store, opts Options) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.FS == nil {
		opts.FS = OSFS{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsRegistry()
	}
	return &Engine{
		store:     store,
		fs:        opts.FS,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		uploadDir: opts.UploadDir,
		outputDir: opts.OutputDir,
		sem:       make(chan struct{}, opts.MaxConcurrent),
		running:   map[string]context.CancelFunc{},
	}
}

func (e *Engine) Metrics() *observability.MetricsRegistry { return e.metrics }

// StartExecution creates the execution record and begins orchestration on
// its own goroutine. It returns the execution id immediately; progress is
// observable through GetExecution.
func (e *Engine) StartExecution(p *models.Pipeline, parameters map[string]string, triggeredBy string) (string, error) {
	if p == nil || len(p.Steps) == 0 {
		return "", configErrorf("pipeline has no steps")
	}
	if parameters == nil {
		parameters = map[string]string{}
	}

	exec := &models.Execution{
		ID:           uuid.New().String(),
		PipelineID:   p.ID,
		PipelineName: p.Name,
		Status:       models.ExecPending,
		Parameters:   parameters,
		TriggeredBy:  triggeredBy,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.CreateExecution(exec); err != nil {
		return "", fmt.Errorf("create execution: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.running[exec.ID] = cancel
	e.mu.Unlock()

	e.metrics.Counter("executions_started").Inc()
	e.metrics.Gauge("executions_running").Inc()
	e.log.Info("started pipeline execution",
		slog.String("execution", exec.ID),
		slog.String("pipeline", p.Name),
		slog.String("triggered_by", triggeredBy))

	// The pipeline definition is snapshotted here; edits made after an
	// execution starts never affect it.
	snapshot := *p
	snapshot.Steps = append([]models.Step(nil), p.Steps...)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.running, exec.ID)
			e.mu.Unlock()
			e.metrics.Gauge("executions_running").Dec()
		}()

		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			now := time.Now().UTC()
			exec.Status = models.ExecCancelled
			exec.EndTime = &now
			if err := e.store.UpdateExecution(exec); err != nil {
				e.log.Error("update execution", slog.String("execution", exec.ID), slog.String("error", err.Error()))
			}
			e.metrics.Counter("executions_cancelled").Inc()
			return
		}

		o := &orchestrator{
			store:     e.store,
			fs:        e.fs,
			log:       e.log,
			metrics:   e.metrics,
			uploadDir: e.uploadDir,
			outputDir: e.outputDir,
		}
		if err := o.run(ctx, exec, &snapshot); err != nil {
			e.log.Error("pipeline execution failed",
				slog.String("execution", exec.ID),
				slog.String("pipeline", snapshot.Name),
				slog.String("error", err.Error()))
		}
	}()

	return exec.ID, nil
}

// CancelExecution requests cooperative cancellation. It reports whether an
// active execution was found; the execution reaches the cancelled state at
// its next step boundary.
func (e *Engine) CancelExecution(id string) bool {
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		cancel()
		e.log.Info("cancellation requested", slog.String("execution", id))
	}
	return ok
}

// GetExecution returns a read-only snapshot of an execution.
func (e *Engine) GetExecution(id string) (*models.Execution, error) {
	return e.store.GetExecution(id)
}

// RunningExecutions lists the ids of in-flight executions.
func (e *Engine) RunningExecutions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every in-flight execution reaches a terminal state.
// Used by the one-shot runner and by tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}
