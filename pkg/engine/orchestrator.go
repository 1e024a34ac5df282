package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
	"github.com/tabflow/tabflow/pkg/observability"
)

// orchestrator walks one pipeline's steps in order, applying the retry
// policy and mutating the execution record as it goes. Exactly one
// goroutine owns an execution record; readers see snapshots via the store.
type orchestrator struct {
	store     Store
	fs        FS
	log       *slog.Logger
	metrics   *observability.MetricsRegistry
	uploadDir string
	outputDir string
}

func (o *orchestrator) run(ctx context.Context, exec *models.Execution, p *models.Pipeline) error {
	start := time.Now().UTC()
	exec.Status = models.ExecRunning
	exec.StartTime = &start

	// Snapshot step executions up front, in declared order. Disabled steps
	// are recorded as skipped and never invoked.
	exec.Steps = make([]models.StepExecution, len(p.Steps))
	for i, step := range p.Steps {
		status := models.ExecPending
		if !step.Enabled {
			status = models.ExecSkipped
		}
		exec.Steps[i] = models.StepExecution{
			StepID:   stepID(step, i),
			StepName: step.Name,
			Status:   status,
		}
	}
	o.update(exec)

	ec := &Context{
		ExecutionID: exec.ID,
		PipelineID:  p.ID,
		Params:      exec.Parameters,
		Datasets:    map[string]*dataset.Dataset{},
		FS:          o.fs,
		UploadDir:   o.uploadDir,
		OutputDir:   o.outputDir,
	}

	var cur *dataset.Dataset
	for i := range p.Steps {
		step := p.Steps[i]
		se := &exec.Steps[i]

		if !step.Enabled {
			o.logEvent(exec, "info", "skipping disabled step", step.Name)
			continue
		}

		// Cancellation is cooperative and checked only at step
		// boundaries; an in-flight step is never interrupted.
		if ctx.Err() != nil {
			o.finish(exec, models.ExecCancelled, "")
			o.logEvent(exec, "warn", "execution cancelled", step.Name)
			o.metrics.Counter("executions_cancelled").Inc()
			return nil
		}

		out, err := o.runStepWithRetry(exec, se, step, cur, ec)
		if err != nil {
			se.ErrorMessage = err.Error()
			o.finishStep(se, models.ExecFailed)
			msg := fmt.Sprintf("Step %s failed: %v", step.Name, err)
			o.finish(exec, models.ExecFailed, msg)
			o.logEvent(exec, "error", msg, step.Name)
			o.metrics.Counter("executions_failed").Inc()
			return fmt.Errorf("step %s failed: %w", step.Name, err)
		}

		cur = out
		ec.Datasets[step.Name] = out
		o.finishStep(se, models.ExecCompleted)
		o.metrics.Counter("steps_completed").Inc()
		o.metrics.Histogram("step_seconds").Observe(se.Duration)

		if step.Type == models.StepSave {
			o.registerOutput(exec, se)
		}
		o.update(exec)
		o.logEvent(exec, "info", "step completed", step.Name)
	}

	o.finish(exec, models.ExecCompleted, "")
	o.metrics.Counter("executions_completed").Inc()
	o.metrics.Histogram("execution_seconds").Observe(exec.Duration)
	o.logEvent(exec, "info", "pipeline execution completed", "")
	return nil
}

// runStepWithRetry drives one step through the retry loop. RetryCount is
// the number of retries consumed after the initial attempt; a step with
// max_retries=3 is invoked at most four times and fails with
// retry_count=3. Configuration errors never retry.
func (o *orchestrator) runStepWithRetry(exec *models.Execution, se *models.StepExecution, step models.Step, in *dataset.Dataset, ec *Context) (*dataset.Dataset, error) {
	now := time.Now().UTC()
	se.Status = models.ExecRunning
	se.StartTime = &now
	o.update(exec)
	o.log.Info("executing step",
		slog.String("execution", exec.ID),
		slog.String("step", step.Name),
		slog.String("type", string(step.Type)))

	resolved, err := ResolveStep(step, exec.Parameters)
	if err != nil {
		return nil, err
	}

	for {
		out, summary, err := runStep(resolved, in, ec)
		if err == nil {
			se.OutputData = summary
			return out, nil
		}
		if IsConfigError(err) || !step.RetryOnFailure || se.RetryCount >= step.MaxRetries {
			return nil, err
		}
		se.RetryCount++
		se.ErrorMessage = err.Error()
		o.metrics.Counter("step_retries").Inc()
		o.update(exec)
		o.log.Warn("retrying step",
			slog.String("execution", exec.ID),
			slog.String("step", step.Name),
			slog.Int("retry", se.RetryCount),
			slog.Int("max_retries", step.MaxRetries),
			slog.String("error", err.Error()))
	}
}

func (o *orchestrator) finishStep(se *models.StepExecution, status models.ExecutionStatus) {
	now := time.Now().UTC()
	se.Status = status
	se.EndTime = &now
	if se.StartTime != nil {
		se.Duration = now.Sub(*se.StartTime).Seconds()
	}
	if status == models.ExecCompleted {
		se.ErrorMessage = ""
	}
}

func (o *orchestrator) finish(exec *models.Execution, status models.ExecutionStatus, errMsg string) {
	now := time.Now().UTC()
	exec.Status = status
	exec.EndTime = &now
	exec.ErrorMessage = errMsg
	if exec.StartTime != nil {
		exec.Duration = now.Sub(*exec.StartTime).Seconds()
	}
	o.update(exec)
}

// registerOutput appends the written path to the execution's output files
// and registers it with the store. output_files only ever grows.
func (o *orchestrator) registerOutput(exec *models.Execution, se *models.StepExecution) {
	path, _ := se.OutputData["output_path"].(string)
	if path == "" {
		return
	}
	exec.OutputFiles = append(exec.OutputFiles, path)

	size, _ := se.OutputData["bytes_written"].(int)
	format, _ := se.OutputData["format"].(string)
	if err := o.store.RegisterFile(models.FileInfo{
		Name:       filepath.Base(path),
		Path:       path,
		Size:       int64(size),
		Format:     models.DataFormat(format),
		UploadedAt: time.Now().UTC(),
		Metadata:   map[string]string{"execution_id": exec.ID},
	}); err != nil {
		o.log.Error("register output file", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (o *orchestrator) update(exec *models.Execution) {
	if err := o.store.UpdateExecution(exec); err != nil {
		o.log.Error("update execution", slog.String("execution", exec.ID), slog.String("error", err.Error()))
	}
}

func (o *orchestrator) logEvent(exec *models.Execution, level, msg, step string) {
	entry := models.ExecutionLog{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   msg,
		Step:      step,
	}
	if err := o.store.AppendExecutionLog(exec.ID, entry); err != nil {
		o.log.Error("append execution log", slog.String("execution", exec.ID), slog.String("error", err.Error()))
	}
}

func stepID(step models.Step, i int) string {
	if step.ID != "" {
		return step.ID
	}
	return fmt.Sprintf("step-%d", i)
}
