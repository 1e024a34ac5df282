package engine

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabflow/tabflow/pkg/codec"
	"github.com/tabflow/tabflow/pkg/models"
	"github.com/tabflow/tabflow/pkg/store"
)

const sampleJSON = `[
	{"id": 1, "name": "ana", "dept": "eng", "salary": 90000.0, "active": true},
	{"id": 2, "name": "ben", "dept": "eng", "salary": 75000.0, "active": false},
	{"id": 3, "name": "carla", "dept": "ops", "salary": 60000.0, "active": true}
]`

func newTestEngine(t *testing.T, fs FS, maxConcurrent int) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	eng := New(st, Options{
		UploadDir:     "uploads",
		OutputDir:     "outputs",
		MaxConcurrent: maxConcurrent,
		FS:            fs,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return eng, st
}

func loadStep(name, source string) models.Step {
	return models.Step{
		Name: name, Type: models.StepLoad, SourcePath: source,
		Enabled: true, RetryOnFailure: true, MaxRetries: 3,
	}
}

func saveStep(name, output string) models.Step {
	return models.Step{
		Name: name, Type: models.StepSave, OutputPath: output,
		Enabled: true, RetryOnFailure: true, MaxRetries: 3,
	}
}

func runToCompletion(t *testing.T, eng *Engine, p *models.Pipeline, params map[string]string) *models.Execution {
	t.Helper()
	id, err := eng.StartExecution(p, params, "test")
	require.NoError(t, err)
	eng.Wait()
	exec, err := eng.GetExecution(id)
	require.NoError(t, err)
	return exec
}

func TestPipelineRunCompletes(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("uploads/sample.json", []byte(sampleJSON)))
	eng, st := newTestEngine(t, fs, 0)

	p := &models.Pipeline{
		ID: "p1", Name: "copy", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load", "sample.json"), saveStep("save", "out.csv")},
	}
	exec := runToCompletion(t, eng, p, nil)

	assert.Equal(t, models.ExecCompleted, exec.Status)
	assert.Empty(t, exec.ErrorMessage)
	require.NotNil(t, exec.StartTime)
	require.NotNil(t, exec.EndTime)
	assert.GreaterOrEqual(t, exec.Duration, 0.0)
	assert.Equal(t, []string{"outputs/out.csv"}, exec.OutputFiles)

	require.Len(t, exec.Steps, 2)
	for _, se := range exec.Steps {
		assert.Equal(t, models.ExecCompleted, se.Status)
		assert.Equal(t, 0, se.RetryCount)
		assert.Empty(t, se.ErrorMessage)
	}
	assert.EqualValues(t, 3, exec.Steps[0].OutputData["rows"])
	assert.EqualValues(t, 5, exec.Steps[0].OutputData["columns"])

	// The written CSV round-trips to the loaded shape.
	data, err := fs.ReadFile("outputs/out.csv")
	require.NoError(t, err)
	c, err := codec.ForFormat(models.FormatCSV)
	require.NoError(t, err)
	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 3, got.NumRows())
	assert.Equal(t, []string{"id", "name", "dept", "salary", "active"}, got.Columns)

	// Save steps register their output file against the execution.
	files, err := st.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "outputs/out.csv", files[0].Path)
	assert.Equal(t, exec.ID, files[0].Metadata["execution_id"])

	logs, err := st.GetExecutionLogs(exec.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)

	snap := eng.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap["counter.executions_started"])
	assert.EqualValues(t, 1, snap["counter.executions_completed"])
	assert.EqualValues(t, 0, snap["gauge.executions_running"])
}

func TestPipelineEndToEnd(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("uploads/sample.json", []byte(sampleJSON)))
	eng, _ := newTestEngine(t, fs, 0)

	filter := models.Step{
		Name: "only eng", Type: models.StepFilter, Enabled: true,
		Conditions: []models.FilterCondition{{Column: "dept", Operator: "equals", Value: "${dept}"}},
	}
	transform := models.Step{
		Name: "bonus", Type: models.StepTransform, Enabled: true,
		Operations: []models.TransformOp{{Type: "add_column", Name: "bonus", Expression: "salary * 0.1"}},
	}
	p := &models.Pipeline{
		ID: "p2", Name: "enrich", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load", "sample.json"), filter, transform, saveStep("save", "out.json")},
	}
	exec := runToCompletion(t, eng, p, map[string]string{"dept": "eng"})

	require.Equal(t, models.ExecCompleted, exec.Status, exec.ErrorMessage)

	data, err := fs.ReadFile("outputs/out.json")
	require.NoError(t, err)
	c, _ := codec.ForFormat(models.FormatJSON)
	got, err := c.Decode(data)
	require.NoError(t, err)

	require.Equal(t, 2, got.NumRows())
	assert.Equal(t, []string{"id", "name", "dept", "salary", "active", "bonus"}, got.Columns)
	assert.InDelta(t, 9000.0, got.Value(0, "bonus").(float64), 1e-9)
}

func TestRetryExhaustion(t *testing.T) {
	fs := NewMemFS()
	eng, _ := newTestEngine(t, fs, 0)

	p := &models.Pipeline{
		ID: "p3", Name: "flaky", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load", "missing.csv"), saveStep("save", "out.csv")},
	}
	exec := runToCompletion(t, eng, p, nil)

	assert.Equal(t, models.ExecFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "Step load failed")
	assert.Contains(t, exec.ErrorMessage, "missing.csv")

	require.Len(t, exec.Steps, 2)
	assert.Equal(t, models.ExecFailed, exec.Steps[0].Status)
	assert.Equal(t, 3, exec.Steps[0].RetryCount)
	assert.NotEmpty(t, exec.Steps[0].ErrorMessage)

	// One initial attempt plus three retries.
	assert.Equal(t, 4, fs.Reads("uploads/missing.csv"))

	// The step after the failure is never reached.
	assert.Equal(t, models.ExecPending, exec.Steps[1].Status)
	assert.Nil(t, exec.Steps[1].StartTime)
	assert.Empty(t, exec.OutputFiles)
}

func TestNoRetryWhenDisabled(t *testing.T) {
	fs := NewMemFS()
	eng, _ := newTestEngine(t, fs, 0)

	step := loadStep("load", "missing.csv")
	step.RetryOnFailure = false
	p := &models.Pipeline{ID: "p4", Name: "once", Status: models.PipelineActive, Steps: []models.Step{step}}
	exec := runToCompletion(t, eng, p, nil)

	assert.Equal(t, models.ExecFailed, exec.Status)
	assert.Equal(t, 0, exec.Steps[0].RetryCount)
	assert.Equal(t, 1, fs.Reads("uploads/missing.csv"))
}

func TestConfigErrorNeverRetries(t *testing.T) {
	fs := NewMemFS()
	eng, _ := newTestEngine(t, fs, 0)

	step := loadStep("load", "")
	p := &models.Pipeline{ID: "p5", Name: "broken", Status: models.PipelineActive, Steps: []models.Step{step}}
	exec := runToCompletion(t, eng, p, nil)

	assert.Equal(t, models.ExecFailed, exec.Status)
	assert.Equal(t, 0, exec.Steps[0].RetryCount)
	assert.Equal(t, 0, fs.TotalReads())
}

func TestUnresolvedParameterFailsBeforeIO(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("uploads/in.csv", []byte("a\n1\n")))
	eng, _ := newTestEngine(t, fs, 0)

	p := &models.Pipeline{
		ID: "p6", Name: "params", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load", "${dir}/in.csv")},
	}
	exec := runToCompletion(t, eng, p, map[string]string{"other": "x"})

	assert.Equal(t, models.ExecFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "unresolved parameter")
	assert.Contains(t, exec.Steps[0].ErrorMessage, "dir")
	assert.Equal(t, 0, exec.Steps[0].RetryCount)
	assert.Equal(t, 0, fs.TotalReads())
}

func TestParameterSubstitutionInPaths(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("uploads/eu/in.csv", []byte("a,b\n1,2\n")))
	eng, _ := newTestEngine(t, fs, 0)

	p := &models.Pipeline{
		ID: "p7", Name: "regional", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load", "${region}/in.csv"), saveStep("save", "${region}/out.csv")},
	}
	exec := runToCompletion(t, eng, p, map[string]string{"region": "eu"})

	require.Equal(t, models.ExecCompleted, exec.Status, exec.ErrorMessage)
	assert.Equal(t, []string{"outputs/eu/out.csv"}, exec.OutputFiles)
}

func TestDisabledStepSkipped(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("uploads/sample.json", []byte(sampleJSON)))
	eng, _ := newTestEngine(t, fs, 0)

	disabled := models.Step{
		Name: "unused", Type: models.StepTransform, Enabled: false,
		Operations: []models.TransformOp{{Type: "drop_columns", Columns: []string{"dept"}}},
	}
	p := &models.Pipeline{
		ID: "p8", Name: "skip", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load", "sample.json"), disabled, saveStep("save", "out.json")},
	}
	exec := runToCompletion(t, eng, p, nil)

	require.Equal(t, models.ExecCompleted, exec.Status, exec.ErrorMessage)
	assert.Equal(t, models.ExecSkipped, exec.Steps[1].Status)
	assert.Nil(t, exec.Steps[1].StartTime)

	// The skipped transform left the data untouched.
	data, err := fs.ReadFile("outputs/out.json")
	require.NoError(t, err)
	c, _ := codec.ForFormat(models.FormatJSON)
	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.True(t, got.HasColumn("dept"))
}

// gateFS parks the first read until the test releases it, so the test can
// act while a step is provably in flight.
type gateFS struct {
	*MemFS
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateFS() *gateFS {
	return &gateFS{MemFS: NewMemFS(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateFS) ReadFile(path string) ([]byte, error) {
	g.once.Do(func() {
		g.entered <- struct{}{}
		<-g.release
	})
	return g.MemFS.ReadFile(path)
}

func TestCancellationBetweenSteps(t *testing.T) {
	fs := newGateFS()
	require.NoError(t, fs.WriteFile("uploads/sample.json", []byte(sampleJSON)))
	eng, _ := newTestEngine(t, fs, 0)

	p := &models.Pipeline{
		ID: "p9", Name: "cancel", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load", "sample.json"), saveStep("save", "out.csv")},
	}
	id, err := eng.StartExecution(p, nil, "test")
	require.NoError(t, err)

	<-fs.entered
	assert.True(t, eng.CancelExecution(id))
	close(fs.release)
	eng.Wait()

	exec, err := eng.GetExecution(id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecCancelled, exec.Status)
	require.NotNil(t, exec.EndTime)

	// The in-flight step finished; the one after the boundary never ran.
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, models.ExecCompleted, exec.Steps[0].Status)
	assert.Equal(t, models.ExecPending, exec.Steps[1].Status)
	assert.Empty(t, exec.OutputFiles)

	if _, err := fs.MemFS.ReadFile("outputs/out.csv"); err == nil {
		t.Fatal("save step ran after cancellation")
	}
}

func TestCancelWhileQueued(t *testing.T) {
	fs := newGateFS()
	require.NoError(t, fs.WriteFile("uploads/sample.json", []byte(sampleJSON)))
	eng, _ := newTestEngine(t, fs, 1)

	p := &models.Pipeline{
		ID: "p10", Name: "queued", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load", "sample.json")},
	}

	first, err := eng.StartExecution(p, nil, "test")
	require.NoError(t, err)
	<-fs.entered

	// The single slot is held by the first execution, so the second queues.
	second, err := eng.StartExecution(p, nil, "test")
	require.NoError(t, err)
	assert.True(t, eng.CancelExecution(second))

	// Let the queued goroutine observe its cancellation before the slot
	// frees up.
	require.Eventually(t, func() bool {
		e, err := eng.GetExecution(second)
		return err == nil && e.Status == models.ExecCancelled
	}, 2*time.Second, 5*time.Millisecond)

	close(fs.release)
	eng.Wait()

	firstExec, err := eng.GetExecution(first)
	require.NoError(t, err)
	assert.Equal(t, models.ExecCompleted, firstExec.Status)

	secondExec, err := eng.GetExecution(second)
	require.NoError(t, err)
	assert.Equal(t, models.ExecCancelled, secondExec.Status)
	assert.Empty(t, secondExec.Steps)
}

func TestCancelUnknownExecution(t *testing.T) {
	eng, _ := newTestEngine(t, NewMemFS(), 0)
	assert.False(t, eng.CancelExecution("no-such-id"))
}

func TestStartExecutionRejectsEmptyPipeline(t *testing.T) {
	eng, _ := newTestEngine(t, NewMemFS(), 0)
	_, err := eng.StartExecution(&models.Pipeline{ID: "p", Name: "empty"}, nil, "test")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestJoinAcrossSteps(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("uploads/orders.csv", []byte("order_id,dept,amount\n10,eng,250.5\n11,ops,80\n12,eng,40\n")))
	require.NoError(t, fs.WriteFile("uploads/depts.csv", []byte("dept,lead\neng,ana\nops,carla\n")))
	eng, _ := newTestEngine(t, fs, 0)

	join := models.Step{
		Name: "attach lead", Type: models.StepJoin, Enabled: true,
		RightSource: "depts.csv", JoinType: "left", LeftOn: "dept",
	}
	p := &models.Pipeline{
		ID: "p11", Name: "join", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load orders", "orders.csv"), join, saveStep("save", "joined.json")},
	}
	exec := runToCompletion(t, eng, p, nil)

	require.Equal(t, models.ExecCompleted, exec.Status, exec.ErrorMessage)

	data, err := fs.ReadFile("outputs/joined.json")
	require.NoError(t, err)
	c, _ := codec.ForFormat(models.FormatJSON)
	got, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, 3, got.NumRows())
	assert.Equal(t, []string{"order_id", "dept", "amount", "lead"}, got.Columns)
	assert.Equal(t, "ana", got.Value(0, "lead"))
}

func TestFailureMessageNamesStep(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("uploads/sample.json", []byte(sampleJSON)))
	eng, _ := newTestEngine(t, fs, 0)

	bad := models.Step{
		Name: "bad filter", Type: models.StepFilter, Enabled: true,
		Conditions: []models.FilterCondition{{Column: "ghost", Operator: "equals", Value: 1}},
	}
	p := &models.Pipeline{
		ID: "p12", Name: "naming", Status: models.PipelineActive,
		Steps: []models.Step{loadStep("load", "sample.json"), bad},
	}
	exec := runToCompletion(t, eng, p, nil)

	assert.Equal(t, models.ExecFailed, exec.Status)
	assert.True(t, strings.HasPrefix(exec.ErrorMessage, "Step bad filter failed:"), exec.ErrorMessage)
	assert.Contains(t, exec.ErrorMessage, "ghost")
}
