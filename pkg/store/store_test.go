package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabflow/tabflow/pkg/models"
)

// Both implementations run the same suite; the engine and the API only
// ever see the Store interface.
func withStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		require.NoError(t, s.Migrate())
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func testPipeline(name string) *models.Pipeline {
	return &models.Pipeline{
		Name:   name,
		Status: models.PipelineActive,
		Steps: []models.Step{
			{Name: "load", Type: models.StepLoad, SourcePath: "in.csv", Enabled: true, MaxRetries: 3},
		},
	}
}

func TestPipelineCRUD(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		p := testPipeline("orders")
		require.NoError(t, s.CreatePipeline(p))
		require.NotEmpty(t, p.ID)
		assert.False(t, p.CreatedAt.IsZero())

		got, err := s.GetPipeline(p.ID)
		require.NoError(t, err)
		assert.Equal(t, "orders", got.Name)
		assert.Equal(t, models.PipelineActive, got.Status)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, "in.csv", got.Steps[0].SourcePath)

		got.Name = "orders-v2"
		got.Status = models.PipelineInactive
		require.NoError(t, s.UpdatePipeline(got))
		got, err = s.GetPipeline(p.ID)
		require.NoError(t, err)
		assert.Equal(t, "orders-v2", got.Name)
		assert.Equal(t, models.PipelineInactive, got.Status)

		all, err := s.ListPipelines()
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, s.DeletePipeline(p.ID))
		_, err = s.GetPipeline(p.ID)
		assert.Error(t, err)
		assert.Error(t, s.DeletePipeline(p.ID))
	})
}

func TestPipelineDefaultsOnCreate(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		p := &models.Pipeline{Name: "bare"}
		require.NoError(t, s.CreatePipeline(p))
		got, err := s.GetPipeline(p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PipelineDraft, got.Status)
	})
}

func TestUpdateMissingPipeline(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		err := s.UpdatePipeline(&models.Pipeline{ID: "ghost", Name: "x"})
		assert.Error(t, err)
	})
}

func TestExecutionLifecycle(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		exec := &models.Execution{
			PipelineID:   "p1",
			PipelineName: "orders",
			Status:       models.ExecPending,
			TriggeredBy:  "test",
			Parameters:   map[string]string{"region": "eu"},
		}
		require.NoError(t, s.CreateExecution(exec))
		require.NotEmpty(t, exec.ID)

		now := time.Now().UTC()
		exec.Status = models.ExecRunning
		exec.StartTime = &now
		exec.Steps = []models.StepExecution{{StepID: "step-0", StepName: "load", Status: models.ExecRunning}}
		require.NoError(t, s.UpdateExecution(exec))

		exec.Status = models.ExecCompleted
		exec.Steps[0].Status = models.ExecCompleted
		exec.Steps[0].RetryCount = 2
		exec.OutputFiles = []string{"outputs/out.csv"}
		require.NoError(t, s.UpdateExecution(exec))

		got, err := s.GetExecution(exec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecCompleted, got.Status)
		assert.Equal(t, "eu", got.Parameters["region"])
		require.Len(t, got.Steps, 1)
		assert.Equal(t, 2, got.Steps[0].RetryCount)
		assert.Equal(t, []string{"outputs/out.csv"}, got.OutputFiles)
		require.NotNil(t, got.StartTime)
	})
}

func TestListExecutionsFiltersAndLimits(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		for i := 0; i < 3; i++ {
			pid := "p1"
			if i == 2 {
				pid = "p2"
			}
			require.NoError(t, s.CreateExecution(&models.Execution{PipelineID: pid, Status: models.ExecPending}))
			time.Sleep(5 * time.Millisecond)
		}

		all, err := s.ListExecutions("", 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		// Newest first.
		assert.Equal(t, "p2", all[0].PipelineID)

		p1, err := s.ListExecutions("p1", 0)
		require.NoError(t, err)
		assert.Len(t, p1, 2)

		limited, err := s.ListExecutions("", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestExecutionLogs(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		exec := &models.Execution{PipelineID: "p1", Status: models.ExecPending}
		require.NoError(t, s.CreateExecution(exec))

		base := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, s.AppendExecutionLog(exec.ID, models.ExecutionLog{
			Timestamp: base, Level: "info", Message: "step completed", Step: "load",
		}))
		require.NoError(t, s.AppendExecutionLog(exec.ID, models.ExecutionLog{
			Timestamp: base.Add(time.Second), Level: "error", Message: "step failed", Step: "save",
		}))

		logs, err := s.GetExecutionLogs(exec.ID)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "step completed", logs[0].Message)
		assert.Equal(t, "load", logs[0].Step)
		assert.Equal(t, "error", logs[1].Level)

		empty, err := s.GetExecutionLogs("no-such-execution")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestRegisterFileUpserts(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		f := models.FileInfo{
			Name:   "out.csv",
			Path:   "outputs/out.csv",
			Size:   120,
			Format: models.FormatCSV,
			Metadata: map[string]string{
				"execution_id": "e1",
			},
		}
		require.NoError(t, s.RegisterFile(f))

		f.Size = 240
		f.Metadata["execution_id"] = "e2"
		require.NoError(t, s.RegisterFile(f))

		files, err := s.ListFiles()
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, int64(240), files[0].Size)
		assert.Equal(t, "e2", files[0].Metadata["execution_id"])
		assert.False(t, files[0].UploadedAt.IsZero())
	})
}

func TestWatchDeliversEvents(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		events := s.Watch(KindPipeline)

		p := testPipeline("watched")
		require.NoError(t, s.CreatePipeline(p))
		require.NoError(t, s.DeletePipeline(p.ID))

		ev := <-events
		assert.Equal(t, EventCreated, ev.Type)
		assert.Equal(t, KindPipeline, ev.Kind)
		assert.Equal(t, p.ID, ev.ID)

		ev = <-events
		assert.Equal(t, EventDeleted, ev.Type)
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	p := testPipeline("isolated")
	require.NoError(t, s.CreatePipeline(p))

	got, err := s.GetPipeline(p.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	got.Steps[0].SourcePath = "elsewhere.csv"

	again, err := s.GetPipeline(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "isolated", again.Name)
	assert.Equal(t, "in.csv", again.Steps[0].SourcePath)
}
