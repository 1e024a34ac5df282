package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabflow/tabflow/pkg/models"
)

// MemoryStore is an in-process Store for tests and one-shot runs. Records
// are copied through JSON on the way in and out, so callers never share
// mutable state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	pipelines map[string]*models.Pipeline
	execs     map[string]*models.Execution
	logs      map[string][]models.ExecutionLog
	files     map[string]models.FileInfo

	watchers map[ResourceKind][]chan Event
	watchMu  sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines: map[string]*models.Pipeline{},
		execs:     map[string]*models.Execution{},
		logs:      map[string][]models.ExecutionLog{},
		files:     map[string]models.FileInfo{},
		watchers:  map[ResourceKind][]chan Event{},
	}
}

func copyRecord[T any](in *T) *T {
	data, _ := json.Marshal(in)
	out := new(T)
	_ = json.Unmarshal(data, out)
	return out
}

func (s *MemoryStore) CreatePipeline(p *models.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = models.PipelineDraft
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if _, ok := s.pipelines[p.ID]; ok {
		return fmt.Errorf("pipeline %s already exists", p.ID)
	}
	s.pipelines[p.ID] = copyRecord(p)
	s.emit(KindPipeline, Event{Type: EventCreated, Kind: KindPipeline, ID: p.ID})
	return nil
}

func (s *MemoryStore) GetPipeline(id string) (*models.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("pipeline %s not found", id)
	}
	return copyRecord(p), nil
}

func (s *MemoryStore) ListPipelines() ([]*models.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, copyRecord(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdatePipeline(p *models.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[p.ID]; !ok {
		return fmt.Errorf("pipeline %s not found", p.ID)
	}
	p.UpdatedAt = time.Now().UTC()
	s.pipelines[p.ID] = copyRecord(p)
	s.emit(KindPipeline, Event{Type: EventUpdated, Kind: KindPipeline, ID: p.ID})
	return nil
}

func (s *MemoryStore) DeletePipeline(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[id]; !ok {
		return fmt.Errorf("pipeline %s not found", id)
	}
	delete(s.pipelines, id)
	s.emit(KindPipeline, Event{Type: EventDeleted, Kind: KindPipeline, ID: id})
	return nil
}

func (s *MemoryStore) CreateExecution(exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	exec.CreatedAt = now
	exec.UpdatedAt = now
	s.execs[exec.ID] = copyRecord(exec)
	s.emit(KindExecution, Event{Type: EventCreated, Kind: KindExecution, ID: exec.ID})
	return nil
}

func (s *MemoryStore) GetExecution(id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[id]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	return copyRecord(exec), nil
}

func (s *MemoryStore) UpdateExecution(exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[exec.ID]; !ok {
		return fmt.Errorf("execution %s not found", exec.ID)
	}
	exec.UpdatedAt = time.Now().UTC()
	s.execs[exec.ID] = copyRecord(exec)
	s.emit(KindExecution, Event{Type: EventUpdated, Kind: KindExecution, ID: exec.ID})
	return nil
}

func (s *MemoryStore) ListExecutions(pipelineID string, limit int) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Execution{}
	for _, exec := range s.execs {
		if pipelineID != "" && exec.PipelineID != pipelineID {
			continue
		}
		out = append(out, copyRecord(exec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendExecutionLog(id string, entry models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[id] = append(s.logs[id], entry)
	return nil
}

func (s *MemoryStore) GetExecutionLogs(id string) ([]models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ExecutionLog(nil), s.logs[id]...), nil
}

func (s *MemoryStore) RegisterFile(f models.FileInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	s.files[f.Path] = f
	s.emit(KindFile, Event{Type: EventCreated, Kind: KindFile, ID: f.Path})
	return nil
}

func (s *MemoryStore) ListFiles() ([]models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FileInfo, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (s *MemoryStore) Watch(kind ResourceKind) <-chan Event {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	ch := make(chan Event, 100)
	s.watchers[kind] = append(s.watchers[kind], ch)
	return ch
}

func (s *MemoryStore) emit(kind ResourceKind, event Event) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	for _, ch := range s.watchers[kind] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *MemoryStore) Migrate() error { return nil }

func (s *MemoryStore) Close() error { return nil }
