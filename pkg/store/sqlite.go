package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tabflow/tabflow/pkg/models"
)

// SQLiteStore keeps each record as a JSON blob alongside the columns the
// queries filter on.
type SQLiteStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	watchers map[ResourceKind][]chan Event
	watchMu  sync.RWMutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{
		db:       db,
		watchers: make(map[ResourceKind][]chan Event),
	}, nil
}

func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		pipeline_name TEXT DEFAULT '',
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS execution_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		step TEXT DEFAULT '',
		FOREIGN KEY (execution_id) REFERENCES executions(id)
	);

	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data TEXT NOT NULL,
		uploaded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline_id);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	CREATE INDEX IF NOT EXISTS idx_execution_logs_exec_id ON execution_logs(execution_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreatePipeline(p *models.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = models.PipelineDraft
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pipeline: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO pipelines (id, name, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, string(p.Status), string(data), now, now)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	s.emit(KindPipeline, Event{Type: EventCreated, Kind: KindPipeline, ID: p.ID})
	return nil
}

func (s *SQLiteStore) GetPipeline(id string) (*models.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT data FROM pipelines WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query pipeline: %w", err)
	}
	var p models.Pipeline
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListPipelines() ([]*models.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT data FROM pipelines ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var results []*models.Pipeline
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p models.Pipeline
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		results = append(results, &p)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) UpdatePipeline(p *models.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pipeline: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE pipelines SET name = ?, status = ?, data = ?, updated_at = ? WHERE id = ?
	`, p.Name, string(p.Status), string(data), p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline %s not found", p.ID)
	}
	s.emit(KindPipeline, Event{Type: EventUpdated, Kind: KindPipeline, ID: p.ID})
	return nil
}

func (s *SQLiteStore) DeletePipeline(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM pipelines WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline %s not found", id)
	}
	s.emit(KindPipeline, Event{Type: EventDeleted, Kind: KindPipeline, ID: id})
	return nil
}

func (s *SQLiteStore) CreateExecution(exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	exec.CreatedAt = now
	exec.UpdatedAt = now

	data, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO executions (id, pipeline_id, pipeline_name, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.PipelineID, exec.PipelineName, string(exec.Status), string(data), now, now)
	if err != nil {
		return err
	}
	s.emit(KindExecution, Event{Type: EventCreated, Kind: KindExecution, ID: exec.ID})
	return nil
}

func (s *SQLiteStore) GetExecution(id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT data FROM executions WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var exec models.Execution
	if err := json.Unmarshal([]byte(data), &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *SQLiteStore) UpdateExecution(exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		UPDATE executions SET status = ?, data = ?, updated_at = ? WHERE id = ?
	`, string(exec.Status), string(data), exec.UpdatedAt, exec.ID)
	if err != nil {
		return err
	}
	s.emit(KindExecution, Event{Type: EventUpdated, Kind: KindExecution, ID: exec.ID})
	return nil
}

func (s *SQLiteStore) ListExecutions(pipelineID string, limit int) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT data FROM executions"
	args := []any{}
	if pipelineID != "" {
		query += " WHERE pipeline_id = ?"
		args = append(args, pipelineID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.Execution
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var exec models.Execution
		if err := json.Unmarshal([]byte(data), &exec); err != nil {
			return nil, err
		}
		results = append(results, &exec)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) AppendExecutionLog(id string, entry models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO execution_logs (execution_id, timestamp, level, message, step)
		VALUES (?, ?, ?, ?, ?)
	`, id, entry.Timestamp, entry.Level, entry.Message, entry.Step)
	return err
}

func (s *SQLiteStore) GetExecutionLogs(id string) ([]models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT timestamp, level, message, step FROM execution_logs WHERE execution_id = ? ORDER BY id ASC",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ExecutionLog
	for rows.Next() {
		var l models.ExecutionLog
		if err := rows.Scan(&l.Timestamp, &l.Level, &l.Message, &l.Step); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) RegisterFile(f models.FileInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO files (path, name, data, uploaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			data = excluded.data,
			uploaded_at = excluded.uploaded_at
	`, f.Path, f.Name, string(data), f.UploadedAt)
	if err != nil {
		return err
	}
	s.emit(KindFile, Event{Type: EventCreated, Kind: KindFile, ID: f.Path})
	return nil
}

func (s *SQLiteStore) ListFiles() ([]models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT data FROM files ORDER BY uploaded_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.FileInfo
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var f models.FileInfo
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

// Watch support

func (s *SQLiteStore) Watch(kind ResourceKind) <-chan Event {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	ch := make(chan Event, 100)
	s.watchers[kind] = append(s.watchers[kind], ch)
	return ch
}

func (s *SQLiteStore) emit(kind ResourceKind, event Event) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()

	for _, ch := range s.watchers[kind] {
		select {
		case ch <- event:
		default:
			// Slow watchers drop events rather than block writes.
		}
	}
}
