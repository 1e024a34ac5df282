// Package store persists pipeline definitions, execution history, and
// file metadata. The engine treats each execution record as single-writer;
// reads return unmarshalled copies so the presentation layer always sees a
// consistent snapshot.
package store

import (
	"github.com/tabflow/tabflow/pkg/models"
)

type Store interface {
	CreatePipeline(p *models.Pipeline) error
	GetPipeline(id string) (*models.Pipeline, error)
	ListPipelines() ([]*models.Pipeline, error)
	UpdatePipeline(p *models.Pipeline) error
	DeletePipeline(id string) error

	CreateExecution(exec *models.Execution) error
	GetExecution(id string) (*models.Execution, error)
	UpdateExecution(exec *models.Execution) error
	ListExecutions(pipelineID string, limit int) ([]*models.Execution, error)
	AppendExecutionLog(id string, entry models.ExecutionLog) error
	GetExecutionLogs(id string) ([]models.ExecutionLog, error)

	RegisterFile(f models.FileInfo) error
	ListFiles() ([]models.FileInfo, error)

	Watch(kind ResourceKind) <-chan Event

	Migrate() error
	Close() error
}

type ResourceKind string

const (
	KindPipeline  ResourceKind = "pipeline"
	KindExecution ResourceKind = "execution"
	KindFile      ResourceKind = "file"
)

type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

type Event struct {
	Type EventType
	Kind ResourceKind
	ID   string
}
