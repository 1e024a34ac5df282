package models

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

type PipelineStatus string

const (
	PipelineDraft    PipelineStatus = "draft"
	PipelineActive   PipelineStatus = "active"
	PipelineInactive PipelineStatus = "inactive"
)

type StepType string

const (
	StepLoad      StepType = "load"
	StepTransform StepType = "transform"
	StepFilter    StepType = "filter"
	StepAggregate StepType = "aggregate"
	StepJoin      StepType = "join"
	StepSave      StepType = "save"
)

type DataFormat string

const (
	FormatCSV     DataFormat = "csv"
	FormatJSON    DataFormat = "json"
	FormatParquet DataFormat = "parquet"
	FormatXLSX    DataFormat = "xlsx"
)

type Pipeline struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Status      PipelineStatus    `yaml:"status" json:"status"`
	Steps       []Step            `yaml:"steps" json:"steps"`
	Schedule    map[string]any    `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt   time.Time         `yaml:"createdAt,omitempty" json:"created_at"`
	UpdatedAt   time.Time         `yaml:"updatedAt,omitempty" json:"updated_at"`
	CreatedBy   string            `yaml:"createdBy,omitempty" json:"created_by,omitempty"`
}

// Step is a single pipeline operation. The step kinds form a closed set;
// each kind reads its own group of config fields and ignores the rest.
type Step struct {
	ID             string   `yaml:"id,omitempty" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Type           StepType `yaml:"type" json:"type"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	RetryOnFailure bool     `yaml:"retryOnFailure" json:"retry_on_failure"`
	MaxRetries     int      `yaml:"maxRetries" json:"max_retries"`

	// load / save
	SourcePath string         `yaml:"sourcePath,omitempty" json:"source_path,omitempty"`
	OutputPath string         `yaml:"outputPath,omitempty" json:"output_path,omitempty"`
	Format     DataFormat     `yaml:"format,omitempty" json:"format,omitempty"`
	Options    map[string]any `yaml:"options,omitempty" json:"options,omitempty"`

	// transform
	Operations []TransformOp `yaml:"operations,omitempty" json:"operations,omitempty"`

	// filter
	Conditions []FilterCondition `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	// aggregate
	GroupBy      []string          `yaml:"groupBy,omitempty" json:"group_by,omitempty"`
	Aggregations map[string]string `yaml:"aggregations,omitempty" json:"aggregations,omitempty"`

	// join
	RightSource string     `yaml:"rightSource,omitempty" json:"right_source,omitempty"`
	RightFormat DataFormat `yaml:"rightFormat,omitempty" json:"right_format,omitempty"`
	JoinType    string     `yaml:"joinType,omitempty" json:"join_type,omitempty"`
	LeftOn      string     `yaml:"leftOn,omitempty" json:"left_on,omitempty"`
	RightOn     string     `yaml:"rightOn,omitempty" json:"right_on,omitempty"`
}

type TransformOp struct {
	Type       string            `yaml:"type" json:"type"`
	Name       string            `yaml:"name,omitempty" json:"name,omitempty"`
	Expression string            `yaml:"expression,omitempty" json:"expression,omitempty"`
	Mapping    map[string]string `yaml:"mapping,omitempty" json:"mapping,omitempty"`
	Columns    []string          `yaml:"columns,omitempty" json:"columns,omitempty"`
	Value      any               `yaml:"value,omitempty" json:"value,omitempty"`
	Ascending  *bool             `yaml:"ascending,omitempty" json:"ascending,omitempty"`
}

type FilterCondition struct {
	Column   string `yaml:"column" json:"column"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value,omitempty" json:"value,omitempty"`
	Values   []any  `yaml:"values,omitempty" json:"values,omitempty"`
}

// stepAlias drops Step's unmarshal methods so defaults can be applied
// before decoding. Steps are enabled and retryable with three retries
// unless the definition says otherwise.
type stepAlias Step

func defaultStep() stepAlias {
	return stepAlias{Enabled: true, RetryOnFailure: true, MaxRetries: 3}
}

func (s *Step) UnmarshalJSON(data []byte) error {
	a := defaultStep()
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Step(a)
	return nil
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	a := defaultStep()
	if err := node.Decode(&a); err != nil {
		return err
	}
	*s = Step(a)
	return nil
}
