package agent

import (
	"context"
	"strings"

	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/progress"
	"github.com/duckmesh/querypilot/internal/schema"
)

// QuestionType drives prompt hints and how results are displayed.
type QuestionType string

const (
	QuestionGeneral       QuestionType = "general"
	QuestionTableView     QuestionType = "table_view"
	QuestionTemporalChart QuestionType = "temporal_chart"
	QuestionCategoryChart QuestionType = "category_chart"
	QuestionStatistic     QuestionType = "statistic"
	QuestionComplex       QuestionType = "complex"
)

// ParseQuestionType maps a category name to a QuestionType. Unknown names are complex.
func ParseQuestionType(raw string) QuestionType {
	switch QuestionType(strings.ToLower(strings.TrimSpace(raw))) {
	case QuestionGeneral:
		return QuestionGeneral
	case QuestionTableView:
		return QuestionTableView
	case QuestionTemporalChart:
		return QuestionTemporalChart
	case QuestionCategoryChart:
		return QuestionCategoryChart
	case QuestionStatistic:
		return QuestionStatistic
	default:
		return QuestionComplex
	}
}

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Message is one prior turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SubQuery struct {
	Question          string `json:"question"`
	SQL               string `json:"sql"`
	Order             int    `json:"order"`
	DependsOnPrevious bool   `json:"depends_on_previous"`
}

type SelectorResult struct {
	Schema    schema.Schema
	Tables    []string
	Reasoning string
	// FellBack is set when the full schema was used because nothing could be selected.
	FellBack bool
}

type DecomposerResult struct {
	Complexity Complexity
	Queries    []SubQuery
	Reasoning  string
}

type RefinementAttempt struct {
	SQL     string `json:"sql"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type RefinerResult struct {
	FinalSQL string
	Result   executor.Result
	Attempts int
	History  []RefinementAttempt
}

type RunRequest struct {
	SessionID    string
	ConnectionID string
	Question     string
	History      []Message
	Strategy     string
	Export       bool
	Sink         progress.Sink
}

type Response struct {
	RunID        string       `json:"run_id"`
	QuestionType QuestionType `json:"question_type"`
	Answer       string       `json:"answer"`
	SQLQueries   []string     `json:"sql_queries"`
	Iterations   int          `json:"iterations"`
	ArchiveKeys  []string     `json:"archive_keys,omitempty"`
}

// Runner answers one question end to end.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (Response, error)
}

// SchemaSource returns the schema of a connection. *schema.Cache satisfies it.
type SchemaSource interface {
	Load(ctx context.Context, connectionID string) (schema.Schema, error)
}

func sinkOrDiscard(sink progress.Sink) progress.Sink {
	if sink == nil {
		return progress.Discard
	}
	return sink
}
