package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/history"
	"github.com/duckmesh/querypilot/internal/llm"
	"github.com/duckmesh/querypilot/internal/observability"
	"github.com/duckmesh/querypilot/internal/progress"
	"github.com/duckmesh/querypilot/internal/schema"
)

const (
	StrategyPipeline = "pipeline"
	StrategyToolLoop = "toolloop"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Archiver stores a successful sub-query result and returns its object key.
type Archiver interface {
	ArchiveResult(ctx context.Context, runID string, index int, result executor.Result) (string, error)
}

type Dependencies struct {
	LLM      llm.Generator
	Tools    llm.ToolCaller
	Executor executor.Service
	Schemas  SchemaSource
	History  history.Recorder
	Archiver Archiver
	Logger   *slog.Logger
}

type Options struct {
	MaxAttempts     int
	MaxIterations   int
	RowLimit        int
	HistoryMessages int
	HistoryChars    int
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.RowLimit <= 0 {
		o.RowLimit = DefaultRowLimit
	}
	if o.HistoryMessages <= 0 {
		o.HistoryMessages = DefaultHistoryMessages
	}
	if o.HistoryChars <= 0 {
		o.HistoryChars = DefaultHistoryChars
	}
	return o
}

func (d Dependencies) validate() error {
	if d.LLM == nil {
		return fmt.Errorf("text generation client is required")
	}
	if d.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if d.Schemas == nil {
		return fmt.Errorf("schema source is required")
	}
	return nil
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Router dispatches a run to the strategy it names, or to Default.
type Router struct {
	Default string
	Runners map[string]Runner
}

func (r Router) Run(ctx context.Context, req RunRequest) (Response, error) {
	strategy := strings.ToLower(strings.TrimSpace(req.Strategy))
	if strategy == "" {
		strategy = r.Default
	}
	runner, ok := r.Runners[strategy]
	if !ok {
		return Response{}, fmt.Errorf("%w %q", ErrUnknownStrategy, strategy)
	}
	return runner.Run(ctx, req)
}

// runContext is the per-run state shared by both strategies.
type runContext struct {
	id           string
	req          RunRequest
	sink         progress.Sink
	logger       *slog.Logger
	full         schema.Schema
	dialect      schema.Dialect
	questionType QuestionType
}

func newRunContext(req RunRequest, logger *slog.Logger) *runContext {
	id := uuid.NewString()
	return &runContext{
		id:   id,
		req:  req,
		sink: sinkOrDiscard(req.Sink),
		logger: logger.With(
			slog.String("run_id", id),
			slog.String("session_id", req.SessionID),
			slog.String("connection_id", req.ConnectionID),
		),
	}
}

func (rc *runContext) thinking(ctx context.Context, message string) {
	rc.sink.Emit(ctx, progress.Thinking(rc.req.SessionID, message))
}

// prepare classifies the question and loads the connection's schema and dialect.
func (rc *runContext) prepare(ctx context.Context, deps Dependencies, classifier *Classifier) error {
	if strings.TrimSpace(rc.req.Question) == "" {
		return agenterr.New(agenterr.GenerationParse, "question is required")
	}

	questionType, err := classifier.Classify(ctx, rc.req.Question)
	if err != nil {
		if !agenterr.IsKind(err, agenterr.GenerationParse) {
			return err
		}
		rc.logger.WarnContext(ctx, "classification_fallback", slog.Any("error", err))
		questionType = QuestionComplex
	}
	rc.questionType = questionType

	dialect, err := deps.Executor.Dialect(ctx, rc.req.ConnectionID)
	if err != nil {
		return fmt.Errorf("resolve dialect: %w", err)
	}
	full, err := deps.Schemas.Load(ctx, rc.req.ConnectionID)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	rc.dialect = dialect
	rc.full = full
	return nil
}

// general answers a question that needs no SQL.
func (rc *runContext) general(ctx context.Context, deps Dependencies, opts Options) (Response, error) {
	folded := FoldHistory(rc.req.History, opts.HistoryMessages, opts.HistoryChars)
	answer, err := answerGeneral(ctx, deps.LLM, rc.sink, rc.req.SessionID, rc.req.Question, schema.ForPrompt(rc.full, rc.dialect), folded)
	if err != nil {
		return Response{}, err
	}
	rc.sink.Emit(ctx, progress.Complete(rc.req.SessionID, answer))
	return Response{
		RunID:        rc.id,
		QuestionType: QuestionGeneral,
		Answer:       answer,
		SQLQueries:   []string{},
		Iterations:   1,
	}, nil
}

func (rc *runContext) archive(ctx context.Context, archiver Archiver, index int, result executor.Result) string {
	if !rc.req.Export || archiver == nil {
		return ""
	}
	key, err := archiver.ArchiveResult(ctx, rc.id, index, result)
	if err != nil {
		rc.logger.WarnContext(ctx, "archive_result_failed", slog.Int("query_index", index), slog.Any("error", err))
		return ""
	}
	return key
}

// finish records the run outcome and reports failures to the sink.
func (rc *runContext) finish(ctx context.Context, strategy string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(agenterr.KindOf(err))
		if ctx.Err() != nil {
			outcome = "canceled"
		}
		rc.sink.Emit(ctx, progress.Error(rc.req.SessionID, err))
		rc.logger.ErrorContext(ctx, "agent_run_failed", slog.String("strategy", strategy), slog.Any("error", err))
	} else {
		rc.logger.InfoContext(ctx, "agent_run_completed", slog.String("strategy", strategy), slog.Duration("elapsed", time.Since(started)))
	}
	observability.ObserveAgentRun(strategy, outcome, time.Since(started))
}
