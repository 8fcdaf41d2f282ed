package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/progress"
)

// Pipeline answers a question in fixed stages: classify, select tables, decompose, then
// refine and execute each sub-query in order.
type Pipeline struct {
	deps       Dependencies
	opts       Options
	classifier *Classifier
	selector   *Selector
	decomposer *Decomposer
	refiner    *Refiner
}

func NewPipeline(deps Dependencies, opts Options) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	logger := deps.logger()
	return &Pipeline{
		deps:       deps,
		opts:       opts,
		classifier: NewClassifier(deps.LLM),
		selector:   NewSelector(deps.LLM, logger),
		decomposer: NewDecomposer(deps.LLM, opts.HistoryMessages, opts.HistoryChars),
		refiner: NewRefiner(deps.LLM, deps.Executor, RefinerConfig{
			MaxAttempts: opts.MaxAttempts,
			RowLimit:    opts.RowLimit,
			History:     deps.History,
			Logger:      logger,
		}),
	}, nil
}

func (p *Pipeline) Run(ctx context.Context, req RunRequest) (Response, error) {
	started := time.Now()
	rc := newRunContext(req, p.deps.logger())
	response, err := p.run(ctx, rc)
	rc.finish(ctx, StrategyPipeline, started, err)
	return response, err
}

func (p *Pipeline) run(ctx context.Context, rc *runContext) (Response, error) {
	rc.thinking(ctx, "Analyzing your question...")
	if err := rc.prepare(ctx, p.deps, p.classifier); err != nil {
		return Response{}, err
	}
	if rc.questionType == QuestionGeneral {
		return rc.general(ctx, p.deps, p.opts)
	}

	rc.thinking(ctx, "Identifying relevant tables...")
	selection, err := p.selector.Select(ctx, rc.req.Question, rc.full)
	if err != nil {
		return Response{}, err
	}
	rc.sink.Emit(ctx, progress.SelectedTables(rc.req.SessionID, selection.Tables, selection.Reasoning))
	rc.logger.InfoContext(ctx, "tables_selected",
		slog.String("question_type", string(rc.questionType)),
		slog.Any("tables", selection.Tables),
		slog.Bool("fell_back", selection.FellBack),
	)

	rc.thinking(ctx, "Generating SQL query...")
	plan, err := p.decomposer.Decompose(ctx, DecomposeInput{
		Question:     rc.req.Question,
		Schema:       selection.Schema,
		Dialect:      rc.dialect,
		QuestionType: rc.questionType,
		History:      rc.req.History,
	})
	if err != nil {
		return Response{}, err
	}
	if plan.Complexity == ComplexityComplex {
		rc.thinking(ctx, fmt.Sprintf("Complex query decomposed into %d steps", len(plan.Queries)))
	} else {
		rc.thinking(ctx, "Single query generated")
	}

	response := Response{RunID: rc.id, QuestionType: rc.questionType, SQLQueries: []string{}}
	results := make([]executor.Result, 0, len(plan.Queries))
	for index, sub := range plan.Queries {
		rc.sink.Emit(ctx, progress.ExecutingSQL(rc.req.SessionID, index, sub.SQL))

		refined, err := p.refiner.RefineAndExecute(ctx, RefineInput{
			RunID:        rc.id,
			SessionID:    rc.req.SessionID,
			ConnectionID: rc.req.ConnectionID,
			Question:     sub.Question,
			SQL:          sub.SQL,
			Schema:       selection.Schema,
			Dialect:      rc.dialect,
			Sink:         rc.sink,
		})
		response.Iterations += refined.Attempts
		if err != nil {
			if !agenterr.IsKind(err, agenterr.BudgetExhausted) {
				return Response{}, err
			}
			rc.sink.Emit(ctx, progress.QueryFailed(rc.req.SessionID, index, sub.SQL, err.Error()))
			if index == 0 || sub.DependsOnPrevious {
				rc.logger.WarnContext(ctx, "pipeline_aborted", slog.Int("query_index", index), slog.Any("error", err))
				response.Answer = abortAnswer(err, sub.SQL)
				response.SQLQueries = []string{sub.SQL}
				rc.sink.Emit(ctx, progress.Complete(rc.req.SessionID, response.Answer))
				return response, nil
			}
			rc.logger.WarnContext(ctx, "sub_query_skipped", slog.Int("query_index", index), slog.Any("error", err))
			continue
		}

		if refined.Attempts > 1 {
			rc.thinking(ctx, fmt.Sprintf("Query succeeded after %d refinement(s)", refined.Attempts))
		}
		response.SQLQueries = append(response.SQLQueries, refined.FinalSQL)
		emitResult(ctx, rc.sink, rc.req.SessionID, rc.req.Question, index, rc.questionType, refined.Result)
		if key := rc.archive(ctx, p.deps.Archiver, index, refined.Result); key != "" {
			response.ArchiveKeys = append(response.ArchiveKeys, key)
		}
		results = append(results, refined.Result)
	}

	answer, err := finalAnswer(ctx, p.deps.LLM, rc.req.Question, plan.Reasoning, results)
	if err != nil {
		return Response{}, err
	}
	response.Answer = strings.TrimSpace(answer)
	rc.sink.Emit(ctx, progress.Token(rc.req.SessionID, response.Answer))
	rc.sink.Emit(ctx, progress.Complete(rc.req.SessionID, response.Answer))
	return response, nil
}
