package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/history"
	"github.com/duckmesh/querypilot/internal/llm"
	"github.com/duckmesh/querypilot/internal/observability"
	"github.com/duckmesh/querypilot/internal/progress"
	"github.com/duckmesh/querypilot/internal/sanitizer"
	"github.com/duckmesh/querypilot/internal/schema"
)

const (
	DefaultMaxAttempts = 3
	DefaultRowLimit    = sanitizer.MaxRows
)

const correctionPrompt = `You are a SQL error correction expert. A SQL query failed to execute and you need to fix it.

DATABASE TYPE: %[1]s (use %[1]s-compatible syntax)

RELEVANT SCHEMA:
%[2]s

ORIGINAL QUESTION: %[3]s

FAILED SQL:
` + "```sql\n%[4]s\n```" + `

ERROR:
%[5]s
%[6]s

INSTRUCTIONS:
1. Analyze the error message carefully
2. Check the schema for correct table/column names
3. Verify SQL syntax for %[1]s database
4. Generate a CORRECTED SQL query

COMMON FIXES:
- Table not found: Check schema for exact table name (case-sensitive in some databases)
- Column not found: Verify column exists in the table
- Syntax error: Check for missing quotes, commas, or parentheses
- Type mismatch: Ensure comparisons use matching types
- Missing LIMIT: Always include LIMIT clause (max 100)

Respond with ONLY the corrected SQL query, no explanation. The query must:
- Be a valid SELECT statement
- Include LIMIT clause (max 100)
- Use correct %[1]s syntax`

type RefinerConfig struct {
	MaxAttempts int
	RowLimit    int
	History     history.Recorder
	Logger      *slog.Logger
}

type RefineInput struct {
	RunID        string
	SessionID    string
	ConnectionID string
	Question     string
	SQL          string
	Schema       schema.Schema
	Dialect      schema.Dialect
	Sink         progress.Sink
}

// Refiner executes a statement and asks the model to repair it on failure, up to
// MaxAttempts executions.
type Refiner struct {
	llm         llm.Generator
	executor    executor.Service
	history     history.Recorder
	logger      *slog.Logger
	maxAttempts int
	rowLimit    int
	now         func() time.Time
}

func NewRefiner(generator llm.Generator, exec executor.Service, cfg RefinerConfig) *Refiner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RowLimit <= 0 || cfg.RowLimit > sanitizer.MaxRows {
		cfg.RowLimit = DefaultRowLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Refiner{
		llm:         generator,
		executor:    exec,
		history:     cfg.History,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		rowLimit:    cfg.RowLimit,
		now:         time.Now,
	}
}

func (r *Refiner) RefineAndExecute(ctx context.Context, input RefineInput) (RefinerResult, error) {
	sink := sinkOrDiscard(input.Sink)
	current := input.SQL
	attempts := make([]RefinementAttempt, 0, r.maxAttempts)
	var lastErr error

	for n := 1; n <= r.maxAttempts; n++ {
		result, executed, err := r.tryExecute(ctx, input, current)
		if err == nil {
			attempts = append(attempts, RefinementAttempt{SQL: executed, Success: true})
			observability.ObserveRefinerAttempts(n, true)
			return RefinerResult{FinalSQL: executed, Result: result, Attempts: n, History: attempts}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RefinerResult{}, ctxErr
		}

		lastErr = err
		attempted := current
		if executed != "" {
			attempted = executed
		}
		attempts = append(attempts, RefinementAttempt{SQL: attempted, Error: err.Error()})
		r.logger.InfoContext(ctx, "refiner_attempt_failed",
			slog.String("run_id", input.RunID),
			slog.Int("attempt", n),
			slog.String("kind", string(agenterr.KindOf(err))),
			slog.Any("error", err),
		)
		if n == r.maxAttempts {
			break
		}

		corrected, err := r.correct(ctx, input, current, lastErr, attempts)
		if err != nil {
			if !agenterr.Retryable(err) || ctx.Err() != nil {
				return RefinerResult{}, err
			}
			r.logger.WarnContext(ctx, "refiner_correction_failed",
				slog.String("run_id", input.RunID),
				slog.Int("attempt", n),
				slog.Any("error", err),
			)
			continue
		}
		sink.Emit(ctx, progress.Refined(input.SessionID, n+1, corrected, lastErr.Error()))
		current = corrected
	}

	observability.ObserveRefinerAttempts(r.maxAttempts, false)
	exhausted := agenterr.Wrapf(lastErr, agenterr.BudgetExhausted, "query refinement failed after %d attempts", r.maxAttempts).WithSQL(current)
	exhausted.Attempts = r.maxAttempts
	return RefinerResult{Attempts: r.maxAttempts, History: attempts}, exhausted
}

// tryExecute runs one attempt: both sanitizer passes, then the executor. It returns the
// statement that actually reached the database.
func (r *Refiner) tryExecute(ctx context.Context, input RefineInput, sqlText string) (executor.Result, string, error) {
	sanitized, err := guard(sqlText, input.Dialect)
	if err != nil {
		return executor.Result{}, "", err
	}

	started := r.now()
	result, err := r.executor.Execute(ctx, executor.Request{
		ConnectionID: input.ConnectionID,
		SQL:          sanitized,
		RowLimit:     r.rowLimit,
	})
	r.record(ctx, input, sanitized, r.now().Sub(started), err)
	if err != nil {
		return executor.Result{}, sanitized, asExecutionError(err, sanitized)
	}
	return result, sanitized, nil
}

func (r *Refiner) record(ctx context.Context, input RefineInput, sqlText string, elapsed time.Duration, execErr error) {
	recordExecution(ctx, r.history, r.logger, history.Entry{
		ConnectionID:    input.ConnectionID,
		RunID:           input.RunID,
		SQL:             sqlText,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Success:         execErr == nil,
		Error:           errorText(execErr),
	})
}

func (r *Refiner) correct(ctx context.Context, input RefineInput, failedSQL string, failure error, attempts []RefinementAttempt) (string, error) {
	dialect := input.Dialect.DisplayName()
	prompt := fmt.Sprintf(correctionPrompt,
		dialect,
		schema.Detailed(input.Schema, failure.Error()),
		input.Question,
		failedSQL,
		failure.Error(),
		attemptHistory(attempts),
	)

	response, err := r.llm.Generate(ctx, llm.Request{
		Operation:   "refine",
		System:      prompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "Fix the SQL query."}},
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}
	corrected := extractSQL(response)
	if corrected == "" {
		return "", agenterr.New(agenterr.GenerationParse, "correction reply contained no SQL")
	}
	return corrected, nil
}

// attemptHistory lists earlier failures once there is more than one.
func attemptHistory(attempts []RefinementAttempt) string {
	if len(attempts) <= 1 {
		return ""
	}
	parts := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		parts = append(parts, fmt.Sprintf("Attempt:\n```sql\n%s\n```\nError: %s", attempt.SQL, attempt.Error))
	}
	return "\n\nPrevious failed attempts:\n" + strings.Join(parts, "\n\n")
}

// guard runs both sanitizer passes and counts rejections by stage.
func guard(sqlText string, dialect schema.Dialect) (string, error) {
	sanitized, err := sanitizer.Validate(sqlText)
	if err != nil {
		observability.IncrementSanitizerRejection("generic")
		return "", err
	}
	if err := sanitizer.ValidateForDialect(sanitized, string(dialect)); err != nil {
		observability.IncrementSanitizerRejection(string(dialect))
		return "", err
	}
	return sanitized, nil
}

func asExecutionError(err error, sqlText string) error {
	var typed *agenterr.Error
	if errors.As(err, &typed) {
		return err
	}
	return agenterr.Wrap(err, agenterr.Execution, "execute query").WithSQL(sqlText)
}

// recordExecution stores an executed statement. Failures are logged and counted only.
func recordExecution(ctx context.Context, recorder history.Recorder, logger *slog.Logger, entry history.Entry) {
	if recorder == nil {
		return
	}
	if _, err := recorder.Add(ctx, entry); err != nil {
		observability.IncrementHistoryWriteFailure()
		logger.WarnContext(ctx, "history_write_failed",
			slog.String("connection_id", entry.ConnectionID),
			slog.Any("error", err),
		)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
