package agent

import (
	"context"
	"encoding/json"
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
	"github.com/duckmesh/querypilot/internal/schema"
)

const (
	DefaultMaxIterations = 5
	executeSQLTool       = "execute_sql"
	observationPreview   = 10
)

var executeSQLDefinition = llm.Tool{
	Name: executeSQLTool,
	Description: "Execute a read-only SELECT query on the database to retrieve data, or generate a SQL query without executing it. " +
		"Supports all standard SQL SELECT operations including WHERE clauses, JOINs, GROUP BY, ORDER BY, and aggregate functions (COUNT, SUM, AVG, MIN, MAX). " +
		"Returns up to 100 rows maximum when executed. Use this tool to answer questions that require querying the database. " +
		"The tool will return the actual data along with column names and row count, or just the SQL query if dry_run is true.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type": "string",
				"description": "The SELECT SQL query to execute or generate. Must include a LIMIT clause (maximum 100 rows). " +
					"Only SELECT statements are allowed - no INSERT, UPDATE, DELETE, DROP, or other modification statements.",
			},
			"dry_run": map[string]any{
				"type":        "boolean",
				"description": "If true, returns the SQL query without executing it. Use this when the user wants to generate SQL code rather than get the query results.",
				"default":     false,
			},
		},
		"required": []string{"query"},
	},
}

const toolLoopPrompt = `You are a data analyst with read-only access to a database through the execute_sql tool.

%[1]s
HOW TO WORK:
1. Call execute_sql with one SELECT statement that answers the question.
2. Read the observation. If the query failed, correct it using the schema and call the tool again.
3. Once you have the data you need, reply with the final answer in plain language and no tool call.

RULES:
- Only SELECT statements are allowed; every statement is validated before it runs.
- Results are capped at 100 rows.
- Use dry_run=true when the user asks for the SQL itself rather than for data.
- Use %[2]s-compatible SQL syntax.`

type toolArguments struct {
	Query  string `json:"query"`
	DryRun bool   `json:"dry_run"`
}

// ToolLoop lets the model drive execution through the execute_sql tool until it answers
// without a tool call or runs out of iterations.
type ToolLoop struct {
	deps       Dependencies
	opts       Options
	classifier *Classifier
}

func NewToolLoop(deps Dependencies, opts Options) (*ToolLoop, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool calling client is required")
	}
	return &ToolLoop{deps: deps, opts: opts.withDefaults(), classifier: NewClassifier(deps.LLM)}, nil
}

func (l *ToolLoop) Run(ctx context.Context, req RunRequest) (Response, error) {
	started := time.Now()
	rc := newRunContext(req, l.deps.logger())
	response, err := l.run(ctx, rc)
	rc.finish(ctx, StrategyToolLoop, started, err)
	return response, err
}

func (l *ToolLoop) run(ctx context.Context, rc *runContext) (Response, error) {
	rc.thinking(ctx, "Analyzing your question...")
	if err := rc.prepare(ctx, l.deps, l.classifier); err != nil {
		return Response{}, err
	}
	if rc.questionType == QuestionGeneral {
		return rc.general(ctx, l.deps, l.opts)
	}

	system := fmt.Sprintf(toolLoopPrompt, schema.ForPrompt(rc.full, rc.dialect), rc.dialect.DisplayName()) + questionTypeNotes[rc.questionType]
	messages := toLLMMessages(FoldHistory(rc.req.History, l.opts.HistoryMessages, l.opts.HistoryChars))
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: rc.req.Question})

	response := Response{RunID: rc.id, QuestionType: rc.questionType, SQLQueries: []string{}}
	executed := 0
	for iteration := 1; iteration <= l.opts.MaxIterations; iteration++ {
		response.Iterations = iteration
		reply, err := l.deps.Tools.ChatWithTools(ctx, llm.ToolRequest{
			System:      system,
			Messages:    messages,
			Tools:       []llm.Tool{executeSQLDefinition},
			Temperature: 0.1,
		})
		if err != nil {
			return Response{}, err
		}

		if len(reply.ToolCalls) == 0 {
			answer := stripFinalAnswer(reply.Content)
			if answer == "" {
				return Response{}, agenterr.New(agenterr.GenerationParse, "model returned empty response")
			}
			observability.ObserveToolLoopIterations(iteration)
			response.Answer = answer
			rc.sink.Emit(ctx, progress.Token(rc.req.SessionID, answer))
			rc.sink.Emit(ctx, progress.Complete(rc.req.SessionID, answer))
			return response, nil
		}

		if content := strings.TrimSpace(reply.Content); content != "" {
			rc.thinking(ctx, content)
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: reply.Content, ToolCalls: reply.ToolCalls})

		for _, call := range reply.ToolCalls {
			observation := l.handleToolCall(ctx, rc, call, &executed, &response)
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: observation, ToolCallID: call.ID})
		}
	}

	observability.ObserveToolLoopIterations(l.opts.MaxIterations)
	exhausted := agenterr.Newf(agenterr.BudgetExhausted, "maximum iterations (%d) reached without finding answer", l.opts.MaxIterations)
	exhausted.Attempts = l.opts.MaxIterations
	if len(response.SQLQueries) > 0 {
		exhausted.SQL = response.SQLQueries[len(response.SQLQueries)-1]
	}
	return Response{}, exhausted
}

// handleToolCall runs one tool call and returns the observation for the model. Every call
// gets an answer so the conversation stays well formed.
func (l *ToolLoop) handleToolCall(ctx context.Context, rc *runContext, call llm.ToolCall, executed *int, response *Response) string {
	if call.Name != executeSQLTool {
		return fmt.Sprintf("Unknown tool %q. The only available tool is execute_sql.", call.Name)
	}

	var args toolArguments
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return fmt.Sprintf("Invalid tool arguments: %v. Call execute_sql with a JSON object holding a query string.", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "Missing query in tool call. Call execute_sql with a non-empty query."
	}

	index := *executed
	*executed++
	response.SQLQueries = append(response.SQLQueries, args.Query)
	rc.sink.Emit(ctx, progress.ExecutingSQL(rc.req.SessionID, index, args.Query))

	sanitized, err := guard(args.Query, rc.dialect)
	if err != nil {
		rc.sink.Emit(ctx, progress.QueryFailed(rc.req.SessionID, index, args.Query, err.Error()))
		return executionFailure(err)
	}
	if args.DryRun {
		return fmt.Sprintf("Dry run: the query passed validation and was not executed.\n```sql\n%s\n```", sanitized)
	}

	started := time.Now()
	result, err := l.deps.Executor.Execute(ctx, executor.Request{
		ConnectionID: rc.req.ConnectionID,
		SQL:          sanitized,
		RowLimit:     l.opts.RowLimit,
	})
	elapsed := time.Since(started)
	recordExecution(ctx, l.deps.History, rc.logger, history.Entry{
		ConnectionID:    rc.req.ConnectionID,
		RunID:           rc.id,
		SQL:             sanitized,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Success:         err == nil,
		Error:           errorText(err),
	})
	if err != nil {
		err = asExecutionError(err, sanitized)
		rc.logger.InfoContext(ctx, "tool_query_failed", slog.Int("query_index", index), slog.Any("error", err))
		rc.sink.Emit(ctx, progress.QueryFailed(rc.req.SessionID, index, sanitized, err.Error()))
		return executionFailure(err)
	}

	response.SQLQueries[len(response.SQLQueries)-1] = sanitized
	emitToolResult(ctx, rc, index, result)
	if key := rc.archive(ctx, l.deps.Archiver, index, result); key != "" {
		response.ArchiveKeys = append(response.ArchiveKeys, key)
	}
	return observe(result, elapsed)
}

// emitToolResult always shows the table; charts follow the question type or the result shape.
func emitToolResult(ctx context.Context, rc *runContext, index int, result executor.Result) {
	sessionID := rc.req.SessionID
	rc.sink.Emit(ctx, progress.TableData(sessionID, index, result.Columns, result.Rows))

	charted := rc.questionType == QuestionTemporalChart || rc.questionType == QuestionCategoryChart
	if charted || (result.RowCount > 1 && len(result.Columns) >= 2) {
		if chart, ok := SuggestChart(rc.questionType, result); ok {
			rc.sink.Emit(ctx, progress.ChartSuggested(sessionID, index, chart.Type, chart.XAxis, chart.YAxis))
		}
	}
	if ShowStatistic(rc.questionType, result) {
		rc.sink.Emit(ctx, progress.Statistic(sessionID, rc.req.Question, result.Rows[0][result.Columns[0]]))
	}
}

func executionFailure(err error) string {
	return fmt.Sprintf("SQL execution failed: %v. Please check your query syntax and try again.", err)
}

// observe summarizes a result for the model, including a preview of the first rows.
func observe(result executor.Result, elapsed time.Duration) string {
	if result.RowCount == 0 {
		return "Query executed successfully but returned 0 rows."
	}
	rows := "rows"
	if result.RowCount == 1 {
		rows = "row"
	}
	summary := fmt.Sprintf("Query executed successfully. Returned %d %s in %dms. Columns: %s",
		result.RowCount, rows, elapsed.Milliseconds(), strings.Join(result.Columns, ", "))

	preview := result.Rows
	if len(preview) > observationPreview {
		preview = preview[:observationPreview]
	}
	encoded, err := json.Marshal(preview)
	if err != nil {
		return summary
	}
	return fmt.Sprintf("%s\nFirst %d row(s): %s", summary, len(preview), encoded)
}
