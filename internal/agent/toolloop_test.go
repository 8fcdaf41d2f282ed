package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/history"
	"github.com/duckmesh/querypilot/internal/llm"
	"github.com/duckmesh/querypilot/internal/progress"
)

func newTestToolLoop(t *testing.T, llmFake *scriptedLLM, exec *fakeExecutor, store history.Recorder) *ToolLoop {
	t.Helper()
	loop, err := NewToolLoop(Dependencies{
		LLM:      llmFake,
		Tools:    llmFake,
		Executor: exec,
		Schemas:  staticSchemas{schema: shopSchema()},
		History:  store,
		Logger:   quietLogger(),
	}, Options{})
	require.NoError(t, err)
	return loop
}

func sqlCall(query string, dryRun bool) llm.ToolCall {
	args := `{"query":` + quoteJSON(query) + `}`
	if dryRun {
		args = `{"query":` + quoteJSON(query) + `,"dry_run":true}`
	}
	return llm.ToolCall{ID: uuid.NewString(), Name: "execute_sql", Arguments: args}
}

func quoteJSON(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}

func TestToolLoopExecutesAndAnswers(t *testing.T) {
	first := sqlCall("SELECT count(*) FROM users WHERE created_at > now() - interval '7 days'", false)
	llmFake := newScriptedLLM().
		on("classify", classifyStatistic).
		turns(
			llm.ToolResponse{Content: "Let me count the signups.", ToolCalls: []llm.ToolCall{first}},
			llm.ToolResponse{Content: "Final Answer: 42 users signed up last week."},
		)
	exec := &fakeExecutor{handler: func(executor.Request) (executor.Result, error) {
		return countResult("count", int64(42)), nil
	}}
	store := history.NewMemory()
	recorder := &progress.Recorder{}

	response, err := newTestToolLoop(t, llmFake, exec, store).Run(context.Background(), RunRequest{
		SessionID:    "s1",
		ConnectionID: "shop",
		Question:     "how many users signed up last week",
		History:      []Message{{Role: "user", Content: "hello"}, {Role: "assistant", Content: "hi"}},
		Sink:         recorder,
	})
	require.NoError(t, err)

	assert.Equal(t, "42 users signed up last week.", response.Answer)
	assert.Equal(t, 2, response.Iterations)
	assert.Equal(t, []string{"SELECT count(*) FROM users WHERE created_at > now() - interval '7 days' LIMIT 100"}, response.SQLQueries)

	require.Len(t, llmFake.toolReqs, 2)
	firstReq := llmFake.toolReqs[0]
	assert.InDelta(t, 0.1, firstReq.Temperature, 1e-9)
	require.Len(t, firstReq.Tools, 1)
	assert.Equal(t, "execute_sql", firstReq.Tools[0].Name)
	assert.Len(t, firstReq.Messages, 3)
	assert.Contains(t, firstReq.System, "Use PostgreSQL-compatible SQL syntax.")

	second := llmFake.toolReqs[1].Messages
	require.Len(t, second, 5)
	assert.Equal(t, llm.RoleAssistant, second[3].Role)
	assert.Equal(t, []llm.ToolCall{first}, second[3].ToolCalls)
	assert.Equal(t, llm.RoleTool, second[4].Role)
	assert.Equal(t, first.ID, second[4].ToolCallID)
	assert.Contains(t, second[4].Content, "Returned 1 row")
	assert.Contains(t, second[4].Content, `"count":42`)

	types := recorder.Types()
	assert.Contains(t, types, progress.EventTableData)
	assert.Contains(t, types, progress.EventStatistic)
	assert.Equal(t, progress.EventComplete, types[len(types)-1])

	entries, _ := store.List(context.Background(), "shop", 0)
	assert.Len(t, entries, 1)
}

func TestToolLoopReportsFailuresToModel(t *testing.T) {
	bad := sqlCall("SELECT nope FROM users", false)
	unsafe := sqlCall("DROP TABLE users", false)
	other := llm.ToolCall{ID: "call-x", Name: "plot_chart", Arguments: `{}`}
	llmFake := newScriptedLLM().
		on("classify", `{"category":"table_view","confidence":"high"}`).
		turns(
			llm.ToolResponse{ToolCalls: []llm.ToolCall{bad, unsafe, other}},
			llm.ToolResponse{Content: "I could not find that column."},
		)
	exec := &fakeExecutor{handler: func(executor.Request) (executor.Result, error) {
		return executor.Result{}, errors.New(`column "nope" does not exist`)
	}}

	response, err := newTestToolLoop(t, llmFake, exec, nil).Run(context.Background(), RunRequest{ConnectionID: "shop", Question: "show nope"})
	require.NoError(t, err)
	assert.Equal(t, "I could not find that column.", response.Answer)
	assert.Len(t, exec.executed(), 1)

	messages := llmFake.toolReqs[1].Messages
	toolMessages := messages[len(messages)-3:]
	assert.Equal(t, `SQL execution failed: execution: execute query: column "nope" does not exist. Please check your query syntax and try again.`, toolMessages[0].Content)
	assert.True(t, strings.HasPrefix(toolMessages[1].Content, "SQL execution failed: security:"))
	assert.Contains(t, toolMessages[2].Content, "Unknown tool")
	assert.Equal(t, "call-x", toolMessages[2].ToolCallID)
}

func TestToolLoopDryRunDoesNotExecute(t *testing.T) {
	llmFake := newScriptedLLM().
		on("classify", `{"category":"table_view","confidence":"high"}`).
		turns(
			llm.ToolResponse{ToolCalls: []llm.ToolCall{sqlCall("SELECT email FROM users", true)}},
			llm.ToolResponse{Content: "Here is the SQL: SELECT email FROM users LIMIT 100"},
		)
	exec := &fakeExecutor{}

	_, err := newTestToolLoop(t, llmFake, exec, nil).Run(context.Background(), RunRequest{ConnectionID: "shop", Question: "write sql for emails"})
	require.NoError(t, err)

	assert.Empty(t, exec.executed())
	messages := llmFake.toolReqs[1].Messages
	assert.Contains(t, messages[len(messages)-1].Content, "Dry run")
	assert.Contains(t, messages[len(messages)-1].Content, "SELECT email FROM users LIMIT 100")
}

func TestToolLoopStopsAtMaxIterations(t *testing.T) {
	llmFake := newScriptedLLM().on("classify", `{"category":"complex","confidence":"low"}`)
	for i := 0; i < DefaultMaxIterations; i++ {
		llmFake.turns(llm.ToolResponse{ToolCalls: []llm.ToolCall{sqlCall("SELECT 1", false)}})
	}
	exec := &fakeExecutor{handler: func(executor.Request) (executor.Result, error) {
		return countResult("one", 1), nil
	}}

	_, err := newTestToolLoop(t, llmFake, exec, nil).Run(context.Background(), RunRequest{ConnectionID: "shop", Question: "loop forever"})
	require.Error(t, err)

	var typed *agenterr.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, agenterr.BudgetExhausted, typed.Kind)
	assert.Equal(t, "maximum iterations (5) reached without finding answer", typed.Message)
	assert.Len(t, llmFake.toolReqs, DefaultMaxIterations)
	assert.Len(t, exec.executed(), DefaultMaxIterations)
}

func TestToolLoopRejectsEmptyReply(t *testing.T) {
	llmFake := newScriptedLLM().
		on("classify", classifyStatistic).
		turns(llm.ToolResponse{Content: "   "})

	_, err := newTestToolLoop(t, llmFake, &fakeExecutor{}, nil).Run(context.Background(), RunRequest{ConnectionID: "shop", Question: "q"})
	require.Error(t, err)
	assert.True(t, agenterr.IsKind(err, agenterr.GenerationParse))
}

func TestNewToolLoopRequiresToolCaller(t *testing.T) {
	_, err := NewToolLoop(Dependencies{
		LLM:      newScriptedLLM(),
		Executor: &fakeExecutor{},
		Schemas:  staticSchemas{schema: shopSchema()},
	}, Options{})
	require.Error(t, err)
}
