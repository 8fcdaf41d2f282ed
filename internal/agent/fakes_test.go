package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/history"
	"github.com/duckmesh/querypilot/internal/llm"
	"github.com/duckmesh/querypilot/internal/schema"
)

// scriptedLLM answers Generate calls from a per-operation queue and tool calls from a
// single queue. Running out of script is an error so tests notice unexpected calls.
type scriptedLLM struct {
	mu        sync.Mutex
	replies   map[string][]string
	errs      map[string]error
	toolTurns []llm.ToolResponse
	requests  []llm.Request
	toolReqs  []llm.ToolRequest
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{replies: map[string][]string{}, errs: map[string]error{}}
}

func (s *scriptedLLM) on(operation string, replies ...string) *scriptedLLM {
	s.replies[operation] = append(s.replies[operation], replies...)
	return s
}

func (s *scriptedLLM) fail(operation string, err error) *scriptedLLM {
	s.errs[operation] = err
	return s
}

func (s *scriptedLLM) turns(responses ...llm.ToolResponse) *scriptedLLM {
	s.toolTurns = append(s.toolTurns, responses...)
	return s
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err := s.errs[req.Operation]; err != nil {
		return "", err
	}
	queue := s.replies[req.Operation]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted reply for %q", req.Operation)
	}
	s.replies[req.Operation] = queue[1:]
	return queue[0], nil
}

func (s *scriptedLLM) ChatWithTools(_ context.Context, req llm.ToolRequest) (llm.ToolResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := req
	copied.Messages = append([]llm.Message(nil), req.Messages...)
	s.toolReqs = append(s.toolReqs, copied)
	if len(s.toolTurns) == 0 {
		return llm.ToolResponse{}, fmt.Errorf("no scripted tool turn")
	}
	turn := s.toolTurns[0]
	s.toolTurns = s.toolTurns[1:]
	return turn, nil
}

func (s *scriptedLLM) requestsFor(operation string) []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, 0)
	for _, req := range s.requests {
		if req.Operation == operation {
			out = append(out, req)
		}
	}
	return out
}

type fakeExecutor struct {
	mu      sync.Mutex
	dialect schema.Dialect
	handler func(req executor.Request) (executor.Result, error)
	calls   []executor.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.Request) (executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		return executor.Result{}, fmt.Errorf("no handler")
	}
	return handler(req)
}

func (f *fakeExecutor) Dialect(_ context.Context, _ string) (schema.Dialect, error) {
	if f.dialect == "" {
		return schema.DialectPostgres, nil
	}
	return f.dialect, nil
}

func (f *fakeExecutor) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, call.SQL)
	}
	return out
}

type staticSchemas struct {
	schema schema.Schema
}

func (s staticSchemas) Load(context.Context, string) (schema.Schema, error) {
	return s.schema, nil
}

type failingRecorder struct{}

func (failingRecorder) Add(context.Context, history.Entry) (history.Entry, error) {
	return history.Entry{}, fmt.Errorf("history offline")
}

type fakeArchiver struct {
	keys []string
}

func (a *fakeArchiver) ArchiveResult(_ context.Context, runID string, index int, _ executor.Result) (string, error) {
	key := fmt.Sprintf("runs/%s/query-%d.parquet", runID, index)
	a.keys = append(a.keys, key)
	return key, nil
}

func shopSchema() schema.Schema {
	return schema.Schema{
		DatabaseName: "shop",
		Tables: []schema.Table{
			{
				Name: "users",
				Columns: []schema.Column{
					{Name: "id", DataType: "integer", PrimaryKey: true},
					{Name: "email", DataType: "text"},
					{Name: "country", DataType: "text", Nullable: true},
					{Name: "created_at", DataType: "timestamp"},
				},
			},
			{
				Name: "orders",
				Columns: []schema.Column{
					{Name: "id", DataType: "integer", PrimaryKey: true},
					{Name: "user_id", DataType: "integer", ForeignKey: true, ForeignTable: "users", ForeignColumn: "id"},
					{Name: "total", DataType: "numeric"},
					{Name: "status", DataType: "text"},
					{Name: "created_at", DataType: "timestamp"},
				},
			},
			{
				Name: "audit_log",
				Columns: []schema.Column{
					{Name: "id", DataType: "bigint", PrimaryKey: true},
					{Name: "message", DataType: "text"},
				},
			},
		},
	}
}

func countResult(column string, value any) executor.Result {
	return executor.Result{
		Columns:  []string{column},
		Rows:     []map[string]any{{column: value}},
		RowCount: 1,
	}
}

const classifyStatistic = `{"category":"statistic","confidence":"high"}`
