package progress

import (
	"context"
	"time"
)

type EventType string

const (
	EventThinking       EventType = "thinking"
	EventSelectedTables EventType = "selected_tables"
	EventExecutingSQL   EventType = "executing_sql"
	EventRefined        EventType = "refined"
	EventQueryFailed    EventType = "query_failed"
	EventTableData      EventType = "table_data"
	EventStatistic      EventType = "statistic"
	EventChartSuggested EventType = "chart_suggested"
	EventToken          EventType = "token"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	At        time.Time      `json:"at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink receives progress events. Emit must not block the run for long and never fails it.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

type discard struct{}

func (discard) Emit(context.Context, Event) {}

var Discard Sink = discard{}

func New(eventType EventType, sessionID string, payload map[string]any) Event {
	return Event{Type: eventType, SessionID: sessionID, At: time.Now().UTC(), Payload: payload}
}

func Thinking(sessionID, message string) Event {
	return New(EventThinking, sessionID, map[string]any{"message": message})
}

func SelectedTables(sessionID string, tables []string, reasoning string) Event {
	return New(EventSelectedTables, sessionID, map[string]any{"tables": tables, "reasoning": reasoning})
}

func ExecutingSQL(sessionID string, index int, sql string) Event {
	return New(EventExecutingSQL, sessionID, map[string]any{"query_index": index, "sql": sql})
}

func Refined(sessionID string, attempt int, sql, reason string) Event {
	return New(EventRefined, sessionID, map[string]any{"attempt": attempt, "sql": sql, "error": reason})
}

func QueryFailed(sessionID string, index int, sql, reason string) Event {
	return New(EventQueryFailed, sessionID, map[string]any{"query_index": index, "sql": sql, "error": reason})
}

func TableData(sessionID string, index int, columns []string, rows []map[string]any) Event {
	return New(EventTableData, sessionID, map[string]any{"query_index": index, "columns": columns, "rows": rows, "row_count": len(rows)})
}

func Statistic(sessionID, label string, value any) Event {
	return New(EventStatistic, sessionID, map[string]any{"label": label, "value": value})
}

func ChartSuggested(sessionID string, index int, chartType, xAxis string, yAxis []string) Event {
	return New(EventChartSuggested, sessionID, map[string]any{"query_index": index, "chart_type": chartType, "x_axis": xAxis, "y_axis": yAxis})
}

func Token(sessionID, token string) Event {
	return New(EventToken, sessionID, map[string]any{"token": token})
}

func Complete(sessionID, answer string) Event {
	return New(EventComplete, sessionID, map[string]any{"answer": answer})
}

func Error(sessionID string, err error) Event {
	return New(EventError, sessionID, map[string]any{"error": err.Error()})
}
