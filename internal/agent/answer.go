package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/llm"
	"github.com/duckmesh/querypilot/internal/progress"
)

const (
	answerNoData    = "No data was retrieved to answer your question."
	answerNoResults = "The query returned no results matching your criteria."
)

const generalPrompt = `You are a helpful database assistant. The user has a general question.

DATABASE SCHEMA (for reference):
%s

If they're asking about the database structure, tables, or columns, answer based on the schema above.
If they're greeting you, respond warmly and let them know you can help them query their data.
If they want to know what you can do, explain you can:
- Query and analyze their database
- Generate visualizations from data
- Help them understand their data structure

Keep responses concise and helpful.`

const summaryPrompt = `You are summarizing query results. Be concise.

ORIGINAL QUESTION: %s

ANALYSIS: %s

RESULTS:
%s

Provide a brief, clear answer to the user's question based on the data retrieved.
The actual data tables are already displayed, so focus on insights and summary.`

// finalAnswer describes the collected results. Only multi-result runs call the model.
func finalAnswer(ctx context.Context, generator llm.Generator, question, reasoning string, results []executor.Result) (string, error) {
	switch {
	case len(results) == 0:
		return answerNoData, nil
	case len(results) == 1:
		result := results[0]
		if result.RowCount == 0 {
			return answerNoResults, nil
		}
		if value, ok := result.Value(); ok {
			return fmt.Sprintf("Based on your query, the answer is: **%s**", formatValue(value)), nil
		}
		return fmt.Sprintf("Found %d row(s) of data. The results are displayed in the table above.", result.RowCount), nil
	}

	lines := make([]string, 0, len(results))
	for i, result := range results {
		lines = append(lines, fmt.Sprintf("Query %d: %d rows, columns: %s", i+1, result.RowCount, strings.Join(result.Columns, ", ")))
	}
	return generator.Generate(ctx, llm.Request{
		Operation:   "summarize",
		System:      fmt.Sprintf(summaryPrompt, question, reasoning, strings.Join(lines, "\n")),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "Summarize the results."}},
		Temperature: 0.3,
	})
}

// abortAnswer is the reply when a required sub-query could not be made to work.
func abortAnswer(cause error, sqlText string) string {
	return fmt.Sprintf("I encountered an error executing the query: %v\n\n"+
		"The query I tried was:\n```sql\n%s\n```\n\n"+
		"Please check that the table and column names are correct, or try rephrasing your question.", cause, sqlText)
}

// answerGeneral replies to a question that needs no SQL. Tokens are streamed when the
// generator supports it.
func answerGeneral(ctx context.Context, generator llm.Generator, sink progress.Sink, sessionID, question, schemaText string, history []Message) (string, error) {
	messages := toLLMMessages(history)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})
	req := llm.Request{
		Operation:   "general",
		System:      fmt.Sprintf(generalPrompt, schemaText),
		Messages:    messages,
		Temperature: 0.7,
	}

	var (
		answer string
		err    error
	)
	if streamer, ok := generator.(llm.Streamer); ok {
		answer, err = streamer.Stream(ctx, req, func(token string) {
			sink.Emit(ctx, progress.Token(sessionID, token))
		})
	} else {
		answer, err = generator.Generate(ctx, req)
		if err == nil {
			sink.Emit(ctx, progress.Token(sessionID, answer))
		}
	}
	if err != nil {
		return "", err
	}
	return stripFinalAnswer(answer), nil
}

func stripFinalAnswer(answer string) string {
	answer = strings.TrimSpace(answer)
	return strings.TrimSpace(strings.TrimPrefix(answer, "Final Answer:"))
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return typed
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprint(typed)
	}
}
