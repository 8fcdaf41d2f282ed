package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/llm"
	"github.com/duckmesh/querypilot/internal/progress"
)

func TestFinalAnswerWithoutModel(t *testing.T) {
	llmFake := newScriptedLLM()
	cases := map[string]struct {
		results []executor.Result
		want    string
	}{
		"no results":   {results: nil, want: "No data was retrieved to answer your question."},
		"empty result": {results: []executor.Result{{Columns: []string{"id"}}}, want: "The query returned no results matching your criteria."},
		"single value": {results: []executor.Result{countResult("count", int64(42))}, want: "Based on your query, the answer is: **42**"},
		"null value":   {results: []executor.Result{countResult("max", nil)}, want: "Based on your query, the answer is: **null**"},
		"table":        {results: []executor.Result{shape(3, 2)}, want: "Found 3 row(s) of data. The results are displayed in the table above."},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			answer, err := finalAnswer(context.Background(), llmFake, "q", "r", tc.results)
			require.NoError(t, err)
			assert.Equal(t, tc.want, answer)
		})
	}
	assert.Empty(t, llmFake.requests)
}

func TestFinalAnswerSummarizesMultipleResults(t *testing.T) {
	llmFake := newScriptedLLM().on("summarize", "Germany leads signups.")

	answer, err := finalAnswer(context.Background(), llmFake, "where do users come from?", "two steps", []executor.Result{shape(2, 2), shape(5, 1)})
	require.NoError(t, err)
	assert.Equal(t, "Germany leads signups.", answer)

	requests := llmFake.requestsFor("summarize")
	require.Len(t, requests, 1)
	assert.InDelta(t, 0.3, requests[0].Temperature, 1e-9)
	assert.Contains(t, requests[0].System, "Query 1: 2 rows, columns: a, b\nQuery 2: 5 rows, columns: a")
}

type streamingLLM struct {
	*scriptedLLM
	tokens []string
}

func (s *streamingLLM) Stream(_ context.Context, _ llm.Request, onToken func(string)) (string, error) {
	full := ""
	for _, token := range s.tokens {
		onToken(token)
		full += token
	}
	return full, nil
}

func TestAnswerGeneralStreamsTokens(t *testing.T) {
	generator := &streamingLLM{scriptedLLM: newScriptedLLM(), tokens: []string{"Final Answer:", " Hello", " there!"}}
	recorder := &progress.Recorder{}

	answer, err := answerGeneral(context.Background(), generator, recorder, "s1", "hi", "Database: shop", nil)
	require.NoError(t, err)

	assert.Equal(t, "Hello there!", answer)
	assert.Len(t, recorder.Events(), 3)
	for _, event := range recorder.Events() {
		assert.Equal(t, progress.EventToken, event.Type)
	}
}
