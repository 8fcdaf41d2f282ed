package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/progress"
)

// ShowTable reports whether a result should be rendered as a table.
func ShowTable(questionType QuestionType, result executor.Result) bool {
	switch questionType {
	case QuestionTableView, QuestionComplex:
		return true
	case QuestionStatistic:
		return !(result.RowCount == 1 && len(result.Columns) == 1)
	case QuestionTemporalChart, QuestionCategoryChart:
		return result.RowCount > 1 || len(result.Columns) > 2
	default:
		return false
	}
}

// ShowChart reports whether a chart should be suggested for a result.
func ShowChart(questionType QuestionType, result executor.Result) bool {
	switch questionType {
	case QuestionTemporalChart, QuestionCategoryChart:
		return result.RowCount > 1
	case QuestionComplex:
		return result.RowCount > 1 && len(result.Columns) >= 2
	default:
		return false
	}
}

// ShowStatistic reports whether the first cell of a result is the answer itself.
func ShowStatistic(questionType QuestionType, result executor.Result) bool {
	return questionType == QuestionStatistic && len(result.Rows) == 1 && len(result.Columns) >= 1
}

type ChartSuggestion struct {
	Type  string
	XAxis string
	YAxis []string
}

// SuggestChart picks a chart shape from the column kinds of a result. It reports false
// for empty results or when no axis can be chosen.
func SuggestChart(questionType QuestionType, result executor.Result) (ChartSuggestion, bool) {
	if result.RowCount == 0 || len(result.Columns) == 0 || len(result.Rows) == 0 {
		return ChartSuggestion{}, false
	}

	var temporal, numeric, categorical []string
	first := result.Rows[0]
	for _, column := range result.Columns {
		switch {
		case isTemporalColumn(column, first[column]):
			temporal = append(temporal, column)
		case !isIDColumn(column) && isNumeric(first[column]):
			numeric = append(numeric, column)
		default:
			categorical = append(categorical, column)
		}
	}

	switch {
	case questionType == QuestionTemporalChart:
		return temporalChart(temporal, numeric)
	case questionType == QuestionCategoryChart:
		return categoryChart(categorical, numeric, result.RowCount)
	case len(temporal) > 0 && len(numeric) > 0:
		return temporalChart(temporal, numeric)
	case len(categorical) > 0 && len(numeric) > 0:
		return categoryChart(categorical, numeric, result.RowCount)
	default:
		suggestion := ChartSuggestion{Type: "bar", XAxis: result.Columns[0]}
		if len(result.Columns) > 1 {
			suggestion.YAxis = []string{result.Columns[1]}
		}
		return suggestion, true
	}
}

func temporalChart(temporal, numeric []string) (ChartSuggestion, bool) {
	if len(temporal) == 0 {
		return ChartSuggestion{}, false
	}
	yAxis := numeric
	if len(yAxis) == 0 {
		yAxis = []string{"count"}
	}
	return ChartSuggestion{Type: "line", XAxis: temporal[0], YAxis: yAxis}, true
}

func categoryChart(categorical, numeric []string, rows int) (ChartSuggestion, bool) {
	if len(categorical) == 0 {
		return ChartSuggestion{}, false
	}
	suggestion := ChartSuggestion{Type: "bar", XAxis: categorical[0]}
	switch {
	case len(numeric) == 0:
		suggestion.YAxis = []string{"count"}
	case len(numeric) > 2:
		suggestion.YAxis = numeric
	default:
		suggestion.YAxis = numeric[:1]
	}

	switch {
	case len(numeric) > 2 && rows <= 10:
		suggestion.Type = "radar"
	case rows <= 6 && len(numeric) == 1:
		suggestion.Type = "pie"
	case rows <= 6 && len(numeric) > 0:
		suggestion.Type = "radial"
	}
	return suggestion, true
}

func isTemporalColumn(column string, sample any) bool {
	lower := strings.ToLower(column)
	for _, marker := range []string{"date", "time", "created", "updated"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	switch lower {
	case "year", "month", "day", "week":
		return true
	}
	switch value := sample.(type) {
	case time.Time:
		return true
	case string:
		return isDateLike(value)
	}
	return false
}

func isDateLike(value string) bool {
	if len(value) < 8 || !strings.Contains(value, "-") {
		return false
	}
	digits := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= 4
}

func isIDColumn(column string) bool {
	lower := strings.ToLower(column)
	return lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasPrefix(lower, "id_")
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	default:
		return false
	}
}

// emitResult sends the display events for one successful result.
func emitResult(ctx context.Context, sink progress.Sink, sessionID, question string, index int, questionType QuestionType, result executor.Result) {
	if ShowTable(questionType, result) {
		sink.Emit(ctx, progress.TableData(sessionID, index, result.Columns, result.Rows))
	}
	if ShowChart(questionType, result) {
		if chart, ok := SuggestChart(questionType, result); ok {
			sink.Emit(ctx, progress.ChartSuggested(sessionID, index, chart.Type, chart.XAxis, chart.YAxis))
		}
	}
	if ShowStatistic(questionType, result) {
		sink.Emit(ctx, progress.Statistic(sessionID, question, result.Rows[0][result.Columns[0]]))
	}
}
