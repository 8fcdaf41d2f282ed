package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/llm"
	"github.com/duckmesh/querypilot/internal/schema"
)

const decomposerPrompt = `You are an expert SQL analyst. Your task is to analyze a user's question and generate the SQL needed to answer it.

DATABASE SCHEMA:
%[1]s
%[2]s
DATABASE TYPE: %[3]s (use %[3]s-compatible SQL syntax)
%[4]s
PROCESS:
1. First, assess the question complexity:
   - SIMPLE: Can be answered with a single SQL query (most questions)
   - COMPLEX: Requires multiple queries or sub-queries (rare, only for multi-step analysis)

2. For SIMPLE questions:
   - Generate a single, complete SQL query
   - Use JOINs, aggregations, and subqueries within the single statement

3. For COMPLEX questions:
   - Break down into sequential steps
   - Each step should build on previous results
   - Generate SQL for each step

RULES:
- Only SELECT queries (no INSERT, UPDATE, DELETE, etc.)
- Always include LIMIT clause (max 100 rows)
- Use proper %[3]s SQL syntax
- Every query must start with SELECT; WITH clauses (CTEs) are rejected, so use subqueries instead
- Only mark as COMPLEX if truly requiring multiple separate queries
- If the user refers to "that", "those", "it", etc., use the CONVERSATION HISTORY to understand what they mean
- Follow the JOIN PATHS when a question spans tables that are not directly related

Respond in this exact JSON format:
{
    "complexity": "simple" or "complex",
    "reasoning": "Your chain of thought explaining how to answer this question",
    "queries": [
        {
            "question": "The sub-question this query answers",
            "sql": "SELECT ... FROM ... LIMIT 100",
            "order": 0,
            "depends_on_previous": false
        }
    ]
}`

const (
	defaultReasoning = "No reasoning provided"
	defaultQuestion  = "Answer the user's question"
)

var questionTypeNotes = map[QuestionType]string{
	QuestionStatistic:     "\n\nNote: This question asks for a specific metric or count. Use aggregate functions.",
	QuestionTemporalChart: "\n\nNote: This question involves time-series data. Include date grouping and ordering.",
	QuestionCategoryChart: "\n\nNote: This question involves categories. Use GROUP BY for grouping.",
	QuestionTableView:     "\n\nNote: User wants to view table data. Simple SELECT with appropriate columns.",
	QuestionComplex:       "\n\nNote: This has been classified as a complex analytical question.",
}

var decomposerSchema = &llm.JSONSchema{
	Name:   "sql_decomposition",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"complexity": map[string]any{"type": "string", "enum": []string{"simple", "complex"}},
			"reasoning":  map[string]any{"type": "string"},
			"queries": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question":            map[string]any{"type": "string"},
						"sql":                 map[string]any{"type": "string"},
						"order":               map[string]any{"type": "integer"},
						"depends_on_previous": map[string]any{"type": "boolean"},
					},
					"required":             []string{"question", "sql", "order", "depends_on_previous"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"complexity", "reasoning", "queries"},
		"additionalProperties": false,
	},
}

type DecomposeInput struct {
	Question     string
	Schema       schema.Schema
	Dialect      schema.Dialect
	QuestionType QuestionType
	History      []Message
}

// Decomposer judges question complexity and writes the SQL for each step.
type Decomposer struct {
	llm             llm.Generator
	historyMessages int
	historyChars    int
}

func NewDecomposer(generator llm.Generator, historyMessages, historyChars int) *Decomposer {
	return &Decomposer{llm: generator, historyMessages: historyMessages, historyChars: historyChars}
}

func (d *Decomposer) Decompose(ctx context.Context, input DecomposeInput) (DecomposerResult, error) {
	response, err := d.llm.Generate(ctx, llm.Request{
		Operation:   "decompose",
		System:      d.prompt(input),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: input.Question}},
		Temperature: 0.2,
		Schema:      decomposerSchema,
	})
	if err != nil {
		return DecomposerResult{}, err
	}
	return parseDecomposition(response)
}

func (d *Decomposer) prompt(input DecomposeInput) string {
	dialect := input.Dialect.DisplayName()
	schemaText := fmt.Sprintf("Database: %s (Type: %s)\n\nTables:\n%s", input.Schema.DatabaseName, dialect, schema.Detailed(input.Schema, ""))
	history := renderHistory(FoldHistory(input.History, d.historyMessages, d.historyChars))
	return fmt.Sprintf(decomposerPrompt, schemaText, schema.JoinHints(input.Schema), dialect, history) + questionTypeNotes[input.QuestionType]
}

type decompositionResponse struct {
	Complexity *string               `json:"complexity"`
	Reasoning  *string               `json:"reasoning"`
	Queries    *[]decompositionQuery `json:"queries"`
}

type decompositionQuery struct {
	Question          *string `json:"question"`
	SQL               *string `json:"sql"`
	Order             *int    `json:"order"`
	DependsOnPrevious *bool   `json:"depends_on_previous"`
}

// parseDecomposition applies the defaults for missing optional fields and rejects replies
// without usable SQL. Sub-queries come back in ascending order; ties keep reply order.
func parseDecomposition(response string) (DecomposerResult, error) {
	var parsed decompositionResponse
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return DecomposerResult{}, agenterr.Wrap(err, agenterr.GenerationParse, "parse decomposer response")
	}
	if parsed.Queries == nil {
		return DecomposerResult{}, agenterr.New(agenterr.GenerationParse, "invalid decomposer response: missing queries array")
	}

	result := DecomposerResult{Complexity: ComplexitySimple, Reasoning: defaultReasoning}
	if parsed.Complexity != nil && strings.EqualFold(strings.TrimSpace(*parsed.Complexity), string(ComplexityComplex)) {
		result.Complexity = ComplexityComplex
	}
	if parsed.Reasoning != nil {
		result.Reasoning = *parsed.Reasoning
	}

	for i, item := range *parsed.Queries {
		if item.SQL == nil || strings.TrimSpace(*item.SQL) == "" {
			return DecomposerResult{}, agenterr.Newf(agenterr.GenerationParse, "invalid query object %d: missing sql", i)
		}
		query := SubQuery{Question: defaultQuestion, SQL: strings.TrimSpace(*item.SQL)}
		if item.Question != nil && strings.TrimSpace(*item.Question) != "" {
			query.Question = *item.Question
		}
		if item.Order != nil {
			query.Order = *item.Order
		}
		if item.DependsOnPrevious != nil {
			query.DependsOnPrevious = *item.DependsOnPrevious
		}
		result.Queries = append(result.Queries, query)
	}
	if len(result.Queries) == 0 {
		return DecomposerResult{}, agenterr.New(agenterr.GenerationParse, "decomposer generated no queries")
	}

	sort.SliceStable(result.Queries, func(i, j int) bool {
		return result.Queries[i].Order < result.Queries[j].Order
	})
	return result, nil
}
