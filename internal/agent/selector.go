package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/llm"
	"github.com/duckmesh/querypilot/internal/schema"
)

const selectorPrompt = `You are a database schema analyst. Your task is to identify which tables and columns are relevant to answer a user's question.

DATABASE SCHEMA:
%s

INSTRUCTIONS:
1. Analyze the user's question carefully
2. Identify ALL tables that could be needed to answer the question
3. For each table, identify the specific columns that are relevant
4. Include tables needed for JOINs even if not directly mentioned
5. Include foreign key columns needed for relationships

IMPORTANT:
- Be inclusive rather than exclusive - it's better to include a potentially relevant table than miss one
- Consider implicit relationships (e.g., "customers" might need "orders" table)
- Include primary and foreign key columns for joins

Respond in this exact JSON format:
{
    "reasoning": "Brief explanation of why these tables/columns are needed",
    "tables": [
        {
            "name": "table_name",
            "columns": ["col1", "col2", "col3"]
        }
    ]
}`

var selectorSchema = &llm.JSONSchema{
	Name:   "schema_selection",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reasoning": map[string]any{"type": "string"},
			"tables": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":    map[string]any{"type": "string"},
						"columns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required":             []string{"name", "columns"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"reasoning", "tables"},
		"additionalProperties": false,
	},
}

// Selector prunes a schema down to the tables and columns a question needs.
type Selector struct {
	llm    llm.Generator
	logger *slog.Logger
}

func NewSelector(generator llm.Generator, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{llm: generator, logger: logger}
}

type selectorResponse struct {
	Reasoning string `json:"reasoning"`
	Tables    []struct {
		Name    string   `json:"name"`
		Columns []string `json:"columns"`
	} `json:"tables"`
}

// Select asks the model for the relevant tables. Transport failures are returned; a reply
// that cannot be used falls back to the full schema.
func (s *Selector) Select(ctx context.Context, question string, full schema.Schema) (SelectorResult, error) {
	if len(full.Tables) == 0 {
		return FallbackFullSchema(full, "schema has no tables"), nil
	}

	response, err := s.llm.Generate(ctx, llm.Request{
		Operation:   "select",
		System:      fmt.Sprintf(selectorPrompt, schema.Summary(full)),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: question}},
		Temperature: 0.1,
		Schema:      selectorSchema,
	})
	if err != nil {
		return SelectorResult{}, err
	}

	var parsed selectorResponse
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		parseErr := agenterr.Wrap(err, agenterr.GenerationParse, "parse selector response")
		s.logger.WarnContext(ctx, "selector_fallback", slog.Any("error", parseErr))
		return FallbackFullSchema(full, "selector response could not be parsed"), nil
	}

	result := pruneSchema(full, parsed)
	if len(result.Tables) == 0 {
		s.logger.WarnContext(ctx, "selector_fallback", slog.String("reason", "no known tables selected"))
		return FallbackFullSchema(full, parsed.Reasoning), nil
	}
	return result, nil
}

// FallbackFullSchema is used when the selector yields nothing usable: every table is kept.
func FallbackFullSchema(full schema.Schema, reasoning string) SelectorResult {
	return SelectorResult{
		Schema:    full,
		Tables:    full.TableNames(),
		Reasoning: reasoning,
		FellBack:  true,
	}
}

func pruneSchema(full schema.Schema, parsed selectorResponse) SelectorResult {
	pruned := schema.Schema{DatabaseName: full.DatabaseName}
	names := make([]string, 0, len(parsed.Tables))
	seen := map[string]bool{}

	for _, selection := range parsed.Tables {
		table, ok := full.FindTable(selection.Name)
		if !ok || seen[strings.ToLower(table.Name)] {
			continue
		}
		seen[strings.ToLower(table.Name)] = true

		if len(selection.Columns) > 0 {
			wanted := make(map[string]bool, len(selection.Columns))
			for _, column := range selection.Columns {
				wanted[strings.ToLower(strings.TrimSpace(column))] = true
			}
			columns := make([]schema.Column, 0, len(table.Columns))
			for _, column := range table.Columns {
				if wanted[strings.ToLower(column.Name)] || column.PrimaryKey || column.ForeignKey {
					columns = append(columns, column)
				}
			}
			table.Columns = columns
		}

		pruned.Tables = append(pruned.Tables, table)
		names = append(names, table.Name)
	}

	return SelectorResult{Schema: pruned, Tables: names, Reasoning: parsed.Reasoning}
}
