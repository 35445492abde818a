package nl2sql

import (
	"fmt"
	"strings"

	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/schema"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the generation settings sent with every completion request.
type Params struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

func DefaultParams() Params {
	return Params{
		Temperature:      0.05,
		MaxTokens:        500,
		TopP:             0.1,
		FrequencyPenalty: 0.5,
		PresencePenalty:  0.5,
	}
}

// ParamsFromConfig starts from DefaultParams and applies any non-zero overrides.
func ParamsFromConfig(cfg config.AIConfig) Params {
	params := DefaultParams()
	if cfg.Temperature > 0 {
		params.Temperature = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		params.MaxTokens = cfg.MaxTokens
	}
	if cfg.TopP > 0 {
		params.TopP = cfg.TopP
	}
	if cfg.FrequencyPenalty > 0 {
		params.FrequencyPenalty = cfg.FrequencyPenalty
	}
	if cfg.PresencePenalty > 0 {
		params.PresencePenalty = cfg.PresencePenalty
	}
	return params
}

type Prompt struct {
	Messages []Message
	Params   Params
}

const instructionHeader = `You are a SQL expert. Convert the following natural language request into a valid SQL query.
Return ONLY the raw SQL query without any text, prefixes, comments, or explanations.`

const rules = `Rules:
1. Return ONLY the SQL query. No prefixes, no comments, no explanations.
2. Do not include words like 'Output:' or 'Query:' or any other text.
3. Use proper SQL syntax.
4. Use ONLY the column names that exist in the tables shown above.
5. For SELECT queries use the exact column names from the table structures, in joins and in conditions.
6. Table names:
   - Use table names exactly as given in the request and the context.
   - Do not add an 's' to a table name unless the request does.
   - Do not modify table names in any way.
7. Listing and describing tables:
   - To show all tables, use 'SHOW TABLES'.
   - To show one specific table, use 'SHOW TABLES LIKE table_name'.
   - To describe a table, use 'DESCRIBE table_name'.
   - To delete a table, use 'DROP TABLE table_name'.
8. Do not include any comments in the SQL query.
9. Do not use table aliases unless the request asks for them.
10. Joins:
   - Join tables ONLY through the foreign keys listed in the context.
   - Use the exact column names of the foreign key on both sides of the join condition.
   - Do not assume column names that are not shown above.`

const examples = `Examples:
Input: "show all tables" or "show tables" or "list tables"
Output: SHOW TABLES;

Input: "describe the table products"
Output: DESCRIBE products;

Input: "delete the table orders"
Output: DROP TABLE orders;

Input: "find the name of customer who owns a ford car"
Output: SELECT customer.name FROM customer JOIN cars ON customer.car_id = cars.id WHERE cars.brand = 'ford';`

// BuildPrompt renders the snapshot structure and the user's request into a
// single instruction message. The rules and examples do not depend on the schema.
func BuildPrompt(snapshot schema.Snapshot, userText string, params Params) Prompt {
	var b strings.Builder
	b.WriteString(instructionHeader)
	b.WriteString("\n\nCurrent Database Context:\n")
	writeSchemaContext(&b, snapshot)
	b.WriteString("\n")
	b.WriteString(rules)
	b.WriteString("\n\n")
	b.WriteString(examples)
	b.WriteString("\n\nNow convert this request: ")
	b.WriteString(strings.TrimSpace(userText))

	return Prompt{
		Messages: []Message{{Role: "user", Content: b.String()}},
		Params:   params,
	}
}

func writeSchemaContext(b *strings.Builder, snapshot schema.Snapshot) {
	fmt.Fprintf(b, "Current database: %s\n\n", snapshot.Database)

	names := snapshot.TableNames()
	b.WriteString("Available tables:\n")
	for _, name := range names {
		fmt.Fprintf(b, "- %s\n", name)
	}

	b.WriteString("\nDetailed table structures:\n")
	for _, name := range names {
		table := snapshot.Tables[name]
		fmt.Fprintf(b, "\nTable: %s\nColumns:\n", name)
		for _, column := range table.Columns {
			fmt.Fprintf(b, "- %s (%s)", column.Name, column.Type)
			if key := column.Key.Annotation(); key != "" {
				fmt.Fprintf(b, " [%s]", key)
			}
			b.WriteString("\n")
		}
		if len(table.PrimaryKeys) > 0 {
			fmt.Fprintf(b, "Primary keys: %s\n", strings.Join(table.PrimaryKeys, ", "))
		}
		if len(table.ForeignKeys) > 0 {
			b.WriteString("Foreign keys:\n")
			for _, fk := range table.ForeignKeys {
				fmt.Fprintf(b, "- %s references %s.%s\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
			}
		}
	}
}
