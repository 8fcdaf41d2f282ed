package schema

import (
	"fmt"
	"strings"
)

// Summary is the compact view used for table selection.
func Summary(s Schema) string {
	var b strings.Builder
	for _, table := range s.Tables {
		fmt.Fprintf(&b, "\n%s:\n", table.Name)
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  - %s (%s)%s\n", column.Name, column.DataType, keyMarkers(column))
		}
	}
	return b.String()
}

func keyMarkers(column Column) string {
	markers := make([]string, 0, 2)
	if column.PrimaryKey {
		markers = append(markers, "PK")
	}
	if column.ForeignKey {
		if column.ForeignTable != "" && column.ForeignColumn != "" {
			markers = append(markers, fmt.Sprintf("FK->%s.%s", column.ForeignTable, column.ForeignColumn))
		} else {
			markers = append(markers, "FK")
		}
	}
	if len(markers) == 0 {
		return ""
	}
	return " [" + strings.Join(markers, ", ") + "]"
}

// Detailed renders nullability and key markers. When focus is non-empty, columns whose
// name appears in it (case-insensitive) are flagged for the reader.
func Detailed(s Schema, focus string) string {
	focus = strings.ToLower(focus)
	var b strings.Builder
	for _, table := range s.Tables {
		fmt.Fprintf(&b, "\n%s:\n", table.Name)
		for _, column := range table.Columns {
			nullable := "NOT NULL"
			if column.Nullable {
				nullable = "NULL"
			}
			pk := ""
			if column.PrimaryKey {
				pk = " [PK]"
			}
			fk := ""
			if column.ForeignKey {
				fk = fmt.Sprintf(" [FK -> %s.%s]", orUnknown(column.ForeignTable), orUnknown(column.ForeignColumn))
			}
			highlight := ""
			if focus != "" && strings.Contains(focus, strings.ToLower(column.Name)) {
				highlight = " <-- CHECK THIS"
			}
			fmt.Fprintf(&b, "  - %s (%s) %s%s%s%s\n", column.Name, column.DataType, nullable, pk, fk, highlight)
		}
	}
	return b.String()
}

// ForPrompt is the full view with a database header, used for general and tool-loop prompts.
func ForPrompt(s Schema, dialect Dialect) string {
	name := dialect.DisplayName()
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s (Type: %s)\n\nIMPORTANT: Use %s-compatible SQL syntax.\n\nTables:\n", s.DatabaseName, name, name)
	for _, table := range s.Tables {
		fmt.Fprintf(&b, "\n%s:\n", table.Name)
		for _, column := range table.Columns {
			nullable := "NOT NULL"
			if column.Nullable {
				nullable = "NULL"
			}
			pk := ""
			if column.PrimaryKey {
				pk = " PRIMARY KEY"
			}
			fk := ""
			if column.ForeignKey {
				fk = fmt.Sprintf(" -> %s.%s", orUnknown(column.ForeignTable), orUnknown(column.ForeignColumn))
			}
			fmt.Fprintf(&b, "  - %s (%s) %s%s%s\n", column.Name, column.DataType, nullable, pk, fk)
		}
	}
	return b.String()
}

func orUnknown(value string) string {
	if value == "" {
		return "?"
	}
	return value
}
