package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yourbasic/graph"
)

type JoinStep struct {
	From      string
	To        string
	Condition string
}

type JoinPath struct {
	From  string
	To    string
	Steps []JoinStep
}

func (p JoinPath) String() string {
	conditions := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		conditions = append(conditions, step.Condition)
	}
	return fmt.Sprintf("%s -> %s via %s", p.From, p.To, strings.Join(conditions, " AND "))
}

// JoinPaths returns the shortest foreign-key join chain between every connected pair of
// tables in s. References to tables outside s are ignored.
func JoinPaths(s Schema) []JoinPath {
	index := make(map[string]int, len(s.Tables))
	for i, table := range s.Tables {
		index[strings.ToLower(table.Name)] = i
	}

	g := graph.New(len(s.Tables))
	conditions := map[[2]int]string{}
	for i, table := range s.Tables {
		for _, column := range table.Columns {
			if !column.ForeignKey || column.ForeignTable == "" {
				continue
			}
			j, ok := index[strings.ToLower(column.ForeignTable)]
			if !ok || i == j {
				continue
			}
			key := edgeKey(i, j)
			if _, exists := conditions[key]; exists {
				continue
			}
			target := column.ForeignColumn
			if target == "" {
				target = "?"
			}
			conditions[key] = fmt.Sprintf("%s.%s = %s.%s", table.Name, column.Name, s.Tables[j].Name, target)
			g.AddBoth(i, j)
		}
	}

	paths := make([]JoinPath, 0)
	for i := range s.Tables {
		for j := i + 1; j < len(s.Tables); j++ {
			route, dist := graph.ShortestPath(g, i, j)
			if dist <= 0 || len(route) < 2 {
				continue
			}
			path := JoinPath{From: s.Tables[i].Name, To: s.Tables[j].Name}
			for k := 0; k+1 < len(route); k++ {
				path.Steps = append(path.Steps, JoinStep{
					From:      s.Tables[route[k]].Name,
					To:        s.Tables[route[k+1]].Name,
					Condition: conditions[edgeKey(route[k], route[k+1])],
				})
			}
			paths = append(paths, path)
		}
	}
	sort.SliceStable(paths, func(a, b int) bool {
		return len(paths[a].Steps) < len(paths[b].Steps)
	})
	return paths
}

// JoinHints renders JoinPaths for a prompt; empty when no tables are related.
func JoinHints(s Schema) string {
	paths := JoinPaths(s)
	if len(paths) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nJOIN PATHS:\n")
	for _, path := range paths {
		fmt.Fprintf(&b, "- %s\n", path.String())
	}
	return b.String()
}

func edgeKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}
