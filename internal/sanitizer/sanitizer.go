package sanitizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/duckmesh/querypilot/internal/agenterr"
)

// MaxRows is the hard row cap for every model-generated statement.
const MaxRows = 100

type rule struct {
	name    string
	pattern *regexp.Regexp
}

var denyRules = []rule{
	{name: "dml_ddl_keyword", pattern: regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|REPLACE|GRANT|REVOKE)\b`)},
	{name: "multiple_statements", pattern: regexp.MustCompile(`(?s);.*;`)},
	{name: "line_comment", pattern: regexp.MustCompile(`--`)},
	{name: "block_comment", pattern: regexp.MustCompile(`/\*`)},
	{name: "union_select", pattern: regexp.MustCompile(`(?is)\bUNION\b.*\bSELECT\b`)},
	{name: "stacked_statement", pattern: regexp.MustCompile(`(?i);\s*(SELECT|INSERT|UPDATE|DELETE|DROP|ALTER|CREATE)`)},
}

var (
	limitPattern         = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)(\s*,\s*(\d+))?`)
	trailingLimitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+\d+(\s*,\s*\d+)?(\s+OFFSET\s+\d+)?\s*$`)
	limitAllPattern      = regexp.MustCompile(`(?i)\s*\bLIMIT\s+ALL\b`)
	// OFFSET m ROWS FETCH FIRST n ROWS ONLY at the end of the statement.
	trailingFetchPattern = regexp.MustCompile(`(?i)(\s+OFFSET\s+(\d+)\s+ROWS?)?\s+FETCH\s+(FIRST|NEXT)\s+(\d+\s+)?ROWS?\s+ONLY\s*$`)
	fetchPattern         = regexp.MustCompile(`(?i)\bFETCH\s+(FIRST|NEXT)\b`)
	lockingPattern       = regexp.MustCompile(`(?i)\bFOR\s+(NO\s+KEY\s+UPDATE|KEY\s+SHARE|SHARE|UPDATE)\b|\bLOCK\s+IN\s+SHARE\s+MODE\b`)
)

// Validate returns the statement in its safe, row-capped form or a security error.
func Validate(sql string) (string, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return "", agenterr.New(agenterr.Security, "empty query")
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return "", agenterr.New(agenterr.Security, "only SELECT queries are allowed").WithSQL(trimmed)
	}

	for index, item := range denyRules {
		if item.pattern.MatchString(trimmed) {
			return "", agenterr.Newf(agenterr.Security, "forbidden SQL pattern detected (rule %d: %s)", index+1, item.name).WithSQL(trimmed)
		}
	}

	sanitized := stripTrailingSemicolons(trimmed)
	if strings.Contains(sanitized, ";") {
		return "", agenterr.New(agenterr.Security, "forbidden SQL pattern detected (embedded statement separator)").WithSQL(trimmed)
	}

	if lockingPattern.MatchString(sanitized) {
		return "", agenterr.New(agenterr.Security, "row locking clauses are not allowed").WithSQL(trimmed)
	}
	sanitized = rewriteFetch(sanitized)
	if fetchPattern.MatchString(sanitized) {
		return "", agenterr.New(agenterr.Security, "FETCH FIRST is only supported at the end of the query; use LIMIT instead").WithSQL(trimmed)
	}
	// LIMIT ALL means no limit; dropping it lets the cap below apply.
	sanitized = limitAllPattern.ReplaceAllString(sanitized, "")

	sanitized = capLimits(sanitized)
	if !trailingLimitPattern.MatchString(sanitized) {
		sanitized = fmt.Sprintf("%s LIMIT %d", sanitized, MaxRows)
	}
	return sanitized, nil
}

// rewriteFetch turns a trailing standard FETCH clause into the LIMIT form the cap
// understands. FETCH without a count means one row.
func rewriteFetch(sql string) string {
	match := trailingFetchPattern.FindStringSubmatchIndex(sql)
	if match == nil {
		return sql
	}
	count := "1"
	if match[8] >= 0 {
		count = strings.TrimSpace(sql[match[8]:match[9]])
	}
	rewritten := sql[:match[0]] + " LIMIT " + count
	if match[4] >= 0 {
		rewritten += " OFFSET " + sql[match[4]:match[5]]
	}
	return rewritten
}

func capLimits(sql string) string {
	return limitPattern.ReplaceAllStringFunc(sql, func(clause string) string {
		match := limitPattern.FindStringSubmatch(clause)
		if len(match) != 4 {
			return clause
		}
		if match[3] != "" {
			// LIMIT offset, count
			if exceedsCap(match[3]) {
				return strings.TrimSuffix(clause, match[3]) + strconv.Itoa(MaxRows)
			}
			return clause
		}
		if exceedsCap(match[1]) {
			return strings.TrimSuffix(clause, match[1]) + strconv.Itoa(MaxRows)
		}
		return clause
	})
}

func exceedsCap(raw string) bool {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return true
	}
	return value > MaxRows
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
