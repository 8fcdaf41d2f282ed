package sanitizer

import (
	"regexp"
	"strings"

	"github.com/duckmesh/querypilot/internal/agenterr"
)

type dialectRule struct {
	pattern *regexp.Regexp
	message string
}

var dialectRules = map[string][]dialectRule{
	"postgres": {
		{pattern: regexp.MustCompile(`(?i)\bpg_\w*`), message: "PostgreSQL system functions not allowed"},
		{pattern: regexp.MustCompile(`(?i)\bpgcrypto\b`), message: "PostgreSQL system functions not allowed"},
		{pattern: regexp.MustCompile(`(?i)\b(lo_import|lo_export|dblink\w*)\s*\(`), message: "PostgreSQL file and remote access functions not allowed"},
	},
	"mysql":   mysqlRules,
	"mariadb": mysqlRules,
	"duckdb": {
		{pattern: regexp.MustCompile(`(?i)\b(read_csv\w*|read_parquet|parquet_scan|read_json\w*|read_ndjson\w*|read_text|read_blob|sniff_csv|glob|getenv)\s*\(`), message: "DuckDB file access functions not allowed"},
		{pattern: regexp.MustCompile(`(?i)\b(FROM|JOIN)\s+'`), message: "DuckDB file scans not allowed"},
		{pattern: regexp.MustCompile(`(?i)^\s*(COPY|ATTACH|DETACH|INSTALL|LOAD|PRAGMA|EXPORT|IMPORT|SET|CALL)\b`), message: "DuckDB administrative statements not allowed"},
		{pattern: regexp.MustCompile(`(?i)\bCOPY\s*\(|\bATTACH\s+(DATABASE\s+)?'|\b(INSTALL|LOAD)\s+'?\w+'?\s*(;|$)`), message: "DuckDB administrative statements not allowed"},
	},
}

var mysqlRules = []dialectRule{
	{pattern: regexp.MustCompile("(?i)(^|[^\\w.`'\"@])`?(mysql|performance_schema|sys)`?\\s*\\."), message: "MySQL system schemas not allowed"},
	{pattern: regexp.MustCompile(`(?i)\bLOAD_FILE\s*\(`), message: "file operations not allowed"},
	{pattern: regexp.MustCompile(`(?i)\bINTO\s+(OUTFILE|DUMPFILE)\b`), message: "file operations not allowed"},
	{pattern: regexp.MustCompile(`(?i)\b(SLEEP|BENCHMARK)\s*\(`), message: "timing functions not allowed"},
}

// ValidateForDialect rejects engine-specific escape hatches that Validate lets through.
// Unknown dialects have no extra rules.
func ValidateForDialect(sql, dialect string) error {
	rules := dialectRules[strings.ToLower(strings.TrimSpace(dialect))]
	for _, item := range rules {
		if item.pattern.MatchString(sql) {
			return agenterr.New(agenterr.Security, item.message).WithSQL(sql)
		}
	}
	return nil
}

// Check runs Validate followed by ValidateForDialect.
func Check(sql, dialect string) (string, error) {
	sanitized, err := Validate(sql)
	if err != nil {
		return "", err
	}
	if err := ValidateForDialect(sanitized, dialect); err != nil {
		return "", err
	}
	return sanitized, nil
}
