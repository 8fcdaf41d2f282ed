package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildArchiveKey returns runs/<date>/<run_id>/query-<n>.parquet for one sub-query result.
func BuildArchiveKey(runID string, runAt time.Time, queryIndex int) (string, error) {
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	if queryIndex < 0 {
		return "", fmt.Errorf("query index must be >= 0")
	}
	ts := runAt.UTC()
	return path.Join(
		"runs",
		fmt.Sprintf("%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		runID,
		fmt.Sprintf("query-%d.parquet", queryIndex),
	), nil
}

// ParseArchiveKey checks that key has the archive layout and returns its run id.
func ParseArchiveKey(key string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) != 4 || parts[0] != "runs" {
		return "", fmt.Errorf("invalid archive key: %q", key)
	}
	if _, err := time.Parse("2006-01-02", parts[1]); err != nil {
		return "", fmt.Errorf("invalid archive key date: %q", parts[1])
	}
	if err := validatePathComponent(parts[2], "run id"); err != nil {
		return "", err
	}
	var index int
	if _, err := fmt.Sscanf(parts[3], "query-%d.parquet", &index); err != nil || index < 0 || parts[3] != fmt.Sprintf("query-%d.parquet", index) {
		return "", fmt.Errorf("invalid archive object name: %q", parts[3])
	}
	return parts[2], nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
