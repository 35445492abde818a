package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildHistoryArchivePath lays archives out by UTC day so listing a prefix
// returns them in chronological order.
func BuildHistoryArchivePath(prefix string, archivedAt time.Time, firstID, lastID int64) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "history"
	}
	for _, component := range strings.Split(prefix, "/") {
		if err := validatePathComponent(component, "archive prefix"); err != nil {
			return "", err
		}
	}
	if firstID <= 0 || lastID < firstID {
		return "", fmt.Errorf("invalid history id range %d..%d", firstID, lastID)
	}

	ts := archivedAt.UTC()
	return path.Join(
		prefix,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("history-%012d-%012d.parquet", firstID, lastID),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
