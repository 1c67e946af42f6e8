package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultFallbackFile is read when Secret Manager cannot answer.
const DefaultFallbackFile = ".secrets.local"

// readFallbackFile parses lines of the form `secret://NAME=value` (sm:// is accepted as an alias).
// A missing file is an empty set. Entries are indexed both with and without the version.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if rest, found := strings.CutPrefix(key, "sm://"); found {
			key = "secret://" + rest
		}
		ref, err := parseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		values[ref.Canonical] = value
		values[ref.cacheKey()] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return values, nil
}
