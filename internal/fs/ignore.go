package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFile is the name of the per-data-dir file listing directories that
// deck discovery skips.
const IgnoreFile = ".kiokuignore"

// defaultIgnorePatterns are always applied: hidden directories and card
// recovery copies are never decks.
var defaultIgnorePatterns = []string{".*", "*.bak"}

// IgnoreMatcher checks directory paths against a set of glob patterns.
// Patterns containing '/' match the slash-separated path relative to the
// data root; other patterns match the last path element only.
type IgnoreMatcher struct {
	basename []string
	fullPath []string
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings plus the
// default patterns. Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range append(append([]string{}, defaultIgnorePatterns...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if strings.Contains(raw, "/") {
			m.fullPath = append(m.fullPath, strings.Trim(raw, "/"))
		} else {
			m.basename = append(m.basename, raw)
		}
	}
	return m
}

// Match reports whether relativePath should be skipped.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	normalized := filepath.ToSlash(relativePath)
	base := filepath.Base(relativePath)

	for _, p := range m.basename {
		// Bad patterns never match.
		if ok, err := filepath.Match(p, base); err == nil && ok {
			return true
		}
	}
	for _, p := range m.fullPath {
		if ok, err := filepath.Match(p, normalized); err == nil && ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns its raw lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
