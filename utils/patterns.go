package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// PatternMatcher decides which paths a scan skips. Each pattern is tried as
// a glob against the base name and as a regular expression against the full
// path; either match excludes the path.
type PatternMatcher struct {
	globs   []string
	regexes []*regexp.Regexp
}

func NewPatternMatcher(excludePatterns []string) *PatternMatcher {
	if len(excludePatterns) == 0 {
		return nil
	}
	return &PatternMatcher{
		globs:   append([]string(nil), excludePatterns...),
		regexes: compileRegex(excludePatterns),
	}
}

// Excluded reports whether path matches any pattern. A nil matcher excludes
// nothing.
func (m *PatternMatcher) Excluded(path string) bool {
	if m == nil {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range m.globs {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	for _, re := range m.regexes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// ValidatePatterns rejects patterns that are neither a valid glob nor a valid
// regular expression.
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		_, globErr := filepath.Match(pattern, "")
		_, reErr := regexp.Compile(pattern)
		if globErr != nil && reErr != nil {
			return fmt.Errorf("invalid exclude pattern %q: %v", pattern, globErr)
		}
	}
	return nil
}

func compileRegex(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}
