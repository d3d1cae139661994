package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const defaultLabel = "Session"

var (
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)
	whitespace   = regexp.MustCompile(`[\s_]+`)
)

// SanitizeForFilename makes input safe for use in a filename. Illegal
// characters become underscores, runs of space or underscore become one
// hyphen, and the result is cut to 50 bytes.
func SanitizeForFilename(input string) string {
	sanitized := illegalChars.ReplaceAllString(input, "_")
	sanitized = whitespace.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")
	if len(sanitized) > 50 {
		sanitized = strings.TrimRight(sanitized[:50], "-")
	}
	if sanitized == "" {
		return defaultLabel
	}
	return sanitized
}

// SessionBasename returns YYYY-MM-DD_HHMM_<label> for a session started at t.
// The label is usually the script file name.
func SessionBasename(t time.Time, label string) string {
	return t.Format("2006-01-02_1504") + "_" + SanitizeForFilename(label)
}

// UniqueBase returns dir/base, or dir/base_N with the smallest N >= 2 for
// which no file dir/base_N<ext> exists for any of exts.
func UniqueBase(dir, base string, exts ...string) string {
	taken := func(candidate string) bool {
		for _, ext := range exts {
			if _, err := os.Stat(candidate + ext); err == nil {
				return true
			}
		}
		return false
	}
	candidate := filepath.Join(dir, base)
	for i := 2; taken(candidate); i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d", base, i))
	}
	return candidate
}
