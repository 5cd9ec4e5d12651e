package crawler

import (
	"regexp"
	"strings"
)

var (
	invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	repeatedSeparators   = regexp.MustCompile(`_{2,}`)
)

// defaultMaxTitleLen bounds the sanitized-title portion of page filenames
// when no limit is configured. Collisions after truncation are harmless: the
// numeric id prefix keeps the full filename unique.
const defaultMaxTitleLen = 50

// sanitizeFilename turns a page title into a filesystem-safe fragment:
// illegal characters become underscores, runs of separators collapse, and
// the result is truncated to maxLen runes (the default when maxLen <= 0).
func sanitizeFilename(title string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultMaxTitleLen
	}
	cleaned := invalidFilenameChars.ReplaceAllString(title, "_")
	cleaned = repeatedSeparators.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		cleaned = "untitled"
	}
	runes := []rune(cleaned)
	if len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}
