package crawler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"plain", "Release Notes", "Release_Notes"},
		{"punctuation collapses", "Q3 / Q4 — Plans?!", "Q3_Q4_Plans"},
		{"leading and trailing stripped", "  ...weird title...  ", "...weird_title..."},
		{"empty falls back", "", "untitled"},
		{"only illegal chars falls back", "///???", "untitled"},
		{"keeps dots dashes underscores", "v1.2-rc_3", "v1.2-rc_3"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, sanitizeFilename(tc.title, 0))
		})
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 200)

	got := sanitizeFilename(long, 0)
	assert.Len(t, []rune(got), defaultMaxTitleLen)

	got = sanitizeFilename(long, 12)
	assert.Len(t, []rune(got), 12)
}

func TestFormatCaptureDate(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, time.March, 7, 16, 45, 0, 0, time.UTC)
	assert.Equal(t, "03/07/25", FormatCaptureDate(ts))
}
