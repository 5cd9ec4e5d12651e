package scoring

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mkarlsen/wikiharvest/internal/crawler"
)

// truncationMarker is appended whenever page content is cut to fit the
// prompt budget.
const truncationMarker = "... [content truncated]"

// defaultMaxContentChars bounds the normalized content embedded in a prompt.
const defaultMaxContentChars = 10000

const promptTemplate = `You are scoring one page from an internal knowledge base.
Reply with a single JSON object and nothing else:
{"relevance_score": <0..1>, "currency_score": <0..1>}

relevance_score: how related the page is to the target platform topics.
currency_score: how up to date the information is, independent of relevance.
-----
Page Title: %s
Page Breadcrumbs: %s
Capture Date: %s
Page Content:
%s`

// BuildPrompt renders the single-turn scoring prompt for one page record,
// truncating content at maxChars with a marker when cut.
func BuildPrompt(record crawler.PageRecord, maxChars int) string {
	if maxChars <= 0 {
		maxChars = defaultMaxContentChars
	}
	content := record.Content
	if len(content) > maxChars {
		// Back off to a rune boundary so the cut never leaves a split
		// multi-byte sequence in the prompt.
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut] + truncationMarker
	}
	breadcrumbs := record.Breadcrumbs
	if strings.TrimSpace(breadcrumbs) == "" {
		breadcrumbs = "(none)"
	}
	return fmt.Sprintf(promptTemplate, record.Title, breadcrumbs, record.FormattedDate, content)
}
