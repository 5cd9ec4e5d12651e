// Package crawler implements the hierarchical page-tree discovery algorithm
// and the crawl orchestrator, plus the core types shared across subsystems.
package crawler

import (
	"context"
	"time"
)

// LastModified is the {user, date} pair heuristically extracted from raw
// page content. Both fields are kept as found; no date parsing is attempted.
type LastModified struct {
	User string `json:"user"`
	Date string `json:"date"`
}

// PageRecord is one crawled unit. Records are created by the orchestrator at
// fetch time, immutable afterwards, and serialized once into the manifest.
type PageRecord struct {
	ID            string        `json:"id"`
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	Content       string        `json:"content"`
	Breadcrumbs   string        `json:"breadcrumbs"`
	FormattedDate string        `json:"formatted_date"`
	LastModified  *LastModified `json:"last_modified,omitempty"`
}

// Link is one anchor discovered in the site's hierarchical page tree.
type Link struct {
	URL   string
	Title string
}

// Page is the raw result of fetching one authenticated page.
type Page struct {
	URL         string
	RawHTML     string
	Breadcrumbs []string
}

// Fetcher retrieves authenticated page content. Implementations own a
// long-lived authenticated session reused across many fetches.
type Fetcher interface {
	FetchPage(ctx context.Context, url string) (Page, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// BreadcrumbSeparator joins ancestor section names into the manifest's
// breadcrumb trail string.
const BreadcrumbSeparator = " > "

// formattedDateLayout is the fixed MM/DD/YY capture-date format carried in
// every manifest entry.
const formattedDateLayout = "01/02/06"

// FormatCaptureDate renders t in the manifest's MM/DD/YY date format.
func FormatCaptureDate(t time.Time) string {
	return t.Format(formattedDateLayout)
}
