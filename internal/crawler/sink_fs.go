package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Manifest and summary filenames within the crawl output directory.
const (
	ManifestFilename = "manifest.json"
	summaryFilename  = "crawl_summary.json"
)

// FileSystemSink persists each page's raw and normalized form to disk and
// serializes the manifest plus a derived summary once per crawl.
type FileSystemSink struct {
	root        string
	maxTitleLen int
	logger      *zap.Logger
}

// NewFileSystemSink creates the output directory and returns a sink rooted
// there. maxTitleLen caps the sanitized-title fragment of page filenames;
// zero applies the default.
func NewFileSystemSink(root string, maxTitleLen int, logger *zap.Logger) (*FileSystemSink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", root, err)
	}
	return &FileSystemSink{root: root, maxTitleLen: maxTitleLen, logger: logger}, nil
}

// SavePage writes the raw HTML and normalized markdown for one record to
// individually named files. The sequence id prefix guarantees no overwrite
// even when two titles sanitize to the same fragment.
func (s *FileSystemSink) SavePage(record PageRecord, rawHTML string) error {
	base := fmt.Sprintf("page_%s_%s", record.ID, sanitizeFilename(record.Title, s.maxTitleLen))
	htmlPath := filepath.Join(s.root, base+".html")
	mdPath := filepath.Join(s.root, base+".md")

	if err := os.WriteFile(htmlPath, []byte(rawHTML), 0o600); err != nil {
		return fmt.Errorf("write raw page %s: %w", htmlPath, err)
	}
	if err := os.WriteFile(mdPath, []byte(record.Content), 0o600); err != nil {
		return fmt.Errorf("write normalized page %s: %w", mdPath, err)
	}
	return nil
}

// WriteManifest serializes the full manifest array once.
func (s *FileSystemSink) WriteManifest(records []PageRecord) error {
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	target := filepath.Join(s.root, ManifestFilename)
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write manifest %s: %w", target, err)
	}
	s.logger.Info("Manifest written", zap.String("path", target), zap.Int("pages", len(records)))
	return nil
}

// CrawlSummary aggregates one crawl run for quick inspection.
type CrawlSummary struct {
	GeneratedAt          time.Time      `json:"generated_at"`
	TotalPages           int            `json:"total_pages"`
	PagesWithBreadcrumbs int            `json:"pages_with_breadcrumbs"`
	PagesWithLastMod     int            `json:"pages_with_last_modified"`
	TotalContentBytes    int            `json:"total_content_bytes"`
	AvgContentBytes      int            `json:"avg_content_bytes"`
	BreadcrumbRoots      map[string]int `json:"breadcrumb_roots"`
}

// WriteSummary derives counts, content-size aggregates, and the
// breadcrumb-root histogram from the manifest and writes them alongside it.
func (s *FileSystemSink) WriteSummary(records []PageRecord, now time.Time) error {
	summary := Summarize(records, now)
	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	target := filepath.Join(s.root, summaryFilename)
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write summary %s: %w", target, err)
	}
	return nil
}

// Summarize computes the crawl summary for a manifest.
func Summarize(records []PageRecord, now time.Time) CrawlSummary {
	summary := CrawlSummary{
		GeneratedAt:     now,
		TotalPages:      len(records),
		BreadcrumbRoots: make(map[string]int),
	}
	for _, r := range records {
		summary.TotalContentBytes += len(r.Content)
		if r.LastModified != nil {
			summary.PagesWithLastMod++
		}
		if r.Breadcrumbs == "" {
			continue
		}
		summary.PagesWithBreadcrumbs++
		root := r.Breadcrumbs
		if idx := strings.Index(root, BreadcrumbSeparator); idx >= 0 {
			root = root[:idx]
		}
		summary.BreadcrumbRoots[root]++
	}
	if summary.TotalPages > 0 {
		summary.AvgContentBytes = summary.TotalContentBytes / summary.TotalPages
	}
	return summary
}

// ReadManifest loads a manifest array produced by a previous crawl. It is
// the unit of work the validation pipeline consumes.
func ReadManifest(path string) ([]PageRecord, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var records []PageRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return records, nil
}

// TopBreadcrumbRoots returns the histogram keys sorted by descending count,
// for log output.
func TopBreadcrumbRoots(summary CrawlSummary, n int) []string {
	keys := make([]string, 0, len(summary.BreadcrumbRoots))
	for k := range summary.BreadcrumbRoots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if summary.BreadcrumbRoots[keys[i]] != summary.BreadcrumbRoots[keys[j]] {
			return summary.BreadcrumbRoots[keys[i]] > summary.BreadcrumbRoots[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
