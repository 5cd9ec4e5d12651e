package crawler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRecords() []PageRecord {
	return []PageRecord{
		{
			ID:            "0000",
			URL:           "https://wiki.corp.example/pages/1",
			Title:         "Getting Started",
			Content:       "# Getting Started\n\nWelcome.",
			Breadcrumbs:   "Home > Docs",
			FormattedDate: "03/07/25",
			LastModified:  &LastModified{User: "Dana Reyes", Date: "Mar 1, 2025"},
		},
		{
			ID:            "0001",
			URL:           "https://wiki.corp.example/pages/2",
			Title:         "FAQ",
			Content:       "# FAQ",
			FormattedDate: "03/07/25",
		},
	}
}

func TestFileSystemSink_SavePageWritesBothForms(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := NewFileSystemSink(dir, 0, zap.NewNop())
	require.NoError(t, err)

	record := testRecords()[0]
	require.NoError(t, sink.SavePage(record, "<html><body>raw</body></html>"))

	raw, err := os.ReadFile(filepath.Join(dir, "page_0000_Getting_Started.html"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "raw")

	md, err := os.ReadFile(filepath.Join(dir, "page_0000_Getting_Started.md"))
	require.NoError(t, err)
	assert.Equal(t, record.Content, string(md))
}

func TestFileSystemSink_AppliesTitleLengthCap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := NewFileSystemSink(dir, 7, zap.NewNop())
	require.NoError(t, err)

	record := testRecords()[0]
	require.NoError(t, sink.SavePage(record, "<html></html>"))

	_, err = os.Stat(filepath.Join(dir, "page_0000_Getting.html"))
	require.NoError(t, err)
}

func TestFileSystemSink_ManifestRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := NewFileSystemSink(dir, 0, zap.NewNop())
	require.NoError(t, err)

	records := testRecords()
	require.NoError(t, sink.WriteManifest(records))

	loaded, err := ReadManifest(filepath.Join(dir, ManifestFilename))
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestFileSystemSink_WriteManifestEmptyIsValidArray(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := NewFileSystemSink(dir, 0, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, sink.WriteManifest([]PageRecord{}))

	payload, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	require.NoError(t, err)
	var parsed []PageRecord
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Empty(t, parsed)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC)
	summary := Summarize(testRecords(), now)

	assert.Equal(t, 2, summary.TotalPages)
	assert.Equal(t, 1, summary.PagesWithBreadcrumbs)
	assert.Equal(t, 1, summary.PagesWithLastMod)
	assert.Equal(t, map[string]int{"Home": 1}, summary.BreadcrumbRoots)
	assert.Equal(t, now, summary.GeneratedAt)
	assert.Positive(t, summary.AvgContentBytes)
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	summary := Summarize(nil, time.Now())
	assert.Zero(t, summary.TotalPages)
	assert.Zero(t, summary.AvgContentBytes)
}

func TestTopBreadcrumbRoots(t *testing.T) {
	t.Parallel()

	summary := CrawlSummary{BreadcrumbRoots: map[string]int{
		"Docs": 5, "Eng": 5, "HR": 1,
	}}
	assert.Equal(t, []string{"Docs", "Eng"}, TopBreadcrumbRoots(summary, 2))
}

func TestReadManifest_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := ReadManifest(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
