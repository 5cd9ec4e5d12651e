package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastModifiedExtractor_DefaultPatterns(t *testing.T) {
	t.Parallel()

	extractor, err := NewLastModifiedExtractor(nil, 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want *LastModified
	}{
		{
			name: "month name date",
			raw:  `<div class="footer">Last modified by Dana Reyes on Mar 14, 2025</div>`,
			want: &LastModified{User: "Dana Reyes", Date: "Mar 14, 2025"},
		},
		{
			name: "numeric date",
			raw:  `Page last updated by j.smith on 03/14/25`,
			want: &LastModified{User: "j.smith", Date: "03/14/25"},
		},
		{
			name: "case insensitive",
			raw:  `LAST MODIFIED BY Priya K on Jan 2, 2024`,
			want: &LastModified{User: "Priya K", Date: "Jan 2, 2024"},
		},
		{
			name: "no match",
			raw:  `<p>Nothing about edits here.</p>`,
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := extractor.Extract(context.Background(), tc.raw)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLastModifiedExtractor_AbsenceIsNotAnError(t *testing.T) {
	t.Parallel()

	extractor, err := NewLastModifiedExtractor(nil, 50*time.Millisecond)
	require.NoError(t, err)

	got := extractor.Extract(context.Background(), "")
	assert.Nil(t, got)
}

func TestLastModifiedExtractor_CanceledContext(t *testing.T) {
	t.Parallel()

	extractor, err := NewLastModifiedExtractor(nil, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A finished context yields absence, never a crash or block.
	got := extractor.Extract(ctx, "no edit footer on this page")
	assert.Nil(t, got)
}

func TestNewLastModifiedExtractor_RejectsBadPatterns(t *testing.T) {
	t.Parallel()

	_, err := NewLastModifiedExtractor([]string{`([`}, 0)
	require.Error(t, err)

	_, err = NewLastModifiedExtractor([]string{`no named groups here`}, 0)
	require.Error(t, err)

	_, err = NewLastModifiedExtractor([]string{`(?P<user>\w+) only`}, 0)
	require.Error(t, err)
}

func TestNewLastModifiedExtractor_CustomPattern(t *testing.T) {
	t.Parallel()

	extractor, err := NewLastModifiedExtractor(
		[]string{`edited by (?P<user>\w+) at (?P<date>\d{4}-\d{2}-\d{2})`}, 0)
	require.NoError(t, err)

	got := extractor.Extract(context.Background(), "edited by mika at 2025-06-01")
	require.NotNil(t, got)
	assert.Equal(t, "mika", got.User)
	assert.Equal(t, "2025-06-01", got.Date)
}
