package crawler

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// DefaultLastModifiedPatterns are the heuristics matched against raw page
// content when no deployment-specific patterns are configured. Each pattern
// must define `user` and `date` named groups.
var DefaultLastModifiedPatterns = []string{
	`(?is)last (?:modified|updated) by\s+(?P<user>[^,<\n]{1,80}?)\s+on\s+(?P<date>[A-Za-z]{3}\s+\d{1,2},\s+\d{4})`,
	`(?is)last (?:modified|updated) by\s+(?P<user>[^,<\n]{1,80}?)\s+on\s+(?P<date>\d{2}/\d{2}/\d{2,4})`,
}

// defaultLastModifiedTimeout bounds one extraction attempt. A slow match on
// pathological content must never stall the whole crawl.
const defaultLastModifiedTimeout = 3 * time.Second

// LastModifiedExtractor performs a bounded-time pattern search for the
// {user, date} pair a wiki page footer carries.
type LastModifiedExtractor struct {
	patterns []*regexp.Regexp
	timeout  time.Duration
}

// NewLastModifiedExtractor compiles the configured patterns. Every pattern
// must carry `user` and `date` named capture groups.
func NewLastModifiedExtractor(patterns []string, timeout time.Duration) (*LastModifiedExtractor, error) {
	if len(patterns) == 0 {
		patterns = DefaultLastModifiedPatterns
	}
	if timeout <= 0 {
		timeout = defaultLastModifiedTimeout
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile lastmod pattern %q: %w", p, err)
		}
		if re.SubexpIndex("user") < 0 || re.SubexpIndex("date") < 0 {
			return nil, fmt.Errorf("lastmod pattern %q must define user and date groups", p)
		}
		compiled = append(compiled, re)
	}
	return &LastModifiedExtractor{patterns: compiled, timeout: timeout}, nil
}

// Extract runs the pattern search on a worker with a hard wall-clock timeout.
// It returns nil when nothing matches, the timeout elapses, or the context
// finishes first; absence is never an error.
func (e *LastModifiedExtractor) Extract(ctx context.Context, raw string) *LastModified {
	done := make(chan *LastModified, 1)
	go func() {
		done <- e.search(raw)
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case result := <-done:
		return result
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (e *LastModifiedExtractor) search(raw string) *LastModified {
	for _, re := range e.patterns {
		match := re.FindStringSubmatch(raw)
		if match == nil {
			continue
		}
		return &LastModified{
			User: match[re.SubexpIndex("user")],
			Date: match[re.SubexpIndex("date")],
		}
	}
	return nil
}
