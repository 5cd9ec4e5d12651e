// Package system provides the wall clock used for capture dates, checkpoint
// records, and validation timestamps.
package system

import (
	"time"

	"github.com/mkarlsen/wikiharvest/internal/crawler"
)

// Clock reads the system time in UTC so timestamps compare cleanly across
// crawl and validation runs.
type Clock struct{}

var _ crawler.Clock = Clock{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
