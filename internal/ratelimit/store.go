package ratelimit

import (
	"context"
	"time"
)

// Window identifies one of the three rolling counting windows.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"

	// WindowNone marks a decision with no violated window.
	WindowNone Window = "none"
)

// Seconds returns the window length in seconds.
func (w Window) Seconds() int64 {
	switch w {
	case WindowMinute:
		return 60
	case WindowHour:
		return 3600
	case WindowDay:
		return 86400
	default:
		return 0
	}
}

// TTL is how long a window's counter key lives in the store: twice the
// window size, so a just-rolled-over window stays inspectable briefly.
func (w Window) TTL() time.Duration {
	return 2 * time.Duration(w.Seconds()) * time.Second
}

// Index returns the window bucket for the given instant.
func (w Window) Index(now time.Time) int64 {
	return now.Unix() / w.Seconds()
}

// Next returns the start of the window after the one containing now.
func (w Window) Next(now time.Time) time.Time {
	size := w.Seconds()
	return time.Unix((now.Unix()/size+1)*size, 0)
}

// Remaining returns the time left until the window containing now rolls
// over, in whole seconds rounded up (a Retry-After of 0 would invite an
// immediate retry into the same window).
func (w Window) Remaining(now time.Time) time.Duration {
	return time.Duration(w.Next(now).Unix()-now.Unix()) * time.Second
}

// CountingWindows lists the windows the engine counts against, tightest
// first. Violation reporting depends on this order.
var CountingWindows = []Window{WindowMinute, WindowHour, WindowDay}

// Counts holds the post-increment (or peeked) counters for one
// identifier and category across all three windows.
type Counts struct {
	Minute int64 `json:"minute"`
	Hour   int64 `json:"hour"`
	Day    int64 `json:"day"`
}

// Get returns the count for a window.
func (c Counts) Get(w Window) int64 {
	switch w {
	case WindowMinute:
		return c.Minute
	case WindowHour:
		return c.Hour
	case WindowDay:
		return c.Day
	default:
		return 0
	}
}

// CounterStore abstracts atomic counting over a backing store shared by
// all serving instances. Implementations must be safe for concurrent
// use; correctness across a fleet depends on IncrementAll being a
// single atomic batch, never three independent round trips.
type CounterStore interface {
	// IncrementAll atomically increments the minute, hour, and day
	// counters for the window buckets containing now, refreshes their
	// expiry, and returns the post-increment counts.
	IncrementAll(ctx context.Context, identifier, category string, now time.Time) (Counts, error)

	// PeekAll reads the current counts without incrementing. Missing
	// keys read as zero.
	PeekAll(ctx context.Context, identifier, category string, now time.Time) (Counts, error)

	// Reset deletes every counter key for the identifier and category,
	// reporting whether anything was deleted.
	Reset(ctx context.Context, identifier, category string) (bool, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}
