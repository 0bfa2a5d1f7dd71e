// Package rebuild tracks the progress of rebuilding one backend's index from
// the event store, so an interrupted rebuild resumes where it stopped.
package rebuild

import (
	"time"

	"github.com/zenoss/zenoss-zep-sub000/internal/event"
)

// State is an immutable snapshot of a rebuild. Transitions return new values.
type State struct {
	Began   time.Time
	Updated time.Time
	Ended   *time.Time

	Indexed  int64
	Expected *int64

	IndexVersion int
	ConfigHash   string

	// ThroughTime bounds the rebuild: events updated later reach the index
	// through the normal write path. It also identifies the rebuild run.
	ThroughTime int64

	// Next is where the following batch starts.
	Next event.Watermark
}

// Begin starts a rebuild of everything updated up to throughTime.
func Begin(version int, hash string, throughTime int64, now time.Time) State {
	return State{
		Began:        now,
		Updated:      now,
		IndexVersion: version,
		ConfigHash:   hash,
		ThroughTime:  throughTime,
	}
}

// Update records a processed batch of delta events.
func Update(s State, delta int64, next event.Watermark, now time.Time) State {
	s.Indexed += delta
	s.Next = next
	s.Updated = now
	return s
}

// End marks the rebuild finished after a final batch of delta events.
func End(s State, delta int64, now time.Time) State {
	s.Indexed += delta
	s.Updated = now
	s.Ended = &now
	return s
}

// SetExpected records the estimated total once it is known.
func SetExpected(s State, total int64) State {
	s.Expected = &total
	return s
}

// Done reports whether the rebuild has finished.
func (s State) Done() bool {
	return s.Ended != nil
}

// PercentComplete is 0 until the total is known and 100 once done.
func (s State) PercentComplete() int {
	if s.Done() {
		return 100
	}
	if s.Expected == nil || *s.Expected <= 0 {
		return 0
	}
	return int(min(s.Indexed*100 / *s.Expected, 100))
}

// ETA extrapolates the finish time from the rate so far. ok is false while
// there is nothing to extrapolate from.
func (s State) ETA() (eta time.Time, ok bool) {
	if s.Done() {
		return *s.Ended, true
	}
	if s.Expected == nil || s.Indexed <= 0 {
		return time.Time{}, false
	}
	remaining := *s.Expected - s.Indexed
	if remaining <= 0 {
		return s.Updated, true
	}
	elapsed := s.Updated.Sub(s.Began)
	return s.Updated.Add(time.Duration(float64(elapsed) * float64(remaining) / float64(s.Indexed))), true
}
