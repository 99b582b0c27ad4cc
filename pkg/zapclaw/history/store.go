// Package history keeps the same-day message log of every allow-listed group.
//
// The log lives in memory only. It is discarded as a whole whenever the
// calendar day-of-month changes, so a summary never mixes two days.
package history

import (
	"errors"
	"sync"
	"time"
)

// ImagePlaceholder is stored as the body of image messages.
const ImagePlaceholder = "User sent an image"

// ErrEmptyGroupID is returned when appending without a group identifier.
var ErrEmptyGroupID = errors.New("group id is required")

// Entry is one retained message.
type Entry struct {
	// Sender is the best-effort display name.
	Sender string

	// Body is the message text or ImagePlaceholder.
	Body string

	// Timestamp is the message send time.
	Timestamp time.Time
}

// Store maps group ids to their ordered message log.
// All methods are safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	groups     map[string][]Entry
	currentDay int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{groups: make(map[string][]Entry)}
}

// ResetIfNewDay drops every group log when today differs from the last
// observed day. Reports whether a reset happened.
func (s *Store) ResetIfNewDay(today int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked(today)
}

func (s *Store) resetLocked(today int) bool {
	if today == s.currentDay {
		return false
	}
	s.groups = make(map[string][]Entry)
	s.currentDay = today
	return true
}

// Append adds e to the end of the group log, creating it if absent.
func (s *Store) Append(groupID string, e Entry) error {
	if groupID == "" {
		return ErrEmptyGroupID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = append(s.groups[groupID], e)
	return nil
}

// Record performs the rollover check and the append under a single lock,
// so a concurrent day change cannot slip between the two.
func (s *Store) Record(today int, groupID string, e Entry) error {
	if groupID == "" {
		return ErrEmptyGroupID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(today)
	s.groups[groupID] = append(s.groups[groupID], e)
	return nil
}

// EntriesForDay returns, in insertion order, the group entries whose
// timestamp falls in [start, end). Unknown groups yield an empty slice.
func (s *Store) EntriesForDay(groupID string, start, end time.Time) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.groups[groupID]))
	for _, e := range s.groups[groupID] {
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of entries retained for a group.
func (s *Store) Len(groupID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups[groupID])
}

// CurrentDay returns the day-of-month the store is valid for (0 before the
// first event).
func (s *Store) CurrentDay() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDay
}

// DayWindow returns the local calendar-day bounds [start, end) containing t.
func DayWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
