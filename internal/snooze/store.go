// Package snooze tracks threads hidden from the inbox until a wake time.
package snooze

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Named wake times accepted by the snooze tool alongside RFC 3339
// timestamps.
const (
	UntilLaterToday  = "later-today"
	UntilTomorrow    = "tomorrow"
	UntilThisWeekend = "this-weekend"
	UntilNextWeek    = "next-week"
)

// morningHour is the local hour named wake times resolve to.
const morningHour = 9

// Entry is one snoozed thread.
type Entry struct {
	ThreadID string    `json:"threadId"`
	WakeAt   time.Time `json:"wakeAt"`
}

// Store is an in-memory snooze registry. Safe for concurrent use.
//
// Entries do not survive a restart. Snooze state lives server-side only so
// the client's inbox rendering stays a pure function of it.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Snooze hides threadID until the wake time described by until, which is
// either a named duration or an RFC 3339 timestamp. Snoozing an already
// snoozed thread replaces its wake time.
func (s *Store) Snooze(threadID, until string) (time.Time, error) {
	if threadID == "" {
		return time.Time{}, fmt.Errorf("thread ID is required")
	}

	wakeAt, err := s.resolveWakeTime(until)
	if err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[threadID] = Entry{ThreadID: threadID, WakeAt: wakeAt}

	return wakeAt, nil
}

// Unsnooze removes threadID from the store, reporting whether it was
// snoozed.
func (s *Store) Unsnooze(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[threadID]; !ok {
		return false
	}
	delete(s.entries, threadID)
	return true
}

// IsSnoozed reports whether threadID is currently snoozed. Entries whose
// wake time has passed no longer count.
func (s *Store) IsSnoozed(threadID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[threadID]
	return ok && entry.WakeAt.After(s.now())
}

// Active returns all entries whose wake time is still in the future,
// ordered by wake time. Expired entries are pruned as a side effect.
func (s *Store) Active() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var active []Entry
	for id, entry := range s.entries {
		if entry.WakeAt.After(now) {
			active = append(active, entry)
		} else {
			delete(s.entries, id)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].WakeAt.Before(active[j].WakeAt)
	})
	return active
}

func (s *Store) resolveWakeTime(until string) (time.Time, error) {
	now := s.now()

	switch strings.ToLower(strings.TrimSpace(until)) {
	case UntilLaterToday:
		return now.Add(3 * time.Hour), nil
	case UntilTomorrow:
		return nextMorning(now, 1), nil
	case UntilThisWeekend:
		return nextWeekday(now, time.Saturday), nil
	case UntilNextWeek:
		return nextWeekday(now, time.Monday), nil
	case "":
		return time.Time{}, fmt.Errorf("snooze time is required")
	}

	wakeAt, err := time.Parse(time.RFC3339, until)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized snooze time %q: use %s, %s, %s, %s, or an RFC 3339 timestamp",
			until, UntilLaterToday, UntilTomorrow, UntilThisWeekend, UntilNextWeek)
	}
	if !wakeAt.After(now) {
		return time.Time{}, fmt.Errorf("snooze time %q is in the past", until)
	}
	return wakeAt, nil
}

func nextMorning(now time.Time, days int) time.Time {
	next := now.AddDate(0, 0, days)
	return time.Date(next.Year(), next.Month(), next.Day(), morningHour, 0, 0, 0, now.Location())
}

// nextWeekday returns the next occurrence of weekday at morningHour,
// always at least one day ahead.
func nextWeekday(now time.Time, weekday time.Weekday) time.Time {
	days := int(weekday - now.Weekday())
	if days <= 0 {
		days += 7
	}
	return nextMorning(now, days)
}
