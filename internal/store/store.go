// Package store persists per-user habit state. Records are keyed by user id
// with last-write-wins semantics; callers never coordinate across users.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/commitstreak/streakd/internal/streak"
	"github.com/commitstreak/streakd/internal/suggest"
)

// Prefs holds per-user notification preferences.
type Prefs struct {
	EmailEnabled          bool `json:"email_enabled"`
	PushEnabled           bool `json:"push_enabled"`
	WeekendsOff           bool `json:"weekends_off"`
	NotifyEvenIfCommitted bool `json:"notify_even_if_committed"`
}

// User is one tracked GitHub account.
type User struct {
	ID       string `json:"id"`
	Login    string `json:"login"`
	Email    string `json:"email"`
	Token    string `json:"token,omitempty"`
	Timezone string `json:"timezone"`
	Prefs    Prefs  `json:"prefs"`
}

// Reminder is a single scheduled reminder owned by a user.
type Reminder struct {
	ID       string `json:"id"`
	Time     string `json:"time"` // "HH:MM", 24-hour, zero-padded
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone"` // IANA zone name
}

// SubscriptionKeys are the client-provided web push encryption keys.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is an opaque web push delivery target.
type PushSubscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

type userRecord struct {
	user         User
	hasStreak    bool
	streak       streak.State
	reminders    map[string]Reminder
	exclusions   map[string]struct{}
	notes        map[string]suggest.Note
	subscription *PushSubscription
}

// MemoryStore is the in-memory store twin used in tests and single-node
// development.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*userRecord
	dedupLocks map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*userRecord),
		dedupLocks: make(map[string]time.Time),
	}
}

// Ping reports backend reachability. The in-memory store is always reachable.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) record(userID string) *userRecord {
	rec, ok := s.users[userID]
	if !ok {
		rec = &userRecord{
			reminders:  make(map[string]Reminder),
			exclusions: make(map[string]struct{}),
			notes:      make(map[string]suggest.Note),
		}
		s.users[userID] = rec
	}
	return rec
}

// PutUser inserts or replaces a user record.
func (s *MemoryStore) PutUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(user.ID).user = user
	return nil
}

// GetUser returns the user record for an id.
func (s *MemoryStore) GetUser(_ context.Context, userID string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok || rec.user.ID == "" {
		return User{}, false, nil
	}
	return rec.user, true, nil
}

// ListUsers returns all users ordered by id.
func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, rec := range s.users {
		if rec.user.ID != "" {
			users = append(users, rec.user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// DeleteUser removes a user and every record keyed under it.
func (s *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

// GetStreak returns the cached streak state for a user.
func (s *MemoryStore) GetStreak(_ context.Context, userID string) (streak.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok || !rec.hasStreak {
		return streak.State{}, false, nil
	}
	return rec.streak, true, nil
}

// PutStreak replaces the cached streak state for a user.
func (s *MemoryStore) PutStreak(_ context.Context, userID string, state streak.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(userID)
	rec.streak = state
	rec.hasStreak = true
	return nil
}

// ListReminders returns a user's reminders ordered by id.
func (s *MemoryStore) ListReminders(_ context.Context, userID string) ([]Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	reminders := make([]Reminder, 0, len(rec.reminders))
	for _, reminder := range rec.reminders {
		reminders = append(reminders, reminder)
	}
	sort.Slice(reminders, func(i, j int) bool { return reminders[i].ID < reminders[j].ID })
	return reminders, nil
}

// PutReminder inserts or replaces one reminder for a user.
func (s *MemoryStore) PutReminder(_ context.Context, userID string, reminder Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(userID).reminders[reminder.ID] = reminder
	return nil
}

// DeleteReminder removes one reminder for a user.
func (s *MemoryStore) DeleteReminder(_ context.Context, userID, reminderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[userID]; ok {
		delete(rec.reminders, reminderID)
	}
	return nil
}

// ListExclusions returns the repositories the user never wants suggested.
func (s *MemoryStore) ListExclusions(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	excluded := make([]string, 0, len(rec.exclusions))
	for name := range rec.exclusions {
		excluded = append(excluded, name)
	}
	sort.Strings(excluded)
	return excluded, nil
}

// AddExclusion adds a repository to the user's exclusion set.
func (s *MemoryStore) AddExclusion(_ context.Context, userID, fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(userID).exclusions[fullName] = struct{}{}
	return nil
}

// RemoveExclusion removes a repository from the user's exclusion set.
func (s *MemoryStore) RemoveExclusion(_ context.Context, userID, fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[userID]; ok {
		delete(rec.exclusions, fullName)
	}
	return nil
}

// GetNotes returns the user's repo notes keyed by repository full name.
func (s *MemoryStore) GetNotes(_ context.Context, userID string) (map[string]suggest.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	notes := make(map[string]suggest.Note, len(rec.notes))
	for name, note := range rec.notes {
		notes[name] = note
	}
	return notes, nil
}

// PutNote inserts or replaces the note for one repository.
func (s *MemoryStore) PutNote(_ context.Context, userID, fullName string, note suggest.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(userID).notes[fullName] = note
	return nil
}

// DeleteNote removes the note for one repository.
func (s *MemoryStore) DeleteNote(_ context.Context, userID, fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[userID]; ok {
		delete(rec.notes, fullName)
	}
	return nil
}

// GetPushSubscription returns the user's web push subscription.
func (s *MemoryStore) GetPushSubscription(_ context.Context, userID string) (PushSubscription, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok || rec.subscription == nil {
		return PushSubscription{}, false, nil
	}
	return *rec.subscription, true, nil
}

// PutPushSubscription inserts or replaces the user's web push subscription.
func (s *MemoryStore) PutPushSubscription(_ context.Context, userID string, sub PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(userID).subscription = &sub
	return nil
}

// DeletePushSubscription purges the user's web push subscription. Used when
// delivery reports the subscription as gone.
func (s *MemoryStore) DeletePushSubscription(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[userID]; ok {
		rec.subscription = nil
	}
	return nil
}

// AcquireDedupLock takes a TTL lock for a dedup key. It returns false while
// an unexpired lock is held, which keeps a reminder from firing twice when
// two ticks land in the same minute.
func (s *MemoryStore) AcquireDedupLock(_ context.Context, key string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiry, held := s.dedupLocks[key]; held && now.Before(expiry) {
		return false, nil
	}
	s.dedupLocks[key] = now.Add(ttl)
	return true, nil
}

// GC drops expired dedup locks.
func (s *MemoryStore) GC(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, expiry := range s.dedupLocks {
		if !now.Before(expiry) {
			delete(s.dedupLocks, key)
		}
	}
}
