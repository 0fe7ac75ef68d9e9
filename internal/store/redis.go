package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commitstreak/streakd/internal/streak"
	"github.com/commitstreak/streakd/internal/suggest"
)

type redisCommander interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
}

// RedisStoreConfig configures the Redis-backed store.
type RedisStoreConfig struct {
	Namespace string
}

// RedisStore persists per-user habit state in Redis.
type RedisStore struct {
	client    redisCommander
	closeFn   func() error
	namespace string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	closeFn := func() error { return nil }
	if client != nil {
		closeFn = client.Close
	}
	return newRedisStoreFromCommander(client, closeFn, cfg)
}

func newRedisStoreFromCommander(client redisCommander, closeFn func() error, cfg RedisStoreConfig) *RedisStore {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "streakd"
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &RedisStore{
		client:    client,
		closeFn:   closeFn,
		namespace: namespace,
	}
}

// Ping checks that the Redis backend answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

func (s *RedisStore) usersKey() string {
	return s.namespace + ":users"
}

func (s *RedisStore) userKey(userID string) string {
	return s.namespace + ":user:" + userID
}

func (s *RedisStore) streakKey(userID string) string {
	return s.namespace + ":streak:" + userID
}

func (s *RedisStore) remindersKey(userID string) string {
	return s.namespace + ":reminders:" + userID
}

func (s *RedisStore) exclusionsKey(userID string) string {
	return s.namespace + ":exclusions:" + userID
}

func (s *RedisStore) notesKey(userID string) string {
	return s.namespace + ":notes:" + userID
}

func (s *RedisStore) pushKey(userID string) string {
	return s.namespace + ":push:" + userID
}

func (s *RedisStore) dedupKey(key string) string {
	return s.namespace + ":dedup:" + key
}

// PutUser inserts or replaces a user record and indexes the id.
func (s *RedisStore) PutUser(ctx context.Context, user User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := s.client.Set(ctx, s.userKey(user.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("write user: %w", err)
	}
	if err := s.client.SAdd(ctx, s.usersKey(), user.ID).Err(); err != nil {
		return fmt.Errorf("index user: %w", err)
	}
	return nil
}

// GetUser returns the user record for an id.
func (s *RedisStore) GetUser(ctx context.Context, userID string) (User, bool, error) {
	raw, err := s.client.Get(ctx, s.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("read user: %w", err)
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return User{}, false, fmt.Errorf("decode user: %w", err)
	}
	return user, true, nil
}

// ListUsers returns all indexed users ordered by id.
func (s *RedisStore) ListUsers(ctx context.Context) ([]User, error) {
	ids, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	sort.Strings(ids)

	users := make([]User, 0, len(ids))
	for _, id := range ids {
		user, ok, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			users = append(users, user)
		}
	}
	return users, nil
}

// DeleteUser removes a user and every record keyed under it.
func (s *RedisStore) DeleteUser(ctx context.Context, userID string) error {
	keys := []string{
		s.userKey(userID),
		s.streakKey(userID),
		s.remindersKey(userID),
		s.exclusionsKey(userID),
		s.notesKey(userID),
		s.pushKey(userID),
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete user records: %w", err)
	}
	if err := s.client.SRem(ctx, s.usersKey(), userID).Err(); err != nil {
		return fmt.Errorf("unindex user: %w", err)
	}
	return nil
}

// GetStreak returns the cached streak state for a user.
func (s *RedisStore) GetStreak(ctx context.Context, userID string) (streak.State, bool, error) {
	raw, err := s.client.Get(ctx, s.streakKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return streak.State{}, false, nil
	}
	if err != nil {
		return streak.State{}, false, fmt.Errorf("read streak: %w", err)
	}
	var state streak.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return streak.State{}, false, fmt.Errorf("decode streak: %w", err)
	}
	return state, true, nil
}

// PutStreak replaces the cached streak state for a user.
func (s *RedisStore) PutStreak(ctx context.Context, userID string, state streak.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal streak: %w", err)
	}
	if err := s.client.Set(ctx, s.streakKey(userID), payload, 0).Err(); err != nil {
		return fmt.Errorf("write streak: %w", err)
	}
	return nil
}

// ListReminders returns a user's reminders ordered by id.
func (s *RedisStore) ListReminders(ctx context.Context, userID string) ([]Reminder, error) {
	fields, err := s.client.HGetAll(ctx, s.remindersKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	reminders := make([]Reminder, 0, len(fields))
	for id, raw := range fields {
		var reminder Reminder
		if err := json.Unmarshal([]byte(raw), &reminder); err != nil {
			return nil, fmt.Errorf("decode reminder %s: %w", id, err)
		}
		reminders = append(reminders, reminder)
	}
	sort.Slice(reminders, func(i, j int) bool { return reminders[i].ID < reminders[j].ID })
	return reminders, nil
}

// PutReminder inserts or replaces one reminder for a user.
func (s *RedisStore) PutReminder(ctx context.Context, userID string, reminder Reminder) error {
	if reminder.ID == "" {
		return fmt.Errorf("reminder id is required")
	}
	payload, err := json.Marshal(reminder)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}
	if err := s.client.HSet(ctx, s.remindersKey(userID), reminder.ID, payload).Err(); err != nil {
		return fmt.Errorf("write reminder: %w", err)
	}
	return nil
}

// DeleteReminder removes one reminder for a user.
func (s *RedisStore) DeleteReminder(ctx context.Context, userID, reminderID string) error {
	if err := s.client.HDel(ctx, s.remindersKey(userID), reminderID).Err(); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

// ListExclusions returns the repositories the user never wants suggested.
func (s *RedisStore) ListExclusions(ctx context.Context, userID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.exclusionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

// AddExclusion adds a repository to the user's exclusion set.
func (s *RedisStore) AddExclusion(ctx context.Context, userID, fullName string) error {
	if err := s.client.SAdd(ctx, s.exclusionsKey(userID), fullName).Err(); err != nil {
		return fmt.Errorf("add exclusion: %w", err)
	}
	return nil
}

// RemoveExclusion removes a repository from the user's exclusion set.
func (s *RedisStore) RemoveExclusion(ctx context.Context, userID, fullName string) error {
	if err := s.client.SRem(ctx, s.exclusionsKey(userID), fullName).Err(); err != nil {
		return fmt.Errorf("remove exclusion: %w", err)
	}
	return nil
}

// GetNotes returns the user's repo notes keyed by repository full name.
func (s *RedisStore) GetNotes(ctx context.Context, userID string) (map[string]suggest.Note, error) {
	fields, err := s.client.HGetAll(ctx, s.notesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	notes := make(map[string]suggest.Note, len(fields))
	for fullName, raw := range fields {
		var note suggest.Note
		if err := json.Unmarshal([]byte(raw), &note); err != nil {
			return nil, fmt.Errorf("decode note %s: %w", fullName, err)
		}
		notes[fullName] = note
	}
	return notes, nil
}

// PutNote inserts or replaces the note for one repository.
func (s *RedisStore) PutNote(ctx context.Context, userID, fullName string, note suggest.Note) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	if err := s.client.HSet(ctx, s.notesKey(userID), fullName, payload).Err(); err != nil {
		return fmt.Errorf("write note: %w", err)
	}
	return nil
}

// DeleteNote removes the note for one repository.
func (s *RedisStore) DeleteNote(ctx context.Context, userID, fullName string) error {
	if err := s.client.HDel(ctx, s.notesKey(userID), fullName).Err(); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// GetPushSubscription returns the user's web push subscription.
func (s *RedisStore) GetPushSubscription(ctx context.Context, userID string) (PushSubscription, bool, error) {
	raw, err := s.client.Get(ctx, s.pushKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return PushSubscription{}, false, nil
	}
	if err != nil {
		return PushSubscription{}, false, fmt.Errorf("read push subscription: %w", err)
	}
	var sub PushSubscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return PushSubscription{}, false, fmt.Errorf("decode push subscription: %w", err)
	}
	return sub, true, nil
}

// PutPushSubscription inserts or replaces the user's web push subscription.
func (s *RedisStore) PutPushSubscription(ctx context.Context, userID string, sub PushSubscription) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal push subscription: %w", err)
	}
	if err := s.client.Set(ctx, s.pushKey(userID), payload, 0).Err(); err != nil {
		return fmt.Errorf("write push subscription: %w", err)
	}
	return nil
}

// DeletePushSubscription purges the user's web push subscription.
func (s *RedisStore) DeletePushSubscription(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.pushKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// AcquireDedupLock takes a TTL lock for a dedup key via SETNX. Redis expiry
// owns the TTL, so the now parameter is unused here.
func (s *RedisStore) AcquireDedupLock(ctx context.Context, key string, ttl time.Duration, _ time.Time) (bool, error) {
	acquired, err := s.client.SetNX(ctx, s.dedupKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire dedup lock: %w", err)
	}
	return acquired, nil
}
