package remind

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/commitstreak/streakd/internal/metrics"
	"github.com/commitstreak/streakd/internal/notify"
	"github.com/commitstreak/streakd/internal/store"
	"github.com/commitstreak/streakd/internal/streak"
	"github.com/commitstreak/streakd/internal/suggest"
)

const (
	defaultTickInterval  = time.Minute
	defaultMaxConcurrent = 4

	// dedupTTL keeps a reminder from firing twice when two ticks land in
	// the same wall-clock minute.
	dedupTTL = 2 * time.Minute
)

// Store is the persistence surface the scheduler consumes.
type Store interface {
	ListUsers(ctx context.Context) ([]store.User, error)
	ListReminders(ctx context.Context, userID string) ([]store.Reminder, error)
	GetStreak(ctx context.Context, userID string) (streak.State, bool, error)
	PutStreak(ctx context.Context, userID string, state streak.State) error
	ListExclusions(ctx context.Context, userID string) ([]string, error)
	GetNotes(ctx context.Context, userID string) (map[string]suggest.Note, error)
	GetPushSubscription(ctx context.Context, userID string) (store.PushSubscription, bool, error)
	DeletePushSubscription(ctx context.Context, userID string) error
	AcquireDedupLock(ctx context.Context, key string, ttl time.Duration, now time.Time) (bool, error)
}

// GitHubClient is the per-user GitHub surface the scheduler consumes.
type GitHubClient interface {
	ListRepos(ctx context.Context) ([]suggest.RepoCandidate, error)
	ContributionCalendar(ctx context.Context, login string) ([]streak.ContributionDay, error)
	EventsFallback(ctx context.Context, login string) ([]streak.ContributionDay, error)
}

// ClientFactory builds a GitHub client for one user's token.
type ClientFactory func(token string) (GitHubClient, error)

// EmailSender delivers one reminder email.
type EmailSender interface {
	SendReminder(ctx context.Context, address string, content notify.Content) error
}

// PushSender delivers one push reminder.
type PushSender interface {
	SendReminder(ctx context.Context, sub store.PushSubscription, content notify.Content) error
}

// SchedulerConfig configures the reminder scan loop.
type SchedulerConfig struct {
	TickInterval  time.Duration
	MaxConcurrent int64
}

// Scheduler runs the per-minute reminder scan. A nil email or push sender
// disables that channel globally; per-user preferences gate the rest.
type Scheduler struct {
	cfg     SchedulerConfig
	store   Store
	clients ClientFactory
	email   EmailSender
	push    PushSender
	scorer  *suggest.Scorer
	metrics *metrics.Metrics
	logger  *zap.Logger

	// Now is injected for deterministic tests.
	Now func() time.Time
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(
	cfg SchedulerConfig,
	st Store,
	clients ClientFactory,
	email EmailSender,
	push PushSender,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Scheduler{
		cfg:     cfg,
		store:   st,
		clients: clients,
		email:   email,
		push:    push,
		scorer:  suggest.NewScorer(),
		metrics: m,
		logger:  logger,
		Now:     time.Now,
	}
}

// Run ticks until the context is cancelled. Every tick completes regardless
// of individual user failures.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info("reminder scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Int64("max_concurrent", s.cfg.MaxConcurrent),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.ScanAndNotify(ctx, s.Now())
		}
	}
}

// ScanAndNotify runs one scan over all users at the given instant. Per-user
// failures are logged and never abort the scan.
func (s *Scheduler) ScanAndNotify(ctx context.Context, now time.Time) {
	started := time.Now()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		s.metrics.ScanCycles.WithLabelValues("failure").Inc()
		s.logger.Error("reminder scan could not list users", zap.Error(err))
		return
	}

	sem := semaphore.NewWeighted(s.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, user := range users {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(user store.User) {
			defer wg.Done()
			defer sem.Release(1)
			if err := s.notifyUser(ctx, now, user); err != nil {
				s.logger.Warn("user notification scan failed",
					zap.String("user", user.ID),
					zap.Error(err),
				)
			}
		}(user)
	}
	wg.Wait()

	s.metrics.ScanCycles.WithLabelValues("success").Inc()
	s.metrics.ScanDuration.Observe(time.Since(started).Seconds())
	s.logger.Debug("reminder scan completed",
		zap.Int("users", len(users)),
		zap.Duration("elapsed", time.Since(started)),
	)
}

type dueReminder struct {
	reminder store.Reminder
	period   Period
}

func (s *Scheduler) notifyUser(ctx context.Context, now time.Time, user store.User) error {
	reminders, err := s.store.ListReminders(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}

	var due []dueReminder
	for _, reminder := range reminders {
		if period, fires := Due(reminder, now); fires {
			due = append(due, dueReminder{reminder: reminder, period: period})
		}
	}
	if len(due) == 0 {
		return nil
	}

	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if user.Prefs.WeekendsOff && IsWeekend(loc, now) {
		s.logger.Debug("skipping weekend reminder", zap.String("user", user.ID))
		return nil
	}

	client, err := s.clients(user.Token)
	if err != nil {
		return fmt.Errorf("build github client: %w", err)
	}

	days, fetchErr := s.fetchContributions(ctx, client, user)
	state := s.reconcileStreak(ctx, user, loc, now, days, fetchErr)

	if fetchErr == nil && streak.CommittedToday(days, loc, now) && !user.Prefs.NotifyEvenIfCommitted {
		s.logger.Debug("user already committed today", zap.String("user", user.ID))
		return nil
	}

	suggestion, haveSuggestion := s.computeSuggestion(ctx, client, user, now)

	var errs error
	for _, fired := range due {
		key := fmt.Sprintf("%s:%s:%s", user.ID, fired.reminder.ID, now.UTC().Format("2006-01-02T15:04"))
		acquired, err := s.store.AcquireDedupLock(ctx, key, dedupTTL, now)
		if err != nil {
			s.metrics.DedupLockFailures.Inc()
			s.logger.Warn("reminder dedup lock unavailable",
				zap.String("user", user.ID),
				zap.String("reminder", fired.reminder.ID),
				zap.Error(err),
			)
			errs = errors.Join(errs, err)
			continue
		}
		if !acquired {
			continue
		}

		content := notify.Content{
			Period:        string(fired.period),
			CurrentStreak: state.Current,
		}
		if haveSuggestion {
			content.RepoFullName = suggestion.FullName
			content.RepoURL = suggestion.HTMLURL
			content.DaysSincePush = suggestion.DaysSincePush
		}

		errs = errors.Join(errs, s.dispatch(ctx, user, content))
	}
	return errs
}

// fetchContributions tries the contribution calendar, then the events-based
// approximation. Both failing is reported so the caller can fall back to the
// cached streak.
func (s *Scheduler) fetchContributions(ctx context.Context, client GitHubClient, user store.User) ([]streak.ContributionDay, error) {
	days, err := client.ContributionCalendar(ctx, user.Login)
	if err == nil {
		s.metrics.GitHubFetchTotal.WithLabelValues("calendar", "success").Inc()
		return days, nil
	}
	s.metrics.GitHubFetchTotal.WithLabelValues("calendar", "failure").Inc()
	s.logger.Warn("contribution calendar unavailable, trying events fallback",
		zap.String("user", user.ID),
		zap.Error(err),
	)

	days, fallbackErr := client.EventsFallback(ctx, user.Login)
	if fallbackErr == nil {
		s.metrics.GitHubFetchTotal.WithLabelValues("events", "success").Inc()
		return days, nil
	}
	s.metrics.GitHubFetchTotal.WithLabelValues("events", "failure").Inc()
	return nil, errors.Join(err, fallbackErr)
}

// reconcileStreak computes fresh streaks when data is available and falls
// back to the cached state when it is not. The persisted longest streak is a
// ratchet in both directions of the merge.
func (s *Scheduler) reconcileStreak(
	ctx context.Context,
	user store.User,
	loc *time.Location,
	now time.Time,
	days []streak.ContributionDay,
	fetchErr error,
) streak.State {
	cached, hasCached, err := s.store.GetStreak(ctx, user.ID)
	if err != nil {
		s.logger.Warn("cached streak unavailable", zap.String("user", user.ID), zap.Error(err))
	}

	if fetchErr != nil {
		s.logger.Warn("streak reconciliation using cached values",
			zap.String("user", user.ID),
			zap.Error(fetchErr),
		)
		if hasCached {
			return cached
		}
		return streak.State{}
	}

	state := streak.Ratchet(streak.Compute(days, loc, now), cached.Longest)
	if err := s.store.PutStreak(ctx, user.ID, state); err != nil {
		s.logger.Warn("persisting streak failed", zap.String("user", user.ID), zap.Error(err))
	}
	s.metrics.StreakCurrent.WithLabelValues(user.ID).Set(float64(state.Current))
	return state
}

// computeSuggestion picks a neglected repo for the reminder body. Any
// failure degrades to "no suggestion" rather than blocking the reminder.
func (s *Scheduler) computeSuggestion(ctx context.Context, client GitHubClient, user store.User, now time.Time) (suggest.Suggestion, bool) {
	repos, err := client.ListRepos(ctx)
	if err != nil {
		s.logger.Warn("listing repos for suggestion failed", zap.String("user", user.ID), zap.Error(err))
		return suggest.Suggestion{}, false
	}
	excluded, err := s.store.ListExclusions(ctx, user.ID)
	if err != nil {
		s.logger.Warn("reading exclusions failed", zap.String("user", user.ID), zap.Error(err))
	}
	notes, err := s.store.GetNotes(ctx, user.ID)
	if err != nil {
		s.logger.Warn("reading notes failed", zap.String("user", user.ID), zap.Error(err))
	}
	return s.scorer.Suggest(now, repos, excluded, notes)
}

// dispatch sends the reminder over every enabled channel. Channel failures
// are independent; a dead push subscription is purged rather than surfaced.
func (s *Scheduler) dispatch(ctx context.Context, user store.User, content notify.Content) error {
	var errs error

	if s.email != nil && user.Prefs.EmailEnabled && user.Email != "" {
		if err := s.email.SendReminder(ctx, user.Email, content); err != nil {
			s.metrics.NotificationsSent.WithLabelValues("email", "failure").Inc()
			s.logger.Warn("email reminder failed", zap.String("user", user.ID), zap.Error(err))
			errs = errors.Join(errs, err)
		} else {
			s.metrics.NotificationsSent.WithLabelValues("email", "success").Inc()
		}
	}

	if s.push != nil && user.Prefs.PushEnabled {
		sub, ok, err := s.store.GetPushSubscription(ctx, user.ID)
		if err != nil {
			s.logger.Warn("reading push subscription failed", zap.String("user", user.ID), zap.Error(err))
			errs = errors.Join(errs, err)
		} else if ok {
			switch err := s.push.SendReminder(ctx, sub, content); {
			case errors.Is(err, notify.ErrSubscriptionGone):
				s.metrics.NotificationsSent.WithLabelValues("push", "gone").Inc()
				s.metrics.SubscriptionPurges.Inc()
				if purgeErr := s.store.DeletePushSubscription(ctx, user.ID); purgeErr != nil {
					s.logger.Warn("purging stale push subscription failed",
						zap.String("user", user.ID),
						zap.Error(purgeErr),
					)
				} else {
					s.logger.Info("purged stale push subscription", zap.String("user", user.ID))
				}
			case err != nil:
				s.metrics.NotificationsSent.WithLabelValues("push", "failure").Inc()
				s.logger.Warn("push reminder failed", zap.String("user", user.ID), zap.Error(err))
				errs = errors.Join(errs, err)
			default:
				s.metrics.NotificationsSent.WithLabelValues("push", "success").Inc()
			}
		}
	}

	return errs
}
