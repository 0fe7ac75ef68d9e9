package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/commitstreak/streakd/internal/config"
	"github.com/commitstreak/streakd/internal/githubapi"
	"github.com/commitstreak/streakd/internal/health"
	"github.com/commitstreak/streakd/internal/metrics"
	"github.com/commitstreak/streakd/internal/notify"
	"github.com/commitstreak/streakd/internal/remind"
	"github.com/commitstreak/streakd/internal/store"
	"github.com/commitstreak/streakd/internal/streak"
	"github.com/commitstreak/streakd/internal/suggest"
	"go.uber.org/zap"
)

const (
	gcInterval             = time.Hour
	githubFailureThreshold = 3
	storePingTimeout       = 2 * time.Second
)

type runtimeStore interface {
	Ping(ctx context.Context) error
	PutUser(ctx context.Context, user store.User) error
	GetUser(ctx context.Context, userID string) (store.User, bool, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	DeleteUser(ctx context.Context, userID string) error
	GetStreak(ctx context.Context, userID string) (streak.State, bool, error)
	PutStreak(ctx context.Context, userID string, state streak.State) error
	ListReminders(ctx context.Context, userID string) ([]store.Reminder, error)
	PutReminder(ctx context.Context, userID string, reminder store.Reminder) error
	DeleteReminder(ctx context.Context, userID, reminderID string) error
	ListExclusions(ctx context.Context, userID string) ([]string, error)
	AddExclusion(ctx context.Context, userID, fullName string) error
	RemoveExclusion(ctx context.Context, userID, fullName string) error
	GetNotes(ctx context.Context, userID string) (map[string]suggest.Note, error)
	PutNote(ctx context.Context, userID, fullName string, note suggest.Note) error
	DeleteNote(ctx context.Context, userID, fullName string) error
	GetPushSubscription(ctx context.Context, userID string) (store.PushSubscription, bool, error)
	PutPushSubscription(ctx context.Context, userID string, sub store.PushSubscription) error
	DeletePushSubscription(ctx context.Context, userID string) error
	AcquireDedupLock(ctx context.Context, key string, ttl time.Duration, now time.Time) (bool, error)
}

// garbageCollector is the optional expiry sweep the in-memory store needs;
// the Redis backend expires keys on its own.
type garbageCollector interface {
	GC(now time.Time)
}

// Runtime is the application orchestrator. It owns the store backend, the
// reminder scheduler, the notification channels, and the health state the
// HTTP endpoints report.
type Runtime struct {
	cfg        *config.Config
	store      runtimeStore
	storeClose func() error
	scheduler  *remind.Scheduler
	metrics    *metrics.Metrics
	evaluator  *health.StatusEvaluator
	clients    remind.ClientFactory
	logger     *zap.Logger

	mu                  sync.RWMutex
	schedulerHealthy    bool
	notifierHealthy     bool
	githubHealthy       bool
	githubFailureStreak int

	cancel context.CancelFunc

	// Now is injected for deterministic tests.
	Now func() time.Time
}

// NewRuntime creates a runtime instance. A nil client factory uses the real
// GitHub API; tests inject fakes.
func NewRuntime(cfg *config.Config, clients remind.ClientFactory, logger ...*zap.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}

	storeBackend, closeStore := newRuntimeBackends(cfg, baseLogger)

	var email remind.EmailSender
	if cfg.Email.Enabled {
		sender, err := notify.NewEmailSender(notify.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		})
		if err != nil {
			return nil, fmt.Errorf("init email channel: %w", err)
		}
		email = sender
	}
	var push remind.PushSender
	if cfg.Push.Enabled {
		sender, err := notify.NewPushSender(notify.PushConfig{
			VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
			Subscriber:      cfg.Push.Subscriber,
			TTL:             cfg.Push.TTLSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("init push channel: %w", err)
		}
		push = sender
	}

	r := &Runtime{
		cfg:             cfg,
		store:           storeBackend,
		storeClose:      closeStore,
		metrics:         metrics.New(),
		evaluator:       health.NewStatusEvaluator(),
		logger:          baseLogger,
		notifierHealthy: email != nil || push != nil,
		githubHealthy:   true,
		Now:             time.Now,
	}

	if clients == nil {
		clients = func(token string) (remind.GitHubClient, error) {
			return githubapi.NewUserClient(token, githubapi.Config{
				APIBaseURL:     cfg.GitHub.APIBaseURL,
				RequestTimeout: cfg.GitHub.RequestTimeout,
			})
		}
	}
	r.clients = r.trackClients(clients)

	r.scheduler = remind.NewScheduler(remind.SchedulerConfig{
		TickInterval:  cfg.Scheduler.TickInterval,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
	}, storeBackend, r.clients, email, push, r.metrics, baseLogger)

	if !r.notifierHealthy {
		baseLogger.Warn("no notification channel is enabled; due reminders will be dropped")
	}

	return r, nil
}

// Store exposes the runtime store.
func (r *Runtime) Store() runtimeStore {
	return r.store
}

// Handler returns the combined HTTP handler.
func (r *Runtime) Handler() http.Handler {
	api := NewAPI(r.store, r.clients, r.logger)
	return NewHTTPHandler(r.metrics.Handler(), health.NewHandler(r), api.Handler())
}

// Start launches the reminder scheduler and the store janitor.
func (r *Runtime) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.schedulerHealthy = true
	r.mu.Unlock()

	go func() {
		r.scheduler.Run(runCtx)
		r.mu.Lock()
		r.schedulerHealthy = false
		r.mu.Unlock()
	}()

	if gc, ok := r.store.(garbageCollector); ok {
		go r.runJanitor(runCtx, gc)
	}

	r.logger.Info("runtime started",
		zap.Duration("tick_interval", r.cfg.Scheduler.TickInterval),
		zap.String("store_backend", r.cfg.Store.Backend),
	)
}

// Stop halts background work and releases the store backend.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.schedulerHealthy = false
	r.mu.Unlock()

	if r.storeClose != nil {
		if err := r.storeClose(); err != nil {
			r.logger.Warn("failed to close store backend", zap.Error(err))
		}
	}
	r.logger.Info("runtime stopped")
}

// CurrentStatus returns current health status. The store is pinged on every
// call so readiness reflects a backend outage as soon as it happens.
func (r *Runtime) CurrentStatus(ctx context.Context) health.Status {
	r.mu.RLock()
	input := health.Input{
		SchedulerHealthy: r.schedulerHealthy,
		NotifierHealthy:  r.notifierHealthy,
		GitHubHealthy:    r.githubHealthy,
	}
	r.mu.RUnlock()

	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := r.store.Ping(pingCtx); err != nil {
		r.logger.Warn("store ping failed", zap.Error(err))
	} else {
		input.StoreHealthy = true
	}
	return r.evaluator.Evaluate(input)
}

// trackClients wraps a client factory so every GitHub call feeds the
// failure-streak health tracking.
func (r *Runtime) trackClients(base remind.ClientFactory) remind.ClientFactory {
	return func(token string) (remind.GitHubClient, error) {
		inner, err := base(token)
		if err != nil {
			return nil, err
		}
		return &healthTrackingClient{inner: inner, observe: r.observeGitHub}, nil
	}
}

// observeGitHub flips GitHub health after a run of consecutive failures and
// restores it on the first success.
func (r *Runtime) observeGitHub(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.githubFailureStreak = 0
		r.githubHealthy = true
		return
	}
	r.githubFailureStreak++
	if r.githubFailureStreak >= githubFailureThreshold {
		r.githubHealthy = false
	}
}

func (r *Runtime) runJanitor(ctx context.Context, gc garbageCollector) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.GC(r.Now())
		}
	}
}

type healthTrackingClient struct {
	inner   remind.GitHubClient
	observe func(success bool)
}

func (c *healthTrackingClient) ListRepos(ctx context.Context) ([]suggest.RepoCandidate, error) {
	repos, err := c.inner.ListRepos(ctx)
	c.observe(err == nil)
	return repos, err
}

func (c *healthTrackingClient) ContributionCalendar(ctx context.Context, login string) ([]streak.ContributionDay, error) {
	days, err := c.inner.ContributionCalendar(ctx, login)
	c.observe(err == nil)
	return days, err
}

func (c *healthTrackingClient) EventsFallback(ctx context.Context, login string) ([]streak.ContributionDay, error) {
	days, err := c.inner.EventsFallback(ctx, login)
	c.observe(err == nil)
	return days, err
}
