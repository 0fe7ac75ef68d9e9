// Package githubapi wraps the GitHub REST and GraphQL APIs behind the small
// surface the habit tracker needs: the authenticated user's repositories,
// their contribution calendar, and a degraded events-based approximation of
// the calendar for when the GraphQL endpoint is unavailable.
package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v75/github"
	"github.com/shurcooL/githubv4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"github.com/commitstreak/streakd/internal/streak"
	"github.com/commitstreak/streakd/internal/suggest"
	"github.com/commitstreak/streakd/internal/telemetry"
)

const (
	// calendarWindow is how far back the contribution calendar query reaches.
	calendarWindow = 365 * 24 * time.Hour

	defaultRequestTimeout = 10 * time.Second
)

// Config configures per-user GitHub clients.
type Config struct {
	// APIBaseURL overrides the REST endpoint, mainly for tests and GHES.
	APIBaseURL string
	// RequestTimeout bounds every outbound call so one slow request cannot
	// stall an entire scheduler tick.
	RequestTimeout time.Duration
	// Now is injected for deterministic tests.
	Now func() time.Time
}

type graphQLQuerier interface {
	Query(ctx context.Context, q any, variables map[string]any) error
}

type restAPI interface {
	ListReposByAuthenticatedUser(
		ctx context.Context,
		opts *github.RepositoryListByAuthenticatedUserOptions,
	) ([]*github.Repository, *github.Response, error)
	ListEventsPerformedByUser(
		ctx context.Context,
		login string,
		opts *github.ListOptions,
	) ([]*github.Event, *github.Response, error)
}

type goGithubAPI struct {
	client *github.Client
}

func (a *goGithubAPI) ListReposByAuthenticatedUser(
	ctx context.Context,
	opts *github.RepositoryListByAuthenticatedUserOptions,
) ([]*github.Repository, *github.Response, error) {
	return a.client.Repositories.ListByAuthenticatedUser(ctx, opts)
}

func (a *goGithubAPI) ListEventsPerformedByUser(
	ctx context.Context,
	login string,
	opts *github.ListOptions,
) ([]*github.Event, *github.Response, error) {
	return a.client.Activity.ListEventsPerformedByUser(ctx, login, false, opts)
}

// UserClient talks to GitHub on behalf of one authenticated user.
type UserClient struct {
	rest    restAPI
	graphql graphQLQuerier
	timeout time.Duration
	now     func() time.Time
}

// NewUserClient creates a client for one user's OAuth token. The underlying
// transport waits out GitHub secondary rate limits instead of failing.
func NewUserClient(token string, cfg Config) (*UserClient, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil)
	if err != nil {
		return nil, fmt.Errorf("create rate limit waiter: %w", err)
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		},
	}

	restClient := github.NewClient(httpClient)
	if cfg.APIBaseURL != "" {
		restClient, err = restClient.WithEnterpriseURLs(cfg.APIBaseURL, cfg.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("configure api base url: %w", err)
		}
	}

	return newUserClient(&goGithubAPI{client: restClient}, githubv4.NewClient(httpClient), cfg), nil
}

func newUserClient(rest restAPI, graphql graphQLQuerier, cfg Config) *UserClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &UserClient{
		rest:    rest,
		graphql: graphql,
		timeout: timeout,
		now:     nowFn,
	}
}

// ListRepos returns the authenticated user's repositories as suggestion
// candidates, most recently pushed first. Archived repositories are skipped
// since they are not actionable.
func (c *UserClient) ListRepos(ctx context.Context) ([]suggest.RepoCandidate, error) {
	ctx, finish := c.startSpan(ctx, "githubapi.list_repos")

	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "pushed",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var candidates []suggest.RepoCandidate
	for {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		repos, resp, err := c.rest.ListReposByAuthenticatedUser(callCtx, opts)
		cancel()
		if err != nil {
			finish(fmt.Errorf("list repositories: %w", err))
			return nil, fmt.Errorf("list repositories: %w", err)
		}
		for _, repo := range repos {
			if repo.GetArchived() {
				continue
			}
			candidates = append(candidates, suggest.RepoCandidate{
				FullName:   repo.GetFullName(),
				HTMLURL:    repo.GetHTMLURL(),
				PushedAt:   repo.GetPushedAt().Time,
				OpenIssues: repo.GetOpenIssuesCount(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	finish(nil)
	return candidates, nil
}

type contributionCalendarQuery struct {
	User struct {
		ContributionsCollection struct {
			ContributionCalendar struct {
				Weeks []struct {
					ContributionDays []struct {
						Date              githubv4.String
						ContributionCount githubv4.Int
					}
				}
			}
		} `graphql:"contributionsCollection(from: $from, to: $to)"`
	} `graphql:"user(login: $login)"`
}

// ContributionCalendar fetches the user's contribution calendar for the past
// year through the GraphQL API, one entry per day in chronological order.
func (c *UserClient) ContributionCalendar(ctx context.Context, login string) ([]streak.ContributionDay, error) {
	ctx, finish := c.startSpan(ctx, "githubapi.contribution_calendar")

	to := c.now()
	variables := map[string]any{
		"login": githubv4.String(login),
		"from":  githubv4.DateTime{Time: to.Add(-calendarWindow)},
		"to":    githubv4.DateTime{Time: to},
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var query contributionCalendarQuery
	if err := c.graphql.Query(callCtx, &query, variables); err != nil {
		finish(fmt.Errorf("contribution calendar query: %w", err))
		return nil, fmt.Errorf("contribution calendar query: %w", err)
	}

	var days []streak.ContributionDay
	for _, week := range query.User.ContributionsCollection.ContributionCalendar.Weeks {
		for _, day := range week.ContributionDays {
			days = append(days, streak.ContributionDay{
				Date:  string(day.Date),
				Count: int(day.ContributionCount),
			})
		}
	}

	finish(nil)
	return days, nil
}

// EventsFallback approximates recent contribution days from the user's
// public push events. The events feed only reaches back about 90 days, so
// this is a degraded substitute used when the calendar query fails; it is
// enough to answer "did they commit today" and keep a short streak alive.
func (c *UserClient) EventsFallback(ctx context.Context, login string) ([]streak.ContributionDay, error) {
	ctx, finish := c.startSpan(ctx, "githubapi.events_fallback")

	countsByDay := make(map[string]int)
	opts := &github.ListOptions{PerPage: 100}
	for {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		events, resp, err := c.rest.ListEventsPerformedByUser(callCtx, login, opts)
		cancel()
		if err != nil {
			finish(fmt.Errorf("list user events: %w", err))
			return nil, fmt.Errorf("list user events: %w", err)
		}
		for _, event := range events {
			if event.GetType() != "PushEvent" {
				continue
			}
			day := event.GetCreatedAt().Time.UTC().Format(streak.DayFormat)
			commits := 1
			if payload, err := event.ParsePayload(); err == nil {
				if push, ok := payload.(*github.PushEvent); ok && len(push.Commits) > 0 {
					commits = len(push.Commits)
				}
			}
			countsByDay[day] += commits
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	days := make([]streak.ContributionDay, 0, len(countsByDay))
	for day, count := range countsByDay {
		days = append(days, streak.ContributionDay{Date: day, Count: count})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	finish(nil)
	return days, nil
}

// startSpan emits a dependency span when detailed tracing is on. The
// returned finish func records the terminal status.
func (c *UserClient) startSpan(ctx context.Context, operation string) (context.Context, func(error)) {
	if !telemetry.ShouldTraceDependencies() {
		return ctx, func(error) {}
	}
	ctx, span := otel.Tracer("streakd/internal/githubapi").Start(ctx, operation)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "completed")
		}
		span.SetAttributes(attribute.String("github.operation", operation))
		span.End()
	}
}
