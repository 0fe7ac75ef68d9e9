package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/commitstreak/streakd/internal/remind"
	"github.com/commitstreak/streakd/internal/store"
	"github.com/commitstreak/streakd/internal/streak"
	"github.com/commitstreak/streakd/internal/suggest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGitHubClient struct {
	repos    []suggest.RepoCandidate
	reposErr error
}

func (f *fakeGitHubClient) ListRepos(_ context.Context) ([]suggest.RepoCandidate, error) {
	return f.repos, f.reposErr
}

func (f *fakeGitHubClient) ContributionCalendar(_ context.Context, _ string) ([]streak.ContributionDay, error) {
	return nil, nil
}

func (f *fakeGitHubClient) EventsFallback(_ context.Context, _ string) ([]streak.ContributionDay, error) {
	return nil, nil
}

func fakeFactory(client remind.GitHubClient) remind.ClientFactory {
	return func(_ string) (remind.GitHubClient, error) {
		return client, nil
	}
}

func newTestAPI(t *testing.T, client remind.GitHubClient) (*API, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	api := NewAPI(st, fakeFactory(client), nil)
	api.Now = func() time.Time {
		return time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	}
	api.scorer = &suggest.Scorer{Rand: func() float64 { return 0.5 }}
	return api, st
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func seedUser(t *testing.T, st *store.MemoryStore, user store.User) {
	t.Helper()
	require.NoError(t, st.PutUser(context.Background(), user))
}

func TestPutAndGetUser(t *testing.T) {
	api, _ := newTestAPI(t, &fakeGitHubClient{})
	handler := api.Handler()

	rec := doRequest(t, handler, http.MethodPut, "/users/u1",
		`{"login":"octocat","email":"octo@example.com","token":"ghp_x","timezone":"America/New_York"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var created store.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "u1", created.ID)
	assert.Equal(t, "octocat", created.Login)
	assert.Empty(t, created.Token, "token must be redacted in responses")

	rec = doRequest(t, handler, http.MethodGet, "/users/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched store.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "America/New_York", fetched.Timezone)
	assert.Empty(t, fetched.Token)
}

func TestPutUserValidation(t *testing.T) {
	api, _ := newTestAPI(t, &fakeGitHubClient{})
	handler := api.Handler()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing login", body: `{"token":"ghp_x"}`},
		{name: "missing token", body: `{"login":"octocat"}`},
		{name: "bad timezone", body: `{"login":"octocat","token":"ghp_x","timezone":"Mars/Olympus"}`},
		{name: "malformed json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, handler, http.MethodPut, "/users/u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDeleteUser(t *testing.T) {
	api, st := newTestAPI(t, &fakeGitHubClient{})
	handler := api.Handler()
	seedUser(t, st, store.User{ID: "u1", Login: "octocat", Token: "ghp_x", Timezone: "UTC"})

	rec := doRequest(t, handler, http.MethodDelete, "/users/u1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/users/u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserStatus(t *testing.T) {
	api, st := newTestAPI(t, &fakeGitHubClient{})
	handler := api.Handler()
	seedUser(t, st, store.User{ID: "u1", Login: "octocat", Token: "ghp_x", Timezone: "UTC"})
	require.NoError(t, st.PutStreak(context.Background(), "u1", streak.State{
		Current:        4,
		Longest:        9,
		LastCommitDate: "2024-01-10",
	}))

	rec := doRequest(t, handler, http.MethodGet, "/users/u1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 4, status.Streak.Current)
	assert.Equal(t, 9, status.Streak.Longest)
	assert.True(t, status.CommittedToday)
	assert.Empty(t, status.User.Token)
}

func TestUserStatusNotCommittedToday(t *testing.T) {
	api, st := newTestAPI(t, &fakeGitHubClient{})
	handler := api.Handler()
	seedUser(t, st, store.User{ID: "u1", Login: "octocat", Token: "ghp_x", Timezone: "UTC"})
	require.NoError(t, st.PutStreak(context.Background(), "u1", streak.State{
		Current:        4,
		LastCommitDate: "2024-01-09",
	}))

	rec := doRequest(t, handler, http.MethodGet, "/users/u1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.CommittedToday)
}

func TestUserStatusUnknownUser(t *testing.T) {
	api, _ := newTestAPI(t, &fakeGitHubClient{})
	rec := doRequest(t, api.Handler(), http.MethodGet, "/users/ghost/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSuggestionEndpoint(t *testing.T) {
	client := &fakeGitHubClient{
		repos: []suggest.RepoCandidate{
			{FullName: "octocat/stale", PushedAt: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC), OpenIssues: 40},
			{FullName: "octocat/fresh", PushedAt: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), OpenIssues: 1},
		},
	}
	api, st := newTestAPI(t, client)
	handler := api.Handler()
	seedUser(t, st, store.User{ID: "u1", Login: "octocat", Token: "ghp_x", Timezone: "UTC"})

	rec := doRequest(t, handler, http.MethodGet, "/users/u1/suggestion", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var suggestion suggest.Suggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suggestion))
	assert.Equal(t, "octocat/stale", suggestion.FullName)
	assert.Greater(t, suggestion.Score, 0.0)

	rec = doRequest(t, handler, http.MethodPut, "/users/u1/exclusions/octocat/stale", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/users/u1/suggestion", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suggestion))
	assert.Equal(t, "octocat/fresh", suggestion.FullName)
}

func TestSuggestionNoEligibleRepos(t *testing.T) {
	api, st := newTestAPI(t, &fakeGitHubClient{})
	seedUser(t, st, store.User{ID: "u1", Login: "octocat", Token: "ghp_x", Timezone: "UTC"})

	rec := doRequest(t, api.Handler(), http.MethodGet, "/users/u1/suggestion", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSuggestionGitHubFailure(t *testing.T) {
	api, st := newTestAPI(t, &fakeGitHubClient{reposErr: errors.New("api down")})
	seedUser(t, st, store.User{ID: "u1", Login: "octocat", Token: "ghp_x", Timezone: "UTC"})

	rec := doRequest(t, api.Handler(), http.MethodGet, "/users/u1/suggestion", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestReminderEndpoints(t *testing.T) {
	api, st := newTestAPI(t, &fakeGitHubClient{})
	handler := api.Handler()
	seedUser(t, st, store.User{ID: "u1", Login: "octocat", Token: "ghp_x", Timezone: "UTC"})

	rec := doRequest(t, handler, http.MethodPut, "/users/u1/reminders/r1",
		`{"time":"09:00","enabled":true,"timezone":"America/New_York"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/users/u1/reminders/r2",
		`{"time":"9am","enabled":true,"timezone":"UTC"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/users/u1/reminders/r3",
		`{"time":"09:00","enabled":true,"timezone":"Nowhere/Nowhere"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/users/u1/reminders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reminders []store.Reminder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reminders))
	require.Len(t, reminders, 1)
	assert.Equal(t, "r1", reminders[0].ID)

	rec = doRequest(t, handler, http.MethodDelete, "/users/u1/reminders/r1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/users/u1/reminders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reminders))
	assert.Empty(t, reminders)
}

func TestNoteEndpoints(t *testing.T) {
	api, st := newTestAPI(t, &fakeGitHubClient{})
	handler := api.Handler()
	seedUser(t, st, store.User{ID: "u1", Login: "octocat", Token: "ghp_x", Timezone: "UTC"})

	rec := doRequest(t, handler, http.MethodPut, "/users/u1/notes/octocat/stale",
		`{"priority":5,"difficulty":2,"text":"fix the flaky CI"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/users/u1/notes/octocat/stale",
		`{"priority":6}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/users/u1/notes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var notes map[string]suggest.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notes))
	require.Contains(t, notes, "octocat/stale")
	assert.Equal(t, 5, notes["octocat/stale"].Priority)

	rec = doRequest(t, handler, http.MethodDelete, "/users/u1/notes/octocat/stale", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/users/u1/notes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var remaining map[string]suggest.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &remaining))
	assert.Empty(t, remaining)
}

func TestPushSubscriptionEndpoints(t *testing.T) {
	api, st := newTestAPI(t, &fakeGitHubClient{})
	handler := api.Handler()
	seedUser(t, st, store.User{ID: "u1", Login: "octocat", Token: "ghp_x", Timezone: "UTC"})

	rec := doRequest(t, handler, http.MethodPut, "/users/u1/push-subscription", `{"keys":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/users/u1/push-subscription",
		`{"endpoint":"https://push.example.com/sub/1","keys":{"p256dh":"pk","auth":"ak"}}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	sub, ok, err := st.GetPushSubscription(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://push.example.com/sub/1", sub.Endpoint)

	rec = doRequest(t, handler, http.MethodDelete, "/users/u1/push-subscription", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, ok, err = st.GetPushSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}
