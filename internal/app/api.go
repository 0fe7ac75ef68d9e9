package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/commitstreak/streakd/internal/remind"
	"github.com/commitstreak/streakd/internal/store"
	"github.com/commitstreak/streakd/internal/streak"
	"github.com/commitstreak/streakd/internal/suggest"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// API serves the user-facing JSON endpoints: user registration, streak
// status, repository suggestions, reminders, exclusions, notes, and push
// subscriptions.
type API struct {
	store   runtimeStore
	clients remind.ClientFactory
	scorer  *suggest.Scorer
	logger  *zap.Logger

	// Now is injected for deterministic tests.
	Now func() time.Time
}

// NewAPI creates the JSON API.
func NewAPI(st runtimeStore, clients remind.ClientFactory, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		store:   st,
		clients: clients,
		scorer:  suggest.NewScorer(),
		logger:  logger,
		Now:     time.Now,
	}
}

// Handler returns the API router, intended to be mounted under a version
// prefix.
func (a *API) Handler() http.Handler {
	router := chi.NewRouter()
	router.Route("/users/{userID}", func(r chi.Router) {
		r.Put("/", a.putUser)
		r.Get("/", a.getUser)
		r.Delete("/", a.deleteUser)
		r.Get("/status", a.getStatus)
		r.Get("/suggestion", a.getSuggestion)
		r.Get("/reminders", a.listReminders)
		r.Put("/reminders/{reminderID}", a.putReminder)
		r.Delete("/reminders/{reminderID}", a.deleteReminder)
		r.Get("/exclusions", a.listExclusions)
		r.Put("/exclusions/{owner}/{repo}", a.putExclusion)
		r.Delete("/exclusions/{owner}/{repo}", a.deleteExclusion)
		r.Get("/notes", a.listNotes)
		r.Put("/notes/{owner}/{repo}", a.putNote)
		r.Delete("/notes/{owner}/{repo}", a.deleteNote)
		r.Put("/push-subscription", a.putPushSubscription)
		r.Delete("/push-subscription", a.deletePushSubscription)
	})
	return router
}

type statusResponse struct {
	User           store.User   `json:"user"`
	Streak         streak.State `json:"streak"`
	CommittedToday bool         `json:"committed_today"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) putUser(w http.ResponseWriter, r *http.Request) {
	var user store.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode user: %v", err))
		return
	}
	user.ID = chi.URLParam(r, "userID")

	if user.Login == "" {
		a.writeError(w, http.StatusBadRequest, "login is required")
		return
	}
	if user.Token == "" {
		a.writeError(w, http.StatusBadRequest, "github token is required")
		return
	}
	if user.Timezone == "" {
		user.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(user.Timezone); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("timezone %q is not a valid IANA zone", user.Timezone))
		return
	}

	if err := a.store.PutUser(r.Context(), user); err != nil {
		a.serverError(w, "store user", err)
		return
	}
	a.writeJSON(w, http.StatusOK, redactUser(user))
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	user, ok, err := a.loadUser(w, r)
	if err != nil || !ok {
		return
	}
	a.writeJSON(w, http.StatusOK, redactUser(user))
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		a.serverError(w, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getStatus reports the cached streak standing. Committed-today is derived
// from the last reconciled commit date in the user's timezone, so the answer
// can lag GitHub by up to one scheduler tick.
func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	user, ok, err := a.loadUser(w, r)
	if err != nil || !ok {
		return
	}

	state, _, err := a.store.GetStreak(r.Context(), user.ID)
	if err != nil {
		a.serverError(w, "load streak", err)
		return
	}

	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		loc = time.UTC
	}
	today := a.Now().In(loc).Format(streak.DayFormat)

	a.writeJSON(w, http.StatusOK, statusResponse{
		User:           redactUser(user),
		Streak:         state,
		CommittedToday: state.LastCommitDate == today,
	})
}

func (a *API) getSuggestion(w http.ResponseWriter, r *http.Request) {
	user, ok, err := a.loadUser(w, r)
	if err != nil || !ok {
		return
	}

	client, err := a.clients(user.Token)
	if err != nil {
		a.serverError(w, "build github client", err)
		return
	}
	repos, err := client.ListRepos(r.Context())
	if err != nil {
		a.writeError(w, http.StatusBadGateway, fmt.Sprintf("list repositories: %v", err))
		return
	}

	excluded, err := a.store.ListExclusions(r.Context(), user.ID)
	if err != nil {
		a.serverError(w, "list exclusions", err)
		return
	}
	notes, err := a.store.GetNotes(r.Context(), user.ID)
	if err != nil {
		a.serverError(w, "load notes", err)
		return
	}

	suggestion, found := a.scorer.Suggest(a.Now(), repos, excluded, notes)
	if !found {
		a.writeError(w, http.StatusNotFound, "no eligible repositories")
		return
	}
	a.writeJSON(w, http.StatusOK, suggestion)
}

func (a *API) listReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := a.store.ListReminders(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.serverError(w, "list reminders", err)
		return
	}
	if reminders == nil {
		reminders = []store.Reminder{}
	}
	a.writeJSON(w, http.StatusOK, reminders)
}

func (a *API) putReminder(w http.ResponseWriter, r *http.Request) {
	var reminder store.Reminder
	if err := json.NewDecoder(r.Body).Decode(&reminder); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode reminder: %v", err))
		return
	}
	reminder.ID = chi.URLParam(r, "reminderID")

	if err := remind.ValidateReminder(reminder); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.PutReminder(r.Context(), chi.URLParam(r, "userID"), reminder); err != nil {
		a.serverError(w, "store reminder", err)
		return
	}
	a.writeJSON(w, http.StatusOK, reminder)
}

func (a *API) deleteReminder(w http.ResponseWriter, r *http.Request) {
	err := a.store.DeleteReminder(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "reminderID"))
	if err != nil {
		a.serverError(w, "delete reminder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listExclusions(w http.ResponseWriter, r *http.Request) {
	excluded, err := a.store.ListExclusions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.serverError(w, "list exclusions", err)
		return
	}
	if excluded == nil {
		excluded = []string{}
	}
	a.writeJSON(w, http.StatusOK, excluded)
}

func (a *API) putExclusion(w http.ResponseWriter, r *http.Request) {
	err := a.store.AddExclusion(r.Context(), chi.URLParam(r, "userID"), repoFullName(r))
	if err != nil {
		a.serverError(w, "add exclusion", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteExclusion(w http.ResponseWriter, r *http.Request) {
	err := a.store.RemoveExclusion(r.Context(), chi.URLParam(r, "userID"), repoFullName(r))
	if err != nil {
		a.serverError(w, "remove exclusion", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := a.store.GetNotes(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.serverError(w, "load notes", err)
		return
	}
	if notes == nil {
		notes = map[string]suggest.Note{}
	}
	a.writeJSON(w, http.StatusOK, notes)
}

func (a *API) putNote(w http.ResponseWriter, r *http.Request) {
	var note suggest.Note
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode note: %v", err))
		return
	}
	if err := validateNote(note); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.PutNote(r.Context(), chi.URLParam(r, "userID"), repoFullName(r), note); err != nil {
		a.serverError(w, "store note", err)
		return
	}
	a.writeJSON(w, http.StatusOK, note)
}

func (a *API) deleteNote(w http.ResponseWriter, r *http.Request) {
	err := a.store.DeleteNote(r.Context(), chi.URLParam(r, "userID"), repoFullName(r))
	if err != nil {
		a.serverError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) putPushSubscription(w http.ResponseWriter, r *http.Request) {
	var sub store.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode subscription: %v", err))
		return
	}
	if sub.Endpoint == "" {
		a.writeError(w, http.StatusBadRequest, "subscription endpoint is required")
		return
	}
	if err := a.store.PutPushSubscription(r.Context(), chi.URLParam(r, "userID"), sub); err != nil {
		a.serverError(w, "store subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deletePushSubscription(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeletePushSubscription(r.Context(), chi.URLParam(r, "userID")); err != nil {
		a.serverError(w, "delete subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadUser fetches the user from the path and writes the error response
// itself; callers bail out when ok is false or err is non-nil.
func (a *API) loadUser(w http.ResponseWriter, r *http.Request) (store.User, bool, error) {
	userID := chi.URLParam(r, "userID")
	user, ok, err := a.store.GetUser(r.Context(), userID)
	if err != nil {
		a.serverError(w, "load user", err)
		return store.User{}, false, err
	}
	if !ok {
		a.writeError(w, http.StatusNotFound, fmt.Sprintf("user %q not found", userID))
		return store.User{}, false, nil
	}
	return user, true, nil
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to encode api response", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, errorResponse{Error: message})
}

func (a *API) serverError(w http.ResponseWriter, operation string, err error) {
	a.logger.Error("api request failed", zap.String("operation", operation), zap.Error(err))
	a.writeError(w, http.StatusInternalServerError, operation+" failed")
}

func redactUser(user store.User) store.User {
	user.Token = ""
	return user
}

func repoFullName(r *http.Request) string {
	return chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
}

func validateNote(note suggest.Note) error {
	if note.Priority < 0 || note.Priority > 5 {
		return errors.New("priority must be between 1 and 5, or 0 for unset")
	}
	if note.Difficulty < 0 || note.Difficulty > 5 {
		return errors.New("difficulty must be between 1 and 5, or 0 for unset")
	}
	return nil
}
