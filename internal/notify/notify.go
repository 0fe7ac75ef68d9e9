// Package notify delivers reminder notifications over email and web push.
// The two channels fail independently; a push subscription rejected as gone
// is reported with ErrSubscriptionGone so callers can purge it.
package notify

import (
	"errors"
	"fmt"
)

// ErrSubscriptionGone signals that a push endpoint rejected the subscription
// as expired or unregistered and the stored record should be purged.
var ErrSubscriptionGone = errors.New("push subscription gone")

// Content is the rendered reminder shared by both channels.
type Content struct {
	Period        string // morning, afternoon, evening
	CurrentStreak int
	RepoFullName  string // empty when no suggestion was available
	RepoURL       string
	DaysSincePush int
}

// Subject renders the email subject line.
func (c Content) Subject() string {
	if c.CurrentStreak > 0 {
		return fmt.Sprintf("Keep your %d-day commit streak alive", c.CurrentStreak)
	}
	return "Time to start a new commit streak"
}

// Body renders the plain-text message shared by email and push.
func (c Content) Body() string {
	greeting := map[string]string{
		"morning":   "Good morning!",
		"afternoon": "Good afternoon!",
		"evening":   "Good evening!",
	}[c.Period]
	if greeting == "" {
		greeting = "Hello!"
	}

	body := greeting + " You haven't committed yet today."
	if c.CurrentStreak > 0 {
		body = fmt.Sprintf("%s Your %d-day streak is on the line.", body, c.CurrentStreak)
	}
	if c.RepoFullName != "" {
		body = fmt.Sprintf("%s How about %s? It has been quiet for %d days.",
			body, c.RepoFullName, c.DaysSincePush)
	}
	return body
}
