// Package suggest ranks neglected repositories and picks one to nudge the
// user toward.
package suggest

import (
	"math/rand/v2"
	"time"
)

// Component weights. They sum to 1 so scores stay in [0, 100].
const (
	weightDaysSincePush = 0.30
	weightOpenIssues    = 0.20
	weightPriority      = 0.25
	weightDifficulty    = 0.15
	weightRandom        = 0.10

	// Saturation points for the objective signals.
	maxNeglectDays = 365
	maxOpenIssues  = 50

	defaultPriority   = 3
	defaultDifficulty = 3
)

// RepoCandidate is a repository eligible for suggestion.
type RepoCandidate struct {
	FullName   string    `json:"full_name"`
	HTMLURL    string    `json:"html_url,omitempty"`
	PushedAt   time.Time `json:"pushed_at"`
	OpenIssues int       `json:"open_issues_count"`
}

// Note carries the user-assigned priority and difficulty for one repository.
// Both range 1-5; zero means unset and falls back to the default of 3.
type Note struct {
	Priority   int    `json:"priority"`
	Difficulty int    `json:"difficulty"`
	Text       string `json:"text,omitempty"`
}

// Suggestion is the winning repository plus the display fields callers show.
type Suggestion struct {
	RepoCandidate
	DaysSincePush int     `json:"days_since_push"`
	Score         float64 `json:"score"`
}

// Scorer scores candidate repositories.
type Scorer struct {
	// Rand supplies the uniform [0,1) tie-break component. Injected so
	// tests can pin the draw.
	Rand func() float64
}

// NewScorer creates a scorer with the default randomness source.
func NewScorer() *Scorer {
	return &Scorer{Rand: rand.Float64}
}

// Suggest returns the highest-scoring eligible repository. The second return
// is false when no repository is eligible, which is a legitimate empty
// result rather than an error.
func (s *Scorer) Suggest(
	now time.Time,
	repos []RepoCandidate,
	excluded []string,
	notes map[string]Note,
) (Suggestion, bool) {
	exclusions := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		exclusions[name] = struct{}{}
	}

	randFn := s.Rand
	if randFn == nil {
		randFn = rand.Float64
	}

	var best Suggestion
	found := false
	for _, repo := range repos {
		if _, skip := exclusions[repo.FullName]; skip {
			continue
		}

		days := daysSincePush(now, repo.PushedAt)
		score := scoreRepo(repo, days, notes[repo.FullName], randFn())
		if !found || score > best.Score {
			best = Suggestion{
				RepoCandidate: repo,
				DaysSincePush: days,
				Score:         score,
			}
			found = true
		}
	}
	return best, found
}

func scoreRepo(repo RepoCandidate, daysSincePush int, note Note, draw float64) float64 {
	dayScore := capRatio(float64(daysSincePush), maxNeglectDays) * 100 * weightDaysSincePush
	issueScore := capRatio(float64(repo.OpenIssues), maxOpenIssues) * 100 * weightOpenIssues

	priority := note.Priority
	if priority < 1 || priority > 5 {
		priority = defaultPriority
	}
	difficulty := note.Difficulty
	if difficulty < 1 || difficulty > 5 {
		difficulty = defaultDifficulty
	}

	priorityScore := float64(priority) / 5 * 100 * weightPriority
	// Easier repos score higher: a difficulty of 1 contributes the full
	// component, 5 contributes the minimum.
	difficultyScore := float64(6-difficulty) / 5 * 100 * weightDifficulty
	randomScore := draw * 100 * weightRandom

	return dayScore + issueScore + priorityScore + difficultyScore + randomScore
}

func daysSincePush(now, pushedAt time.Time) int {
	if pushedAt.IsZero() || pushedAt.After(now) {
		return 0
	}
	return int(now.Sub(pushedAt) / (24 * time.Hour))
}

func capRatio(value, max float64) float64 {
	ratio := value / max
	if ratio > 1 {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	return ratio
}
