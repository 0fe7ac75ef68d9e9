// Package streak derives commit streaks from contribution-day sequences.
package streak

import (
	"sort"
	"time"
)

// DayFormat is the calendar-day layout used for contribution dates.
const DayFormat = "2006-01-02"

// ContributionDay is a single calendar day of commit activity.
type ContributionDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// State is the computed streak standing for a user.
type State struct {
	Current        int    `json:"current_streak"`
	Longest        int    `json:"longest_streak"`
	LastCommitDate string `json:"last_commit_date,omitempty"`
}

// Compute derives current and longest streaks from contribution days.
// Days may arrive unordered and with gaps; gaps count as zero days. The
// evaluation moment and the user's timezone decide whether a streak ending
// yesterday is still alive.
func Compute(days []ContributionDay, loc *time.Location, now time.Time) State {
	if loc == nil {
		loc = time.UTC
	}

	counted := countedDays(days, loc)
	if len(counted) == 0 {
		return State{}
	}

	state := State{
		Current: currentStreak(counted, loc, now),
		Longest: longestStreak(counted),
	}
	state.LastCommitDate = counted[len(counted)-1].Format(DayFormat)
	return state
}

// Ratchet applies the persisted longest-streak floor: the stored value never
// decreases even when the freshly computed window no longer contains the run
// that produced it.
func Ratchet(computed State, persistedLongest int) State {
	if persistedLongest > computed.Longest {
		computed.Longest = persistedLongest
	}
	return computed
}

// CommittedToday reports whether the user has at least one contribution on
// the current calendar day in their timezone.
func CommittedToday(days []ContributionDay, loc *time.Location, now time.Time) bool {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc).Format(DayFormat)
	for _, day := range days {
		if day.Date == today && day.Count > 0 {
			return true
		}
	}
	return false
}

// countedDays returns the sorted, deduplicated dates with count > 0.
func countedDays(days []ContributionDay, loc *time.Location) []time.Time {
	seen := make(map[string]struct{}, len(days))
	counted := make([]time.Time, 0, len(days))
	for _, day := range days {
		if day.Count <= 0 {
			continue
		}
		parsed, err := time.ParseInLocation(DayFormat, day.Date, loc)
		if err != nil {
			continue
		}
		key := parsed.Format(DayFormat)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		counted = append(counted, parsed)
	}
	sort.Slice(counted, func(i, j int) bool { return counted[i].Before(counted[j]) })
	return counted
}

func currentStreak(counted []time.Time, loc *time.Location, now time.Time) int {
	today := midnight(now.In(loc))
	yesterday := today.AddDate(0, 0, -1)

	last := counted[len(counted)-1]
	// A run ending yesterday is still alive: today has not ended yet.
	if !last.Equal(today) && !last.Equal(yesterday) {
		return 0
	}

	streak := 1
	for i := len(counted) - 2; i >= 0; i-- {
		if !counted[i].AddDate(0, 0, 1).Equal(counted[i+1]) {
			break
		}
		streak++
	}
	return streak
}

func longestStreak(counted []time.Time) int {
	longest := 0
	run := 0
	for i, day := range counted {
		if i > 0 && counted[i-1].AddDate(0, 0, 1).Equal(day) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
