// Package report aggregates a cycle's submissions into completion counts,
// rating statistics and the per-recipient report text.
package report

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alecgard/teambeat/internal/team"
)

const (
	wrapWidth = 70
	indent    = "    "
	rule      = 80
)

// RatingStats summarizes rating answers. Min, Max and Avg are nil when no
// submission answered a rating question.
type RatingStats struct {
	Min   *int     `json:"min"`
	Max   *int     `json:"max"`
	Avg   *float64 `json:"avg"`
	Count int      `json:"count"`
}

// Sort orders entries by the member's display handle, then member ID, so
// the order is stable when handles collide.
func Sort(entries []team.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Member, entries[j].Member
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.ID < b.ID
	})
}

// CompletionCount counts submissions with stored answers.
func CompletionCount(entries []team.Entry) int {
	n := 0
	for i := range entries {
		if entries[i].Submission.Answered() {
			n++
		}
	}
	return n
}

// Ratings computes statistics over every rating-question answer in entries.
func Ratings(t *team.Team, entries []team.Entry) RatingStats {
	var stats RatingStats
	total := 0
	for i, q := range t.Questions {
		if q.Kind != team.KindRating {
			continue
		}
		key := team.QuestionKey(i)
		for j := range entries {
			ans, ok := entries[j].Submission.Answers[key]
			if !ok {
				continue
			}
			r, ok := ans.RatingValue()
			if !ok {
				continue
			}
			if stats.Min == nil || r < *stats.Min {
				stats.Min = intPtr(r)
			}
			if stats.Max == nil || r > *stats.Max {
				stats.Max = intPtr(r)
			}
			total += r
			stats.Count++
		}
	}
	if stats.Count > 0 {
		avg := float64(total) / float64(stats.Count)
		stats.Avg = &avg
	}
	return stats
}

func intPtr(n int) *int { return &n }

// Render builds the report body for viewer. Rating answers are included only
// when the viewer may see ratings. Entries are rendered in Sort order.
func Render(t *team.Team, entries []team.Entry, viewer *team.Member) string {
	sorted := make([]team.Entry, len(entries))
	copy(sorted, entries)
	Sort(sorted)

	showRatings := viewer != nil && viewer.ViewRatings

	var b strings.Builder
	for _, e := range sorted {
		b.WriteString(e.Member.DisplayName())
		b.WriteString("\n\n")

		for i, q := range t.Questions {
			ans, ok := e.Submission.Answers[team.QuestionKey(i)]
			if !ok {
				continue
			}
			n := strconv.Itoa(i + 1)
			if q.Kind == team.KindRating {
				if showRatings {
					b.WriteString(n + ". " + q.Prompt + ":  " + ans.String() + "\n\n")
				}
				continue
			}
			b.WriteString(n + ". " + q.Prompt + "\n")
			for _, line := range Wrap(ans.String(), wrapWidth, indent) {
				b.WriteString(line)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}

		b.WriteString("\n")
		b.WriteString(strings.Repeat("-", rule))
		b.WriteString("\n\n")
	}
	return b.String()
}

// Subject is the report email subject: team name and the cycle date in the
// team's zone.
func Subject(t *team.Team, cycle *team.Cycle) string {
	return t.Name + ": Report " + cycle.CreatedAt.In(t.Location()).Format("Mon, Jan 02, 2006")
}

// InviteSubject is the collection request subject for a cycle opened at sendAt.
func InviteSubject(t *team.Team, sendAt time.Time) string {
	return t.Name + " Status " + sendAt.In(t.Location()).Format("Mon, Jan 02, 2006")
}
