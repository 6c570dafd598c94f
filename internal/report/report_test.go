package report

import (
	"strings"
	"testing"
	"time"

	"github.com/alecgard/teambeat/internal/team"
)

func testTeam() *team.Team {
	return &team.Team{
		ID:       "t1",
		Name:     "Platform",
		Timezone: "UTC",
		Questions: []team.Question{
			{Kind: team.KindText, Prompt: "Yesterday"},
			{Kind: team.KindRating, Prompt: "Rate the day"},
		},
	}
}

func entry(memberID, username, name string, answers team.Answers) team.Entry {
	return team.Entry{
		Submission: team.Submission{ID: "s-" + memberID, MemberID: memberID, Answers: answers, Active: true},
		Member:     team.Member{ID: memberID, Username: username, Name: name, Active: true},
	}
}

func TestRenderRespectsViewRatings(t *testing.T) {
	tm := testTeam()
	entries := []team.Entry{
		entry("m1", "ana", "Ana", team.Answers{
			"question0": team.TextAnswer("fixed the build"),
			"question1": team.RatingAnswer(8),
		}),
	}

	withRatings := Render(tm, entries, &team.Member{ViewRatings: true})
	want := "Ana\n\n" +
		"1. Yesterday\n    fixed the build\n\n" +
		"2. Rate the day:  8\n\n" +
		"\n" + strings.Repeat("-", 80) + "\n\n"
	if withRatings != want {
		t.Errorf("unexpected report:\n%q\nwant:\n%q", withRatings, want)
	}

	without := Render(tm, entries, &team.Member{ViewRatings: false})
	if strings.Contains(without, "Rate the day") {
		t.Errorf("rating shown to viewer without view_ratings:\n%s", without)
	}
	if !strings.Contains(without, "fixed the build") {
		t.Errorf("free text missing:\n%s", without)
	}
}

func TestRenderOrdersByHandleThenID(t *testing.T) {
	tm := testTeam()
	entries := []team.Entry{
		entry("m3", "zed", "Zed", nil),
		entry("m2", "bob", "Bob Two", nil),
		entry("m1", "bob", "Bob One", nil),
		entry("m4", "amy", "Amy", nil),
	}

	out := Render(tm, entries, nil)
	order := []string{"Amy", "Bob One", "Bob Two", "Zed"}
	last := -1
	for _, name := range order {
		idx := strings.Index(out, name+"\n")
		if idx <= last {
			t.Fatalf("expected %s after previous entry in:\n%s", name, out)
		}
		last = idx
	}
	if entries[0].Member.ID != "m3" {
		t.Error("Render reordered the caller's slice")
	}
}

func TestRenderWrapsLongText(t *testing.T) {
	tm := testTeam()
	long := strings.Repeat("word ", 40)
	out := Render(tm, []team.Entry{entry("m1", "ana", "Ana", team.Answers{"question0": team.TextAnswer(long)})}, nil)

	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "    ") && len(line) > 70 {
			t.Errorf("line exceeds width: %q", line)
		}
	}
}

func TestCompletionCount(t *testing.T) {
	entries := []team.Entry{
		entry("m1", "a", "", team.Answers{"question0": team.TextAnswer("x")}),
		entry("m2", "b", "", nil),
		entry("m3", "c", "", team.Answers{}),
	}
	if got := CompletionCount(entries); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestRatingsAbsentWithoutAnswers(t *testing.T) {
	tm := testTeam()
	stats := Ratings(tm, []team.Entry{
		entry("m1", "a", "", nil),
		entry("m2", "b", "", team.Answers{"question0": team.TextAnswer("x")}),
	})
	if stats.Min != nil || stats.Max != nil || stats.Avg != nil {
		t.Errorf("expected absent stats, got %+v", stats)
	}
	if stats.Count != 0 {
		t.Errorf("expected count 0, got %d", stats.Count)
	}
}

func TestRatings(t *testing.T) {
	tm := testTeam()
	stats := Ratings(tm, []team.Entry{
		entry("m1", "a", "", team.Answers{"question1": team.RatingAnswer(3)}),
		entry("m2", "b", "", team.Answers{"question1": team.RatingAnswer(9)}),
		entry("m3", "c", "", team.Answers{"question1": team.TextAnswer("6")}),
		entry("m4", "d", "", nil),
	})
	if stats.Min == nil || *stats.Min != 3 {
		t.Errorf("expected min 3, got %v", stats.Min)
	}
	if stats.Max == nil || *stats.Max != 9 {
		t.Errorf("expected max 9, got %v", stats.Max)
	}
	if stats.Avg == nil || *stats.Avg != 6 {
		t.Errorf("expected avg 6, got %v", stats.Avg)
	}
	if stats.Count != 3 {
		t.Errorf("expected count 3, got %d", stats.Count)
	}
}

func TestSubjects(t *testing.T) {
	tm := testTeam()
	tm.Timezone = "Asia/Tokyo"
	cycle := &team.Cycle{CreatedAt: time.Date(2026, 10, 12, 20, 0, 0, 0, time.UTC)}

	if got := Subject(tm, cycle); got != "Platform: Report Tue, Oct 13, 2026" {
		t.Errorf("unexpected subject %q", got)
	}
	if got := InviteSubject(tm, cycle.CreatedAt); got != "Platform Status Tue, Oct 13, 2026" {
		t.Errorf("unexpected invite subject %q", got)
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"empty", "", 10, nil},
		{"fits", "one two", 10, []string{"> one two"}},
		{"breaks on words", "one two three", 10, []string{"> one two", "> three"}},
		{"collapses whitespace", "a \n\t b", 10, []string{"> a b"}},
		{"splits long words", "abcdefghij", 6, []string{"> abcd", "> efgh", "> ij"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap(tt.text, tt.width, "> ")
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Wrap(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
