package checkin

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alecgard/teambeat/internal/deliverylog"
	"github.com/alecgard/teambeat/internal/mail"
	"github.com/alecgard/teambeat/internal/schedule"
	"github.com/alecgard/teambeat/internal/team"
	"github.com/alecgard/teambeat/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// memStore is an in-memory stand-in for both the cycle store and the team
// store, with the same compare-and-set semantics.
type memStore struct {
	mu      sync.Mutex
	seq     int
	teams   map[string]*team.Team
	members map[string]*team.Member
	cycles  []*team.Cycle
	subs    map[string]*team.Submission
	subSeq  []string
}

func newMemStore() *memStore {
	return &memStore{
		teams:   map[string]*team.Team{},
		members: map[string]*team.Member{},
		subs:    map[string]*team.Submission{},
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *memStore) addTeam(t *team.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.teams[t.ID] = &cp
}

func (s *memStore) addMember(m *team.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.members[m.ID] = &cp
}

func (s *memStore) team(id string) *team.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.teams[id]
	return &cp
}

func (s *memStore) GetByID(_ context.Context, id string) (*team.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, team.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) GetMember(_ context.Context, teamID, memberID string) (*team.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || m.TeamID != teamID {
		return nil, team.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) ListMembers(_ context.Context, teamID string, activeOnly bool) ([]*team.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*team.Member
	for _, m := range s.members {
		if m.TeamID == teamID && (!activeOnly || m.Active) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) OpenCycle(_ context.Context, p OpenParams) (*Opened, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[p.TeamID]
	if !ok || !t.NextSend.Equal(p.DueSend) || t.NextReport != nil {
		return nil, ErrAlreadyClaimed
	}
	closes := p.ClosesAt
	t.NextSend = p.NextSend
	t.NextReport = &closes

	c := &team.Cycle{ID: s.nextID("cycle"), TeamID: t.ID, CreatedAt: p.OpenedAt, ClosesAt: p.ClosesAt}
	s.cycles = append(s.cycles, c)

	opened := &Opened{Cycle: *c}
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := s.members[id]
		if m.TeamID != t.ID || !m.Reporting() {
			continue
		}
		sub := &team.Submission{ID: s.nextID("sub"), CycleID: c.ID, MemberID: m.ID, Active: true, CreatedAt: p.OpenedAt}
		s.subs[sub.ID] = sub
		s.subSeq = append(s.subSeq, sub.ID)
		opened.Invitations = append(opened.Invitations, Invitation{SubmissionID: sub.ID, Member: *m})
	}
	return opened, nil
}

func (s *memStore) LatestCycle(_ context.Context, teamID string) (*team.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.cycles) - 1; i >= 0; i-- {
		if s.cycles[i].TeamID == teamID {
			cp := *s.cycles[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CloseCycle(_ context.Context, teamID string, dueAt time.Time, cycleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok || t.NextReport == nil || !t.NextReport.Equal(dueAt) {
		return ErrAlreadyClaimed
	}
	t.NextReport = nil
	for _, sub := range s.subs {
		if sub.CycleID == cycleID {
			sub.Active = false
		}
	}
	return nil
}

func (s *memStore) ListEntries(_ context.Context, cycleID string) ([]team.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []team.Entry
	for _, id := range s.subSeq {
		sub := s.subs[id]
		if sub.CycleID != cycleID {
			continue
		}
		out = append(out, team.Entry{Submission: *sub, Member: *s.members[sub.MemberID]})
	}
	return out, nil
}

func (s *memStore) record(sub *team.Submission) (*Record, error) {
	for _, c := range s.cycles {
		if c.ID == sub.CycleID {
			return &Record{Submission: *sub, Member: *s.members[sub.MemberID], Cycle: *c}, nil
		}
	}
	return nil, errors.New("orphan submission")
}

func (s *memStore) GetSubmission(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.record(sub)
}

func (s *memStore) GetSubmissionForUser(_ context.Context, userID, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || s.members[sub.MemberID].UserID != userID {
		return nil, ErrNotFound
	}
	return s.record(sub)
}

func (s *memStore) SaveAnswers(_ context.Context, id string, answers team.Answers) (*team.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || !sub.Active {
		return nil, ErrNotFound
	}
	if sub.Answers == nil {
		sub.Answers = team.Answers{}
	}
	for k, v := range answers {
		sub.Answers[k] = v
	}
	cp := *sub
	cp.Answers = team.Answers{}
	for k, v := range sub.Answers {
		cp.Answers[k] = v
	}
	return &cp, nil
}

func (s *memStore) GetCycle(_ context.Context, id string) (*team.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cycles {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, team.ErrNotFound
}

func (s *memStore) ListCycles(_ context.Context, teamID string, limit int, cursor string) ([]*team.Cycle, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*team.Cycle
	for i := len(s.cycles) - 1; i >= 0; i-- {
		if s.cycles[i].TeamID == teamID {
			cp := *s.cycles[i]
			all = append(all, &cp)
		}
	}
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	} else {
		end = len(all)
	}
	return all[start:end], next, nil
}

func (s *memStore) OpenForUser(_ context.Context, userID string, now time.Time) ([]OpenItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OpenItem
	for _, id := range s.subSeq {
		sub := s.subs[id]
		m := s.members[sub.MemberID]
		if m.UserID != userID || !m.Active || !sub.Active {
			continue
		}
		t := s.teams[m.TeamID]
		if t.NextReport == nil || !t.NextReport.After(now) {
			continue
		}
		out = append(out, OpenItem{
			TeamID: t.ID, TeamName: t.Name, CycleID: sub.CycleID, SubmissionID: sub.ID,
			MemberID: m.ID, ClosesAt: *t.NextReport, Answered: sub.Answered(),
		})
	}
	return out, nil
}

func (s *memStore) submissions() []*team.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*team.Submission, 0, len(s.subSeq))
	for _, id := range s.subSeq {
		cp := *s.subs[id]
		out = append(out, &cp)
	}
	return out
}

// outbox captures sent mail. Sends to addresses in fail return an error.
type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
	fail map[string]bool
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail[msg.To] {
		return errors.New("connection refused")
	}
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) to(addr string) []mail.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []mail.Message
	for _, m := range o.sent {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}

func (o *outbox) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = nil
}

type deliveryLog struct {
	mu  sync.Mutex
	all []deliverylog.Delivery
}

func (l *deliveryLog) Record(d deliverylog.Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, d)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// fixture wires a Manager, Handler and History over one memStore.
type fixture struct {
	store      *memStore
	mail       *outbox
	deliveries *deliveryLog
	clock      *clock
	codec      *token.Codec[token.SubmissionClaims]
	manager    *Manager
	handler    *Handler
	history    *History
	entitled   bool
}

func newFixture(now time.Time) *fixture {
	f := &fixture{
		store:      newMemStore(),
		mail:       &outbox{fail: map[string]bool{}},
		deliveries: &deliveryLog{},
		clock:      &clock{t: now},
		entitled:   true,
	}
	codec, err := token.NewSubmissionCodec([]byte(testSecret))
	if err != nil {
		panic(err)
	}
	f.codec = codec.WithClock(f.clock.Now)
	links := Links{BaseURL: "https://beat.example.com/"}
	f.manager = NewManager(ManagerDeps{
		Cycles:  f.store,
		Members: f.store,
		Entitlements: entitlementFunc(func() bool {
			return f.entitled
		}),
		Mailer:     f.mail,
		Codec:      f.codec,
		Links:      links,
		Deliveries: f.deliveries,
		Now:        f.clock.Now,
	})
	f.handler = NewHandler(f.store, f.store, f.codec, nil, nil)
	f.history = NewHistory(f.store, f.store, f.codec, links).WithClock(f.clock.Now)
	return f
}

type entitlementFunc func() bool

func (e entitlementFunc) Entitled(context.Context, string) (bool, error) { return e(), nil }

// mwfTeam sends at 09:00 UTC on Monday, Wednesday and Friday, open four hours.
func mwfTeam(nextSend time.Time) *team.Team {
	return &team.Team{
		ID:        "team-1",
		OrgID:     "org-1",
		Name:      "Platform",
		SendTime:  schedule.ClockTime{Hour: 9},
		Timezone:  "UTC",
		Weekdays:  schedule.NewWeekdaySet(time.Monday, time.Wednesday, time.Friday),
		HoursOpen: 4,
		Questions: team.DefaultQuestions(),
		NextSend:  nextSend,
		Active:    true,
	}
}

func member(id, username string, viewRatings bool) *team.Member {
	return &team.Member{
		ID:           id,
		TeamID:       "team-1",
		UserID:       "user-" + id,
		Username:     username,
		Name:         username,
		Email:        username + "@example.com",
		Active:       true,
		ReportStatus: true,
		ViewRatings:  viewRatings,
	}
}
