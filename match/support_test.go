package match

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/debatehub/matchflow/config"
)

// testConfig returns a config with the default knobs, bypassing the
// environment.
func testConfig() *config.Config {
	return &config.Config{
		InvitationTimeout:        30 * time.Minute,
		SameDayInvitationTimeout: 10 * time.Minute,
		CaseReadTime:             10 * time.Minute,
		LinkFollowTime:           5 * time.Minute,
		MatchDuration:            30 * time.Minute,
		AnalyzeLead:              5 * time.Minute,
		GracePeriod:              10 * time.Minute,
		PresencePollInterval:     time.Millisecond,
		PresencePreStart:         2 * time.Minute,
		SweepInterval:            10 * time.Minute,
		SweepMinAge:              2 * time.Hour,
		RoomCount:                2,
		SlotStarts:               []string{"15:00", "16:00"},
		SlotDuration:             30 * time.Minute,
	}
}

// fakeStore is an in-memory Store with the same conditional-update semantics
// as the SQL implementation. GetSlot returns copies so callers see the
// persisted state, not shared pointers.
type fakeStore struct {
	mu sync.Mutex

	rooms      []Room
	nextRoomID int64

	slots      map[int64]*Slot
	nextSlotID int64

	eligible []Participant

	declines      map[int64]int
	eliminated    map[int64]bool
	wins          map[int64]int
	matchesPlayed map[int64]int
	chars         map[int64]int
	flagged       map[int64]string

	cases       []Case
	caseUses    map[int64][]int64 // participant -> case ids
	personalize map[int64]string  // slot -> saved case text

	results map[int64]Result
	touched []string

	// error injection
	pickCaseErr error
	assignErr   map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		slots:         make(map[int64]*Slot),
		declines:      make(map[int64]int),
		eliminated:    make(map[int64]bool),
		wins:          make(map[int64]int),
		matchesPlayed: make(map[int64]int),
		chars:         make(map[int64]int),
		flagged:       make(map[int64]string),
		caseUses:      make(map[int64][]int64),
		personalize:   make(map[int64]string),
		results:       make(map[int64]Result),
		assignErr:     make(map[int64]error),
		cases: []Case{
			{ID: 1, Title: "Case A", Content: "Resolved: A.", Roles: "pro/contra", Active: true},
		},
	}
}

// addSlot seeds a slot and returns its id.
func (f *fakeStore) addSlot(s Slot) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSlotID++
	s.ID = f.nextSlotID
	cp := s
	f.slots[s.ID] = &cp
	return s.ID
}

func (f *fakeStore) mustSlot(id int64) *Slot {
	s, ok := f.slots[id]
	if !ok {
		panic(fmt.Sprintf("fakeStore: unknown slot %d", id))
	}
	return s
}

func copySlot(s *Slot) *Slot {
	cp := *s
	if s.P1 != nil {
		p := *s.P1
		cp.P1 = &p
	}
	if s.P2 != nil {
		p := *s.P2
		cp.P2 = &p
	}
	return &cp
}

func (f *fakeStore) ActiveRooms(context.Context) ([]Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Room, len(f.rooms))
	copy(out, f.rooms)
	return out, nil
}

func (f *fakeStore) CreateRoom(_ context.Context, providerID, joinURL string) (Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRoomID++
	r := Room{ID: f.nextRoomID, ProviderID: providerID, JoinURL: joinURL, Active: true}
	f.rooms = append(f.rooms, r)
	return r, nil
}

func (f *fakeStore) ReplaceRoomProvider(_ context.Context, roomID int64, providerID, joinURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rooms {
		if f.rooms[i].ID == roomID {
			f.rooms[i].ProviderID = providerID
			f.rooms[i].JoinURL = joinURL
		}
	}
	for _, s := range f.slots {
		if s.Room.ID == roomID {
			s.Room.ProviderID = providerID
			s.Room.JoinURL = joinURL
		}
	}
	return nil
}

func (f *fakeStore) CreateSlot(_ context.Context, roomID int64, start, end time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSlotID++
	var room Room
	for _, r := range f.rooms {
		if r.ID == roomID {
			room = r
		}
	}
	f.slots[f.nextSlotID] = &Slot{ID: f.nextSlotID, Room: room, StartTime: start, EndTime: end, Status: StatusScheduled}
	return f.nextSlotID, nil
}

func (f *fakeStore) RoomHasSlotsOn(_ context.Context, roomID int64, day time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	y, m, d := day.UTC().Date()
	for _, s := range f.slots {
		sy, sm, sd := s.StartTime.UTC().Date()
		if s.Room.ID == roomID && sy == y && sm == m && sd == d {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) FreeSlots(_ context.Context, day, notBefore time.Time) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	y, m, d := day.UTC().Date()
	var out []Slot
	for _, s := range f.slots {
		sy, sm, sd := s.StartTime.UTC().Date()
		if sy != y || sm != m || sd != d || s.Assigned() {
			continue
		}
		if !notBefore.IsZero() && s.StartTime.Before(notBefore) {
			continue
		}
		out = append(out, *copySlot(s))
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].StartTime.Before(out[i].StartTime) ||
				(out[j].StartTime.Equal(out[i].StartTime) && out[j].ID < out[i].ID) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetSlot(_ context.Context, slotID int64) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slotID]
	if !ok {
		return nil, nil
	}
	return copySlot(s), nil
}

func (f *fakeStore) AssignParticipants(_ context.Context, slotID, p1ID, p2ID int64, elimination bool, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.assignErr[slotID]; err != nil {
		return err
	}
	s := f.mustSlot(slotID)
	s.P1 = &Participant{ID: p1ID, DisplayName: fmt.Sprintf("player-%d", p1ID)}
	s.P2 = &Participant{ID: p2ID, DisplayName: fmt.Sprintf("player-%d", p2ID)}
	s.Elimination = elimination
	s.ConfirmDeadline = deadline
	s.Status = StatusScheduled
	return nil
}

func (f *fakeStore) SetAccepted(_ context.Context, slotID, participantID int64) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.mustSlot(slotID)
	switch s.Seat(participantID) {
	case 1:
		s.Accepted1 = true
	case 2:
		s.Accepted2 = true
	default:
		return nil, ErrNotParticipant
	}
	return copySlot(s), nil
}

func (f *fakeStore) TransitionStatus(_ context.Context, slotID int64, from, to Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.mustSlot(slotID)
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (f *fakeStore) ListOpenSlots(context.Context) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Slot
	for _, s := range f.slots {
		if !s.Status.Terminal() {
			out = append(out, *copySlot(s))
		}
	}
	return out, nil
}

func (f *fakeStore) ListPendingPastSlots(_ context.Context, before time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*Slot
	for _, s := range f.slots {
		if s.Status == StatusConfirmed && !s.TranscriptProcessed && s.EndTime.Before(before) {
			pending = append(pending, s)
		}
	}
	// Match the real store's ORDER BY end_time so sweep order is stable.
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].EndTime.Equal(pending[j].EndTime) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].EndTime.Before(pending[j].EndTime)
	})
	out := make([]int64, len(pending))
	for i, s := range pending {
		out[i] = s.ID
	}
	return out, nil
}

func (f *fakeStore) EligibleParticipants(_ context.Context, day time.Time) ([]Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	y, m, d := day.UTC().Date()
	var out []Participant
	for _, p := range f.eligible {
		if f.eliminated[p.ID] {
			continue
		}
		busy := false
		for _, s := range f.slots {
			sy, sm, sd := s.StartTime.UTC().Date()
			if sy == y && sm == m && sd == d && s.Seat(p.ID) != 0 {
				busy = true
				break
			}
		}
		if !busy {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordDecline(_ context.Context, participantID int64, eliminate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declines[participantID]++
	if eliminate {
		f.eliminated[participantID] = true
	}
	return nil
}

func (f *fakeStore) RecordWin(_ context.Context, winnerID, loserID int64, eliminateLoser bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wins[winnerID]++
	if eliminateLoser {
		f.eliminated[loserID] = true
	}
	return nil
}

func (f *fakeStore) AddMatchPlayed(_ context.Context, ids ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.matchesPlayed[id]++
	}
	return nil
}

func (f *fakeStore) AddTranscriptChars(_ context.Context, participantID int64, chars int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chars[participantID] += chars
	return nil
}

func (f *fakeStore) FlagForReview(_ context.Context, slotID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged[slotID] = reason
	return nil
}

func (f *fakeStore) PickCase(_ context.Context, p1ID, p2ID int64) (Case, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pickCaseErr != nil {
		return Case{}, false, f.pickCaseErr
	}
	seen := make(map[int64]bool)
	for _, id := range f.caseUses[p1ID] {
		seen[id] = true
	}
	for _, id := range f.caseUses[p2ID] {
		seen[id] = true
	}
	for _, c := range f.cases {
		if c.Active && !seen[c.ID] {
			return c, false, nil
		}
	}
	for _, c := range f.cases {
		if c.Active {
			return c, true, nil
		}
	}
	return Case{}, false, fmt.Errorf("no active cases")
}

func (f *fakeStore) RecordCaseUse(_ context.Context, caseID, _ int64, participantIDs ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range participantIDs {
		f.caseUses[id] = append(f.caseUses[id], caseID)
	}
	return nil
}

func (f *fakeStore) SavePersonalizedCase(_ context.Context, slotID, caseID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.mustSlot(slotID)
	s.CaseID = caseID
	s.PersonalizedCase = text
	f.personalize[slotID] = text
	return nil
}

func (f *fakeStore) SaveTranscript(_ context.Context, slotID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mustSlot(slotID).Transcript = text
	return nil
}

func (f *fakeStore) MarkTranscriptProcessed(_ context.Context, slotID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.mustSlot(slotID)
	if s.TranscriptProcessed {
		return false, nil
	}
	s.TranscriptProcessed = true
	return true, nil
}

func (f *fakeStore) CreateResult(_ context.Context, slotID, winnerID int64, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[slotID] = Result{SlotID: slotID, WinnerID: winnerID, Summary: summary}
	return nil
}

func (f *fakeStore) TouchJob(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, name)
	return nil
}

// fakeProvider implements RoomProvider via overridable function fields.
type fakeProvider struct {
	mu       sync.Mutex
	created  int
	titles   []string
	disabled []string

	createRoom      func(title string) (string, string, error)
	fetchTranscript func(providerID string) (string, error)
	participants    func(providerID string) ([]string, error)
}

func (p *fakeProvider) CreateRoom(_ context.Context, title string) (string, string, error) {
	p.mu.Lock()
	p.created++
	n := p.created
	p.titles = append(p.titles, title)
	p.mu.Unlock()
	if p.createRoom != nil {
		return p.createRoom(title)
	}
	return fmt.Sprintf("prov-%d", n), fmt.Sprintf("https://rooms.example/prov-%d", n), nil
}

func (p *fakeProvider) DisableRoom(_ context.Context, providerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = append(p.disabled, providerID)
	return nil
}

func (p *fakeProvider) FetchTranscript(_ context.Context, providerID string) (string, error) {
	if p.fetchTranscript != nil {
		return p.fetchTranscript(providerID)
	}
	return "", ErrTranscriptNotReady
}

func (p *fakeProvider) Participants(_ context.Context, providerID string) ([]string, error) {
	if p.participants != nil {
		return p.participants(providerID)
	}
	return nil, nil
}

// fakeJudge implements Judge via overridable function fields.
type fakeJudge struct {
	analyze     func(transcript, caseContent, p1, p2 string) (Verdict, error)
	personalize func(caseContent, roles, p1, p2 string) (string, error)
}

func (j *fakeJudge) AnalyzeWinner(_ context.Context, transcript, caseContent, p1, p2 string) (Verdict, error) {
	if j.analyze != nil {
		return j.analyze(transcript, caseContent, p1, p2)
	}
	return Verdict{}, nil
}

func (j *fakeJudge) PersonalizeCase(_ context.Context, caseContent, roles, p1, p2 string) (string, error) {
	if j.personalize != nil {
		return j.personalize(caseContent, roles, p1, p2)
	}
	return caseContent, nil
}

// fakeTimers records armed callbacks for manual firing.
type fakeTimers struct {
	mu    sync.Mutex
	armed map[string]armedEntry
}

type armedEntry struct {
	at time.Time
	fn func()
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{armed: make(map[string]armedEntry)}
}

func timerKey(slotID int64, kind string) string {
	return fmt.Sprintf("%d/%s", slotID, kind)
}

func (t *fakeTimers) Arm(slotID int64, kind string, at time.Time, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed[timerKey(slotID, kind)] = armedEntry{at: at, fn: fn}
}

func (t *fakeTimers) Cancel(slotID int64, kind string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.armed[timerKey(slotID, kind)]
	delete(t.armed, timerKey(slotID, kind))
	return ok
}

func (t *fakeTimers) CancelAll(slotID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := fmt.Sprintf("%d/", slotID)
	for k := range t.armed {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(t.armed, k)
		}
	}
}

// has reports whether a timer is armed, and its scheduled time.
func (t *fakeTimers) has(slotID int64, kind string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.armed[timerKey(slotID, kind)]
	return e.at, ok
}

// fire invokes an armed callback synchronously. The entry stays armed, as in
// the real registry until the callback claims it; tests that need removal
// cancel explicitly.
func (t *fakeTimers) fire(slotID int64, kind string) bool {
	t.mu.Lock()
	e, ok := t.armed[timerKey(slotID, kind)]
	delete(t.armed, timerKey(slotID, kind))
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.fn()
	return true
}
