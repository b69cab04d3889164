package match

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/debatehub/matchflow/config"
	"github.com/debatehub/matchflow/telemetry"
)

// Scheduler assigns eligible participants to free slots on a target date,
// creating rooms and the daily slot grid on demand. Re-running for the same
// date is safe: already-assigned participants and occupied slots are skipped
// and partial progress from a failed pass is kept.
type Scheduler struct {
	store    Store
	provider RoomProvider
	coord    *Coordinator
	cfg      *config.Config
	now      func() time.Time
}

// NewScheduler wires a scheduler.
func NewScheduler(store Store, provider RoomProvider, coord *Coordinator, cfg *config.Config) *Scheduler {
	return &Scheduler{
		store:    store,
		provider: provider,
		coord:    coord,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ScheduleReport summarizes one scheduling pass.
type ScheduleReport struct {
	RoomsCreated int `json:"rooms_created"`
	SlotsCreated int `json:"slots_created"`
	Scheduled    int `json:"scheduled"` // pairs assigned
	Reserve      int `json:"reserve"`   // eligible participants left unpaired
}

// Schedule runs one scheduling pass for the given date.
//
// Participants are taken in fairness order (fewest matches played, then
// fewest declines). In tournament mode the same-day time margin is ignored
// and pairing is restricted to the earliest free round, so a bracket fills
// round by round; otherwise pairs spread across all free slots that still
// leave room for the confirmation handshake.
func (s *Scheduler) Schedule(ctx context.Context, day time.Time, elimination, tournament bool) (ScheduleReport, error) {
	var report ScheduleReport
	logger := slog.Default().With(slog.String("component", "scheduler"), slog.String("date", day.Format("2006-01-02")))

	eligible, err := s.store.EligibleParticipants(ctx, day)
	if err != nil {
		return report, fmt.Errorf("list eligible participants: %w", err)
	}
	if len(eligible) == 0 {
		logger.Info("no eligible participants")
		return report, nil
	}

	notBefore := s.pairingWindow(day, tournament)
	free, err := s.store.FreeSlots(ctx, day, notBefore)
	if err != nil {
		return report, fmt.Errorf("list free slots: %w", err)
	}
	if len(free) == 0 {
		if err := s.ensureRoomsAndSlots(ctx, day, &report, logger); err != nil {
			return report, err
		}
		free, err = s.store.FreeSlots(ctx, day, notBefore)
		if err != nil {
			return report, fmt.Errorf("list free slots: %w", err)
		}
	}
	if len(free) == 0 {
		report.Reserve = len(eligible)
		logger.Warn("no free slots after provisioning", slog.Int("reserve", report.Reserve))
		return report, nil
	}

	round := free
	if tournament {
		// FreeSlots is ordered by start time, so the first entry opens the
		// earliest round.
		first := free[0].StartTime
		round = round[:0:0]
		for _, sl := range free {
			if sl.StartTime.Equal(first) {
				round = append(round, sl)
			}
		}
	}

	deadline := s.confirmDeadline(day)
	for i := 0; i+1 < len(eligible); i += 2 {
		if i/2 >= len(round) {
			break
		}
		p1, p2 := eligible[i], eligible[i+1]
		slot := round[i/2]

		if err := s.store.AssignParticipants(ctx, slot.ID, p1.ID, p2.ID, elimination, deadline); err != nil {
			logger.Warn("slot assignment failed; skipping pair",
				slog.Int64("slot_id", slot.ID), slog.Any("err", err))
			continue
		}
		slot.P1, slot.P2 = &p1, &p2
		slot.Status = StatusScheduled
		slot.Elimination = elimination
		slot.ConfirmDeadline = deadline

		if err := s.coord.RequestConfirmation(ctx, &slot); err != nil {
			logger.Warn("confirmation request failed", slog.Int64("slot_id", slot.ID), slog.Any("err", err))
		}
		telemetry.Inc(telemetry.SlotsScheduled)
		report.Scheduled++
	}
	report.Reserve = len(eligible) - 2*report.Scheduled

	logger.Info("scheduling pass done",
		slog.Int("scheduled", report.Scheduled),
		slog.Int("reserve", report.Reserve),
		slog.Int("rooms_created", report.RoomsCreated),
		slog.Int("slots_created", report.SlotsCreated))
	return report, nil
}

// pairingWindow returns the earliest admissible slot start. Same-day
// scheduling excludes slots starting before the confirmation handshake could
// complete; tournament mode fills the bracket regardless.
func (s *Scheduler) pairingWindow(day time.Time, tournament bool) time.Time {
	if tournament {
		return time.Time{}
	}
	now := s.now()
	if sameDay(now, day) {
		return now.Add(s.cfg.InvitationTimeout)
	}
	return time.Time{}
}

// confirmDeadline picks the response deadline: the shorter same-day timeout
// when the match is today, the full invitation timeout otherwise.
func (s *Scheduler) confirmDeadline(day time.Time) time.Time {
	now := s.now()
	if sameDay(now, day) {
		return now.Add(s.cfg.SameDayInvitationTimeout)
	}
	return now.Add(s.cfg.InvitationTimeout)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// ensureRoomsAndSlots provisions provider rooms up to RoomCount and lays out
// the daily slot grid for every active room that has none on the date.
// Provider failures leave partial progress; the next pass completes it.
func (s *Scheduler) ensureRoomsAndSlots(ctx context.Context, day time.Time, report *ScheduleReport, logger *slog.Logger) error {
	rooms, err := s.store.ActiveRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}

	if need := s.cfg.RoomCount - len(rooms); need > 0 {
		base := len(rooms)
		var mu sync.Mutex
		var created []Room
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < need; i++ {
			num := base + i + 1
			g.Go(func() error {
				providerID, joinURL, err := s.provider.CreateRoom(gctx, fmt.Sprintf("Debate room %d", num))
				if err != nil {
					return fmt.Errorf("provider room %d: %w", num, err)
				}
				room, err := s.store.CreateRoom(gctx, providerID, joinURL)
				if err != nil {
					return fmt.Errorf("save room %d: %w", num, err)
				}
				mu.Lock()
				created = append(created, room)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// Whatever was created stays; the next scheduling pass tops up.
			logger.Warn("room provisioning incomplete", slog.Any("err", err))
		}
		rooms = append(rooms, created...)
		report.RoomsCreated += len(created)
	}

	starts := make([]time.Time, 0, len(s.cfg.SlotStarts))
	y, m, d := day.UTC().Date()
	for _, hm := range s.cfg.SlotStarts {
		t, err := time.Parse("15:04", hm)
		if err != nil {
			return fmt.Errorf("slot start %q: %w", hm, err)
		}
		starts = append(starts, time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, time.UTC))
	}

	for _, room := range rooms {
		has, err := s.store.RoomHasSlotsOn(ctx, room.ID, day)
		if err != nil {
			return fmt.Errorf("check slots for room %d: %w", room.ID, err)
		}
		if has {
			continue
		}
		for _, start := range starts {
			if _, err := s.store.CreateSlot(ctx, room.ID, start, start.Add(s.cfg.SlotDuration)); err != nil {
				return fmt.Errorf("create slot for room %d at %s: %w", room.ID, start, err)
			}
			report.SlotsCreated++
		}
	}
	return nil
}
