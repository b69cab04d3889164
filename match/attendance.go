package match

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/debatehub/matchflow/config"
	"github.com/debatehub/matchflow/notify"
	"github.com/debatehub/matchflow/telemetry"
)

// Guard is the per-slot attendance watchdog. From shortly before the slot
// start until a grace period after it, it polls the room provider's presence
// snapshot. Both participants observed: the watch ends and the slot stays
// confirmed for the finalizer. Grace expiry with someone never observed: the
// slot is canceled through the status guard, absentees are charged a decline
// (and eliminated in elimination mode) and the present participant is told
// the match did not happen.
//
// Matching is by normalized display name against the provider snapshot; this
// is best-effort, not exact.
type Guard struct {
	ctx      context.Context
	store    Store
	provider RoomProvider
	sink     notify.Sink
	timers   Timers

	poll     time.Duration
	grace    time.Duration
	preStart time.Duration
	now      func() time.Time

	mu       sync.Mutex
	watching map[int64]struct{}
}

// NewGuard wires an attendance guard. ctx is the process root context.
func NewGuard(ctx context.Context, store Store, provider RoomProvider, sink notify.Sink, timers Timers, cfg *config.Config) *Guard {
	return &Guard{
		ctx:      ctx,
		store:    store,
		provider: provider,
		sink:     sink,
		timers:   timers,
		poll:     cfg.PresencePollInterval,
		grace:    cfg.GracePeriod,
		preStart: cfg.PresencePreStart,
		now:      time.Now,
		watching: make(map[int64]struct{}),
	}
}

// Watch starts a watcher goroutine for the slot. Duplicate starts for the
// same slot (e.g. restart recovery re-arming) are no-ops while a watcher is
// live.
func (g *Guard) Watch(slotID int64) {
	g.mu.Lock()
	if _, ok := g.watching[slotID]; ok {
		g.mu.Unlock()
		return
	}
	g.watching[slotID] = struct{}{}
	g.mu.Unlock()

	go g.watch(slotID)
}

func (g *Guard) watch(slotID int64) {
	defer func() {
		g.mu.Lock()
		delete(g.watching, slotID)
		g.mu.Unlock()
	}()

	ctx := g.ctx
	logger := slog.Default().With(slog.Int64("slot_id", slotID), slog.String("component", "attendance"))

	slot, err := g.store.GetSlot(ctx, slotID)
	if err != nil || slot == nil {
		logger.Warn("watch aborted: slot load failed", slog.Any("err", err))
		return
	}
	if !slot.Assigned() || slot.Room.ProviderID == "" {
		logger.Warn("watch aborted: slot missing participants or room")
		return
	}

	// Sleep until shortly before start.
	if wait := slot.StartTime.Add(-g.preStart).Sub(g.now()); wait > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}

	deadline := slot.StartTime.Add(g.grace)
	seen1, seen2 := false, false
	want1 := NormalizeName(slot.P1.DisplayName)
	want2 := NormalizeName(slot.P2.DisplayName)

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		// Bail out if a competing path already resolved the slot.
		if cur, err := g.store.GetSlot(ctx, slotID); err == nil && cur != nil && cur.Status != StatusConfirmed {
			logger.Debug("watch ended: slot left confirmed state", slog.String("status", string(cur.Status)))
			return
		}

		names, err := g.provider.Participants(ctx, slot.Room.ProviderID)
		if err != nil {
			logger.Debug("presence snapshot failed", slog.Any("err", err))
		} else {
			present := make(map[string]bool, len(names))
			for _, n := range names {
				present[NormalizeName(n)] = true
			}
			// Sticky: a participant observed once counts as present even if
			// they later drop; "never observed" is what triggers a no-show.
			seen1 = seen1 || present[want1]
			seen2 = seen2 || present[want2]
		}

		if seen1 && seen2 {
			logger.Info("both participants observed present")
			return
		}
		if g.now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	var absent []*Participant
	if !seen1 {
		absent = append(absent, slot.P1)
	}
	if !seen2 {
		absent = append(absent, slot.P2)
	}
	if len(absent) == 0 {
		return
	}
	g.handleNoShow(ctx, slot, absent, seen1, seen2, logger)
}

func (g *Guard) handleNoShow(ctx context.Context, slot *Slot, absent []*Participant, seen1, seen2 bool, logger *slog.Logger) {
	ok, err := g.store.TransitionStatus(ctx, slot.ID, StatusConfirmed, StatusCanceled)
	if err != nil {
		logger.Warn("no-show cancellation failed", slog.Any("err", err))
		return
	}
	if !ok {
		telemetry.Inc(telemetry.TransitionConflicts)
		logger.Info("no-show cancel skipped; slot already handled")
		return
	}
	g.timers.CancelAll(slot.ID)
	telemetry.Inc(telemetry.NoShows)
	telemetry.Inc(telemetry.SlotsCanceled)

	when := slot.StartTime.Format("02.01.2006 15:04")
	for _, p := range absent {
		if err := g.store.RecordDecline(ctx, p.ID, slot.Elimination); err != nil {
			logger.Warn("decline accounting failed", slog.Int64("participant_id", p.ID), slog.Any("err", err))
		}
		text := "You did not join your match at " + when + "."
		if slot.Elimination {
			text += " You are out of the tournament."
		}
		g.send(ctx, p, notify.KindNoShow, text)
	}

	var present *Participant
	if seen1 {
		present = slot.P1
	} else if seen2 {
		present = slot.P2
	}
	if present != nil {
		g.send(ctx, present, notify.KindNoShow,
			"Your opponent never joined the room. The match at "+when+" is canceled.")
	}
	logger.Info("slot canceled for no-show", slog.Int("absent", len(absent)))
}

func (g *Guard) send(ctx context.Context, p *Participant, kind notify.Kind, text string) {
	if p == nil {
		return
	}
	if err := g.sink.Notify(ctx, recipient(p), kind, text); err != nil {
		slog.Warn("notification failed", slog.Int64("participant_id", p.ID), slog.String("kind", string(kind)), slog.Any("err", err))
	}
}
