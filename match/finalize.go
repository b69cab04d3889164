package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/debatehub/matchflow/config"
	"github.com/debatehub/matchflow/notify"
	"github.com/debatehub/matchflow/telemetry"
)

// Finalizer settles finished slots: it retrieves the transcript, rotates the
// room, asks the analysis service for a winner, applies the length fallback
// and writes the result exactly once. A slot that cannot be settled yet
// (transcript still processing, analysis outage) stays in confirmed with the
// processed flag unset, and the periodic sweep retries it.
type Finalizer struct {
	store    Store
	provider RoomProvider
	judge    Judge
	sink     notify.Sink
	timers   Timers
	cfg      *config.Config
	now      func() time.Time

	strategies []WinnerStrategy
}

// NewFinalizer wires a finalizer with the default winner strategy chain.
func NewFinalizer(store Store, provider RoomProvider, judge Judge, sink notify.Sink, timers Timers, cfg *config.Config) *Finalizer {
	return &Finalizer{
		store:      store,
		provider:   provider,
		judge:      judge,
		sink:       sink,
		timers:     timers,
		cfg:        cfg,
		now:        time.Now,
		strategies: defaultStrategies(),
	}
}

// Finalize settles one slot. It is safe to call concurrently and repeatedly
// for the same slot: the transcript-processed flag is the idempotency gate
// and only the caller that wins it writes results. Retryable conditions
// (ErrTranscriptNotReady, analysis errors) are returned so the sweep keeps
// the slot pending; data inconsistencies flag the slot for review and return
// ErrInconsistentSlot.
func (f *Finalizer) Finalize(ctx context.Context, slotID int64) error {
	start := f.now()
	logger := slog.Default().With(slog.Int64("slot_id", slotID), slog.String("component", "finalize"))

	slot, err := f.store.GetSlot(ctx, slotID)
	if err != nil {
		return fmt.Errorf("load slot %d: %w", slotID, err)
	}
	if slot == nil {
		return ErrSlotNotFound
	}
	if slot.Status != StatusConfirmed || slot.TranscriptProcessed {
		logger.Debug("finalize skipped; slot not pending", slog.String("status", string(slot.Status)))
		return nil
	}
	if !slot.Assigned() {
		if err := f.store.FlagForReview(ctx, slotID, "participant missing at finalize"); err != nil {
			logger.Warn("review flag write failed", slog.Any("err", err))
		}
		return fmt.Errorf("slot %d: %w", slotID, ErrInconsistentSlot)
	}

	transcript := slot.Transcript
	if transcript == "" {
		transcript, err = f.provider.FetchTranscript(ctx, slot.Room.ProviderID)
		if err != nil {
			if errors.Is(err, ErrTranscriptNotReady) {
				logger.Debug("transcript not ready yet")
				return fmt.Errorf("slot %d: %w", slotID, err)
			}
			return fmt.Errorf("fetch transcript for slot %d: %w", slotID, err)
		}
		// The provider delivered its artifact; retire the room so the next
		// match never lands in one whose transcript is still in flight.
		f.rotateRoom(ctx, slot, logger)
		if err := f.store.SaveTranscript(ctx, slotID, transcript); err != nil {
			logger.Warn("transcript save failed", slog.Any("err", err))
		}
	}

	spoke1 := SpokeInTranscript(transcript, slot.P1.DisplayName)
	spoke2 := SpokeInTranscript(transcript, slot.P2.DisplayName)
	if !spoke1 || !spoke2 {
		return f.cancelSilent(ctx, slot, spoke1, spoke2, logger)
	}

	verdict, err := f.judge.AnalyzeWinner(ctx, transcript, slot.PersonalizedCase, slot.P1.DisplayName, slot.P2.DisplayName)
	if err != nil {
		return fmt.Errorf("analyze slot %d: %w", slotID, err)
	}

	l1 := ContributionLength(transcript, slot.P1.DisplayName)
	l2 := ContributionLength(transcript, slot.P2.DisplayName)
	seat := DecideWinner(f.strategies, verdict, l1, l2)

	ok, err := f.store.MarkTranscriptProcessed(ctx, slotID)
	if err != nil {
		return fmt.Errorf("mark processed for slot %d: %w", slotID, err)
	}
	if !ok {
		logger.Info("finalize lost the processed gate; another path settled the slot")
		return nil
	}

	if err := f.store.AddTranscriptChars(ctx, slot.P1.ID, l1); err != nil {
		logger.Warn("transcript stats write failed", slog.Int64("participant_id", slot.P1.ID), slog.Any("err", err))
	}
	if err := f.store.AddTranscriptChars(ctx, slot.P2.ID, l2); err != nil {
		logger.Warn("transcript stats write failed", slog.Int64("participant_id", slot.P2.ID), slog.Any("err", err))
	}

	var winner, loser *Participant
	switch seat {
	case 1:
		winner, loser = slot.P1, slot.P2
	case 2:
		winner, loser = slot.P2, slot.P1
	}
	var winnerID int64
	if winner != nil {
		winnerID = winner.ID
		if err := f.store.RecordWin(ctx, winner.ID, loser.ID, slot.Elimination); err != nil {
			logger.Error("win accounting failed", slog.Any("err", err))
		}
	}
	if err := f.store.CreateResult(ctx, slotID, winnerID, verdict.Summary); err != nil {
		logger.Error("result write failed", slog.Any("err", err))
	}

	ok, err = f.store.TransitionStatus(ctx, slotID, StatusConfirmed, StatusCompleted)
	if err != nil {
		logger.Error("completion transition failed", slog.Any("err", err))
	} else if !ok {
		telemetry.Inc(telemetry.TransitionConflicts)
		logger.Warn("completion transition lost; slot left confirmed state mid-finalize")
	}
	f.timers.CancelAll(slotID)

	f.announce(ctx, slot, winner, loser, verdict.Summary)

	telemetry.Inc(telemetry.SlotsCompleted)
	telemetry.Observe(telemetry.FinalizeDuration, f.now().Sub(start))
	logger.Info("slot finalized",
		slog.Int64("winner_id", winnerID),
		slog.Int("chars_p1", l1),
		slog.Int("chars_p2", l2))
	return nil
}

// rotateRoom retires the provider room that produced this transcript and
// backs the room row with a fresh one. Failures leave the old room in place;
// the slot still finalizes.
func (f *Finalizer) rotateRoom(ctx context.Context, slot *Slot, logger *slog.Logger) {
	if err := f.provider.DisableRoom(ctx, slot.Room.ProviderID); err != nil {
		logger.Warn("room disable failed", slog.String("provider_room", slot.Room.ProviderID), slog.Any("err", err))
	}
	title := fmt.Sprintf("Debate room %d", slot.Room.ID)
	providerID, joinURL, err := f.provider.CreateRoom(ctx, title)
	if err != nil {
		logger.Warn("replacement room creation failed", slog.Any("err", err))
		return
	}
	if err := f.store.ReplaceRoomProvider(ctx, slot.Room.ID, providerID, joinURL); err != nil {
		logger.Warn("room rotation save failed", slog.Any("err", err))
	}
}

// cancelSilent handles the post-hoc connection check: a participant who never
// appears as a speaker in the transcript is treated as absent, mirroring the
// live no-show path.
func (f *Finalizer) cancelSilent(ctx context.Context, slot *Slot, spoke1, spoke2 bool, logger *slog.Logger) error {
	ok, err := f.store.TransitionStatus(ctx, slot.ID, StatusConfirmed, StatusCanceled)
	if err != nil {
		return fmt.Errorf("cancel silent slot %d: %w", slot.ID, err)
	}
	if !ok {
		telemetry.Inc(telemetry.TransitionConflicts)
		return nil
	}
	f.timers.CancelAll(slot.ID)
	telemetry.Inc(telemetry.NoShows)
	telemetry.Inc(telemetry.SlotsCanceled)

	when := slot.StartTime.Format("02.01.2006 15:04")
	silent := make(map[int64]bool, 2)
	if !spoke1 {
		silent[slot.P1.ID] = true
	}
	if !spoke2 {
		silent[slot.P2.ID] = true
	}
	for _, p := range []*Participant{slot.P1, slot.P2} {
		if !silent[p.ID] {
			continue
		}
		if err := f.store.RecordDecline(ctx, p.ID, slot.Elimination); err != nil {
			logger.Warn("decline accounting failed", slog.Int64("participant_id", p.ID), slog.Any("err", err))
		}
		text := "You never connected to your match at " + when + "; it was canceled."
		if slot.Elimination {
			text += " You are out of the tournament."
		}
		f.send(ctx, p, notify.KindNoShow, text)
	}
	for _, p := range []*Participant{slot.P1, slot.P2} {
		if silent[p.ID] {
			continue
		}
		f.send(ctx, p, notify.KindNoShow,
			"Your opponent never connected to the match at "+when+". The match was canceled.")
	}
	logger.Info("slot canceled: participant absent from transcript",
		slog.Bool("spoke_p1", spoke1), slog.Bool("spoke_p2", spoke2))
	return nil
}

// announce sends the post-match summary to both players.
func (f *Finalizer) announce(ctx context.Context, slot *Slot, winner, loser *Participant, summary string) {
	if winner == nil {
		text := "Your match ended without a decisive winner."
		if summary != "" {
			text += "\n\n" + summary
		}
		f.send(ctx, slot.P1, notify.KindMatchSummary, text)
		f.send(ctx, slot.P2, notify.KindMatchSummary, text)
		return
	}
	winText := "You won your match against " + loser.DisplayName + "!"
	loseText := "You lost your match against " + winner.DisplayName + "."
	if slot.Elimination {
		loseText += " You are out of the tournament."
	}
	if summary != "" {
		winText += "\n\n" + summary
		loseText += "\n\n" + summary
	}
	f.send(ctx, winner, notify.KindMatchSummary, winText)
	f.send(ctx, loser, notify.KindMatchSummary, loseText)
}

func (f *Finalizer) send(ctx context.Context, p *Participant, kind notify.Kind, text string) {
	if p == nil {
		return
	}
	if err := f.sink.Notify(ctx, recipient(p), kind, text); err != nil {
		slog.Warn("notification failed", slog.Int64("participant_id", p.ID), slog.String("kind", string(kind)), slog.Any("err", err))
	}
}

// StartSweepJob launches the pending-result sweep loop: every SweepInterval
// it re-attempts every confirmed, unprocessed slot that ended at least
// SweepMinAge ago. One failing slot never blocks the rest of the batch.
func (f *Finalizer) StartSweepJob(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(f.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			f.sweepOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (f *Finalizer) sweepOnce(ctx context.Context) {
	logger := slog.Default().With(slog.String("component", "sweep"))
	if err := f.store.TouchJob(ctx, "result_sweep"); err != nil {
		logger.Warn("job heartbeat failed", slog.Any("err", err))
	}

	cutoff := f.now().Add(-f.cfg.SweepMinAge)
	ids, err := f.store.ListPendingPastSlots(ctx, cutoff)
	if err != nil {
		logger.Error("pending slot listing failed", slog.Any("err", err))
		return
	}
	telemetry.SetPendingSlots(len(ids))
	telemetry.Inc(telemetry.SweepCycles)
	if len(ids) == 0 {
		return
	}
	logger.Info("sweeping pending slots", slog.Int("count", len(ids)))

	settled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := f.Finalize(ctx, id); err != nil {
			if errors.Is(err, ErrTranscriptNotReady) {
				logger.Debug("slot still waiting on transcript", slog.Int64("slot_id", id))
			} else {
				logger.Warn("sweep finalize failed", slog.Int64("slot_id", id), slog.Any("err", err))
			}
			continue
		}
		settled++
	}
	logger.Info("sweep cycle done", slog.Int("settled", settled), slog.Int("pending", len(ids)-settled))
}
