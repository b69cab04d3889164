package match

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/debatehub/matchflow/config"
	"github.com/debatehub/matchflow/notify"
	"github.com/debatehub/matchflow/telemetry"
)

// Watcher starts attendance monitoring for a confirmed slot.
type Watcher interface {
	Watch(slotID int64)
}

// SlotFinalizer settles a finished slot from its transcript.
type SlotFinalizer interface {
	Finalize(ctx context.Context, slotID int64) error
}

// Coordinator drives the per-slot confirmation handshake and owns the armed
// delayed actions (confirmation deadline, case delivery, link dispatch,
// post-match finalize handoff).
type Coordinator struct {
	ctx    context.Context // root context for timer-driven work
	store  Store
	judge  Judge
	sink   notify.Sink
	timers Timers
	cfg    *config.Config
	now    func() time.Time

	guard     Watcher
	finalizer SlotFinalizer
}

// NewCoordinator wires a coordinator. ctx is the process root context; timer
// callbacks run under it so shutdown stops in-flight slot work.
func NewCoordinator(ctx context.Context, store Store, judge Judge, sink notify.Sink, timers Timers, cfg *config.Config) *Coordinator {
	return &Coordinator{
		ctx:    ctx,
		store:  store,
		judge:  judge,
		sink:   sink,
		timers: timers,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Bind attaches the attendance guard and finalizer. Both are created after
// the coordinator (they need its timer table for cancellation), so wiring is
// a second step.
func (c *Coordinator) Bind(guard Watcher, fin SlotFinalizer) {
	c.guard = guard
	c.finalizer = fin
}

// RequestConfirmation notifies both participants of a freshly assigned slot
// and arms the confirmation deadline timer.
func (c *Coordinator) RequestConfirmation(ctx context.Context, slot *Slot) error {
	if !slot.Assigned() {
		return fmt.Errorf("slot %d: confirmation requested without both participants", slot.ID)
	}
	when := slot.StartTime.Format("02.01.2006 15:04")
	deadline := slot.ConfirmDeadline.Format("15:04")
	c.send(ctx, slot.P1, notify.KindConfirmationRequest,
		fmt.Sprintf("Your match is scheduled for %s against %s. Please accept or decline before %s.", when, slot.P2.DisplayName, deadline))
	c.send(ctx, slot.P2, notify.KindConfirmationRequest,
		fmt.Sprintf("Your match is scheduled for %s against %s. Please accept or decline before %s.", when, slot.P1.DisplayName, deadline))

	slotID := slot.ID
	c.timers.Arm(slotID, TimerConfirmDeadline, slot.ConfirmDeadline, func() {
		c.expireConfirmation(slotID)
	})
	return nil
}

// HandleResponse processes an accept/decline event raised by the chat
// transport. Both acceptances move the slot to confirmed; a single decline
// cancels it immediately.
func (c *Coordinator) HandleResponse(ctx context.Context, slotID, participantID int64, accepted bool) error {
	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil {
		return fmt.Errorf("load slot %d: %w", slotID, err)
	}
	if slot == nil {
		return ErrSlotNotFound
	}
	if slot.Seat(participantID) == 0 {
		return ErrNotParticipant
	}
	if slot.Status != StatusScheduled {
		return ErrStale
	}

	if !accepted {
		telemetry.Inc(telemetry.ConfirmationsDeclined)
		return c.cancel(ctx, slot, []int64{participantID}, "declined the match")
	}

	updated, err := c.store.SetAccepted(ctx, slotID, participantID)
	if err != nil {
		return fmt.Errorf("record acceptance for slot %d: %w", slotID, err)
	}
	telemetry.Inc(telemetry.ConfirmationsAccepted)

	if updated.Accepted1 && updated.Accepted2 {
		return c.onConfirmed(ctx, updated)
	}

	if opp := updated.Opponent(participantID); opp != nil {
		c.send(ctx, opp, notify.KindConfirmationResult, "Your opponent confirmed the match. Waiting for your response.")
	}
	return nil
}

// Cancel handles a manual (user or admin initiated) cancellation after
// scheduling or confirmation. In elimination mode the canceling participant
// is eliminated.
func (c *Coordinator) Cancel(ctx context.Context, slotID, participantID int64) error {
	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil {
		return fmt.Errorf("load slot %d: %w", slotID, err)
	}
	if slot == nil {
		return ErrSlotNotFound
	}
	if slot.Seat(participantID) == 0 {
		return ErrNotParticipant
	}
	if slot.Status.Terminal() {
		return ErrStale
	}
	return c.cancel(ctx, slot, []int64{participantID}, "canceled the match")
}

// onConfirmed runs when the second acceptance lands: transition, case
// assignment and personalization, delayed-action arming, attendance watch.
func (c *Coordinator) onConfirmed(ctx context.Context, slot *Slot) error {
	ok, err := c.store.TransitionStatus(ctx, slot.ID, StatusScheduled, StatusConfirmed)
	if err != nil {
		return fmt.Errorf("confirm slot %d: %w", slot.ID, err)
	}
	if !ok {
		telemetry.Inc(telemetry.TransitionConflicts)
		slog.Info("confirm lost to competing transition", slog.Int64("slot_id", slot.ID), slog.String("component", "confirm"))
		return nil
	}
	c.timers.Cancel(slot.ID, TimerConfirmDeadline)

	if err := c.store.AddMatchPlayed(ctx, slot.P1.ID, slot.P2.ID); err != nil {
		slog.Warn("matches-played bump failed", slog.Int64("slot_id", slot.ID), slog.Any("err", err))
	}

	c.assignCase(ctx, slot)

	when := slot.StartTime.Format("02.01.2006 15:04")
	text := fmt.Sprintf("Match confirmed for %s: %s vs %s. Your case arrives %s before start.",
		when, slot.P1.DisplayName, slot.P2.DisplayName, c.cfg.CaseReadTime)
	c.send(ctx, slot.P1, notify.KindConfirmationResult, text)
	c.send(ctx, slot.P2, notify.KindConfirmationResult, text)

	c.armConfirmedTimers(slot, true)
	if c.guard != nil {
		c.guard.Watch(slot.ID)
	}
	return nil
}

// assignCase picks a case neither player has seen (falling back to repeats
// when the pool is exhausted), personalizes it and records issuance. Failures
// here degrade the match experience but never cancel the slot.
func (c *Coordinator) assignCase(ctx context.Context, slot *Slot) {
	cs, repeated, err := c.store.PickCase(ctx, slot.P1.ID, slot.P2.ID)
	if err != nil {
		slog.Error("case selection failed", slog.Int64("slot_id", slot.ID), slog.Any("err", err), slog.String("component", "confirm"))
		return
	}
	if repeated {
		// Reissuing is the documented fallback, not an error.
		slog.Warn("unissued case pool exhausted; reissuing a case", slog.Int64("slot_id", slot.ID), slog.Int64("case_id", cs.ID))
	}

	text := cs.Content
	if personalized, err := c.judge.PersonalizeCase(ctx, cs.Content, cs.Roles, slot.P1.DisplayName, slot.P2.DisplayName); err != nil {
		slog.Warn("case personalization failed; using raw case", slog.Int64("slot_id", slot.ID), slog.Any("err", err))
	} else if personalized != "" {
		text = personalized
	}

	if err := c.store.RecordCaseUse(ctx, cs.ID, slot.ID, slot.P1.ID, slot.P2.ID); err != nil {
		slog.Warn("case history write failed", slog.Int64("slot_id", slot.ID), slog.Any("err", err))
	}
	if err := c.store.SavePersonalizedCase(ctx, slot.ID, cs.ID, text); err != nil {
		slog.Error("case save failed", slog.Int64("slot_id", slot.ID), slog.Any("err", err))
	}
}

// armConfirmedTimers arms case delivery and link dispatch relative to the
// slot start. Arming replaces any prior handles for the slot, so reschedules
// cannot double-fire. resendPastCase controls whether a case whose delivery
// time already passed is sent immediately (true on a fresh confirmation,
// where a late handshake should still deliver the case).
func (c *Coordinator) armConfirmedTimers(slot *Slot, resendPastCase bool) {
	slotID := slot.ID
	caseAt := slot.StartTime.Add(-c.cfg.CaseReadTime)
	linkAt := slot.StartTime.Add(-c.cfg.LinkFollowTime)

	if caseAt.After(c.now()) || resendPastCase {
		c.timers.Arm(slotID, TimerCaseDelivery, caseAt, func() { c.deliverCase(slotID) })
	}
	c.timers.Arm(slotID, TimerLinkDispatch, linkAt, func() { c.dispatchLink(slotID) })
}

// deliverCase fires at start − CASE_READ_TIME.
func (c *Coordinator) deliverCase(slotID int64) {
	ctx := c.ctx
	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil || slot == nil {
		slog.Warn("case delivery: slot load failed", slog.Int64("slot_id", slotID), slog.Any("err", err))
		return
	}
	if slot.Status != StatusConfirmed {
		slog.Debug("case delivery skipped; slot no longer confirmed", slog.Int64("slot_id", slotID), slog.String("status", string(slot.Status)))
		return
	}
	if slot.PersonalizedCase == "" {
		slog.Error("no case recorded for confirmed slot", slog.Int64("slot_id", slotID))
		return
	}
	text := "Your case:\n\n" + slot.PersonalizedCase
	c.send(ctx, slot.P1, notify.KindCaseDelivery, text)
	c.send(ctx, slot.P2, notify.KindCaseDelivery, text)
}

// dispatchLink fires at start − LINK_FOLLOW_TIME. This is the only place in
// the system that sends the join link. It also arms the post-match handoff
// to the finalizer.
func (c *Coordinator) dispatchLink(slotID int64) {
	ctx := c.ctx
	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil || slot == nil {
		slog.Warn("link dispatch: slot load failed", slog.Int64("slot_id", slotID), slog.Any("err", err))
		return
	}
	if slot.Status != StatusConfirmed {
		slog.Debug("link dispatch skipped; slot no longer confirmed", slog.Int64("slot_id", slotID), slog.String("status", string(slot.Status)))
		return
	}
	text := "Room link: " + slot.Room.JoinURL
	c.send(ctx, slot.P1, notify.KindLinkDispatch, text)
	c.send(ctx, slot.P2, notify.KindLinkDispatch, text)

	c.armFinalize(slotID, c.finalizeAt(slot))
}

// finalizeAt is when the post-match handoff fires: slightly before the
// nominal end so transcript polling starts as soon as the provider can
// plausibly have the artifact.
func (c *Coordinator) finalizeAt(slot *Slot) time.Time {
	return slot.EndTime.Add(-c.cfg.AnalyzeLead)
}

// armFinalize schedules the post-match handoff.
func (c *Coordinator) armFinalize(slotID int64, at time.Time) {
	c.timers.Arm(slotID, TimerFinalize, at, func() {
		if c.finalizer == nil {
			return
		}
		if err := c.finalizer.Finalize(c.ctx, slotID); err != nil {
			slog.Warn("post-match finalize failed; sweep will retry", slog.Int64("slot_id", slotID), slog.Any("err", err))
		}
	})
}

// expireConfirmation fires when the confirmation deadline passes. Whoever has
// not accepted by now is blamed; competing transitions win via the status
// guard.
func (c *Coordinator) expireConfirmation(slotID int64) {
	ctx := c.ctx
	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil || slot == nil {
		slog.Warn("confirmation expiry: slot load failed", slog.Int64("slot_id", slotID), slog.Any("err", err))
		return
	}
	if slot.Status != StatusScheduled {
		return
	}
	var blamed []int64
	for seat, p := range []*Participant{slot.P1, slot.P2} {
		if p != nil && !slot.Accepted(seat+1) {
			blamed = append(blamed, p.ID)
		}
	}
	if len(blamed) == 0 {
		// Both accepted; the confirm path is transitioning concurrently.
		return
	}
	telemetry.Inc(telemetry.ConfirmationTimeouts)
	if err := c.cancel(ctx, slot, blamed, "did not respond in time"); err != nil {
		slog.Warn("timeout cancellation failed", slog.Int64("slot_id", slotID), slog.Any("err", err))
	}
}

// cancel is the single cancellation path: guarded transition, timer cleanup,
// decline accounting and exactly-once notifications.
func (c *Coordinator) cancel(ctx context.Context, slot *Slot, blamed []int64, reason string) error {
	ok, err := c.store.TransitionStatus(ctx, slot.ID, slot.Status, StatusCanceled)
	if err != nil {
		return fmt.Errorf("cancel slot %d: %w", slot.ID, err)
	}
	if !ok {
		telemetry.Inc(telemetry.TransitionConflicts)
		slog.Info("cancel skipped; slot already handled", slog.Int64("slot_id", slot.ID))
		return nil
	}
	c.timers.CancelAll(slot.ID)
	telemetry.Inc(telemetry.SlotsCanceled)

	blameSet := make(map[int64]bool, len(blamed))
	for _, id := range blamed {
		blameSet[id] = true
		if err := c.store.RecordDecline(ctx, id, slot.Elimination); err != nil {
			slog.Warn("decline accounting failed", slog.Int64("participant_id", id), slog.Any("err", err))
		}
	}

	when := slot.StartTime.Format("02.01.2006 15:04")
	elimNote := ""
	if slot.Elimination {
		elimNote = " They are out of the tournament."
	}
	for _, p := range []*Participant{slot.P1, slot.P2} {
		if p == nil {
			continue
		}
		if blameSet[p.ID] {
			own := fmt.Sprintf("Your match at %s is canceled: you %s.", when, reason)
			if slot.Elimination {
				own += " You are out of the tournament."
			}
			c.send(ctx, p, notify.KindCancellation, own)
		} else {
			c.send(ctx, p, notify.KindCancellation,
				fmt.Sprintf("Your match at %s is canceled: your opponent %s.%s", when, reason, elimNote))
		}
	}
	return nil
}

// Recover re-derives outstanding timers and watches from persisted slot
// state after a restart. In-memory handles are never resumed; the slot table
// is the source of truth. A link dispatch whose time already passed is not
// re-armed — the join link is sent at most once.
func (c *Coordinator) Recover(ctx context.Context) error {
	slots, err := c.store.ListOpenSlots(ctx)
	if err != nil {
		return fmt.Errorf("list open slots: %w", err)
	}
	now := c.now()
	recovered := 0
	for i := range slots {
		slot := &slots[i]
		if !slot.Assigned() {
			continue
		}
		switch slot.Status {
		case StatusScheduled:
			slotID := slot.ID
			c.timers.Arm(slotID, TimerConfirmDeadline, slot.ConfirmDeadline, func() {
				c.expireConfirmation(slotID)
			})
		case StatusConfirmed:
			if now.Before(slot.StartTime.Add(-c.cfg.LinkFollowTime)) {
				c.armConfirmedTimers(slot, false)
			} else if !slot.TranscriptProcessed {
				at := c.finalizeAt(slot)
				if at.Before(now) {
					at = now
				}
				c.armFinalize(slot.ID, at)
			}
			if c.guard != nil && now.Before(slot.StartTime.Add(c.cfg.GracePeriod)) {
				c.guard.Watch(slot.ID)
			}
		}
		recovered++
	}
	slog.Info("timer recovery complete", slog.Int("slots", recovered), slog.String("component", "confirm"))
	return nil
}

// send delivers one notification, logging failures. Delivery is
// fire-and-forget; the transport owns retries.
func (c *Coordinator) send(ctx context.Context, p *Participant, kind notify.Kind, text string) {
	if p == nil {
		return
	}
	if err := c.sink.Notify(ctx, recipient(p), kind, text); err != nil {
		slog.Warn("notification failed",
			slog.Int64("participant_id", p.ID),
			slog.String("kind", string(kind)),
			slog.Any("err", err))
	}
}

func recipient(p *Participant) notify.Recipient {
	return notify.Recipient{ParticipantID: p.ID, ChatID: p.ChatID, DisplayName: p.DisplayName}
}
