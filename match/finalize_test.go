package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/debatehub/matchflow/notify"
	"github.com/debatehub/matchflow/telemetry"
)

const sampleTranscript = "Alice Smith: we should adopt the resolution for three reasons\n" +
	"Bob Jones: I disagree\n" +
	"Alice Smith: first, the evidence is overwhelming\n"

func newTestFinalizer(store *fakeStore, provider *fakeProvider, judge *fakeJudge, rec *notify.Recorder, timers *fakeTimers) *Finalizer {
	return NewFinalizer(store, provider, judge, rec, timers, testConfig())
}

func seedPendingSlot(store *fakeStore, endedAgo time.Duration, elimination bool) int64 {
	start := time.Now().Add(-endedAgo - 30*time.Minute)
	id := seedConfirmedSlot(store, start, elimination)
	store.slots[id].PersonalizedCase = "Resolved: A."
	return id
}

func TestFinalizeTranscriptNotReadyLeavesSlotPending(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{} // default FetchTranscript: not ready
	f := newTestFinalizer(store, provider, &fakeJudge{}, &notify.Recorder{}, newFakeTimers())
	id := seedPendingSlot(store, time.Hour, false)

	err := f.Finalize(context.Background(), id)
	if !errors.Is(err, ErrTranscriptNotReady) {
		t.Fatalf("err = %v, want ErrTranscriptNotReady", err)
	}
	slot, _ := store.GetSlot(context.Background(), id)
	if slot.Status != StatusConfirmed || slot.TranscriptProcessed {
		t.Fatalf("slot = %s/processed=%v, want confirmed/unprocessed", slot.Status, slot.TranscriptProcessed)
	}
	if len(provider.disabled) != 0 {
		t.Fatal("room rotated before transcript arrived")
	}
}

func TestFinalizeHappyPathWithVerdict(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{fetchTranscript: func(string) (string, error) {
		return sampleTranscript, nil
	}}
	judge := &fakeJudge{analyze: func(transcript, caseContent, p1, p2 string) (Verdict, error) {
		return Verdict{Winner: 2, Summary: "Bob was more persuasive."}, nil
	}}
	rec := &notify.Recorder{}
	f := newTestFinalizer(store, provider, judge, rec, newFakeTimers())
	id := seedPendingSlot(store, time.Hour, true)

	if err := f.Finalize(context.Background(), id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	slot, _ := store.GetSlot(context.Background(), id)
	if slot.Status != StatusCompleted || !slot.TranscriptProcessed {
		t.Fatalf("slot = %s/processed=%v, want completed/processed", slot.Status, slot.TranscriptProcessed)
	}
	if slot.Transcript != sampleTranscript {
		t.Fatal("transcript not persisted")
	}
	if store.wins[2] != 1 {
		t.Fatalf("winner wins = %d, want 1", store.wins[2])
	}
	if !store.eliminated[1] {
		t.Fatal("loser not eliminated in elimination mode")
	}
	res, ok := store.results[id]
	if !ok || res.WinnerID != 2 || res.Summary != "Bob was more persuasive." {
		t.Fatalf("result = %+v ok=%v", res, ok)
	}
	if store.chars[1] == 0 || store.chars[2] == 0 {
		t.Fatal("transcript char stats not recorded")
	}
	if got := rec.CountKind(notify.KindMatchSummary); got != 2 {
		t.Fatalf("summaries sent = %d, want 2", got)
	}
	// Room rotation: old provider room retired and replaced.
	if len(provider.disabled) != 1 || provider.disabled[0] != "room-1" {
		t.Fatalf("disabled rooms = %v, want [room-1]", provider.disabled)
	}
	if slot.Room.ProviderID == "room-1" {
		t.Fatal("room row still points at the retired provider room")
	}
}

func TestFinalizeLengthFallbackWhenVerdictInconclusive(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{fetchTranscript: func(string) (string, error) {
		return sampleTranscript, nil // Alice speaks far more
	}}
	judge := &fakeJudge{analyze: func(string, string, string, string) (Verdict, error) {
		return Verdict{Winner: 0, Summary: "too close to call"}, nil
	}}
	f := newTestFinalizer(store, provider, judge, &notify.Recorder{}, newFakeTimers())
	id := seedPendingSlot(store, time.Hour, false)

	if err := f.Finalize(context.Background(), id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res := store.results[id]; res.WinnerID != 1 {
		t.Fatalf("fallback winner = %d, want 1 (longer contribution)", res.WinnerID)
	}
}

func TestFinalizeEqualContributionsNoWinner(t *testing.T) {
	store := newFakeStore()
	transcript := "Alice Smith: abcde\nBob Jones: vwxyz\n"
	provider := &fakeProvider{fetchTranscript: func(string) (string, error) {
		return transcript, nil
	}}
	rec := &notify.Recorder{}
	f := newTestFinalizer(store, provider, &fakeJudge{}, rec, newFakeTimers())
	id := seedPendingSlot(store, time.Hour, false)

	if err := f.Finalize(context.Background(), id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res := store.results[id]; res.WinnerID != 0 {
		t.Fatalf("winner = %d, want 0 (draw)", res.WinnerID)
	}
	if store.wins[1] != 0 || store.wins[2] != 0 {
		t.Fatal("draw credited a win")
	}
	if got := rec.CountKind(notify.KindMatchSummary); got != 2 {
		t.Fatalf("summaries sent = %d, want 2", got)
	}
}

func TestFinalizeJudgeOutageLeavesSlotPending(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{fetchTranscript: func(string) (string, error) {
		return sampleTranscript, nil
	}}
	judge := &fakeJudge{analyze: func(string, string, string, string) (Verdict, error) {
		return Verdict{}, errors.New("503 from analysis backend")
	}}
	f := newTestFinalizer(store, provider, judge, &notify.Recorder{}, newFakeTimers())
	id := seedPendingSlot(store, time.Hour, false)

	if err := f.Finalize(context.Background(), id); err == nil {
		t.Fatal("expected error from judge outage")
	}
	slot, _ := store.GetSlot(context.Background(), id)
	if slot.TranscriptProcessed || slot.Status != StatusConfirmed {
		t.Fatal("judge outage must leave the slot pending for the sweep")
	}
	if _, ok := store.results[id]; ok {
		t.Fatal("result written despite judge outage")
	}
}

func TestFinalizeSilentParticipantCancels(t *testing.T) {
	store := newFakeStore()
	transcript := "Alice Smith: hello is anyone there\n"
	provider := &fakeProvider{fetchTranscript: func(string) (string, error) {
		return transcript, nil
	}}
	rec := &notify.Recorder{}
	f := newTestFinalizer(store, provider, &fakeJudge{}, rec, newFakeTimers())
	id := seedPendingSlot(store, time.Hour, true)

	if err := f.Finalize(context.Background(), id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	slot, _ := store.GetSlot(context.Background(), id)
	if slot.Status != StatusCanceled {
		t.Fatalf("status = %s, want canceled", slot.Status)
	}
	if store.declines[2] != 1 || !store.eliminated[2] {
		t.Fatal("silent participant not charged")
	}
	if store.declines[1] != 0 {
		t.Fatal("speaking participant charged")
	}
	if got := rec.CountKind(notify.KindNoShow); got != 2 {
		t.Fatalf("no-show notices = %d, want 2", got)
	}
}

func TestFinalizeIdempotentOnProcessedSlot(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{fetchTranscript: func(string) (string, error) {
		return sampleTranscript, nil
	}}
	rec := &notify.Recorder{}
	f := newTestFinalizer(store, provider, &fakeJudge{}, rec, newFakeTimers())
	id := seedPendingSlot(store, time.Hour, false)

	if err := f.Finalize(context.Background(), id); err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	first := rec.CountKind(notify.KindMatchSummary)
	if err := f.Finalize(context.Background(), id); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if got := rec.CountKind(notify.KindMatchSummary); got != first {
		t.Fatalf("re-finalize sent %d extra summaries", got-first)
	}
	if store.wins[1] != 1 {
		t.Fatalf("wins = %d, want exactly 1", store.wins[1])
	}
}

func TestFinalizeMissingParticipantFlagsForReview(t *testing.T) {
	store := newFakeStore()
	f := newTestFinalizer(store, &fakeProvider{}, &fakeJudge{}, &notify.Recorder{}, newFakeTimers())
	id := store.addSlot(Slot{
		Room:      Room{ID: 1, ProviderID: "room-1"},
		StartTime: time.Now().Add(-2 * time.Hour),
		EndTime:   time.Now().Add(-90 * time.Minute),
		P1:        &Participant{ID: 1, DisplayName: "Alice Smith"},
		Status:    StatusConfirmed,
	})

	err := f.Finalize(context.Background(), id)
	if !errors.Is(err, ErrInconsistentSlot) {
		t.Fatalf("err = %v, want ErrInconsistentSlot", err)
	}
	if store.flagged[id] == "" {
		t.Fatal("slot not flagged for review")
	}
}

func TestSweepSettlesOldPendingSlotsOnly(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{fetchTranscript: func(string) (string, error) {
		return sampleTranscript, nil
	}}
	f := newTestFinalizer(store, provider, &fakeJudge{}, &notify.Recorder{}, newFakeTimers())

	oldID := seedPendingSlot(store, 3*time.Hour, false)
	freshID := seedPendingSlot(store, 10*time.Minute, false) // younger than SweepMinAge

	f.sweepOnce(context.Background())

	oldSlot, _ := store.GetSlot(context.Background(), oldID)
	if oldSlot.Status != StatusCompleted {
		t.Fatalf("old slot = %s, want completed", oldSlot.Status)
	}
	fresh, _ := store.GetSlot(context.Background(), freshID)
	if fresh.Status != StatusConfirmed {
		t.Fatalf("fresh slot = %s, want still confirmed", fresh.Status)
	}
	if len(store.touched) == 0 || store.touched[0] != "result_sweep" {
		t.Fatalf("job heartbeat = %v, want result_sweep", store.touched)
	}
}

func TestSweepOneFailingSlotDoesNotBlockOthers(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{fetchTranscript: func(providerID string) (string, error) {
		if providerID == "stuck" {
			return "", ErrTranscriptNotReady
		}
		return sampleTranscript, nil
	}}
	f := newTestFinalizer(store, provider, &fakeJudge{}, &notify.Recorder{}, newFakeTimers())

	stuckID := seedPendingSlot(store, 3*time.Hour, false)
	store.slots[stuckID].Room.ProviderID = "stuck"
	okID := seedPendingSlot(store, 3*time.Hour, false)

	f.sweepOnce(context.Background())

	stuck, _ := store.GetSlot(context.Background(), stuckID)
	if stuck.Status != StatusConfirmed {
		t.Fatalf("stuck slot = %s, want still confirmed", stuck.Status)
	}
	done, _ := store.GetSlot(context.Background(), okID)
	if done.Status != StatusCompleted {
		t.Fatalf("healthy slot = %s, want completed", done.Status)
	}
}

func TestFinalizeObservesDuration(t *testing.T) {
	telemetry.Init()
	store := newFakeStore()
	provider := &fakeProvider{fetchTranscript: func(string) (string, error) {
		return sampleTranscript, nil
	}}
	f := newTestFinalizer(store, provider, &fakeJudge{}, &notify.Recorder{}, newFakeTimers())
	id := seedPendingSlot(store, time.Hour, false)

	before := histogramSamples(t, telemetry.FinalizeDuration)
	if err := f.Finalize(context.Background(), id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got := histogramSamples(t, telemetry.FinalizeDuration); got != before+1 {
		t.Fatalf("finalize duration samples = %d, want %d", got, before+1)
	}
}

func histogramSamples(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	c, ok := o.(prometheus.Collector)
	if !ok {
		t.Fatalf("observer %T is not a collector", o)
	}
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var pb dto.Metric
	if err := (<-ch).Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return pb.GetHistogram().GetSampleCount()
}
