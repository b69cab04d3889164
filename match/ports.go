package match

import (
	"context"
	"errors"
	"time"
)

// ErrTranscriptNotReady is returned by RoomProvider.FetchTranscript while the
// provider has not finished producing the artifact. The finalizer treats it
// as "stay pending"; the sweep retries later.
var ErrTranscriptNotReady = errors.New("transcript not ready")

// ErrSlotNotFound is returned when an operation references an unknown slot.
var ErrSlotNotFound = errors.New("slot not found")

// ErrNotParticipant is returned when a confirmation event names a participant
// that does not occupy a seat in the slot.
var ErrNotParticipant = errors.New("participant not in slot")

// ErrStale is returned when an externally-triggered action arrives for a slot
// that some competing path already resolved. Callers log and move on; there
// is nothing to retry.
var ErrStale = errors.New("slot already resolved")

// ErrInconsistentSlot marks a slot whose persisted state is missing data the
// operation requires (e.g. a participant vanished before finalize). The slot
// is flagged for manual review; other slots are unaffected.
var ErrInconsistentSlot = errors.New("inconsistent slot state")

// Store is the durable slot store contract. Implementations must make
// TransitionStatus and MarkTranscriptProcessed atomic conditional updates.
type Store interface {
	// Rooms
	ActiveRooms(ctx context.Context) ([]Room, error)
	CreateRoom(ctx context.Context, providerID, joinURL string) (Room, error)
	// ReplaceRoomProvider swaps the provider room behind a room row (rotation
	// after transcript retrieval).
	ReplaceRoomProvider(ctx context.Context, roomID int64, providerID, joinURL string) error

	// Slots
	CreateSlot(ctx context.Context, roomID int64, start, end time.Time) (int64, error)
	RoomHasSlotsOn(ctx context.Context, roomID int64, day time.Time) (bool, error)
	// FreeSlots lists unassigned slots on the given day starting at or after
	// notBefore, ordered by start time.
	FreeSlots(ctx context.Context, day time.Time, notBefore time.Time) ([]Slot, error)
	GetSlot(ctx context.Context, slotID int64) (*Slot, error)
	AssignParticipants(ctx context.Context, slotID, p1ID, p2ID int64, elimination bool, deadline time.Time) error
	// SetAccepted records one participant's acceptance and returns the
	// refreshed slot.
	SetAccepted(ctx context.Context, slotID, participantID int64) (*Slot, error)
	// TransitionStatus applies from->to only if the slot still has status
	// from. Returns false when the precondition failed (someone else already
	// handled the slot).
	TransitionStatus(ctx context.Context, slotID int64, from, to Status) (bool, error)
	// ListOpenSlots returns all slots in a non-terminal status, for timer
	// recovery after restart.
	ListOpenSlots(ctx context.Context) ([]Slot, error)
	// ListPendingPastSlots returns ids of confirmed, unprocessed slots whose
	// end time is before the cutoff.
	ListPendingPastSlots(ctx context.Context, before time.Time) ([]int64, error)

	// Participants
	// EligibleParticipants lists registered, non-eliminated participants with
	// no slot on the given day, ordered by (matches played, declines) asc.
	EligibleParticipants(ctx context.Context, day time.Time) ([]Participant, error)
	RecordDecline(ctx context.Context, participantID int64, eliminate bool) error
	RecordWin(ctx context.Context, winnerID, loserID int64, eliminateLoser bool) error
	AddMatchPlayed(ctx context.Context, participantIDs ...int64) error
	AddTranscriptChars(ctx context.Context, participantID int64, chars int) error
	// FlagForReview records a data-inconsistency marker for operators.
	FlagForReview(ctx context.Context, slotID int64, reason string) error

	// Cases
	// PickCase selects a random active case neither participant has seen.
	// When the unissued pool is exhausted it falls back to allowing repeats
	// and reports that via the second return value.
	PickCase(ctx context.Context, p1ID, p2ID int64) (Case, bool, error)
	RecordCaseUse(ctx context.Context, caseID, slotID int64, participantIDs ...int64) error
	SavePersonalizedCase(ctx context.Context, slotID, caseID int64, text string) error

	// Artifacts
	SaveTranscript(ctx context.Context, slotID int64, text string) error
	// MarkTranscriptProcessed sets the processed flag and returns false if it
	// was already set. This is the finalization idempotency gate.
	MarkTranscriptProcessed(ctx context.Context, slotID int64) (bool, error)
	CreateResult(ctx context.Context, slotID, winnerID int64, summary string) error

	// TouchJob records a background-job heartbeat (kv bookkeeping).
	TouchJob(ctx context.Context, name string) error
}

// RoomProvider is the external meeting-room service: room creation/rotation,
// transcript retrieval and live participant snapshots.
type RoomProvider interface {
	CreateRoom(ctx context.Context, title string) (providerID, joinURL string, err error)
	DisableRoom(ctx context.Context, providerID string) error
	// FetchTranscript returns ErrTranscriptNotReady (possibly wrapped) while
	// the artifact is still being produced.
	FetchTranscript(ctx context.Context, providerID string) (string, error)
	// Participants returns the display names currently present in the room.
	Participants(ctx context.Context, providerID string) ([]string, error)
}

// Verdict is the analysis adapter's winner call. Winner is the seat number
// (1 or 2) or 0 when inconclusive.
type Verdict struct {
	Winner  int
	Summary string
}

// Judge is the external text-analysis service.
type Judge interface {
	AnalyzeWinner(ctx context.Context, transcript, caseContent, p1Name, p2Name string) (Verdict, error)
	PersonalizeCase(ctx context.Context, caseContent, roles, p1Name, p2Name string) (string, error)
}

// Timer kinds for armed delayed actions. At most one timer per (slot, kind)
// exists at any time; arming replaces the prior handle.
const (
	TimerConfirmDeadline = "confirm_deadline"
	TimerCaseDelivery    = "case_delivery"
	TimerLinkDispatch    = "link_dispatch"
	TimerFinalize        = "finalize"
)

// Timers schedules one-shot callbacks at absolute times, cancellable by
// (slot, kind) key.
type Timers interface {
	Arm(slotID int64, kind string, at time.Time, fn func())
	Cancel(slotID int64, kind string) bool
	CancelAll(slotID int64)
}
