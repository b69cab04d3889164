// Package match implements the match lifecycle orchestrator: slot scheduling,
// the confirmation handshake, timed case/link delivery, attendance watching
// and result finalization with a pending-result sweep.
//
// Components receive their store, adapters and notification sink at
// construction so tests can substitute fakes; there are no package-level
// singletons. The slot status column is the central state machine and every
// transition goes through Store.TransitionStatus, a conditional update that
// only applies when the slot is still in the expected source state. That
// guard is the sole serialization mechanism between competing paths
// (deadline expiry vs. button press, no-show vs. manual cancel, direct
// finalize vs. sweep).
package match

import (
	"strings"
	"time"
)

// Status is the slot state machine: scheduled -> confirmed -> {completed, canceled}.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Participant is a registered player.
type Participant struct {
	ID              int64
	ChatID          string // external transport identity, empty when unlinked
	DisplayName     string
	Registered      bool
	Eliminated      bool
	Wins            int
	MatchesPlayed   int
	Declines        int
	TranscriptChars int
}

// Room is an external provider meeting room. Rotated after each transcript
// retrieval so a room is never reused while its artifact is being analyzed.
type Room struct {
	ID         int64
	ProviderID string
	JoinURL    string
	Active     bool
	CreatedAt  time.Time
}

// Case is a debate prompt handed to both players before the match.
type Case struct {
	ID      int64
	Title   string
	Content string
	Roles   string
	Active  bool
}

// Slot binds a room, a start time and up to two participants.
type Slot struct {
	ID        int64
	Room      Room
	StartTime time.Time
	EndTime   time.Time

	P1, P2               *Participant
	Accepted1, Accepted2 bool

	Status      Status
	Elimination bool

	CaseID           int64 // 0 until a case is assigned
	PersonalizedCase string

	Transcript          string
	TranscriptProcessed bool

	ConfirmDeadline time.Time
}

// Assigned reports whether both participant seats are filled.
func (s *Slot) Assigned() bool { return s.P1 != nil && s.P2 != nil }

// Seat returns which seat (1 or 2) the participant occupies, or 0.
func (s *Slot) Seat(participantID int64) int {
	switch {
	case s.P1 != nil && s.P1.ID == participantID:
		return 1
	case s.P2 != nil && s.P2.ID == participantID:
		return 2
	default:
		return 0
	}
}

// Opponent returns the other participant, or nil.
func (s *Slot) Opponent(participantID int64) *Participant {
	switch s.Seat(participantID) {
	case 1:
		return s.P2
	case 2:
		return s.P1
	default:
		return nil
	}
}

// Accepted reports whether the participant in the given seat has accepted.
func (s *Slot) Accepted(seat int) bool {
	if seat == 1 {
		return s.Accepted1
	}
	return s.Accepted2
}

// Result records the outcome of a completed slot. WinnerID is 0 when no
// winner could be determined.
type Result struct {
	SlotID    int64
	WinnerID  int64
	Summary   string
	CreatedAt time.Time
}

// NormalizeName folds a display name for best-effort presence and transcript
// matching: lowercased, whitespace collapsed. Name-based matching is known to
// be inexact (collisions, typos); it mirrors what the room provider exposes.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ContributionLength returns the number of characters the named speaker
// contributed to a "Name: text" style transcript.
func ContributionLength(transcript, displayName string) int {
	prefix := NormalizeName(displayName) + ":"
	total := 0
	for _, line := range strings.Split(transcript, "\n") {
		norm := NormalizeName(line)
		if rest, ok := strings.CutPrefix(norm, prefix); ok {
			total += len(strings.TrimSpace(rest))
		}
	}
	return total
}

// SpokeInTranscript reports whether the named participant appears as a
// speaker in the transcript at all. Used as the post-hoc connection check.
func SpokeInTranscript(transcript, displayName string) bool {
	prefix := NormalizeName(displayName) + ":"
	for _, line := range strings.Split(transcript, "\n") {
		if strings.HasPrefix(NormalizeName(line), prefix) {
			return true
		}
	}
	return false
}
