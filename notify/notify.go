// Package notify defines the outbound notification contract between the
// match orchestrator and whatever chat transport delivers messages to
// players. Delivery is fire-and-forget from the core's point of view:
// transport retries are the sink's responsibility and sink errors are logged,
// never propagated into lifecycle decisions.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Kind is the semantic class of an outbound message.
type Kind string

const (
	KindConfirmationRequest Kind = "confirmation-request"
	KindConfirmationResult  Kind = "confirmation-result"
	KindCaseDelivery        Kind = "case-delivery"
	KindLinkDispatch        Kind = "link-dispatch"
	KindNoShow              Kind = "no-show"
	KindMatchSummary        Kind = "match-summary"
	KindCancellation        Kind = "cancellation"
)

// Recipient identifies a participant on the transport side.
type Recipient struct {
	ParticipantID int64
	ChatID        string
	DisplayName   string
}

// Sink delivers a message to one participant.
type Sink interface {
	Notify(ctx context.Context, to Recipient, kind Kind, text string) error
}

// LogSink writes notifications to the structured log. It is the default sink
// when no chat transport is configured, and doubles as a development aid.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, to Recipient, kind Kind, text string) error {
	slog.Info("notify",
		slog.String("component", "notify"),
		slog.Int64("participant_id", to.ParticipantID),
		slog.String("kind", string(kind)),
		slog.String("text", text))
	return nil
}

// Recorder is a Sink that captures notifications for tests. Safe for
// concurrent use; the coordinator fans out sends to both players.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

// Sent is one captured notification.
type Sent struct {
	To   Recipient
	Kind Kind
	Text string
}

func (r *Recorder) Notify(_ context.Context, to Recipient, kind Kind, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{To: to, Kind: kind, Text: text})
	return nil
}

// All returns a copy of everything captured so far.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// CountKind returns how many captured notifications have the given kind.
func (r *Recorder) CountKind(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}
