package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/debatehub/matchflow/match"
	"github.com/debatehub/matchflow/timer"
)

// SlotStore is the slice of the persistence layer the admin handlers need.
type SlotStore interface {
	SlotsOn(ctx context.Context, day time.Time) ([]match.Slot, error)
	DeleteSlot(ctx context.Context, slotID int64) error
	Standings(ctx context.Context) ([]match.Participant, error)
}

// Scheduler runs a scheduling pass for a given day.
type Scheduler interface {
	Schedule(ctx context.Context, day time.Time, elimination, tournament bool) (match.ScheduleReport, error)
}

// Lifecycle accepts the confirmation and cancellation events raised by the
// chat transport.
type Lifecycle interface {
	HandleResponse(ctx context.Context, slotID, participantID int64, accepted bool) error
	Cancel(ctx context.Context, slotID, participantID int64) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db     *sql.DB
	store  SlotStore
	sched  Scheduler
	coord  Lifecycle
	timers *timer.Registry
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, store SlotStore, sched Scheduler, coord Lifecycle, timers *timer.Registry) *Handlers {
	return &Handlers{db: db, store: store, sched: sched, coord: coord, timers: timers}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
