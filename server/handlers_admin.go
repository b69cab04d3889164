package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/debatehub/matchflow/match"
)

type scheduleRequest struct {
	Date        string `json:"date"`
	Elimination bool   `json:"elimination"`
	Tournament  bool   `json:"tournament"`
}

// HandleAdminSchedule runs a scheduling pass for the requested day and
// returns the pass report.
func (h *Handlers) HandleAdminSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	day, err := parseDay(req.Date)
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	report, err := h.sched.Schedule(r.Context(), day, req.Elimination, req.Tournament)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// slotView is the JSON shape of a slot in admin listings.
type slotView struct {
	ID           int64      `json:"id"`
	RoomURL      string     `json:"room_url,omitempty"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	Status       string     `json:"status"`
	Elimination  bool       `json:"elimination"`
	Participant1 *seatView  `json:"participant1,omitempty"`
	Participant2 *seatView  `json:"participant2,omitempty"`
	CaseAssigned bool       `json:"case_assigned"`
	Deadline     *time.Time `json:"confirm_deadline,omitempty"`
}

type seatView struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Accepted    bool   `json:"accepted"`
}

func toSlotView(s *match.Slot) slotView {
	v := slotView{
		ID:           s.ID,
		RoomURL:      s.Room.JoinURL,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Status:       string(s.Status),
		Elimination:  s.Elimination,
		CaseAssigned: s.CaseID != 0,
	}
	if s.P1 != nil {
		v.Participant1 = &seatView{ID: s.P1.ID, DisplayName: s.P1.DisplayName, Accepted: s.Accepted1}
	}
	if s.P2 != nil {
		v.Participant2 = &seatView{ID: s.P2.ID, DisplayName: s.P2.DisplayName, Accepted: s.Accepted2}
	}
	if !s.ConfirmDeadline.IsZero() {
		d := s.ConfirmDeadline
		v.Deadline = &d
	}
	return v
}

// HandleAdminSlots lists the slots of a given day (?date=YYYY-MM-DD, default today).
func (h *Handlers) HandleAdminSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	day := time.Now().UTC()
	if s := r.URL.Query().Get("date"); s != "" {
		var err error
		if day, err = parseDay(s); err != nil {
			http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	slots, err := h.store.SlotsOn(r.Context(), day)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]slotView, 0, len(slots))
	for i := range slots {
		views = append(views, toSlotView(&slots[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": views})
}

// HandleAdminSlotDelete purges a slot and its dependent rows.
// Routed as DELETE /admin/slots/{id}.
func (h *Handlers) HandleAdminSlotDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/admin/slots/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid slot id", http.StatusBadRequest)
		return
	}
	if err := h.store.DeleteSlot(r.Context(), id); err != nil {
		if errors.Is(err, match.ErrSlotNotFound) {
			http.Error(w, "slot not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.timers != nil {
		h.timers.CancelAll(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "slot_id": id})
}

type standingView struct {
	ID              int64  `json:"id"`
	DisplayName     string `json:"display_name"`
	Wins            int    `json:"wins"`
	MatchesPlayed   int    `json:"matches_played"`
	Declines        int    `json:"declines"`
	Eliminated      bool   `json:"eliminated"`
	TranscriptChars int    `json:"transcript_chars"`
}

// HandleAdminStandings reports per-participant win and elimination stats.
func (h *Handlers) HandleAdminStandings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	participants, err := h.store.Standings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]standingView, 0, len(participants))
	for _, p := range participants {
		views = append(views, standingView{
			ID:              p.ID,
			DisplayName:     p.DisplayName,
			Wins:            p.Wins,
			MatchesPlayed:   p.MatchesPlayed,
			Declines:        p.Declines,
			Eliminated:      p.Eliminated,
			TranscriptChars: p.TranscriptChars,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"standings": views})
}

func parseDay(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
