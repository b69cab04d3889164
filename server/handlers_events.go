package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/debatehub/matchflow/match"
)

type confirmEvent struct {
	SlotID        int64 `json:"slot_id"`
	ParticipantID int64 `json:"participant_id"`
	Accepted      bool  `json:"accepted"`
}

type cancelEvent struct {
	SlotID        int64 `json:"slot_id"`
	ParticipantID int64 `json:"participant_id"`
}

// HandleEventConfirm accepts a participant's answer to a confirmation request.
func (h *Handlers) HandleEventConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ev confirmEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if ev.SlotID <= 0 || ev.ParticipantID <= 0 {
		http.Error(w, "slot_id and participant_id are required", http.StatusBadRequest)
		return
	}
	if err := h.coord.HandleResponse(r.Context(), ev.SlotID, ev.ParticipantID, ev.Accepted); err != nil {
		writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleEventCancel accepts a participant's withdrawal from a slot.
func (h *Handlers) HandleEventCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ev cancelEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if ev.SlotID <= 0 || ev.ParticipantID <= 0 {
		http.Error(w, "slot_id and participant_id are required", http.StatusBadRequest)
		return
	}
	if err := h.coord.Cancel(r.Context(), ev.SlotID, ev.ParticipantID); err != nil {
		writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// writeMatchError translates lifecycle errors into HTTP status codes.
func writeMatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrSlotNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, match.ErrNotParticipant):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, match.ErrStale):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
