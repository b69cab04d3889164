package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockRoomServer creates a test server that mocks the meeting provider API,
// including its token exchange endpoint.
type MockRoomServer struct {
	*httptest.Server
	Handlers  map[string]http.HandlerFunc
	AuthCalls int
}

// NewMockRoomServer creates a new mock meeting provider server. The
// /auth/login endpoint is pre-wired and issues "test-token"; extra endpoints
// are added through the Handlers map.
func NewMockRoomServer(t *testing.T) *MockRoomServer {
	t.Helper()
	m := &MockRoomServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			m.AuthCalls++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "test-token"}) //nolint:errcheck // test mock response
			return
		}
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockRoomCreate adds a handler for /room/create returning the given room.
func (m *MockRoomServer) MockRoomCreate(roomID, joinURL string) {
	m.Handlers["/room/create"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck // test mock response
			"roomId":  roomID,
			"roomUrl": joinURL,
		})
	}
}

// MockTranscript adds a handler for the room's transcriptions endpoint.
// Each entry is a (participant, text) pair.
func (m *MockRoomServer) MockTranscript(roomID string, entries [][2]string) {
	path := fmt.Sprintf("/room/%s/transcriptions", roomID)
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]string, 0, len(entries))
		for _, e := range entries {
			items = append(items, map[string]string{
				"participantName": e[0],
				"text":            e[1],
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"transcriptions": items}) //nolint:errcheck // test mock response
	}
}

// MockParticipants adds a handler for the room's participants endpoint.
func (m *MockRoomServer) MockParticipants(roomID string, names []string) {
	path := fmt.Sprintf("/room/%s/participants", roomID)
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]string, 0, len(names))
		for _, n := range names {
			items = append(items, map[string]string{"name": n})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(items) //nolint:errcheck // test mock response
	}
}
