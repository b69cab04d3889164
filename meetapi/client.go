// Package meetapi is the HTTP client for the meeting-room provider: room
// creation and retirement, live participant snapshots and post-meeting
// transcription retrieval. It implements match.RoomProvider.
package meetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/debatehub/matchflow/config"
	"github.com/debatehub/matchflow/match"
)

// Client talks to the room provider API.
type Client struct {
	BaseURL    string
	Tokens     *TokenSource
	HTTPClient *http.Client
}

// NewClient builds a client from config.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL: cfg.MeetBaseURL,
		Tokens: &TokenSource{
			BaseURL:   cfg.MeetBaseURL,
			ProjectID: cfg.MeetProjectID,
			APIKey:    cfg.MeetAPIKey,
		},
	}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	tok, err := c.Tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http().Do(req)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// CreateRoom creates a meeting room with transcription enabled and returns
// the provider room id and join URL.
func (c *Client) CreateRoom(ctx context.Context, title string) (string, string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/room/create", map[string]any{
		"roomTitle":                         title,
		"roomType":                          "MEETING",
		"transcriptionAutoStartEnabled":     true,
		"serverVideoRecordAutoStartEnabled": false,
		"summarizationEnabled":              false,
	})
	if err != nil {
		return "", "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("create room failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		RoomID  string `json:"roomId"`
		RoomURL string `json:"roomUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", err
	}
	if body.RoomID == "" || body.RoomURL == "" {
		return "", "", fmt.Errorf("create room: incomplete response")
	}
	return body.RoomID, body.RoomURL, nil
}

// DisableRoom retires a provider room.
func (c *Client) DisableRoom(ctx context.Context, providerID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/room/"+providerID+"/disable", map[string]any{})
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("disable room %s failed: %s: %s", providerID, resp.Status, string(b))
	}
	return nil
}

// FetchTranscript retrieves the room's transcription entries and flattens
// them into "Name: text" dialog lines. An empty entry list means the
// provider has not produced the artifact yet.
func (c *Client) FetchTranscript(ctx context.Context, providerID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/room/"+providerID+"/transcriptions", nil)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusAccepted:
		return "", fmt.Errorf("room %s: %w", providerID, match.ErrTranscriptNotReady)
	default:
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("fetch transcriptions for %s failed: %s: %s", providerID, resp.Status, string(b))
	}
	var body struct {
		Transcriptions []struct {
			ParticipantName string `json:"participantName"`
			Text            string `json:"text"`
			CreatedAt       string `json:"createdAt"`
		} `json:"transcriptions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Transcriptions) == 0 {
		return "", fmt.Errorf("room %s: %w", providerID, match.ErrTranscriptNotReady)
	}
	var sb strings.Builder
	for _, t := range body.Transcriptions {
		if t.ParticipantName == "" && t.Text == "" {
			continue
		}
		sb.WriteString(t.ParticipantName)
		sb.WriteString(": ")
		sb.WriteString(t.Text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Participants returns the display names currently present in the room. A
// 404 means the room is empty or idle, not an error.
func (c *Client) Participants(ctx context.Context, providerID string) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/room/"+providerID+"/participants", nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("participants for %s failed: %s: %s", providerID, resp.Status, string(b))
	}
	var body []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(body))
	for _, p := range body {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return names, nil
}
