// Package judgeapi is the HTTP client for the text-analysis service used to
// judge match transcripts and personalize debate cases. Authentication is an
// OAuth2 client-credentials flow; every request carries a unique RqUID header
// for server-side correlation. It implements match.Judge.
package judgeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/debatehub/matchflow/config"
	"github.com/debatehub/matchflow/match"
)

const defaultModel = "GigaChat-2-Max"

const analyzeSystemPrompt = `You are an impartial debate arbiter. Analyze the dialog between two players and decide who won the round.
Evaluate each player's outcome against their stated position, the quality of argumentation, and composure.
Output format (follow it strictly):
Verdict: Player 1 or Player 2 (use the player's name).
Reasoning: 2-3 short points.
Key factor: the main reason for the win.
If the dialog is too thin to judge, output "Verdict: inconclusive".`

const personalizeSystemPrompt = `You adapt a debate case to two named players. Substitute the role placeholders with the given names, keep the scenario and constraints intact, and output only the adapted case text.`

// Client talks to the analysis service.
type Client struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// NewClient builds a client from config. The returned client refreshes its
// access token transparently.
func NewClient(cfg *config.Config) *Client {
	cc := &clientcredentials.Config{
		ClientID:       cfg.JudgeClientID,
		ClientSecret:   cfg.JudgeClientSecret,
		TokenURL:       cfg.JudgeTokenURL,
		AuthStyle:      oauth2.AuthStyleInHeader,
		EndpointParams: url.Values{"scope": {"GIGACHAT_API_PERS"}},
	}
	base := &rquidTransport{base: http.DefaultTransport}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: base})
	return &Client{
		BaseURL: cfg.JudgeBaseURL,
		Model:   defaultModel,
		HTTPClient: &http.Client{Transport: &oauth2.Transport{
			Source: cc.TokenSource(tokenCtx),
			Base:   base,
		}},
	}
}

// rquidTransport stamps every outgoing request with a fresh RqUID.
type rquidTransport struct {
	base http.RoundTripper
}

func (t *rquidTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("RqUID", uuid.NewString())
	return t.base.RoundTrip(req)
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) model() string {
	if c.Model != "" {
		return c.Model
	}
	return defaultModel
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// complete runs one chat completion and returns the assistant message.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	payload := map[string]any{
		"model": c.model(),
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"temperature": 0.2,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion failed: %s: %s", resp.Status, string(body))
	}
	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// AnalyzeWinner asks the service to judge the transcript and maps the answer
// to a seat number. An unparseable or inconclusive verdict yields seat 0; the
// caller applies its own fallback.
func (c *Client) AnalyzeWinner(ctx context.Context, transcript, caseContent, p1Name, p2Name string) (match.Verdict, error) {
	var sb strings.Builder
	if caseContent != "" {
		sb.WriteString("Case:\n")
		sb.WriteString(caseContent)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Player 1: %s\nPlayer 2: %s\n\nDialog:\n%s", p1Name, p2Name, transcript)

	content, err := c.complete(ctx, analyzeSystemPrompt, sb.String())
	if err != nil {
		return match.Verdict{}, err
	}
	return match.Verdict{
		Winner:  parseVerdictSeat(content, p1Name, p2Name),
		Summary: strings.TrimSpace(content),
	}, nil
}

// PersonalizeCase adapts a case's role placeholders to the two player names.
func (c *Client) PersonalizeCase(ctx context.Context, caseContent, roles, p1Name, p2Name string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Case:\n")
	sb.WriteString(caseContent)
	if roles != "" {
		sb.WriteString("\n\nRoles: ")
		sb.WriteString(roles)
	}
	fmt.Fprintf(&sb, "\n\nPlayer 1: %s\nPlayer 2: %s", p1Name, p2Name)

	content, err := c.complete(ctx, personalizeSystemPrompt, sb.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// parseVerdictSeat extracts the winning seat from the verdict line. Matching
// is on the named players first, then the generic "Player N" form.
func parseVerdictSeat(content, p1Name, p2Name string) int {
	verdict := ""
	for _, line := range strings.Split(content, "\n") {
		norm := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(norm, "verdict:") {
			verdict = strings.TrimSpace(strings.TrimPrefix(norm, "verdict:"))
			break
		}
	}
	if verdict == "" || strings.Contains(verdict, "inconclusive") {
		return 0
	}
	n1 := match.NormalizeName(p1Name)
	n2 := match.NormalizeName(p2Name)
	has1 := n1 != "" && strings.Contains(verdict, n1)
	has2 := n2 != "" && strings.Contains(verdict, n2)
	switch {
	case has1 && !has2:
		return 1
	case has2 && !has1:
		return 2
	case has1 && has2:
		// Both names in the verdict line; trust the explicit seat if present.
	}
	switch {
	case strings.Contains(verdict, "player 1"):
		return 1
	case strings.Contains(verdict, "player 2"):
		return 2
	}
	return 0
}
