package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/debatehub/matchflow/config"
	"github.com/debatehub/matchflow/notify"
)

// ircClient is the slice of the IRC client the sink uses; tests substitute a
// recorder.
type ircClient interface {
	Say(channel, text string)
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// TwitchSink delivers notifications to participants as mentions in a Twitch
// channel. Long payloads (personalized cases, match summaries) are split
// into IRC-sized chunks.
type TwitchSink struct {
	channel string
	client  ircClient

	mu        sync.Mutex
	connected bool
}

// maxMessageLen keeps each IRC line under the 500-char PRIVMSG budget with
// headroom for the mention prefix.
const maxMessageLen = 400

// NewTwitchSink builds a sink from config. Call Start before sending.
func NewTwitchSink(cfg *config.Config) *TwitchSink {
	return &TwitchSink{
		channel: cfg.TwitchChannel,
		client:  twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken),
	}
}

// Start connects to Twitch IRC and joins the channel. It blocks until the
// connection drops or ctx is canceled, so run it in its own goroutine.
func (s *TwitchSink) Start(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		if err := s.client.Disconnect(); err != nil {
			slog.Warn("twitch disconnect error", slog.Any("err", err), slog.String("component", "chat"))
		}
	}()

	s.client.Join(s.channel)
	err := s.client.Connect()

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return err
}

// Notify sends one notification as a channel mention, split into chunks when
// the payload exceeds the IRC line budget.
func (s *TwitchSink) Notify(_ context.Context, to notify.Recipient, kind notify.Kind, text string) error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return fmt.Errorf("twitch sink not connected")
	}

	mention := "@" + to.ChatID
	if to.ChatID == "" {
		mention = to.DisplayName
	}
	for i, chunk := range splitMessage(text, maxMessageLen) {
		line := mention + " " + chunk
		if i > 0 {
			line = mention + " (cont.) " + chunk
		}
		s.client.Say(s.channel, line)
	}
	slog.Debug("twitch notification sent",
		slog.String("component", "chat"),
		slog.Int64("participant_id", to.ParticipantID),
		slog.String("kind", string(kind)))
	return nil
}

// splitMessage breaks text into chunks of at most limit runes, preferring
// line and word boundaries.
func splitMessage(text string, limit int) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > 0 {
		runes := []rune(text)
		if len(runes) <= limit {
			out = append(out, text)
			break
		}
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		text = strings.TrimSpace(string(runes[cut:]))
	}
	return out
}
