// Package chat contains the Twitch chat notification transport.
//
// TwitchSink delivers participant notifications as channel messages over
// Twitch IRC, addressing each participant by their chat identity. It is the
// optional production notify.Sink; when Twitch credentials are not configured
// the orchestrator falls back to the structured-log sink.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes, and a channel to write to (TWITCH_CHANNEL,
// TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN).
package chat
