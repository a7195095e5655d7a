// Package dispatch routes inbound platform events to workflow handlers. It
// is the only layer that renders user-visible replies: workflow outcomes and
// errors come back from the engine and are mapped to messages here.
package dispatch

import "github.com/transpouce/poucet/internal/platform"

// The closed set of event variants the bot reacts to. The platform glue in
// cmd/poucet converts gateway callbacks into these and nothing else.

// SlashCommand is an invoked application command.
type SlashCommand struct {
	Guild      platform.GuildID
	Channel    platform.ChannelID
	User       platform.UserID
	Name       string
	Subcommand string
	// Options maps option names to their raw string values (ids for
	// role/channel options).
	Options map[string]string
}

// ButtonPress is a component interaction on a tracked message.
type ButtonPress struct {
	Guild    platform.GuildID
	Channel  platform.ChannelID
	User     platform.UserID
	Username string
	Message  platform.MessageID
	CustomID string
}

// MemberJoined fires when a member enters a guild.
type MemberJoined struct {
	Guild    platform.GuildID
	User     platform.UserID
	Username string
}

// MemberLeft fires when a member leaves (or is removed from) a guild.
type MemberLeft struct {
	Guild platform.GuildID
	User  platform.UserID
}

// Reconnected fires when the gateway session is (re)established, listing the
// guilds the bot can see.
type Reconnected struct {
	Guilds []platform.GuildID
}

// Response tells the platform glue how to answer an interaction. At most one
// of the fields is set; the zero Response means "acknowledge silently".
type Response struct {
	// Reply answers with a new message, ephemeral or not.
	Reply *platform.Reply
	// Update edits the originating message in place. An empty Content
	// leaves the text as is and only swaps the buttons.
	Update *platform.Reply
	// Delete removes the originating message, cleaning up stale controls
	// the bot no longer tracks.
	Delete bool
}

func reply(content string) Response {
	return Response{Reply: &platform.Reply{Content: content}}
}

func ephemeral(content string) Response {
	return Response{Reply: &platform.Reply{Content: content, Ephemeral: true}}
}
