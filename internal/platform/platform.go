// Package platform abstracts the chat-platform operations poucet consumes.
// The rest of the codebase talks to the API interface only; the discordgo
// implementation lives in discord.go. This allows tests to substitute a mock
// implementation without a live gateway connection.
package platform

import (
	"context"
	"errors"
)

// ErrChannelGone reports that a channel referenced by an operation no longer
// exists on the platform. Callers use it to tell out-of-band deletion from
// transient failures, the same split MessageExists makes for messages.
var ErrChannelGone = errors.New("channel no longer exists")

// Opaque platform identifiers (snowflakes). The core never interprets their
// bits; they are compared and used as store keys only.
type (
	GuildID   string
	ChannelID string
	RoleID    string
	UserID    string
	MessageID string
)

// ChannelKind distinguishes the two channel shapes setup validation cares
// about.
type ChannelKind int

const (
	ChannelKindUnknown ChannelKind = iota
	ChannelKindText
	ChannelKindCategory
)

// ButtonStyle mirrors the platform's component styles.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota + 1
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

// Button is an interactive control attached to a message, identified by a
// stable custom id.
type Button struct {
	ID       string
	Label    string
	Style    ButtonStyle
	Disabled bool
}

// Reply is an outbound message: plain content plus optional buttons.
// Ephemeral replies are visible to the triggering user only and are valid
// solely as interaction responses.
type Reply struct {
	Content   string
	Ephemeral bool
	Buttons   []Button
}

// Member is the subset of member state the workflow needs.
type Member struct {
	UserID   UserID
	Username string
}

// API is the narrow surface over the chat platform consumed by the
// onboarding workflow and the dispatcher.
type API interface {
	// CreateVerificationChannel creates a private text channel named name
	// under the given category, visible only to staff and the given member
	// (view, read-history, send).
	CreateVerificationChannel(ctx context.Context, guild GuildID, name string, category ChannelID, member UserID) (ChannelID, error)

	// MarkChannelArchived renames the channel with the archival prefix.
	// Renaming an already-marked channel is a no-op.
	MarkChannelArchived(ctx context.Context, channel ChannelID) error
	DeleteChannel(ctx context.Context, channel ChannelID) error

	// RemoveMemberOverride deletes the member's permission override on the
	// channel, revoking the access CreateVerificationChannel granted.
	RemoveMemberOverride(ctx context.Context, channel ChannelID, member UserID) error

	GrantRole(ctx context.Context, guild GuildID, member UserID, role RoleID) error
	RoleExists(ctx context.Context, guild GuildID, role RoleID) (bool, error)
	KickMember(ctx context.Context, guild GuildID, member UserID, reason string) error

	SendMessage(ctx context.Context, channel ChannelID, reply Reply) (MessageID, error)
	EditMessageButtons(ctx context.Context, channel ChannelID, message MessageID, buttons []Button) error

	// MessageExists reports whether the message is still present. A platform
	// "not found" maps to (false, nil); transient failures return a non-nil
	// error so callers can tell deletion from outage.
	MessageExists(ctx context.Context, channel ChannelID, message MessageID) (bool, error)

	ChannelKind(ctx context.Context, guild GuildID, channel ChannelID) (ChannelKind, error)

	GuildOwner(ctx context.Context, guild GuildID) (UserID, error)
	MemberHasRole(ctx context.Context, guild GuildID, member UserID, role RoleID) (bool, error)
	GuildMember(ctx context.Context, guild GuildID, member UserID) (Member, error)
}

// Stable custom ids for the interactive controls this bot produces. These
// are wire identifiers: changing them orphans buttons on messages already
// posted.
const (
	CustomIDStart   = "onboarding_start"
	CustomIDArchive = "onboarding_archive"
	CustomIDDelete  = "onboarding_delete"

	CustomIDSetupOnboarding = "setup_onboarding"
	CustomIDSetupGoBack     = "setup_go_back"
	CustomIDSetupDone       = "setup_done"
)

// Mention helpers. Rendering mentions is string formatting on the platform
// side, kept here so message text stays out of the workflow engine.
func MentionUser(id UserID) string       { return "<@" + string(id) + ">" }
func MentionRole(id RoleID) string       { return "<@&" + string(id) + ">" }
func MentionChannel(id ChannelID) string { return "<#" + string(id) + ">" }
