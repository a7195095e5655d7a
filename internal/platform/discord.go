package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Discord implements API over a discordgo session.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord wraps an already-opened discordgo session.
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

// memberPermissions is the access a pending member gets on their
// verification channel: see it, read its history, write in it.
const memberPermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionSendMessages

func (d *Discord) CreateVerificationChannel(ctx context.Context, guild GuildID, name string, category ChannelID, member UserID) (ChannelID, error) {
	channel, err := d.session.GuildChannelCreateComplex(string(guild), discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: string(category),
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{
				// @everyone shares its id with the guild.
				ID:   string(guild),
				Type: discordgo.PermissionOverwriteTypeRole,
				Deny: discordgo.PermissionViewChannel,
			},
			{
				ID:    string(member),
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: memberPermissions,
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("creating verification channel: %w", err)
	}
	return ChannelID(channel.ID), nil
}

// ArchivedPrefix marks verification channels kept around after their review
// was archived.
const ArchivedPrefix = "archived-"

// channelGone reports whether err is the platform's unknown-channel answer.
func channelGone(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Message != nil &&
		restErr.Message.Code == discordgo.ErrCodeUnknownChannel
}

func (d *Discord) MarkChannelArchived(ctx context.Context, channel ChannelID) error {
	ch, err := d.session.Channel(string(channel), discordgo.WithContext(ctx))
	if channelGone(err) {
		return fmt.Errorf("fetching channel %s: %w", channel, ErrChannelGone)
	}
	if err != nil {
		return fmt.Errorf("fetching channel %s: %w", channel, err)
	}
	if strings.HasPrefix(ch.Name, ArchivedPrefix) {
		return nil
	}
	_, err = d.session.ChannelEdit(string(channel), &discordgo.ChannelEdit{Name: ArchivedPrefix + ch.Name}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("renaming channel %s: %w", channel, err)
	}
	return nil
}

func (d *Discord) DeleteChannel(ctx context.Context, channel ChannelID) error {
	if _, err := d.session.ChannelDelete(string(channel), discordgo.WithContext(ctx)); err != nil {
		if channelGone(err) {
			return fmt.Errorf("deleting channel %s: %w", channel, ErrChannelGone)
		}
		return fmt.Errorf("deleting channel %s: %w", channel, err)
	}
	return nil
}

func (d *Discord) RemoveMemberOverride(ctx context.Context, channel ChannelID, member UserID) error {
	if err := d.session.ChannelPermissionDelete(string(channel), string(member), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("removing channel override for %s: %w", member, err)
	}
	return nil
}

func (d *Discord) GrantRole(ctx context.Context, guild GuildID, member UserID, role RoleID) error {
	if err := d.session.GuildMemberRoleAdd(string(guild), string(member), string(role), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("granting role %s to %s: %w", role, member, err)
	}
	return nil
}

func (d *Discord) RoleExists(ctx context.Context, guild GuildID, role RoleID) (bool, error) {
	roles, err := d.session.GuildRoles(string(guild), discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("listing roles for guild %s: %w", guild, err)
	}
	for _, r := range roles {
		if r.ID == string(role) {
			return true, nil
		}
	}
	return false, nil
}

func (d *Discord) KickMember(ctx context.Context, guild GuildID, member UserID, reason string) error {
	if err := d.session.GuildMemberDeleteWithReason(string(guild), string(member), reason, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("kicking member %s: %w", member, err)
	}
	return nil
}

func (d *Discord) SendMessage(ctx context.Context, channel ChannelID, reply Reply) (MessageID, error) {
	send := &discordgo.MessageSend{Content: reply.Content}
	if len(reply.Buttons) > 0 {
		send.Components = []discordgo.MessageComponent{ButtonRow(reply.Buttons)}
	}
	message, err := d.session.ChannelMessageSendComplex(string(channel), send, discordgo.WithContext(ctx))
	if channelGone(err) {
		return "", fmt.Errorf("sending message to %s: %w", channel, ErrChannelGone)
	}
	if err != nil {
		return "", fmt.Errorf("sending message to %s: %w", channel, err)
	}
	return MessageID(message.ID), nil
}

func (d *Discord) EditMessageButtons(ctx context.Context, channel ChannelID, message MessageID, buttons []Button) error {
	components := []discordgo.MessageComponent{ButtonRow(buttons)}
	_, err := d.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    string(channel),
		ID:         string(message),
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("editing message %s buttons: %w", message, err)
	}
	return nil
}

func (d *Discord) MessageExists(ctx context.Context, channel ChannelID, message MessageID) (bool, error) {
	_, err := d.session.ChannelMessage(string(channel), string(message), discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return false, nil
		}
	}
	return false, fmt.Errorf("fetching message %s: %w", message, err)
}

func (d *Discord) ChannelKind(ctx context.Context, guild GuildID, channel ChannelID) (ChannelKind, error) {
	ch, err := d.session.Channel(string(channel), discordgo.WithContext(ctx))
	if channelGone(err) {
		return ChannelKindUnknown, fmt.Errorf("fetching channel %s: %w", channel, ErrChannelGone)
	}
	if err != nil {
		return ChannelKindUnknown, fmt.Errorf("fetching channel %s: %w", channel, err)
	}
	if ch.GuildID != string(guild) {
		return ChannelKindUnknown, fmt.Errorf("channel %s does not belong to guild %s", channel, guild)
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildCategory:
		return ChannelKindCategory, nil
	case discordgo.ChannelTypeGuildText:
		return ChannelKindText, nil
	default:
		return ChannelKindUnknown, nil
	}
}

func (d *Discord) GuildOwner(ctx context.Context, guild GuildID) (UserID, error) {
	g, err := d.session.Guild(string(guild), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetching guild %s: %w", guild, err)
	}
	return UserID(g.OwnerID), nil
}

func (d *Discord) MemberHasRole(ctx context.Context, guild GuildID, member UserID, role RoleID) (bool, error) {
	m, err := d.session.GuildMember(string(guild), string(member), discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("fetching member %s: %w", member, err)
	}
	for _, r := range m.Roles {
		if r == string(role) {
			return true, nil
		}
	}
	return false, nil
}

func (d *Discord) GuildMember(ctx context.Context, guild GuildID, member UserID) (Member, error) {
	m, err := d.session.GuildMember(string(guild), string(member), discordgo.WithContext(ctx))
	if err != nil {
		return Member{}, fmt.Errorf("fetching member %s: %w", member, err)
	}
	return Member{UserID: UserID(m.User.ID), Username: m.User.Username}, nil
}

// ButtonRow converts buttons into a discordgo action row. Shared with the
// gateway glue, which builds interaction responses itself.
func ButtonRow(buttons []Button) discordgo.ActionsRow {
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			CustomID: b.ID,
			Label:    b.Label,
			Style:    discordgo.ButtonStyle(b.Style),
			Disabled: b.Disabled,
		})
	}
	return row
}

var _ API = (*Discord)(nil)
