package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/transpouce/poucet/internal/dispatch"
	"github.com/transpouce/poucet/internal/platform"
)

// eventTimeout bounds the handling of a single gateway event. The platform
// client enforces its own per-call timeouts; this is the backstop so a stuck
// event cannot pin a goroutine forever.
const eventTimeout = 30 * time.Second

// bot bridges discordgo gateway callbacks into the dispatcher's closed event
// set and renders its responses back as interaction replies.
type bot struct {
	session    *discordgo.Session
	dispatcher *dispatch.Dispatcher
	devMode    bool
}

func newBot(session *discordgo.Session, dispatcher *dispatch.Dispatcher, devMode bool) *bot {
	return &bot{session: session, dispatcher: dispatcher, devMode: devMode}
}

func (b *bot) installHandlers() {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onResumed)
	b.session.AddHandler(b.onInteraction)
	b.session.AddHandler(b.onMemberAdd)
	b.session.AddHandler(b.onMemberRemove)
}

func (b *bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("poucet: authenticated as %s", r.User.String())

	b.registerCommands(r)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	guilds := make([]platform.GuildID, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		guilds = append(guilds, platform.GuildID(g.ID))
	}
	b.dispatcher.HandleReconnected(ctx, dispatch.Reconnected{Guilds: guilds})
}

func (b *bot) onResumed(s *discordgo.Session, _ *discordgo.Resumed) {
	log.Printf("poucet: gateway session resumed")

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	var guilds []platform.GuildID
	for _, g := range s.State.Guilds {
		guilds = append(guilds, platform.GuildID(g.ID))
	}
	b.dispatcher.HandleReconnected(ctx, dispatch.Reconnected{Guilds: guilds})
}

func (b *bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil {
		// DM interactions are not part of the workflow.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		resp := b.dispatcher.HandleCommand(ctx, slashEvent(i))
		b.respond(i, resp)

	case discordgo.InteractionMessageComponent:
		resp := b.dispatcher.HandleButton(ctx, buttonEvent(i))
		b.respond(i, resp)
	}
}

func slashEvent(i *discordgo.InteractionCreate) dispatch.SlashCommand {
	data := i.ApplicationCommandData()
	ev := dispatch.SlashCommand{
		Guild:   platform.GuildID(i.GuildID),
		Channel: platform.ChannelID(i.ChannelID),
		User:    platform.UserID(i.Member.User.ID),
		Name:    data.Name,
		Options: map[string]string{},
	}

	options := data.Options
	if len(options) == 1 && options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		ev.Subcommand = options[0].Name
		options = options[0].Options
	}
	for _, opt := range options {
		ev.Options[opt.Name] = optionValue(opt)
	}
	return ev
}

func optionValue(opt *discordgo.ApplicationCommandInteractionDataOption) string {
	switch opt.Type {
	case discordgo.ApplicationCommandOptionBoolean:
		return strconv.FormatBool(opt.BoolValue())
	case discordgo.ApplicationCommandOptionInteger:
		return strconv.FormatInt(opt.IntValue(), 10)
	default:
		// Role, channel, user and string options all carry their id/value
		// as a plain string.
		if s, ok := opt.Value.(string); ok {
			return s
		}
		return fmt.Sprint(opt.Value)
	}
}

func buttonEvent(i *discordgo.InteractionCreate) dispatch.ButtonPress {
	ev := dispatch.ButtonPress{
		Guild:    platform.GuildID(i.GuildID),
		Channel:  platform.ChannelID(i.ChannelID),
		User:     platform.UserID(i.Member.User.ID),
		Username: i.Member.User.Username,
		CustomID: i.MessageComponentData().CustomID,
	}
	if i.Message != nil {
		ev.Message = platform.MessageID(i.Message.ID)
	}
	return ev
}

// respond renders a dispatcher response as the interaction's answer.
func (b *bot) respond(i *discordgo.InteractionCreate, resp dispatch.Response) {
	switch {
	case resp.Reply != nil:
		data := &discordgo.InteractionResponseData{Content: resp.Reply.Content}
		if resp.Reply.Ephemeral {
			data.Flags = discordgo.MessageFlagsEphemeral
		}
		if len(resp.Reply.Buttons) > 0 {
			data.Components = []discordgo.MessageComponent{platform.ButtonRow(resp.Reply.Buttons)}
		}
		b.send(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		})

	case resp.Update != nil:
		data := &discordgo.InteractionResponseData{Content: resp.Update.Content}
		if resp.Update.Buttons != nil {
			data.Components = []discordgo.MessageComponent{platform.ButtonRow(resp.Update.Buttons)}
		}
		b.send(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: data,
		})

	case resp.Delete:
		b.send(i, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
		if i.Message != nil {
			if err := b.session.ChannelMessageDelete(i.ChannelID, i.Message.ID); err != nil {
				log.Printf("poucet: deleting stale control message: %v", err)
			}
		}

	default:
		// Acknowledge silently so the platform does not flag the
		// interaction as failed.
		b.send(i, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
	}
}

func (b *bot) send(i *discordgo.InteractionCreate, resp *discordgo.InteractionResponse) {
	if err := b.session.InteractionRespond(i.Interaction, resp); err != nil {
		log.Printf("poucet: responding to interaction: %v", err)
	}
}

func (b *bot) onMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	b.dispatcher.HandleMemberJoined(ctx, dispatch.MemberJoined{
		Guild:    platform.GuildID(m.GuildID),
		User:     platform.UserID(m.User.ID),
		Username: m.User.Username,
	})
}

func (b *bot) onMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	b.dispatcher.HandleMemberLeft(ctx, dispatch.MemberLeft{
		Guild: platform.GuildID(m.GuildID),
		User:  platform.UserID(m.User.ID),
	})
	slog.Debug("poucet: member removed", "guild", m.GuildID, "user", m.User.ID)
}
