package main

import (
	"log"

	"github.com/bwmarrin/discordgo"
)

// applicationCommands is the full slash-command surface. Role and channel
// references arrive as platform ids; validation happens in the workflow
// engine, not here.
func applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "ping",
			Description: "Am I responding? Use this command to find out!",
		},
		{
			Name:        "setup",
			Description: "Configure Poucet to serve this guild",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "admin_role",
					Description: "The role that is allowed to run restricted commands",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "validated_role",
					Description: "The role granted to members once their verification is approved",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "verification_category",
					Description: "Category in which to create private channels for member verification",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "welcome_channel",
					Description: "Channel in which to post a welcome message for new members",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "introductions_channel",
					Description: "Channel where approved members can introduce themselves",
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "role_assignment_channel",
					Description: "Channel where approved members can pick roles",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "anew",
					Description: "Run setup for an already configured guild",
				},
			},
		},
		{
			Name:        "onboarding",
			Description: "Member verification commands",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "configure",
					Description: "Configure onboarding in this guild",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "notify_role",
							Description: "The staff role to notify when a new member requests access to the server",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "approve",
					Description: "Approve a member's request to join the server",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "deny",
					Description: "Deny a member's request to join the server",
				},
			},
		},
	}
}

// registerCommands registers the slash commands: per guild in dev mode so
// they are available immediately, globally otherwise.
func (b *bot) registerCommands(r *discordgo.Ready) {
	commands := applicationCommands()

	if b.devMode {
		for _, g := range r.Guilds {
			created, err := b.session.ApplicationCommandBulkOverwrite(r.User.ID, g.ID, commands)
			if err != nil {
				log.Printf("poucet: registering slash commands in guild %s: %v", g.ID, err)
				continue
			}
			log.Printf("poucet: registered %d slash commands in guild %s", len(created), g.ID)
		}
		return
	}

	created, err := b.session.ApplicationCommandBulkOverwrite(r.User.ID, "", commands)
	if err != nil {
		log.Printf("poucet: registering global slash commands: %v", err)
		return
	}
	log.Printf("poucet: registered %d global slash commands", len(created))
}
