package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"

	"github.com/transpouce/poucet/internal/onboarding"
	"github.com/transpouce/poucet/internal/platform"
	"github.com/transpouce/poucet/internal/store"
)

// User-facing notices. The dispatcher is the only layer producing these.
const (
	msgNotConfigured = "I am not configured to work on this server, I can't execute this command! " +
		"Have an admin configure me using the /setup command."
	msgUnauthorized = "This is an admin command, you do not have the required rights to run it!"
	msgWrongChannel = "This command must be run in the corresponding validation channel."
	msgAlreadyConfigured = "I'm already configured to serve this guild! " +
		"Run this command again with the `anew` parameter set to `true` to reconfigure me."
	msgBadConfig = "Got incorrect configuration, please make sure the values you pass are of the right type!"
	msgFailure   = "Something went wrong while running that, sorry! Please try again or check the logs."
	msgFallback  = "Not implemented (yet!)"
)

// Dispatcher routes the closed event set to workflow handlers and maps their
// outcomes to replies.
type Dispatcher struct {
	store    onboarding.Store
	engine   *onboarding.Engine
	platform platform.API
}

// New creates a dispatcher.
func New(st onboarding.Store, engine *onboarding.Engine, api platform.API) *Dispatcher {
	return &Dispatcher{store: st, engine: engine, platform: api}
}

// HandleCommand routes a slash command.
func (d *Dispatcher) HandleCommand(ctx context.Context, ev SlashCommand) Response {
	switch ev.Name {
	case "ping", "miniping":
		return reply("Pong!")

	case "setup":
		return d.handleSetup(ctx, ev)

	case "onboarding":
		serves, err := d.store.ServesGuild(ctx, ev.Guild)
		if err != nil {
			return d.errorResponse(err)
		}
		if !serves {
			return ephemeral(msgNotConfigured)
		}
		switch ev.Subcommand {
		case "configure":
			return d.handleConfigure(ctx, ev)
		case "approve":
			return d.handleApprove(ctx, ev)
		case "deny":
			return d.handleDeny(ctx, ev)
		default:
			return ephemeral(msgFallback)
		}

	default:
		return ephemeral(msgFallback)
	}
}

func (d *Dispatcher) handleSetup(ctx context.Context, ev SlashCommand) Response {
	params := onboarding.SetupParams{
		AdminRole:             platform.RoleID(ev.Options["admin_role"]),
		ValidatedRole:         platform.RoleID(ev.Options["validated_role"]),
		VerificationCategory:  platform.ChannelID(ev.Options["verification_category"]),
		WelcomeChannel:        platform.ChannelID(ev.Options["welcome_channel"]),
		IntroductionsChannel:  platform.ChannelID(ev.Options["introductions_channel"]),
		RoleAssignmentChannel: platform.ChannelID(ev.Options["role_assignment_channel"]),
		Anew:                  ev.Options["anew"] == "true",
	}
	if err := d.engine.Setup(ctx, ev.Guild, params); err != nil {
		return d.errorResponse(err)
	}
	return Response{Reply: &platform.Reply{
		Content: "🙌 All set! Poucet is now ready to use 🤖✨\nPick a feature below to finish setting it up.",
		Buttons: wizardHomeButtons(),
	}}
}

func (d *Dispatcher) handleConfigure(ctx context.Context, ev SlashCommand) Response {
	role := platform.RoleID(ev.Options["notify_role"])
	if err := d.engine.ConfigureNotifyRole(ctx, ev.Guild, ev.User, role); err != nil {
		return d.errorResponse(err)
	}
	return reply(fmt.Sprintf("✅ Set %s as the staff role to notify when new members join", platform.MentionRole(role)))
}

func (d *Dispatcher) handleApprove(ctx context.Context, ev SlashCommand) Response {
	res, err := d.engine.Approve(ctx, ev.Guild, ev.User, ev.Channel)
	if err != nil {
		if errors.Is(err, onboarding.ErrWrongChannel) {
			return ephemeral("The member approval command must be run in the corresponding validation channel.")
		}
		return d.errorResponse(err)
	}
	return Response{Reply: &platform.Reply{
		Content: fmt.Sprintf("Approved %s%s", platform.MentionUser(res.Member.UserID), usernameSuffix(res.Member)),
		Buttons: onboarding.ReviewButtons(false),
	}}
}

func (d *Dispatcher) handleDeny(ctx context.Context, ev SlashCommand) Response {
	res, err := d.engine.Deny(ctx, ev.Guild, ev.User, ev.Channel)
	if err != nil {
		if errors.Is(err, onboarding.ErrWrongChannel) {
			return ephemeral("The member denial command must be run in the corresponding validation channel.")
		}
		return d.errorResponse(err)
	}
	return Response{Reply: &platform.Reply{
		Content: fmt.Sprintf("Denied %s%s", platform.MentionUser(res.Member.UserID), usernameSuffix(res.Member)),
		Buttons: onboarding.ReviewButtons(false),
	}}
}

func usernameSuffix(m platform.Member) string {
	if m.Username == "" {
		return ""
	}
	return " (" + m.Username + ")"
}

// HandleButton routes a component interaction by its custom id. Identifiers
// the bot no longer tracks are treated as stale and their message is cleaned
// up instead of erroring loudly.
func (d *Dispatcher) HandleButton(ctx context.Context, ev ButtonPress) Response {
	switch ev.CustomID {
	case platform.CustomIDStart:
		res, err := d.engine.Start(ctx, ev.Guild, ev.User, ev.Username)
		if err != nil {
			return d.errorResponse(err)
		}
		if res.Already {
			return ephemeral(fmt.Sprintf("You already have a verification channel open: %s", platform.MentionChannel(res.Channel)))
		}
		return ephemeral(fmt.Sprintf("✅ Created %s for you — a staff member will be with you shortly.", platform.MentionChannel(res.Channel)))

	case platform.CustomIDArchive:
		detached, err := d.engine.Archive(ctx, ev.Guild, ev.Channel)
		if err != nil {
			return d.errorResponse(err)
		}
		if !detached {
			slog.Info("dispatch: archive pressed on already-detached channel", "channel", ev.Channel)
		}
		// Keep the message text, disable Archive, leave Delete usable.
		return Response{Update: &platform.Reply{Buttons: onboarding.ReviewButtons(true)}}

	case platform.CustomIDDelete:
		if err := d.engine.Delete(ctx, ev.Guild, ev.Channel); err != nil {
			return d.errorResponse(err)
		}
		// The channel (and the control message with it) is gone; there is
		// nothing left to answer.
		return Response{}

	case platform.CustomIDSetupOnboarding:
		return Response{Update: &platform.Reply{
			Content: "**Onboarding**\nNew members are verified in private channels before getting access.\n" +
				"Use `/onboarding configure` to pick the staff role pinged when someone requests access.",
			Buttons: wizardOnboardingButtons(),
		}}

	case platform.CustomIDSetupGoBack:
		return Response{Update: &platform.Reply{
			Content: "Pick a feature below to finish setting it up.",
			Buttons: wizardHomeButtons(),
		}}

	case platform.CustomIDSetupDone:
		return Response{Update: &platform.Reply{
			Content: "🙌 Setup finished. Poucet is ready 🤖✨",
			Buttons: []platform.Button{},
		}}

	default:
		log.Printf("dispatch: stale component interaction %q on message %s, cleaning up", ev.CustomID, ev.Message)
		return Response{Delete: true}
	}
}

func wizardHomeButtons() []platform.Button {
	return []platform.Button{
		{ID: platform.CustomIDSetupOnboarding, Label: "Onboarding", Style: platform.ButtonPrimary},
		{ID: platform.CustomIDSetupDone, Label: "Done", Style: platform.ButtonSuccess},
	}
}

func wizardOnboardingButtons() []platform.Button {
	return []platform.Button{
		{ID: platform.CustomIDSetupGoBack, Label: "Go back", Style: platform.ButtonSecondary},
		{ID: platform.CustomIDSetupDone, Label: "Done", Style: platform.ButtonSuccess},
	}
}

// HandleMemberJoined records the arrival. Verification only starts when the
// member presses the welcome button, so there is nothing else to do.
func (d *Dispatcher) HandleMemberJoined(ctx context.Context, ev MemberJoined) {
	slog.Debug("dispatch: member joined", "guild", ev.Guild, "user", ev.User, "username", ev.Username)
}

// HandleMemberLeft notifies staff when a member with a pending review
// leaves. No reply surface exists for gateway events; failures are logged.
func (d *Dispatcher) HandleMemberLeft(ctx context.Context, ev MemberLeft) {
	channel, pending, err := d.engine.MemberLeft(ctx, ev.Guild, ev.User)
	if err != nil {
		log.Printf("dispatch: member-left handling for %s failed: %v", ev.User, err)
		return
	}
	if pending {
		slog.Info("dispatch: pending member left", "guild", ev.Guild, "user", ev.User, "channel", channel)
	}
}

// HandleReconnected repairs externally-visible state after a gateway
// (re)connect: every configured guild gets its welcome message verified and
// reposted if it was deleted while the bot was away.
func (d *Dispatcher) HandleReconnected(ctx context.Context, ev Reconnected) {
	for _, guild := range ev.Guilds {
		serves, err := d.store.ServesGuild(ctx, guild)
		if err != nil {
			log.Printf("dispatch: configured check for guild %s failed: %v", guild, err)
			continue
		}
		if !serves {
			continue
		}
		if err := d.engine.ReconcileWelcome(ctx, guild); err != nil {
			log.Printf("dispatch: welcome reconciliation for guild %s failed: %v", guild, err)
		}
	}
}

// errorResponse maps a workflow error to its user-visible notice. Local
// outcomes are not logged as failures; configuration and external errors
// are.
func (d *Dispatcher) errorResponse(err error) Response {
	var cfgErr *onboarding.ConfigError
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		return ephemeral(msgNotConfigured)
	case errors.Is(err, onboarding.ErrUnauthorized):
		return ephemeral(msgUnauthorized)
	case errors.Is(err, onboarding.ErrWrongChannel):
		return ephemeral(msgWrongChannel)
	case errors.Is(err, onboarding.ErrAlreadyConfigured):
		return ephemeral(msgAlreadyConfigured)
	case errors.As(err, &cfgErr):
		log.Printf("dispatch: configuration error: %v", err)
		return ephemeral(msgBadConfig)
	default:
		log.Printf("dispatch: handler error: %v", err)
		return ephemeral(msgFailure)
	}
}
