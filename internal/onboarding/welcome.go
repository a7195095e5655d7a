package onboarding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/transpouce/poucet/internal/platform"
)

// welcomeText is the standing instructions message carrying the
// verification button.
const welcomeText = "👋 Welcome! To get access to the server, press the button below " +
	"and a staff member will get you verified."

// ReconcileWelcome makes sure the guild's welcome channel carries the
// standing instructions message. Run at connect/resume: the message can have
// been deleted out-of-band while the bot was away. Only a confirmed
// "message gone" triggers a repost; a transient retrieval failure must not
// produce duplicates.
func (e *Engine) ReconcileWelcome(ctx context.Context, guild platform.GuildID) error {
	cfg, err := e.store.LoadGuildConfig(ctx, guild)
	if err != nil {
		return err
	}

	recorded, err := e.store.WelcomeMessage(ctx, guild)
	if err != nil {
		return err
	}
	if recorded != "" {
		exists, err := e.platform.MessageExists(ctx, cfg.WelcomeChannel, recorded)
		if err != nil {
			return fmt.Errorf("checking welcome message %s: %w", recorded, err)
		}
		if exists {
			return nil
		}
		slog.Info("onboarding: recorded welcome message is gone, reposting", "guild", guild, "message", recorded)
	}

	posted, err := e.platform.SendMessage(ctx, cfg.WelcomeChannel, platform.Reply{
		Content: welcomeText,
		Buttons: []platform.Button{
			{ID: platform.CustomIDStart, Label: "Request access", Style: platform.ButtonPrimary},
		},
	})
	if err != nil {
		return fmt.Errorf("posting welcome message: %w", err)
	}
	return e.store.SetWelcomeMessage(ctx, guild, posted)
}
