package onboarding

import (
	"context"
	"fmt"

	"github.com/transpouce/poucet/internal/platform"
	"github.com/transpouce/poucet/internal/store"
)

// SetupParams are the values the /setup command collects. The
// introductions and role-assignment channels are optional; everything else
// is required for a configured guild.
type SetupParams struct {
	AdminRole             platform.RoleID
	ValidatedRole         platform.RoleID
	VerificationCategory  platform.ChannelID
	WelcomeChannel        platform.ChannelID
	IntroductionsChannel  platform.ChannelID
	RoleAssignmentChannel platform.ChannelID

	// Anew allows overwriting an existing configuration.
	Anew bool
}

// Setup validates every referenced role and channel against the platform and
// persists the guild configuration in one shot. Any validation failure
// returns before the first write, so a prior configuration is never
// clobbered by a bad attempt.
func (e *Engine) Setup(ctx context.Context, guild platform.GuildID, params SetupParams) error {
	serves, err := e.store.ServesGuild(ctx, guild)
	if err != nil {
		return err
	}
	if serves && !params.Anew {
		return ErrAlreadyConfigured
	}

	for _, role := range []struct {
		field string
		id    platform.RoleID
	}{
		{"admin_role", params.AdminRole},
		{"validated_role", params.ValidatedRole},
	} {
		if role.id == "" {
			return &ConfigError{Field: role.field, Detail: "not given"}
		}
		exists, err := e.platform.RoleExists(ctx, guild, role.id)
		if err != nil {
			return err
		}
		if !exists {
			return &ConfigError{Field: role.field, Detail: fmt.Sprintf("role %s does not exist", role.id)}
		}
	}

	if err := e.requireChannelKind(ctx, guild, "verification_category", params.VerificationCategory, platform.ChannelKindCategory); err != nil {
		return err
	}
	if err := e.requireChannelKind(ctx, guild, "welcome_channel", params.WelcomeChannel, platform.ChannelKindText); err != nil {
		return err
	}
	if params.IntroductionsChannel != "" {
		if err := e.requireChannelKind(ctx, guild, "introductions_channel", params.IntroductionsChannel, platform.ChannelKindText); err != nil {
			return err
		}
	}
	if params.RoleAssignmentChannel != "" {
		if err := e.requireChannelKind(ctx, guild, "role_assignment_channel", params.RoleAssignmentChannel, platform.ChannelKindText); err != nil {
			return err
		}
	}

	return e.store.SaveGuildConfig(ctx, guild, store.GuildConfig{
		Configured:            true,
		AdminRole:             params.AdminRole,
		ValidatedRole:         params.ValidatedRole,
		VerificationCategory:  params.VerificationCategory,
		WelcomeChannel:        params.WelcomeChannel,
		IntroductionsChannel:  params.IntroductionsChannel,
		RoleAssignmentChannel: params.RoleAssignmentChannel,
	})
}

func (e *Engine) requireChannelKind(ctx context.Context, guild platform.GuildID, field string, channel platform.ChannelID, want platform.ChannelKind) error {
	if channel == "" {
		return &ConfigError{Field: field, Detail: "not given"}
	}
	kind, err := e.platform.ChannelKind(ctx, guild, channel)
	if err != nil {
		return err
	}
	if kind != want {
		detail := fmt.Sprintf("channel %s is not a text channel", channel)
		if want == platform.ChannelKindCategory {
			detail = fmt.Sprintf("channel %s is not a category", channel)
		}
		return &ConfigError{Field: field, Detail: detail}
	}
	return nil
}

// ConfigureNotifyRole records the staff role pinged when new members request
// verification. Admin-only.
func (e *Engine) ConfigureNotifyRole(ctx context.Context, guild platform.GuildID, actor platform.UserID, role platform.RoleID) error {
	if err := e.Authorized(ctx, guild, actor); err != nil {
		return err
	}
	exists, err := e.platform.RoleExists(ctx, guild, role)
	if err != nil {
		return err
	}
	if !exists {
		return &ConfigError{Field: "notify_role", Detail: fmt.Sprintf("role %s does not exist", role)}
	}
	return e.store.SetNotifyRole(ctx, guild, role)
}
