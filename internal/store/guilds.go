package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/transpouce/poucet/internal/platform"
	"github.com/transpouce/poucet/internal/telemetry"
)

// GuildConfig is the per-guild setup record. Introductions and
// role-assignment channels are optional pointers for the approval welcome
// post; everything else is required for a configured guild.
type GuildConfig struct {
	Configured            bool
	AdminRole             platform.RoleID
	ValidatedRole         platform.RoleID
	VerificationCategory  platform.ChannelID
	WelcomeChannel        platform.ChannelID
	IntroductionsChannel  platform.ChannelID
	RoleAssignmentChannel platform.ChannelID
}

// Guild hash fields.
const (
	fieldConfigured            = "configured"
	fieldAdminRole             = "admin_role"
	fieldValidatedRole         = "validated_role"
	fieldVerificationCategory  = "verification_category"
	fieldWelcomeChannel        = "welcome_channel"
	fieldIntroductionsChannel  = "introductions_channel"
	fieldRoleAssignmentChannel = "role_assignment_channel"

	fieldNotifyRole     = "notify_role"
	fieldWelcomeMessage = "welcome_message"
)

// ServesGuild reports whether the guild completed setup. This is the
// dispatcher's cheap gate for feature commands.
func (s *Store) ServesGuild(ctx context.Context, guild platform.GuildID) (bool, error) {
	configured, err := s.client.HGet(ctx, guildKey(string(guild)), fieldConfigured).Bool()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading configured flag for guild %s: %w", guild, err)
	}
	return configured, nil
}

// LoadGuildConfig reads the guild's setup record. Returns ErrNotConfigured
// when setup never completed.
func (s *Store) LoadGuildConfig(ctx context.Context, guild platform.GuildID) (GuildConfig, error) {
	values, err := s.client.HMGet(ctx, guildKey(string(guild)),
		fieldConfigured,
		fieldAdminRole,
		fieldValidatedRole,
		fieldVerificationCategory,
		fieldWelcomeChannel,
		fieldIntroductionsChannel,
		fieldRoleAssignmentChannel,
	).Result()
	if err != nil {
		return GuildConfig{}, fmt.Errorf("loading config for guild %s: %w", guild, err)
	}

	field := func(i int) string {
		v, _ := values[i].(string)
		return v
	}

	if field(0) != "1" && field(0) != "true" {
		return GuildConfig{}, ErrNotConfigured
	}

	return GuildConfig{
		Configured:            true,
		AdminRole:             platform.RoleID(field(1)),
		ValidatedRole:         platform.RoleID(field(2)),
		VerificationCategory:  platform.ChannelID(field(3)),
		WelcomeChannel:        platform.ChannelID(field(4)),
		IntroductionsChannel:  platform.ChannelID(field(5)),
		RoleAssignmentChannel: platform.ChannelID(field(6)),
	}, nil
}

// SaveGuildConfig persists the setup record. Fields are written before the
// configured flag, so a concurrent reader never observes a half-written
// record as configured. Validation of the referenced roles and channels is
// the caller's job; Save only persists.
func (s *Store) SaveGuildConfig(ctx context.Context, guild platform.GuildID, cfg GuildConfig) error {
	key := guildKey(string(guild))

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fieldAdminRole, string(cfg.AdminRole))
	pipe.HSet(ctx, key, fieldValidatedRole, string(cfg.ValidatedRole))
	pipe.HSet(ctx, key, fieldVerificationCategory, string(cfg.VerificationCategory))
	pipe.HSet(ctx, key, fieldWelcomeChannel, string(cfg.WelcomeChannel))
	// Optional channels are deleted when unset so a reconfigure replaces the
	// whole record instead of merging with a previous one.
	if cfg.IntroductionsChannel != "" {
		pipe.HSet(ctx, key, fieldIntroductionsChannel, string(cfg.IntroductionsChannel))
	} else {
		pipe.HDel(ctx, key, fieldIntroductionsChannel)
	}
	if cfg.RoleAssignmentChannel != "" {
		pipe.HSet(ctx, key, fieldRoleAssignmentChannel, string(cfg.RoleAssignmentChannel))
	} else {
		pipe.HDel(ctx, key, fieldRoleAssignmentChannel)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.RecordStoreError(ctx, "save_guild_config")
		return fmt.Errorf("saving config for guild %s: %w", guild, err)
	}

	// Written last: the record only becomes configured once every field
	// above landed.
	if err := s.client.HSet(ctx, key, fieldConfigured, cfg.Configured).Err(); err != nil {
		telemetry.RecordStoreError(ctx, "save_guild_config")
		return fmt.Errorf("saving configured flag for guild %s: %w", guild, err)
	}
	return nil
}

// NotifyRole returns the staff role to ping on new verification requests,
// or ("", nil) when none is configured.
func (s *Store) NotifyRole(ctx context.Context, guild platform.GuildID) (platform.RoleID, error) {
	role, err := s.client.HGet(ctx, onboardingKey(string(guild)), fieldNotifyRole).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading notify role for guild %s: %w", guild, err)
	}
	return platform.RoleID(role), nil
}

// SetNotifyRole persists the onboarding notify role.
func (s *Store) SetNotifyRole(ctx context.Context, guild platform.GuildID, role platform.RoleID) error {
	if err := s.client.HSet(ctx, onboardingKey(string(guild)), fieldNotifyRole, string(role)).Err(); err != nil {
		return fmt.Errorf("saving notify role for guild %s: %w", guild, err)
	}
	return nil
}

// WelcomeMessage returns the recorded welcome message id, or ("", nil) when
// none was ever posted.
func (s *Store) WelcomeMessage(ctx context.Context, guild platform.GuildID) (platform.MessageID, error) {
	id, err := s.client.HGet(ctx, onboardingKey(string(guild)), fieldWelcomeMessage).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading welcome message for guild %s: %w", guild, err)
	}
	return platform.MessageID(id), nil
}

// SetWelcomeMessage records the id of the posted welcome message.
func (s *Store) SetWelcomeMessage(ctx context.Context, guild platform.GuildID, id platform.MessageID) error {
	if err := s.client.HSet(ctx, onboardingKey(string(guild)), fieldWelcomeMessage, string(id)).Err(); err != nil {
		return fmt.Errorf("saving welcome message for guild %s: %w", guild, err)
	}
	return nil
}
