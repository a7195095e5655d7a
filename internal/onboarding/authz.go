package onboarding

import (
	"context"
	"fmt"

	"github.com/transpouce/poucet/internal/platform"
)

// requireAdmin enforces the single authorization rule for privileged
// transitions: the actor is the guild owner, or holds the configured admin
// role. A configured role that no longer resolves is a ConfigError, not
// ErrUnauthorized: staff losing a deleted role should read as broken
// setup, not as a rights problem.
func (e *Engine) requireAdmin(ctx context.Context, guild platform.GuildID, actor platform.UserID, adminRole platform.RoleID) error {
	if adminRole == "" {
		return &ConfigError{Field: "admin_role", Detail: "not set"}
	}

	owner, err := e.platform.GuildOwner(ctx, guild)
	if err != nil {
		return fmt.Errorf("resolving guild owner: %w", err)
	}
	if actor == owner {
		return nil
	}

	exists, err := e.platform.RoleExists(ctx, guild, adminRole)
	if err != nil {
		return err
	}
	if !exists {
		return &ConfigError{Field: "admin_role", Detail: fmt.Sprintf("role %s no longer exists", adminRole)}
	}

	hasRole, err := e.platform.MemberHasRole(ctx, guild, actor, adminRole)
	if err != nil {
		return err
	}
	if !hasRole {
		return ErrUnauthorized
	}
	return nil
}

// Authorized is the guard exposed for callers outside the engine's own
// transitions (the /onboarding configure subcommand).
func (e *Engine) Authorized(ctx context.Context, guild platform.GuildID, actor platform.UserID) error {
	cfg, err := e.store.LoadGuildConfig(ctx, guild)
	if err != nil {
		return err
	}
	return e.requireAdmin(ctx, guild, actor, cfg.AdminRole)
}
