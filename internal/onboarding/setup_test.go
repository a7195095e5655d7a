package onboarding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transpouce/poucet/internal/platform"
	"github.com/transpouce/poucet/internal/store"
)

func validParams() SetupParams {
	return SetupParams{
		AdminRole:            adminRole,
		ValidatedRole:        validRole,
		VerificationCategory: categoryID,
		WelcomeChannel:       welcomeID,
	}
}

func setupFixture(t *testing.T) (*Engine, *memStore, *fakePlatform) {
	t.Helper()
	st := newMemStore()
	fp := newFakePlatform()
	fp.owner = ownerUser
	fp.roles[adminRole] = true
	fp.roles[validRole] = true
	fp.channelKinds[categoryID] = platform.ChannelKindCategory
	fp.channelKinds[welcomeID] = platform.ChannelKindText
	return New(st, fp), st, fp
}

func TestSetupConfiguresGuild(t *testing.T) {
	engine, st, _ := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, engine.Setup(ctx, testGuild, validParams()))

	serves, err := st.ServesGuild(ctx, testGuild)
	require.NoError(t, err)
	assert.True(t, serves)

	cfg, err := st.LoadGuildConfig(ctx, testGuild)
	require.NoError(t, err)
	assert.Equal(t, adminRole, cfg.AdminRole)
	assert.Equal(t, validRole, cfg.ValidatedRole)
	assert.Equal(t, categoryID, cfg.VerificationCategory)
	assert.Equal(t, welcomeID, cfg.WelcomeChannel)
}

func TestSetupRefusesReconfigureWithoutAnew(t *testing.T) {
	engine, _, _ := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, engine.Setup(ctx, testGuild, validParams()))
	err := engine.Setup(ctx, testGuild, validParams())
	assert.ErrorIs(t, err, ErrAlreadyConfigured)
}

func TestSetupAnewOverwrites(t *testing.T) {
	engine, st, fp := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, engine.Setup(ctx, testGuild, validParams()))

	newAdmin := platform.RoleID("r-admin-2")
	fp.roles[newAdmin] = true
	params := validParams()
	params.AdminRole = newAdmin
	params.Anew = true
	require.NoError(t, engine.Setup(ctx, testGuild, params))

	cfg, err := st.LoadGuildConfig(ctx, testGuild)
	require.NoError(t, err)
	assert.Equal(t, newAdmin, cfg.AdminRole)
}

func TestSetupValidationFailureLeavesConfigUntouched(t *testing.T) {
	engine, st, _ := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, engine.Setup(ctx, testGuild, validParams()))

	bad := validParams()
	bad.ValidatedRole = "r-missing"
	bad.Anew = true
	err := engine.Setup(ctx, testGuild, bad)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "validated_role", cfgErr.Field)

	// The old configuration survives a failed reconfigure.
	cfg, err := st.LoadGuildConfig(ctx, testGuild)
	require.NoError(t, err)
	assert.Equal(t, adminRole, cfg.AdminRole)
}

func TestSetupRejectsTextChannelAsCategory(t *testing.T) {
	engine, st, _ := setupFixture(t)

	params := validParams()
	params.VerificationCategory = welcomeID // a text channel
	err := engine.Setup(context.Background(), testGuild, params)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "verification_category", cfgErr.Field)

	_, err = st.LoadGuildConfig(context.Background(), testGuild)
	assert.ErrorIs(t, err, store.ErrNotConfigured, "failed setup must not mark the guild configured")
}

func TestSetupRejectsCategoryAsWelcomeChannel(t *testing.T) {
	engine, _, _ := setupFixture(t)

	params := validParams()
	params.WelcomeChannel = categoryID
	err := engine.Setup(context.Background(), testGuild, params)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "welcome_channel", cfgErr.Field)
}

func TestSetupValidatesOptionalChannels(t *testing.T) {
	engine, _, fp := setupFixture(t)

	intro := platform.ChannelID("intro")
	fp.channelKinds[intro] = platform.ChannelKindCategory // wrong kind
	params := validParams()
	params.IntroductionsChannel = intro
	err := engine.Setup(context.Background(), testGuild, params)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "introductions_channel", cfgErr.Field)
}

func TestConfigureNotifyRole(t *testing.T) {
	engine, st, fp := setupFixture(t)
	ctx := context.Background()
	require.NoError(t, engine.Setup(ctx, testGuild, validParams()))

	notify := platform.RoleID("r-notify")
	fp.roles[notify] = true
	fp.memberRoles[reviewerUser] = []platform.RoleID{adminRole}

	require.NoError(t, engine.ConfigureNotifyRole(ctx, testGuild, reviewerUser, notify))
	got, err := st.NotifyRole(ctx, testGuild)
	require.NoError(t, err)
	assert.Equal(t, notify, got)
}

func TestConfigureNotifyRoleUnauthorized(t *testing.T) {
	engine, st, fp := setupFixture(t)
	ctx := context.Background()
	require.NoError(t, engine.Setup(ctx, testGuild, validParams()))

	notify := platform.RoleID("r-notify")
	fp.roles[notify] = true

	err := engine.ConfigureNotifyRole(ctx, testGuild, "random-user", notify)
	require.ErrorIs(t, err, ErrUnauthorized)
	got, _ := st.NotifyRole(ctx, testGuild)
	assert.Empty(t, got)
}

func TestConfigureNotifyRoleMissingRole(t *testing.T) {
	engine, _, _ := setupFixture(t)
	ctx := context.Background()
	require.NoError(t, engine.Setup(ctx, testGuild, validParams()))

	err := engine.ConfigureNotifyRole(ctx, testGuild, ownerUser, "r-missing")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "notify_role", cfgErr.Field)
}
