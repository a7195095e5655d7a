package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transpouce/poucet/internal/platform"
	"github.com/transpouce/poucet/internal/store"
)

// memStore is an in-memory Store implementation mirroring the redis store's
// locking discipline: one mutex, held across WithLock callbacks.
type memStore struct {
	mu      sync.Mutex
	configs map[platform.GuildID]store.GuildConfig
	notify  map[platform.GuildID]platform.RoleID
	welcome map[platform.GuildID]platform.MessageID
	fwd     map[string]platform.ChannelID
	back    map[platform.ChannelID]platform.UserID
}

func newMemStore() *memStore {
	return &memStore{
		configs: make(map[platform.GuildID]store.GuildConfig),
		notify:  make(map[platform.GuildID]platform.RoleID),
		welcome: make(map[platform.GuildID]platform.MessageID),
		fwd:     make(map[string]platform.ChannelID),
		back:    make(map[platform.ChannelID]platform.UserID),
	}
}

func sessionKey(guild platform.GuildID, user platform.UserID) string {
	return string(guild) + ":" + string(user)
}

func (m *memStore) ServesGuild(_ context.Context, guild platform.GuildID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[guild].Configured, nil
}

func (m *memStore) LoadGuildConfig(_ context.Context, guild platform.GuildID) (store.GuildConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[guild]
	if !ok || !cfg.Configured {
		return store.GuildConfig{}, store.ErrNotConfigured
	}
	return cfg, nil
}

func (m *memStore) SaveGuildConfig(_ context.Context, guild platform.GuildID, cfg store.GuildConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[guild] = cfg
	return nil
}

func (m *memStore) NotifyRole(_ context.Context, guild platform.GuildID) (platform.RoleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notify[guild], nil
}

func (m *memStore) SetNotifyRole(_ context.Context, guild platform.GuildID, role platform.RoleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify[guild] = role
	return nil
}

func (m *memStore) WelcomeMessage(_ context.Context, guild platform.GuildID) (platform.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.welcome[guild], nil
}

func (m *memStore) SetWelcomeMessage(_ context.Context, guild platform.GuildID, id platform.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcome[guild] = id
	return nil
}

func (m *memStore) PendingChannel(_ context.Context, guild platform.GuildID, user platform.UserID) (platform.ChannelID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.fwd[sessionKey(guild, user)]
	return ch, ok, nil
}

func (m *memStore) SessionUser(_ context.Context, channel platform.ChannelID) (platform.UserID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.back[channel]
	return user, ok, nil
}

func (m *memStore) EndSession(_ context.Context, guild platform.GuildID, channel platform.ChannelID) (platform.UserID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.back[channel]
	if !ok {
		return "", false, nil
	}
	delete(m.fwd, sessionKey(guild, user))
	delete(m.back, channel)
	return user, true, nil
}

type memTx struct{ m *memStore }

func (tx memTx) PendingChannel(_ context.Context, guild platform.GuildID, user platform.UserID) (platform.ChannelID, bool, error) {
	ch, ok := tx.m.fwd[sessionKey(guild, user)]
	return ch, ok, nil
}

func (tx memTx) BeginSession(_ context.Context, guild platform.GuildID, user platform.UserID, channel platform.ChannelID) error {
	key := sessionKey(guild, user)
	if _, ok := tx.m.fwd[key]; ok {
		return store.ErrSessionExists
	}
	tx.m.fwd[key] = channel
	tx.m.back[channel] = user
	return nil
}

func (m *memStore) WithLock(fn func(tx store.SessionTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memTx{m: m})
}

// consistent checks the forward/backward session invariant.
func (m *memStore) consistent(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Equal(t, len(m.fwd), len(m.back), "mapping sizes diverged")
	for key, ch := range m.fwd {
		user, ok := m.back[ch]
		require.True(t, ok, "channel %s missing from backward mapping", ch)
		require.True(t, strings.HasSuffix(key, ":"+string(user)), "mappings disagree for %s", key)
	}
}

// fakePlatform records every side effect and lets tests inject failures.
type fakePlatform struct {
	mu          sync.Mutex
	nextChannel int

	created      []platform.ChannelID
	deleted      []platform.ChannelID
	archived     []platform.ChannelID
	overridesCut []platform.ChannelID
	granted      map[platform.UserID][]platform.RoleID
	kicked       map[platform.UserID]string
	messages     map[platform.ChannelID][]platform.Reply

	owner        platform.UserID
	roles        map[platform.RoleID]bool
	memberRoles  map[platform.UserID][]platform.RoleID
	channelKinds map[platform.ChannelID]platform.ChannelKind
	liveMessages map[platform.MessageID]bool
	gone         map[platform.ChannelID]bool

	createErr    error
	sendErr      error
	existsErr    error
	createDelay  time.Duration
	sendMessages int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		granted:      make(map[platform.UserID][]platform.RoleID),
		kicked:       make(map[platform.UserID]string),
		messages:     make(map[platform.ChannelID][]platform.Reply),
		roles:        make(map[platform.RoleID]bool),
		memberRoles:  make(map[platform.UserID][]platform.RoleID),
		channelKinds: make(map[platform.ChannelID]platform.ChannelKind),
		liveMessages: make(map[platform.MessageID]bool),
		gone:         make(map[platform.ChannelID]bool),
	}
}

// dropChannel simulates an out-of-band channel deletion: every later call
// touching the channel answers with the unknown-channel outcome.
func (f *fakePlatform) dropChannel(channel platform.ChannelID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gone[channel] = true
}

func (f *fakePlatform) CreateVerificationChannel(_ context.Context, _ platform.GuildID, name string, _ platform.ChannelID, _ platform.UserID) (platform.ChannelID, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextChannel++
	ch := platform.ChannelID(fmt.Sprintf("chan-%d", f.nextChannel))
	f.created = append(f.created, ch)
	f.channelKinds[ch] = platform.ChannelKindText
	return ch, nil
}

func (f *fakePlatform) MarkChannelArchived(_ context.Context, channel platform.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[channel] {
		return fmt.Errorf("fetching channel %s: %w", channel, platform.ErrChannelGone)
	}
	f.archived = append(f.archived, channel)
	return nil
}

func (f *fakePlatform) DeleteChannel(_ context.Context, channel platform.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[channel] {
		return fmt.Errorf("deleting channel %s: %w", channel, platform.ErrChannelGone)
	}
	f.deleted = append(f.deleted, channel)
	return nil
}

func (f *fakePlatform) RemoveMemberOverride(_ context.Context, channel platform.ChannelID, _ platform.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overridesCut = append(f.overridesCut, channel)
	return nil
}

func (f *fakePlatform) GrantRole(_ context.Context, _ platform.GuildID, member platform.UserID, role platform.RoleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted[member] = append(f.granted[member], role)
	return nil
}

func (f *fakePlatform) RoleExists(_ context.Context, _ platform.GuildID, role platform.RoleID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[role], nil
}

func (f *fakePlatform) KickMember(_ context.Context, _ platform.GuildID, member platform.UserID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked[member] = reason
	return nil
}

func (f *fakePlatform) SendMessage(_ context.Context, channel platform.ChannelID, reply platform.Reply) (platform.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	if f.gone[channel] {
		return "", fmt.Errorf("sending message to %s: %w", channel, platform.ErrChannelGone)
	}
	f.sendMessages++
	f.messages[channel] = append(f.messages[channel], reply)
	id := platform.MessageID(fmt.Sprintf("msg-%d", f.sendMessages))
	f.liveMessages[id] = true
	return id, nil
}

func (f *fakePlatform) EditMessageButtons(_ context.Context, _ platform.ChannelID, _ platform.MessageID, _ []platform.Button) error {
	return nil
}

func (f *fakePlatform) MessageExists(_ context.Context, _ platform.ChannelID, message platform.MessageID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.liveMessages[message], nil
}

func (f *fakePlatform) ChannelKind(_ context.Context, _ platform.GuildID, channel platform.ChannelID) (platform.ChannelKind, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[channel] {
		return platform.ChannelKindUnknown, fmt.Errorf("fetching channel %s: %w", channel, platform.ErrChannelGone)
	}
	return f.channelKinds[channel], nil
}

func (f *fakePlatform) GuildOwner(_ context.Context, _ platform.GuildID) (platform.UserID, error) {
	return f.owner, nil
}

func (f *fakePlatform) MemberHasRole(_ context.Context, _ platform.GuildID, member platform.UserID, role platform.RoleID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.memberRoles[member] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePlatform) GuildMember(_ context.Context, _ platform.GuildID, member platform.UserID) (platform.Member, error) {
	return platform.Member{UserID: member, Username: "user-" + string(member)}, nil
}

var _ platform.API = (*fakePlatform)(nil)

// Common fixture: one configured guild with an admin reviewer.
const (
	testGuild    = platform.GuildID("g1")
	adminRole    = platform.RoleID("r-admin")
	validRole    = platform.RoleID("r-valid")
	categoryID   = platform.ChannelID("cat")
	welcomeID    = platform.ChannelID("welcome")
	ownerUser    = platform.UserID("owner")
	reviewerUser = platform.UserID("reviewer")
	memberUser   = platform.UserID("newcomer")
)

func newFixture(t *testing.T) (*Engine, *memStore, *fakePlatform) {
	t.Helper()
	st := newMemStore()
	st.configs[testGuild] = store.GuildConfig{
		Configured:           true,
		AdminRole:            adminRole,
		ValidatedRole:        validRole,
		VerificationCategory: categoryID,
		WelcomeChannel:       welcomeID,
	}
	st.notify[testGuild] = "r-notify"

	fp := newFakePlatform()
	fp.owner = ownerUser
	fp.roles[adminRole] = true
	fp.roles[validRole] = true
	fp.memberRoles[reviewerUser] = []platform.RoleID{adminRole}
	fp.channelKinds[categoryID] = platform.ChannelKindCategory
	fp.channelKinds[welcomeID] = platform.ChannelKindText

	return New(st, fp), st, fp
}

func TestStartCreatesChannelAndSession(t *testing.T) {
	engine, st, fp := newFixture(t)
	ctx := context.Background()

	res, err := engine.Start(ctx, testGuild, memberUser, "Newcomer")
	require.NoError(t, err)
	assert.False(t, res.Already)
	assert.Len(t, fp.created, 1)

	st.consistent(t)
	user, ok, err := st.SessionUser(ctx, res.Channel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, memberUser, user)

	// Wait notice posted into the new channel, tagging the notify role.
	notices := fp.messages[res.Channel]
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Content, platform.MentionUser(memberUser))
	assert.Contains(t, notices[0].Content, platform.MentionRole("r-notify"))
}

func TestStartTwiceReturnsExistingChannel(t *testing.T) {
	engine, st, fp := newFixture(t)
	ctx := context.Background()

	first, err := engine.Start(ctx, testGuild, memberUser, "Newcomer")
	require.NoError(t, err)
	second, err := engine.Start(ctx, testGuild, memberUser, "Newcomer")
	require.NoError(t, err)

	assert.True(t, second.Already)
	assert.Equal(t, first.Channel, second.Channel)
	assert.Len(t, fp.created, 1, "duplicate trigger must not create a second channel")
	st.consistent(t)
}

func TestStartConcurrentDuplicateClick(t *testing.T) {
	engine, st, fp := newFixture(t)
	fp.createDelay = 10 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Start(ctx, testGuild, memberUser, "Newcomer")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, fp.created, 1, "concurrent triggers must create exactly one channel")
	st.consistent(t)
}

func TestStartUnconfiguredGuild(t *testing.T) {
	engine, _, fp := newFixture(t)

	_, err := engine.Start(context.Background(), "other-guild", memberUser, "Newcomer")
	require.ErrorIs(t, err, store.ErrNotConfigured)
	assert.Empty(t, fp.created)
}

func TestStartChannelCreationFails(t *testing.T) {
	engine, st, fp := newFixture(t)
	fp.createErr = errors.New("boom")

	_, err := engine.Start(context.Background(), testGuild, memberUser, "Newcomer")
	require.Error(t, err)

	_, pending, _ := st.PendingChannel(context.Background(), testGuild, memberUser)
	assert.False(t, pending, "failed creation must not leave a session behind")
}

func TestStartNoticeFailureKeepsSession(t *testing.T) {
	engine, st, fp := newFixture(t)
	fp.sendErr = errors.New("post failed")

	res, err := engine.Start(context.Background(), testGuild, memberUser, "Newcomer")
	require.NoError(t, err, "a failed wait notice must not fail the transition")

	_, pending, _ := st.PendingChannel(context.Background(), testGuild, memberUser)
	assert.True(t, pending)
	assert.NotEmpty(t, res.Channel)
}

func approveFixture(t *testing.T) (*Engine, *memStore, *fakePlatform, platform.ChannelID) {
	t.Helper()
	engine, st, fp := newFixture(t)
	res, err := engine.Start(context.Background(), testGuild, memberUser, "Newcomer")
	require.NoError(t, err)
	return engine, st, fp, res.Channel
}

func TestApproveGrantsRoleAndRevokesAccess(t *testing.T) {
	engine, st, fp, channel := approveFixture(t)
	ctx := context.Background()

	res, err := engine.Approve(ctx, testGuild, reviewerUser, channel)
	require.NoError(t, err)
	assert.Equal(t, memberUser, res.Member.UserID)

	assert.Contains(t, fp.overridesCut, channel)
	assert.Equal(t, []platform.RoleID{validRole}, fp.granted[memberUser])

	// Welcome pointer posted publicly.
	require.Len(t, fp.messages[welcomeID], 1)
	assert.Contains(t, fp.messages[welcomeID][0].Content, platform.MentionUser(memberUser))

	// Session stays pending until archive/delete.
	_, pending, _ := st.PendingChannel(ctx, testGuild, memberUser)
	assert.True(t, pending)
}

func TestApproveByOwnerWithoutRole(t *testing.T) {
	engine, _, _, channel := approveFixture(t)

	_, err := engine.Approve(context.Background(), testGuild, ownerUser, channel)
	assert.NoError(t, err, "the guild owner is always authorized")
}

func TestApproveUnauthorizedReviewer(t *testing.T) {
	engine, _, fp, channel := approveFixture(t)

	_, err := engine.Approve(context.Background(), testGuild, "random-user", channel)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, fp.granted, "unauthorized approval must not mutate roles")
}

func TestApproveWrongChannel(t *testing.T) {
	engine, _, fp, _ := approveFixture(t)

	_, err := engine.Approve(context.Background(), testGuild, reviewerUser, "not-a-session-channel")
	require.ErrorIs(t, err, ErrWrongChannel)
	assert.Empty(t, fp.granted)
	assert.Empty(t, fp.overridesCut)
}

func TestApproveMissingAdminRoleIsConfigError(t *testing.T) {
	engine, _, fp, channel := approveFixture(t)
	delete(fp.roles, adminRole)

	_, err := engine.Approve(context.Background(), testGuild, reviewerUser, channel)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr, "a vanished admin role is a configuration error, not unauthorized")
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestDenyKicksWithAuditReason(t *testing.T) {
	engine, st, fp, channel := approveFixture(t)
	ctx := context.Background()

	res, err := engine.Deny(ctx, testGuild, reviewerUser, channel)
	require.NoError(t, err)
	assert.Equal(t, memberUser, res.Member.UserID)
	assert.Equal(t, KickReason, fp.kicked[memberUser])

	_, pending, _ := st.PendingChannel(ctx, testGuild, memberUser)
	assert.True(t, pending, "deny leaves the session for archive/delete")
}

func TestDenyWrongChannel(t *testing.T) {
	engine, _, fp, _ := approveFixture(t)

	_, err := engine.Deny(context.Background(), testGuild, reviewerUser, "elsewhere")
	require.ErrorIs(t, err, ErrWrongChannel)
	assert.Empty(t, fp.kicked)
}

func TestArchiveDetachesAndRenames(t *testing.T) {
	engine, st, fp, channel := approveFixture(t)
	ctx := context.Background()

	detached, err := engine.Archive(ctx, testGuild, channel)
	require.NoError(t, err)
	assert.True(t, detached)
	assert.Contains(t, fp.archived, channel)
	st.consistent(t)

	// Second archive: rename only, no detach.
	detached, err = engine.Archive(ctx, testGuild, channel)
	require.NoError(t, err)
	assert.False(t, detached)
}

func TestArchiveThenDeleteEqualsDelete(t *testing.T) {
	ctx := context.Background()

	engine1, st1, fp1, channel1 := approveFixture(t)
	_, err := engine1.Archive(ctx, testGuild, channel1)
	require.NoError(t, err)
	require.NoError(t, engine1.Delete(ctx, testGuild, channel1))

	engine2, st2, fp2, channel2 := approveFixture(t)
	require.NoError(t, engine2.Delete(ctx, testGuild, channel2))

	assert.Equal(t, fp1.deleted, []platform.ChannelID{channel1})
	assert.Equal(t, fp2.deleted, []platform.ChannelID{channel2})
	st1.consistent(t)
	st2.consistent(t)
	_, pending1, _ := st1.PendingChannel(ctx, testGuild, memberUser)
	_, pending2, _ := st2.PendingChannel(ctx, testGuild, memberUser)
	assert.False(t, pending1)
	assert.False(t, pending2)
}

func TestMemberLeftPostsNoticeWhenPending(t *testing.T) {
	engine, st, fp, channel := approveFixture(t)
	ctx := context.Background()

	got, pending, err := engine.MemberLeft(ctx, testGuild, memberUser)
	require.NoError(t, err)
	require.True(t, pending)
	assert.Equal(t, channel, got)

	notices := fp.messages[channel]
	last := notices[len(notices)-1]
	assert.Contains(t, last.Content, "left the server")
	require.Len(t, last.Buttons, 2)
	assert.Equal(t, platform.CustomIDArchive, last.Buttons[0].ID)
	assert.Equal(t, platform.CustomIDDelete, last.Buttons[1].ID)

	// Not auto-finalized: a human decides.
	_, stillPending, _ := st.PendingChannel(ctx, testGuild, memberUser)
	assert.True(t, stillPending)
}

func TestMemberLeftDetachesVanishedChannel(t *testing.T) {
	engine, st, fp, channel := approveFixture(t)
	ctx := context.Background()
	fp.dropChannel(channel)

	_, pending, err := engine.MemberLeft(ctx, testGuild, memberUser)
	require.NoError(t, err, "an out-of-band deletion is not a failure")
	assert.False(t, pending)

	// The stale session is gone in both directions.
	_, stillPending, _ := st.PendingChannel(ctx, testGuild, memberUser)
	assert.False(t, stillPending)
	_, ok, _ := st.SessionUser(ctx, channel)
	assert.False(t, ok)
	st.consistent(t)
}

func TestStartRestartsAfterChannelVanished(t *testing.T) {
	engine, st, fp := newFixture(t)
	ctx := context.Background()

	first, err := engine.Start(ctx, testGuild, memberUser, "Newcomer")
	require.NoError(t, err)
	fp.dropChannel(first.Channel)

	// The recorded channel is dead; a re-trigger must not point at it but
	// detach the stale session and open a fresh channel.
	second, err := engine.Start(ctx, testGuild, memberUser, "Newcomer")
	require.NoError(t, err)
	assert.False(t, second.Already)
	assert.NotEqual(t, first.Channel, second.Channel)
	assert.Len(t, fp.created, 2)

	got, pending, _ := st.PendingChannel(ctx, testGuild, memberUser)
	require.True(t, pending)
	assert.Equal(t, second.Channel, got)
	st.consistent(t)
}

func TestArchiveVanishedChannel(t *testing.T) {
	engine, st, fp, channel := approveFixture(t)
	ctx := context.Background()
	fp.dropChannel(channel)

	detached, err := engine.Archive(ctx, testGuild, channel)
	require.NoError(t, err, "archiving a vanished channel only detaches")
	assert.True(t, detached)
	assert.Empty(t, fp.archived)
	st.consistent(t)
}

func TestDeleteVanishedChannel(t *testing.T) {
	engine, st, fp, channel := approveFixture(t)
	ctx := context.Background()
	fp.dropChannel(channel)

	require.NoError(t, engine.Delete(ctx, testGuild, channel))
	assert.Empty(t, fp.deleted)
	_, pending, _ := st.PendingChannel(ctx, testGuild, memberUser)
	assert.False(t, pending)
}

func TestMemberLeftNoSession(t *testing.T) {
	engine, _, fp := newFixture(t)

	_, pending, err := engine.MemberLeft(context.Background(), testGuild, memberUser)
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Empty(t, fp.messages)
}

func TestChannelName(t *testing.T) {
	tests := []struct {
		username string
		want     string
	}{
		{"Newcomer", "verify-newcomer"},
		{"Some User", "verify-some-user"},
		{"  ", "verify-member"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, channelName(tt.username))
	}
}
