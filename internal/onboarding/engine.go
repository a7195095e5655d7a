// Package onboarding implements the member verification workflow: the state
// machine that opens a private review channel per joining member, lets staff
// approve or deny the request, and archives or deletes the channel once the
// review is finalized.
//
// States per (guild, member): no session → pending (channel created, wait
// notice posted) → finalized. Approve and deny leave the session pending so
// staff can still archive or delete the channel; only archive and delete
// detach it. Of two transitions racing to finalize the same session, the one
// that detaches it first wins; the loser degrades to a no-op.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/transpouce/poucet/internal/platform"
	"github.com/transpouce/poucet/internal/store"
	"github.com/transpouce/poucet/internal/telemetry"
)

// KickReason is the audit-log reason recorded when a member is denied.
const KickReason = "Denied at validation"

// Store is the persistence surface the engine consumes. *store.Store is the
// production implementation; tests substitute an in-memory one.
type Store interface {
	ServesGuild(ctx context.Context, guild platform.GuildID) (bool, error)
	LoadGuildConfig(ctx context.Context, guild platform.GuildID) (store.GuildConfig, error)
	SaveGuildConfig(ctx context.Context, guild platform.GuildID, cfg store.GuildConfig) error
	NotifyRole(ctx context.Context, guild platform.GuildID) (platform.RoleID, error)
	SetNotifyRole(ctx context.Context, guild platform.GuildID, role platform.RoleID) error
	WelcomeMessage(ctx context.Context, guild platform.GuildID) (platform.MessageID, error)
	SetWelcomeMessage(ctx context.Context, guild platform.GuildID, id platform.MessageID) error

	PendingChannel(ctx context.Context, guild platform.GuildID, user platform.UserID) (platform.ChannelID, bool, error)
	SessionUser(ctx context.Context, channel platform.ChannelID) (platform.UserID, bool, error)
	EndSession(ctx context.Context, guild platform.GuildID, channel platform.ChannelID) (platform.UserID, bool, error)
	WithLock(fn func(tx store.SessionTx) error) error
}

// Engine drives verification sessions. It is the only writer of workflow
// side effects; all persistent state goes through the injected store.
type Engine struct {
	store    Store
	platform platform.API
}

// New creates a workflow engine over the given store and platform client.
func New(st Store, api platform.API) *Engine {
	return &Engine{store: st, platform: api}
}

// ReviewButtons returns the Archive/Delete controls attached to finalized
// review messages. Archive can be disabled once a channel is already
// archived; Delete stays available.
func ReviewButtons(archiveDisabled bool) []platform.Button {
	return []platform.Button{
		{ID: platform.CustomIDArchive, Label: "Archive", Style: platform.ButtonSecondary, Disabled: archiveDisabled},
		{ID: platform.CustomIDDelete, Label: "Delete", Style: platform.ButtonDanger},
	}
}

// StartResult reports the outcome of a verification trigger.
type StartResult struct {
	Channel platform.ChannelID
	// Already is true when the member had a live session and no new channel
	// was created (duplicate button press).
	Already bool
}

// Start begins verification for a member. The pending check, the channel
// creation and the session insert all run inside one store critical section
// so a duplicated trigger cannot create a second channel. The wait notice is
// posted after the session is persisted; a failed notice is logged but does
// not roll the session back.
func (e *Engine) Start(ctx context.Context, guild platform.GuildID, user platform.UserID, username string) (StartResult, error) {
	cfg, err := e.store.LoadGuildConfig(ctx, guild)
	if err != nil {
		return StartResult{}, err
	}

	var result StartResult
	err = e.store.WithLock(func(tx store.SessionTx) error {
		channel, pending, err := tx.PendingChannel(ctx, guild, user)
		if err != nil {
			return err
		}
		if pending {
			result = StartResult{Channel: channel, Already: true}
			return nil
		}

		created, err := e.platform.CreateVerificationChannel(ctx, guild, channelName(username), cfg.VerificationCategory, user)
		if err != nil {
			return fmt.Errorf("creating verification channel for %s: %w", user, err)
		}
		if err := tx.BeginSession(ctx, guild, user, created); err != nil {
			return err
		}
		result = StartResult{Channel: created}
		return nil
	})
	telemetry.RecordTransition(ctx, "start", err)
	if err != nil {
		return StartResult{}, err
	}
	if result.Already {
		if _, err := e.platform.ChannelKind(ctx, guild, result.Channel); errors.Is(err, platform.ErrChannelGone) {
			// The recorded channel was deleted out-of-band. Detach the stale
			// session and run the trigger again so the member is not stuck
			// pointing at a dead channel.
			e.detachVanished(ctx, guild, result.Channel)
			return e.Start(ctx, guild, user, username)
		}
		return result, nil
	}

	if err := e.postWaitNotice(ctx, guild, user, result.Channel); err != nil {
		// The channel exists and the session is recorded; rolling back here
		// would orphan the channel. Staff can still find the member.
		slog.Error("onboarding: wait notice failed", "guild", guild, "user", user, "channel", result.Channel, "err", err)
	}
	return result, nil
}

func (e *Engine) postWaitNotice(ctx context.Context, guild platform.GuildID, user platform.UserID, channel platform.ChannelID) error {
	notify, err := e.store.NotifyRole(ctx, guild)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("👋 Hi %s! A staff member will take a look at your request shortly, hang tight.", platform.MentionUser(user))
	if notify != "" {
		content += fmt.Sprintf("\n%s — a new member is waiting for verification.", platform.MentionRole(notify))
	}
	_, err = e.platform.SendMessage(ctx, channel, platform.Reply{Content: content})
	return err
}

// ApproveResult carries what the dispatcher needs to render the
// confirmation.
type ApproveResult struct {
	Member platform.Member
}

// Approve validates a pending member: the reviewer must hold admin rights
// and must invoke it inside the member's verification channel. The member
// loses access to the channel and gains the validated role. The session
// stays pending until archived or deleted.
func (e *Engine) Approve(ctx context.Context, guild platform.GuildID, reviewer platform.UserID, channel platform.ChannelID) (result ApproveResult, err error) {
	defer func() { telemetry.RecordTransition(ctx, "approve", err) }()

	cfg, err := e.store.LoadGuildConfig(ctx, guild)
	if err != nil {
		return ApproveResult{}, err
	}
	if err := e.requireAdmin(ctx, guild, reviewer, cfg.AdminRole); err != nil {
		return ApproveResult{}, err
	}

	user, ok, err := e.store.SessionUser(ctx, channel)
	if err != nil {
		return ApproveResult{}, err
	}
	if !ok {
		return ApproveResult{}, ErrWrongChannel
	}

	exists, err := e.platform.RoleExists(ctx, guild, cfg.ValidatedRole)
	if err != nil {
		return ApproveResult{}, err
	}
	if !exists {
		return ApproveResult{}, &ConfigError{Field: "validated_role", Detail: fmt.Sprintf("role %s no longer exists", cfg.ValidatedRole)}
	}

	if err := e.platform.RemoveMemberOverride(ctx, channel, user); err != nil {
		return ApproveResult{}, err
	}
	if err := e.platform.GrantRole(ctx, guild, user, cfg.ValidatedRole); err != nil {
		return ApproveResult{}, err
	}

	member, err := e.platform.GuildMember(ctx, guild, user)
	if err != nil {
		slog.Warn("onboarding: member lookup after approval failed", "guild", guild, "user", user, "err", err)
		member = platform.Member{UserID: user}
	}

	e.postWelcomePointer(ctx, guild, cfg, user)

	return ApproveResult{Member: member}, nil
}

// postWelcomePointer announces the freshly approved member in the guild's
// welcome channel, pointing at the introductions and role-assignment
// channels when those are configured. Best effort: the approval already
// happened.
func (e *Engine) postWelcomePointer(ctx context.Context, guild platform.GuildID, cfg store.GuildConfig, user platform.UserID) {
	if cfg.WelcomeChannel == "" {
		return
	}

	content := fmt.Sprintf("👋 Welcome %s! Have a pleasant stay here 🤗", platform.MentionUser(user))
	if cfg.RoleAssignmentChannel != "" && cfg.IntroductionsChannel != "" {
		content = fmt.Sprintf(
			"👋 Welcome %s! Feel free to grab some roles in %s, and to write a few words about yourself in %s if you like. Have a pleasant stay here! 🤗",
			platform.MentionUser(user),
			platform.MentionChannel(cfg.RoleAssignmentChannel),
			platform.MentionChannel(cfg.IntroductionsChannel),
		)
	}
	if _, err := e.platform.SendMessage(ctx, cfg.WelcomeChannel, platform.Reply{Content: content}); err != nil {
		slog.Error("onboarding: welcome pointer failed", "guild", guild, "user", user, "err", err)
	}
}

// DenyResult carries what the dispatcher needs to render the confirmation.
type DenyResult struct {
	Member platform.Member
}

// Deny rejects a pending member and removes them from the guild. Like
// Approve, it must run inside the member's verification channel and leaves
// the session pending until archived or deleted.
func (e *Engine) Deny(ctx context.Context, guild platform.GuildID, reviewer platform.UserID, channel platform.ChannelID) (result DenyResult, err error) {
	defer func() { telemetry.RecordTransition(ctx, "deny", err) }()

	cfg, err := e.store.LoadGuildConfig(ctx, guild)
	if err != nil {
		return DenyResult{}, err
	}
	if err := e.requireAdmin(ctx, guild, reviewer, cfg.AdminRole); err != nil {
		return DenyResult{}, err
	}

	user, ok, err := e.store.SessionUser(ctx, channel)
	if err != nil {
		return DenyResult{}, err
	}
	if !ok {
		return DenyResult{}, ErrWrongChannel
	}

	member, err := e.platform.GuildMember(ctx, guild, user)
	if err != nil {
		slog.Warn("onboarding: member lookup before denial failed", "guild", guild, "user", user, "err", err)
		member = platform.Member{UserID: user}
	}

	if err := e.platform.KickMember(ctx, guild, user, KickReason); err != nil {
		return DenyResult{}, err
	}
	return DenyResult{Member: member}, nil
}

// Archive detaches the session anchored at channel and marks the channel
// archived. Archiving an already-detached channel only renames; the returned
// detached flag tells the caller whether this call won the detach.
func (e *Engine) Archive(ctx context.Context, guild platform.GuildID, channel platform.ChannelID) (detached bool, err error) {
	defer func() { telemetry.RecordTransition(ctx, "archive", err) }()

	_, detached, err = e.store.EndSession(ctx, guild, channel)
	if err != nil {
		return false, err
	}
	if !detached {
		slog.Info("onboarding: archive on already-detached channel", "guild", guild, "channel", channel)
	}
	if err := e.platform.MarkChannelArchived(ctx, channel); err != nil {
		if errors.Is(err, platform.ErrChannelGone) {
			slog.Error("onboarding: archive target channel vanished out-of-band", "guild", guild, "channel", channel)
			return detached, nil
		}
		return detached, err
	}
	return detached, nil
}

// Delete detaches the session if one is still attached and deletes the
// channel. Archive followed by Delete is equivalent to Delete alone.
func (e *Engine) Delete(ctx context.Context, guild platform.GuildID, channel platform.ChannelID) (err error) {
	defer func() { telemetry.RecordTransition(ctx, "delete", err) }()

	if _, _, err := e.store.EndSession(ctx, guild, channel); err != nil {
		return err
	}
	if err := e.platform.DeleteChannel(ctx, channel); err != nil {
		if errors.Is(err, platform.ErrChannelGone) {
			// Already gone; the detach above is all that was left to do.
			return nil
		}
		return err
	}
	return nil
}

// MemberLeft reacts to a member leaving mid-review: the session channel gets
// a notice with Archive/Delete controls so staff decide what happens to it.
// The session is not auto-finalized; the one exception is a session whose
// channel was deleted out-of-band, which is detached on sight.
func (e *Engine) MemberLeft(ctx context.Context, guild platform.GuildID, user platform.UserID) (channel platform.ChannelID, pending bool, err error) {
	defer func() { telemetry.RecordTransition(ctx, "member_left", err) }()

	channel, pending, err = e.store.PendingChannel(ctx, guild, user)
	if err != nil || !pending {
		return "", false, err
	}

	_, err = e.platform.SendMessage(ctx, channel, platform.Reply{
		Content: fmt.Sprintf("🚪 %s left the server while their verification was pending.", platform.MentionUser(user)),
		Buttons: ReviewButtons(false),
	})
	if errors.Is(err, platform.ErrChannelGone) {
		e.detachVanished(ctx, guild, channel)
		return "", false, nil
	}
	if err != nil {
		return channel, true, fmt.Errorf("posting member-left notice: %w", err)
	}
	return channel, true, nil
}

// detachVanished drops the session record of a verification channel that no
// longer exists on the platform. An out-of-band deletion means the session
// is treated as detached from here on; only the record removal remains.
func (e *Engine) detachVanished(ctx context.Context, guild platform.GuildID, channel platform.ChannelID) {
	slog.Error("onboarding: session channel vanished out-of-band, detaching", "guild", guild, "channel", channel)
	if _, _, err := e.store.EndSession(ctx, guild, channel); err != nil {
		slog.Error("onboarding: detaching vanished session failed", "guild", guild, "channel", channel, "err", err)
	}
}

// channelName derives the verification channel name from the member's
// username. The platform lowercases channel names anyway; spaces become
// dashes.
func channelName(username string) string {
	name := strings.ToLower(strings.TrimSpace(username))
	name = strings.ReplaceAll(name, " ", "-")
	if name == "" {
		name = "member"
	}
	return "verify-" + name
}
