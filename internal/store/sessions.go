package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/transpouce/poucet/internal/platform"
	"github.com/transpouce/poucet/internal/telemetry"
)

// Sessions live in two global hashes so the workflow can resolve them in
// both directions: user → channel for the duplicate-trigger check, channel →
// user for in-channel approve/deny. The two hashes are written and removed
// together (single pipeline); neither direction exists without the other.

func sessionField(guild platform.GuildID, user platform.UserID) string {
	return string(guild) + ":" + string(user)
}

// PendingChannel returns the verification channel of the user's live
// session, if any.
func (s *Store) PendingChannel(ctx context.Context, guild platform.GuildID, user platform.UserID) (platform.ChannelID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingChannel(ctx, guild, user)
}

// PendingChannel is the in-critical-section variant used by WithLock
// callers.
func (tx *Tx) PendingChannel(ctx context.Context, guild platform.GuildID, user platform.UserID) (platform.ChannelID, bool, error) {
	return tx.s.pendingChannel(ctx, guild, user)
}

func (s *Store) pendingChannel(ctx context.Context, guild platform.GuildID, user platform.UserID) (platform.ChannelID, bool, error) {
	channel, err := s.client.HGet(ctx, userToChannelKey, sessionField(guild, user)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving session for %s: %w", sessionField(guild, user), err)
	}
	return platform.ChannelID(channel), true, nil
}

// BeginSession records a new session in both directions. Returns
// ErrSessionExists when the user already has a live session; the caller is
// expected to have checked PendingChannel inside the same critical section,
// so hitting this means a caller bug, not a race.
func (tx *Tx) BeginSession(ctx context.Context, guild platform.GuildID, user platform.UserID, channel platform.ChannelID) error {
	return tx.s.beginSession(ctx, guild, user, channel)
}

func (s *Store) beginSession(ctx context.Context, guild platform.GuildID, user platform.UserID, channel platform.ChannelID) error {
	field := sessionField(guild, user)

	exists, err := s.client.HExists(ctx, userToChannelKey, field).Result()
	if err != nil {
		return fmt.Errorf("checking session for %s: %w", field, err)
	}
	if exists {
		return ErrSessionExists
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, userToChannelKey, field, string(channel))
	pipe.HSet(ctx, channelToUserKey, string(channel), string(user))
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.RecordStoreError(ctx, "begin_session")
		return fmt.Errorf("recording session for %s: %w", field, err)
	}
	return nil
}

// EndSession removes both directions of the session anchored at channel.
// The check and the removal run under the store mutex, so of two racing
// finalizers exactly one observes detached=true; the other must not repeat
// side effects.
func (s *Store) EndSession(ctx context.Context, guild platform.GuildID, channel platform.ChannelID) (platform.UserID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.client.HGet(ctx, channelToUserKey, string(channel)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving session channel %s: %w", channel, err)
	}

	pipe := s.client.Pipeline()
	pipe.HDel(ctx, userToChannelKey, sessionField(guild, platform.UserID(user)))
	pipe.HDel(ctx, channelToUserKey, string(channel))
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.RecordStoreError(ctx, "end_session")
		return "", false, fmt.Errorf("detaching session channel %s: %w", channel, err)
	}
	return platform.UserID(user), true, nil
}

// SessionUser resolves the pending member owning a verification channel.
func (s *Store) SessionUser(ctx context.Context, channel platform.ChannelID) (platform.UserID, bool, error) {
	user, err := s.client.HGet(ctx, channelToUserKey, string(channel)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving session channel %s: %w", channel, err)
	}
	return platform.UserID(user), true, nil
}
