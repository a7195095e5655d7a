// Package store persists poucet's state in redis: per-guild configuration
// hashes and the verification-session mappings. All check-then-act sequences
// run under a single store-wide mutex so concurrent platform events cannot
// interleave between a check and the write that claims its result.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/transpouce/poucet/internal/platform"
	"github.com/transpouce/poucet/internal/telemetry"
)

// Sentinel errors surfaced to callers. The dispatcher maps these to
// user-visible replies; everything else is an external-call failure.
var (
	ErrNotConfigured = errors.New("guild is not configured")
	ErrSessionExists = errors.New("verification session already exists")
)

// Store wraps the redis connection shared by every workflow instance.
type Store struct {
	client *redis.Client
	mu     sync.Mutex
}

// Option is a functional option for configuring the store.
type Option func(*options)

type options struct {
	dialTimeout time.Duration
	maxRetries  uint64
}

// WithDialTimeout sets the per-ping timeout used while establishing the
// initial connection.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithMaxRetries caps how many times Open retries the initial ping.
func WithMaxRetries(n uint64) Option {
	return func(o *options) { o.maxRetries = n }
}

// Open connects to redis and verifies connectivity. The initial ping is
// retried with exponential backoff; a store that never answers surfaces the
// last ping error.
func Open(ctx context.Context, redisURL string, opts ...Option) (*Store, error) {
	o := &options{dialTimeout: 5 * time.Second, maxRetries: 5}
	for _, opt := range opts {
		opt(o)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(redisOpts)

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, o.dialTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.maxRetries), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		client.Close()
		telemetry.RecordStoreError(ctx, "open")
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing redis client. Used by tests.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// SessionTx is the view of the session store inside a WithLock critical
// section. Implementations assume the store mutex is held; the value must
// not outlive the callback.
type SessionTx interface {
	PendingChannel(ctx context.Context, guild platform.GuildID, user platform.UserID) (platform.ChannelID, bool, error)
	BeginSession(ctx context.Context, guild platform.GuildID, user platform.UserID, channel platform.ChannelID) error
}

// Tx implements SessionTx over the locked store.
type Tx struct {
	s *Store
}

// WithLock runs fn while holding the store mutex. Check-then-act sequences
// that span an external call (pending check, channel creation, session
// insert) go through here so a duplicated trigger cannot pass the check
// concurrently.
func (s *Store) WithLock(fn func(tx SessionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s})
}

// Key scheme. Guild-scoped hashes plus two global hashes mapping
// verification sessions in both directions.
const (
	userToChannelKey = "validation_user_to_channel"
	channelToUserKey = "validation_channel_to_user"
)

func guildKey(guild string) string      { return "guild:" + guild }
func onboardingKey(guild string) string { return "onboarding:" + guild }
