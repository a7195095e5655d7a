package onboarding

import (
	"errors"
	"fmt"
)

// Sentinel outcomes the dispatcher turns into ephemeral replies. None of
// these is an operational error.
var (
	// ErrUnauthorized means the actor is neither the guild owner nor an
	// admin-role holder.
	ErrUnauthorized = errors.New("actor lacks admin rights")

	// ErrWrongChannel means a review command ran outside a known
	// verification channel.
	ErrWrongChannel = errors.New("not a verification channel")

	// ErrAlreadyConfigured means setup ran on a configured guild without
	// the anew flag.
	ErrAlreadyConfigured = errors.New("guild is already configured")
)

// ConfigError reports a malformed or stale configuration value: a channel
// of the wrong kind, a role id that no longer resolves. Distinct from
// ErrUnauthorized: a broken admin role must not read as "insufficient
// rights".
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bad configuration value %s: %s", e.Field, e.Detail)
}
