package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the compensation engine. Per-item loop failures are
// recorded in outcome lists and never abort sibling iterations; these
// sentinels classify what went wrong for a single unit of work.
var (
	// ErrInvalidArgument marks an unknown application, message type or
	// consumer. Fails fast, no side effects.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoCallbackConfig marks a message type that declares no consumer
	// callbacks at all.
	ErrNoCallbackConfig = errors.New("no callback config")

	// ErrConfigInconsistency marks a ticket whose consumer key no longer
	// resolves in configuration. The ticket is left for operational
	// remediation, not retried in that pass.
	ErrConfigInconsistency = errors.New("config inconsistency")
)

func invalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
