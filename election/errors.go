package election

import "github.com/pkg/errors"

// ErrProtocolViolation is fatal: a state-counter code fell outside the
// published range, or a single Tick chained through more one-shot states
// than maxCascadePerTick allows. The election aborts (spec §7).
var ErrProtocolViolation = errors.New("election: protocol violation")

// ErrCatchupFailed is fatal to this election instance: the catch-up
// engine could not make progress. The agent decides whether to start a
// fresh election (spec §7).
var ErrCatchupFailed = errors.New("election: catchup failed")
