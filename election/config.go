package election

import (
	"time"

	"github.com/quorumkit/election/membertable"
)

// Config holds the tunables spec §6 lists as supplied "from external
// context": interval/timeout durations, the optional appointed-leader
// override, and the channel addressing this node publishes under.
type Config struct {
	StatusInterval          time.Duration
	LeaderHeartbeatInterval time.Duration
	ElectionTimeout         time.Duration
	StartupStatusTimeout    time.Duration

	// AppointedLeaderID disables normal canvass/nominate timing in favor
	// of a fixed leader when non-nil (spec §4.5 INIT/CANVASS).
	AppointedLeaderID *membertable.ID

	// LogChannel is the base channel URI §6's subscription/destination
	// URIs are derived from.
	LogChannel string
	// LogEndpoint is this member's own endpoint, spliced into the live
	// log destination URI.
	LogEndpoint string
}

// isAppointed reports whether self is the fixed appointed leader.
func (c Config) isAppointed(self membertable.ID) bool {
	return c.AppointedLeaderID != nil && *c.AppointedLeaderID == self
}

// hasAppointedLeader reports whether any member has been appointed leader,
// regardless of which one — CANVASS waits on this for every member, not
// just the appointed one.
func (c Config) hasAppointedLeader() bool {
	return c.AppointedLeaderID != nil
}
