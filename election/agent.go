package election

import "time"

// Subscription is an opaque handle to a log subscription the agent
// created on the FSM's behalf. The election never inspects it beyond
// passing it back into later Agent calls.
type Subscription interface{}

// Agent is the contract the election FSM drives but never implements:
// the long-lived log subscription, service plumbing, and role
// advertisement all live on the other side of this interface (spec §1,
// "the consensus agent", §4.3).
type Agent interface {
	// PrepareForElection truncates/rolls the local log back to a safe
	// position and returns it. Called exactly once, on non-startup entry
	// to INIT.
	PrepareForElection(logPosition int64) (int64, error)

	// Role advertises the node's current role to the rest of the agent.
	Role(Role)

	// BecomeLeader promotes this node locally and (re)publishes the log.
	BecomeLeader() error

	// LogRecordingID returns the archive recording id of the local log,
	// used for the real (non-placeholder) recording-log append on
	// leader transition.
	LogRecordingID() int64

	// CreateAndRecordLogSubscriptionAsFollower opens (and records) a log
	// subscription at fromPosition on the given channel URI.
	CreateAndRecordLogSubscriptionAsFollower(channelURI string, fromPosition int64) (Subscription, error)

	// AddLiveLogDestination adds destinationURI (see §6) as a live
	// destination of sub, without waiting for an image — used by
	// FOLLOWER_CATCHUP once catch-up finishes, and ahead of
	// AwaitImageAndCreateFollowerLogAdapter in FOLLOWER_TRANSITION.
	AddLiveLogDestination(sub Subscription, destinationURI string) error

	// AwaitServicesReady blocks (from the FSM's perspective, synchronously)
	// until downstream services are ready to consume sub at sessionID.
	AwaitServicesReady(channelURI string, sessionID int32) error

	// AwaitImageAndCreateFollowerLogAdapter blocks until sub's image
	// appears and wires a follower log adapter to it.
	AwaitImageAndCreateFollowerLogAdapter(sub Subscription, sessionID int32) error

	// CatchupLogPoll reports the in-flight catch-up's target position to
	// the agent, once per FOLLOWER_CATCHUP tick.
	CatchupLogPoll(targetPosition int64)

	// UpdateMemberDetails refreshes whatever membership metadata the
	// agent publishes out-of-band (addresses, endpoints).
	UpdateMemberDetails()

	// ElectionComplete reports whether post-election plumbing has
	// finished; once true the FSM closes.
	ElectionComplete(now time.Time) bool
}
