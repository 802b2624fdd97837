// Package transport defines the messaging contract the election state
// machine consumes. The concrete wire format is out of scope for this
// module (spec Non-goal) — only the semantic fields of each message
// matter here. This package also ships LoopbackTransport, an in-process
// reference implementation used by tests and the demo binary.
package transport

import "github.com/quorumkit/election/membertable"

// CanvassPosition is broadcast during CANVASS to discover peers' log
// freshness.
type CanvassPosition struct {
	LogLeadershipTermID int64
	LogPosition         int64
	FollowerID          membertable.ID
}

// RequestVote solicits a vote for CandidateTermID.
type RequestVote struct {
	LogLeadershipTermID int64
	LogPosition         int64
	CandidateTermID     int64
	CandidateID         membertable.ID
}

// Vote is a RequestVote reply.
type Vote struct {
	CandidateTermID     int64
	LogLeadershipTermID int64
	LogPosition         int64
	CandidateID         membertable.ID
	FollowerID          membertable.ID
	VoteGranted         bool
}

// NewLeadershipTerm announces a new leader for LeadershipTermID.
type NewLeadershipTerm struct {
	LogLeadershipTermID int64
	LogPosition         int64
	LeadershipTermID    int64
	LeaderID            membertable.ID
	LogSessionID        int32
}

// AppendedPosition reports a follower's durable log position to the
// leader.
type AppendedPosition struct {
	LeadershipTermID int64
	LogPosition      int64
	FollowerID       membertable.ID
}

// CommitPosition reports the leader's commit position to followers.
type CommitPosition struct {
	LeadershipTermID int64
	LogPosition      int64
	LeaderID         membertable.ID
}

// Transport is the contract the election FSM sends through. Every send
// returns whether the transport *accepted* the message, not whether it
// was delivered: a false result means back-pressure, and per spec the
// FSM retries on the next tick without changing state.
type Transport interface {
	SendCanvassPosition(to membertable.ID, msg CanvassPosition) bool
	SendRequestVote(to membertable.ID, msg RequestVote) bool
	SendVote(to membertable.ID, msg Vote) bool
	SendNewLeadershipTerm(to membertable.ID, msg NewLeadershipTerm) bool
	SendAppendedPosition(to membertable.ID, msg AppendedPosition) bool
	SendCommitPosition(to membertable.ID, msg CommitPosition) bool

	// Poll drains and delivers any inbound messages to the handlers
	// registered for this member, calling back synchronously on the
	// caller's goroutine. Tick always polls the transport first (spec
	// §4.5).
	Poll() int
}

// Handlers groups the election FSM's message callbacks so a Transport
// implementation has one place to deliver into.
type Handlers struct {
	OnCanvassPosition   func(CanvassPosition)
	OnRequestVote       func(RequestVote)
	OnVote              func(Vote)
	OnNewLeadershipTerm func(NewLeadershipTerm)
	OnAppendedPosition  func(AppendedPosition)
	OnCommitPosition    func(CommitPosition)
}
