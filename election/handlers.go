package election

import (
	"time"

	"github.com/quorumkit/election/membertable"
	"github.com/quorumkit/election/transport"
)

// Handlers returns the transport.Handlers bound to this election's
// message callbacks, ready to hand to a transport registry's Register
// call (e.g. transport.LoopbackRegistry.Register). Kept separate from the On* methods so tests can call those
// directly without going through a transport.
func (e *Election) Handlers() transport.Handlers {
	return transport.Handlers{
		OnCanvassPosition:   e.OnCanvassPosition,
		OnRequestVote:       e.OnRequestVote,
		OnVote:              e.OnVote,
		OnNewLeadershipTerm: e.OnNewLeadershipTerm,
		OnAppendedPosition:  e.OnAppendedPosition,
		OnCommitPosition:    e.OnCommitPosition,
	}
}

// OnCanvassPosition implements spec §4.4.
func (e *Election) OnCanvassPosition(msg transport.CanvassPosition) {
	if e.closed {
		return
	}
	m, ok := e.members.Get(msg.FollowerID)
	if !ok {
		return
	}
	m.LeadershipTermID = msg.LogLeadershipTermID
	m.LogPosition = msg.LogPosition
	m.Reported = true

	if e.state == StateLeaderReady && msg.LogLeadershipTermID < e.leadershipTermID {
		e.transport.SendNewLeadershipTerm(msg.FollowerID, transport.NewLeadershipTerm{
			LogLeadershipTermID: e.logLeadershipTermID,
			LogPosition:         e.logPosition,
			LeadershipTermID:    e.leadershipTermID,
			LeaderID:            e.self,
			LogSessionID:        e.logSessionID,
		})
	}

	if e.state != StateCanvass && msg.LogLeadershipTermID > e.leadershipTermID {
		e.transitionTo(e.now(), StateCanvass)
	}
}

// OnRequestVote implements spec §4.4, persisting candidateTermId before
// any reply or transition that depends on it (invariant I3).
func (e *Election) OnRequestVote(msg transport.RequestVote) {
	if e.closed {
		return
	}
	now := e.now()

	if msg.CandidateTermID <= e.leadershipTermID || msg.CandidateTermID <= e.candidateTermID {
		e.replyVote(msg, false)
		return
	}

	if compareLog(e.logLeadershipTermID, e.logPosition, msg.LogLeadershipTermID, msg.LogPosition) > 0 {
		if err := e.markFile.Write(msg.CandidateTermID); err != nil {
			e.fail(err)
			return
		}
		e.candidateTermID = msg.CandidateTermID
		e.metrics.SetCandidateTerm(e.candidateTermID)
		e.transitionTo(now, StateCanvass)
		e.replyVote(msg, false)
		return
	}

	if err := e.markFile.Write(msg.CandidateTermID); err != nil {
		e.fail(err)
		return
	}
	e.candidateTermID = msg.CandidateTermID
	e.metrics.SetCandidateTerm(e.candidateTermID)
	e.transitionTo(now, StateFollowerBallot)
	e.replyVote(msg, true)
}

func (e *Election) replyVote(req transport.RequestVote, granted bool) {
	e.transport.SendVote(req.CandidateID, transport.Vote{
		CandidateTermID:     req.CandidateTermID,
		LogLeadershipTermID: e.logLeadershipTermID,
		LogPosition:         e.logPosition,
		CandidateID:         req.CandidateID,
		FollowerID:          e.self,
		VoteGranted:         granted,
	})
}

// OnVote implements spec §4.4: ignored unless we are the candidate for
// cTerm and we are the intended recipient.
func (e *Election) OnVote(msg transport.Vote) {
	if e.closed {
		return
	}
	if e.state != StateCandidateBallot || msg.CandidateTermID != e.candidateTermID || msg.CandidateID != e.self {
		e.metrics.IncVotesIgnored()
		return
	}
	m, ok := e.members.Get(msg.FollowerID)
	if !ok {
		return
	}
	m.CandidateTermID = msg.CandidateTermID
	m.LeadershipTermID = msg.LogLeadershipTermID
	m.LogPosition = msg.LogPosition
	if msg.VoteGranted {
		m.Vote = membertable.VoteGranted
		e.metrics.IncVotesGranted()
	} else {
		m.Vote = membertable.VoteDenied
		e.metrics.IncVotesDenied()
	}
}

// OnNewLeadershipTerm implements spec §4.4.
func (e *Election) OnNewLeadershipTerm(msg transport.NewLeadershipTerm) {
	if e.closed {
		return
	}
	now := e.now()

	inBallot := e.state == StateFollowerBallot || e.state == StateCandidateBallot
	if inBallot && msg.LeadershipTermID == e.candidateTermID {
		e.adoptLeader(msg)
		if msg.LogPosition > e.logPosition {
			e.pendingCatchupTarget = msg.LogPosition
			e.transitionTo(now, StateFollowerCatchupTransition)
		} else {
			e.transitionTo(now, StateFollowerTransition)
		}
		return
	}

	differs := e.logLeadershipTermID != msg.LogLeadershipTermID || e.logPosition != msg.LogPosition
	if differs && e.logLeadershipTermID < msg.LogLeadershipTermID {
		e.adoptLeader(msg)
		e.pendingCatchupTarget = msg.LogPosition
		e.transitionTo(now, StateFollowerCatchupTransition)
		return
	}

	// Our logLeadershipTermID >= the leader's: an open question (spec
	// §9) the source defers with a TODO. Counted, not acted on.
	e.metrics.IncStaleLeaderObservations()
}

// adoptLeader records the term we now consider current (spec §3:
// leadershipTermId). logLeadershipTermId is untouched here — it tracks the
// term of our last *durable* log entry, which only advances once the
// follower transition/catch-up actually appends a record for this term.
func (e *Election) adoptLeader(msg transport.NewLeadershipTerm) {
	leader, ok := e.members.Get(msg.LeaderID)
	if ok {
		e.leaderMember = leader
	}
	e.logSessionID = msg.LogSessionID
	e.leadershipTermID = msg.LeadershipTermID
	e.candidateTermID = NoCandidateTerm
	e.metrics.SetLeadershipTerm(e.leadershipTermID)
	e.metrics.SetCandidateTerm(NoCandidateTerm)
}

// OnAppendedPosition implements spec §4.4: the leader uses this to
// evaluate haveVotersReachedPosition from LEADER_READY's tick action.
func (e *Election) OnAppendedPosition(msg transport.AppendedPosition) {
	if e.closed {
		return
	}
	m, ok := e.members.Get(msg.FollowerID)
	if !ok {
		return
	}
	m.LeadershipTermID = msg.LeadershipTermID
	m.LogPosition = msg.LogPosition
}

// OnCommitPosition implements spec §4.4. term > ours is an open question
// (spec §9); current behavior is a no-op beyond the counter.
func (e *Election) OnCommitPosition(msg transport.CommitPosition) {
	if e.closed {
		return
	}
	if msg.LeadershipTermID > e.leadershipTermID {
		e.metrics.IncOutOfTermCommits()
	}
}

// now returns the `now` of the Tick currently driving this handler
// (handlers only ever run from within Tick's initial Poll).
func (e *Election) now() time.Time { return e.clockNow }
