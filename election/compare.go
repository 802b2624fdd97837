package election

import "github.com/quorumkit/election/membertable"

// compareLog returns the sign of the lexicographic comparison (term,
// then position) of two log views. Equal views are a tie (0) and permit
// voting (spec §4.1).
func compareLog(aTerm, aPos, bTerm, bPos int64) int {
	switch {
	case aTerm < bTerm:
		return -1
	case aTerm > bTerm:
		return 1
	case aPos < bPos:
		return -1
	case aPos > bPos:
		return 1
	default:
		return 0
	}
}

// isUnanimousCandidate is true iff every other member has reported a log
// view not strictly ahead of ours. The fast path out of CANVASS.
func (e *Election) isUnanimousCandidate() bool {
	for _, m := range e.members.Others() {
		if !m.Reported {
			return false
		}
		if compareLog(m.LeadershipTermID, m.LogPosition, e.logLeadershipTermID, e.logPosition) > 0 {
			return false
		}
	}
	return true
}

// isQuorumCandidate is true iff a majority of members (self included)
// have reported and none of them is ahead of us. The slow path out of
// CANVASS, gated on the canvass deadline.
func (e *Election) isQuorumCandidate() bool {
	reported := 1 // self always counts
	for _, m := range e.members.Others() {
		if !m.Reported {
			continue
		}
		if compareLog(m.LeadershipTermID, m.LogPosition, e.logLeadershipTermID, e.logPosition) > 0 {
			return false
		}
		reported++
	}
	return reported*2 > e.members.Count()
}

// hasWonVoteOnFullCount is true iff every other member has a recorded,
// granted vote for term. The fast path out of CANDIDATE_BALLOT.
func (e *Election) hasWonVoteOnFullCount(term int64) bool {
	for _, m := range e.members.Others() {
		if m.CandidateTermID != term || m.Vote != membertable.VoteGranted {
			return false
		}
	}
	return true
}

// hasMajorityVote is true iff strictly more than half of all members
// (self included, implicitly granted) voted granted for term. The slow
// path out of CANDIDATE_BALLOT after electionTimeout.
func (e *Election) hasMajorityVote(term int64) bool {
	granted := 1 // self
	for _, m := range e.members.Others() {
		if m.CandidateTermID == term && m.Vote == membertable.VoteGranted {
			granted++
		}
	}
	return granted*2 > e.members.Count()
}

// haveVotersReachedPosition is true iff a majority of members report a
// log view at or beyond (term, pos). Gates LEADER_READY's completion.
func (e *Election) haveVotersReachedPosition(pos, term int64) bool {
	reached := 1 // self
	for _, m := range e.members.Others() {
		if m.LeadershipTermID >= term && m.LogPosition >= pos {
			reached++
		}
	}
	return reached*2 > e.members.Count()
}
