// Package membertable holds the per-peer election bookkeeping of a
// cluster member: its last reported log position, the vote it cast or
// received in the current candidacy, and whether we have successfully
// sent it a RequestVote this term.
package membertable

import "sync"

// Vote is the tri-state outcome of a RequestVote exchange with a peer.
type Vote int

const (
	VoteUnknown Vote = iota
	VoteGranted
	VoteDenied
)

// ID identifies a cluster member. Members are cluster-static, so callers
// are expected to use small dense integers.
type ID int

// UnknownLogPosition marks a member's LogPosition as not-yet-reported,
// used when a new leader resets every peer's log view on transition.
const UnknownLogPosition int64 = -1

// Sender is the per-peer send handle a Member uses to reach its transport
// connection. It is supplied by the transport adapter (see package
// transport) and is opaque to the member table.
type Sender interface {
	ID() ID
}

// Member is the election-scoped record for one peer, including self.
type Member struct {
	MemberID ID
	Send     Sender

	LeadershipTermID int64
	LogPosition      int64
	CandidateTermID  int64
	Vote             Vote
	IsBallotSent     bool

	// Reported is set once this peer's LeadershipTermID/LogPosition have
	// been updated from a CanvassPosition in the current canvass, so the
	// unanimous/quorum predicates can tell "never heard from" apart from
	// "caught up with us".
	Reported bool
}

// ResetElectionFields clears everything the FSM accumulates during a
// candidacy, per spec invariant I6: a CANVASS transition always resets
// peers' election-scoped fields.
func (m *Member) ResetElectionFields() {
	m.CandidateTermID = 0
	m.Vote = VoteUnknown
	m.IsBallotSent = false
	m.Reported = false
}

// Table is a fixed-size arena of Members indexed by ID. Membership is
// cluster-static for the lifetime of an election, so a map keyed by ID
// (rather than a linked structure) is sufficient and keeps lookups O(1).
type Table struct {
	mu      sync.RWMutex
	self    ID
	members map[ID]*Member
}

// NewTable builds a member table for a self id among the given peers.
// self is included in the table so callers can treat "all members" and
// "other members" uniformly when the caller wants to.
func NewTable(self ID, peers map[ID]Sender) *Table {
	t := &Table{
		self:    self,
		members: make(map[ID]*Member, len(peers)+1),
	}
	for id, sender := range peers {
		t.members[id] = &Member{MemberID: id, Send: sender}
	}
	if _, ok := t.members[self]; !ok {
		t.members[self] = &Member{MemberID: self}
	}
	return t
}

// Self returns this node's own member id.
func (t *Table) Self() ID { return t.self }

// Get returns the member record for id, creating nothing — callers must
// only ask about ids that were part of the static membership.
func (t *Table) Get(id ID) (*Member, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.members[id]
	return m, ok
}

// Count returns the total membership size, including self.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Others returns every member except self, in unspecified order.
func (t *Table) Others() []*Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Member, 0, len(t.members)-1)
	for id, m := range t.members {
		if id != t.self {
			out = append(out, m)
		}
	}
	return out
}

// All returns every member, including self, in unspecified order.
func (t *Table) All() []*Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, m)
	}
	return out
}

// ResetAllElectionFields implements invariant I6 across the whole table
// and is called on every CANVASS entry.
func (t *Table) ResetAllElectionFields() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.members {
		m.ResetElectionFields()
	}
}
