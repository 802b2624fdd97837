package transport

import (
	"math/rand"
	"sync"

	"github.com/quorumkit/election/membertable"
)

// envelope carries one of the six message types plus its destination so
// the loopback transport can queue heterogeneous messages on a single
// channel per recipient.
type envelope struct {
	kind string
	to   membertable.ID
	from membertable.ID

	canvass  CanvassPosition
	vreq     RequestVote
	vote     Vote
	newTerm  NewLeadershipTerm
	appended AppendedPosition
	commit   CommitPosition
}

// LoopbackTransport is an in-process Transport used by tests and the
// single-process demo cluster. Every member registered on the same
// LoopbackRegistry can reach every other; there is no real network, but
// the registry's accept/drop/partition controls let tests exercise the
// back-pressure and stale-message paths spec.md describes without a
// socket. Grounded on the teacher's in-memory RPC transport and fault
// injection network.
type LoopbackTransport struct {
	mu sync.Mutex

	self     membertable.ID
	inboxes  map[membertable.ID]chan envelope
	handlers map[membertable.ID]Handlers

	accept    map[membertable.ID]bool // per-destination accept override
	partition map[membertable.ID]map[membertable.ID]bool
	dropRate  float64
	rng       *rand.Rand
}

// LoopbackRegistry is the shared hub that every member's per-self
// LoopbackTransport view is built from.
type LoopbackRegistry struct {
	mu        sync.Mutex
	inboxes   map[membertable.ID]chan envelope
	handlers  map[membertable.ID]Handlers
	partition map[membertable.ID]map[membertable.ID]bool
	rng       *rand.Rand
}

// NewLoopbackRegistry builds an empty registry. Register each member
// before the election loop starts ticking.
func NewLoopbackRegistry(seed int64) *LoopbackRegistry {
	return &LoopbackRegistry{
		inboxes:   make(map[membertable.ID]chan envelope),
		handlers:  make(map[membertable.ID]Handlers),
		partition: make(map[membertable.ID]map[membertable.ID]bool),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Register creates and returns the Transport view for member id, wired
// to deliver inbound messages to h when Poll is called.
func (r *LoopbackRegistry) Register(id membertable.ID, h Handlers) *LoopbackTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inboxes[id] = make(chan envelope, 256)
	r.handlers[id] = h
	r.partition[id] = make(map[membertable.ID]bool)
	return &LoopbackTransport{
		self:      id,
		inboxes:   r.inboxes,
		handlers:  r.handlers,
		accept:    make(map[membertable.ID]bool),
		partition: r.partition,
		rng:       r.rng,
	}
}

// SetAccept overrides whether sends to `to` are accepted by the
// transport (simulating back-pressure at the destination's queue).
// Defaults to true when never set.
func (t *LoopbackTransport) SetAccept(to membertable.ID, accept bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accept[to] = accept
}

// Partition isolates `a` and `b` from each other in both directions.
func (t *LoopbackTransport) Partition(a, b membertable.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.partition[a] == nil {
		t.partition[a] = make(map[membertable.ID]bool)
	}
	if t.partition[b] == nil {
		t.partition[b] = make(map[membertable.ID]bool)
	}
	t.partition[a][b] = true
	t.partition[b][a] = true
}

// Heal reverses a prior Partition.
func (t *LoopbackTransport) Heal(a, b membertable.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.partition[a] != nil {
		delete(t.partition[a], b)
	}
	if t.partition[b] != nil {
		delete(t.partition[b], a)
	}
}

func (t *LoopbackTransport) connected(to membertable.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if accepted, ok := t.accept[to]; ok && !accepted {
		return false
	}
	if peers, ok := t.partition[t.self]; ok && peers[to] {
		return false
	}
	return true
}

func (t *LoopbackTransport) send(e envelope) bool {
	if !t.connected(e.to) {
		return false
	}
	if t.dropRate > 0 {
		t.mu.Lock()
		drop := t.rng.Float64() < t.dropRate
		t.mu.Unlock()
		if drop {
			return false
		}
	}
	inbox, ok := t.inboxes[e.to]
	if !ok {
		return false
	}
	select {
	case inbox <- e:
		return true
	default:
		return false // destination queue full: back-pressure
	}
}

// SetDropRate sets the fraction (0..1) of otherwise-accepted sends that
// are randomly dropped before reaching the destination's inbox,
// simulating lossy delivery independent of partition/back-pressure.
func (t *LoopbackTransport) SetDropRate(rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropRate = rate
}

func (t *LoopbackTransport) SendCanvassPosition(to membertable.ID, msg CanvassPosition) bool {
	return t.send(envelope{kind: "canvass", to: to, from: t.self, canvass: msg})
}

func (t *LoopbackTransport) SendRequestVote(to membertable.ID, msg RequestVote) bool {
	return t.send(envelope{kind: "requestVote", to: to, from: t.self, vreq: msg})
}

func (t *LoopbackTransport) SendVote(to membertable.ID, msg Vote) bool {
	return t.send(envelope{kind: "vote", to: to, from: t.self, vote: msg})
}

func (t *LoopbackTransport) SendNewLeadershipTerm(to membertable.ID, msg NewLeadershipTerm) bool {
	return t.send(envelope{kind: "newTerm", to: to, from: t.self, newTerm: msg})
}

func (t *LoopbackTransport) SendAppendedPosition(to membertable.ID, msg AppendedPosition) bool {
	return t.send(envelope{kind: "appended", to: to, from: t.self, appended: msg})
}

func (t *LoopbackTransport) SendCommitPosition(to membertable.ID, msg CommitPosition) bool {
	return t.send(envelope{kind: "commit", to: to, from: t.self, commit: msg})
}

// Poll drains this member's inbox and dispatches each message to the
// handlers it registered with, returning how many were delivered.
func (t *LoopbackTransport) Poll() int {
	inbox := t.inboxes[t.self]
	h := t.handlers[t.self]
	delivered := 0
	for {
		select {
		case e := <-inbox:
			delivered++
			switch e.kind {
			case "canvass":
				if h.OnCanvassPosition != nil {
					h.OnCanvassPosition(e.canvass)
				}
			case "requestVote":
				if h.OnRequestVote != nil {
					h.OnRequestVote(e.vreq)
				}
			case "vote":
				if h.OnVote != nil {
					h.OnVote(e.vote)
				}
			case "newTerm":
				if h.OnNewLeadershipTerm != nil {
					h.OnNewLeadershipTerm(e.newTerm)
				}
			case "appended":
				if h.OnAppendedPosition != nil {
					h.OnAppendedPosition(e.appended)
				}
			case "commit":
				if h.OnCommitPosition != nil {
					h.OnCommitPosition(e.commit)
				}
			}
		default:
			return delivered
		}
	}
}
