// Package election implements the ten-state leader-election FSM: given a
// fixed membership, a transport, a mark-file, a recording log and a
// catch-up engine, it elects a single leader per term and brings the new
// leader and its followers into a consistent state before normal log
// replication resumes. Grounded on the teacher's raft engine (tick/step
// loop, persistState-before-reply ordering) generalized to this
// protocol's own message set and state chart.
package election

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quorumkit/election/archive"
	"github.com/quorumkit/election/catchup"
	"github.com/quorumkit/election/markfile"
	"github.com/quorumkit/election/membertable"
	"github.com/quorumkit/election/transport"
)

// NoCandidateTerm is the NULL sentinel for Election.candidateTermID
// (spec §3: "else NULL").
const NoCandidateTerm int64 = -1

// TransitionRecord is a supplemented observability feature (not part of
// the stable state-counter contract): the last state transition this
// election made, for agents that want more than the bare counter.
type TransitionRecord struct {
	From State
	To   State
	At   time.Time
}

// Params bundles everything NewElection needs to wire an Election to its
// collaborators. The transport, agent, remote log and metrics sink are
// consumed through interfaces (Transport, Agent, archive.Source,
// MetricsSink); the mark-file and local recording log are the concrete
// markfile.File and archive.Log types, and the catch-up engine is always
// a catchup.Engine.
type Params struct {
	Self    membertable.ID
	Members *membertable.Table

	Transport transport.Transport
	MarkFile  *markfile.File
	Archive   *archive.Log
	// RemoteLog streams a leader's recorded range during follower
	// catch-up; supplied by the agent, which is responsible for routing
	// it to whichever member is currently leader (spec §1: transport and
	// archive are external collaborators, referenced by capability only).
	RemoteLog archive.Source

	Agent   Agent
	Metrics MetricsSink
	Config  Config
	Rand    *rand.Rand
	Logger  *zap.Logger

	IsStartup           bool
	LeadershipTermID    int64
	LogLeadershipTermID int64
	LogPosition         int64
}

// Election is the leader-election state machine. It is single-threaded:
// the owning agent calls Tick and the On* handlers from one goroutine
// only (spec §5), so the type carries no internal locking.
type Election struct {
	self    membertable.ID
	members *membertable.Table

	transport transport.Transport
	markFile  *markfile.File
	archive   *archive.Log
	remoteLog archive.Source

	agent   Agent
	metrics MetricsSink
	cfg     Config
	rng     *rand.Rand
	logger  *zap.Logger

	state     State
	isStartup bool

	leadershipTermID    int64
	logLeadershipTermID int64
	logPosition         int64
	candidateTermID     int64
	leaderMember        *membertable.Member
	logSessionID        int32

	timeOfLastStateChange time.Time
	timeOfLastUpdate      time.Time
	nominationDeadline    time.Time

	pendingCatchupTarget int64
	subscription         Subscription
	catchupEngine        *catchup.Engine

	lastTransition TransitionRecord
	closed         bool
	fatal          error

	// clockNow is the `now` of the Tick currently in progress, so
	// message handlers invoked from Poll (which runs inside Tick, before
	// any per-state action) can stamp transitions without a second clock
	// read.
	clockNow time.Time
}

// NewElection builds an Election in state INIT. The first Tick call
// drives the INIT one-shot action.
func NewElection(p Params) *Election {
	metrics := p.Metrics
	if metrics == nil {
		metrics = NoopMetrics()
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := p.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	e := &Election{
		self:    p.Self,
		members: p.Members,

		transport: p.Transport,
		markFile:  p.MarkFile,
		archive:   p.Archive,
		remoteLog: p.RemoteLog,

		agent:   p.Agent,
		metrics: metrics,
		cfg:     p.Config,
		rng:     rng,
		logger:  logger,

		state:     StateInit,
		isStartup: p.IsStartup,

		leadershipTermID:    p.LeadershipTermID,
		logLeadershipTermID: p.LogLeadershipTermID,
		logPosition:         p.LogPosition,
		candidateTermID:     NoCandidateTerm,
	}
	metrics.SetState(StateInit)
	metrics.SetLeadershipTerm(e.leadershipTermID)
	return e
}

// SetTransport binds the transport this election sends/polls through.
// Split from Params because a Transport's Register call typically needs
// this election's Handlers(), which in turn needs the Election to exist
// first — construct with Params.Transport nil, call Handlers(), register
// with the concrete transport, then SetTransport the result.
func (e *Election) SetTransport(t transport.Transport) { e.transport = t }

// State returns the current published state code.
func (e *Election) State() State { return e.state }

// LastTransition is a supplemented feature (SPEC_FULL, "Supplemented
// features"): the last
// (from, to, at) transition, never a replacement for the state counter.
func (e *Election) LastTransition() TransitionRecord { return e.lastTransition }

// Close releases the catch-up engine, if any, and marks the election
// terminal. Idempotent, callable from any state (P5).
func (e *Election) Close() error {
	if e.closed {
		return nil
	}
	e.catchupEngine = nil
	e.closed = true
	return nil
}

// Err returns the fatal error, if any, that closed this election.
func (e *Election) Err() error { return e.fatal }

// Closed reports whether Close has run, whether because the agent
// reported electionComplete or because of a fatal error.
func (e *Election) Closed() bool { return e.closed }

func (e *Election) fail(err error) {
	e.fatal = err
	e.logger.Error("election closing on fatal error", zap.Error(err), zap.Stringer("state", e.state))
	_ = e.Close()
}

// maxCascadePerTick bounds how many one-shot states a single Tick will
// chain through (spec §8 scenario 1: one tick carries a solo cluster
// all the way INIT → LEADER_TRANSITION → LEADER_READY). Any run of
// one-shot states is at most two deep today; this is headroom, not a
// tuned limit, and tripping it is ErrProtocolViolation.
const maxCascadePerTick = 16

// Tick polls the transport, then runs the action for the current state,
// possibly transitioning — and, because one-shot states (INIT,
// LEADER_TRANSITION, FOLLOWER_*_TRANSITION) always transition once
// invoked, keeps running newly-entered one-shot actions within the same
// call until a state that waits on time or a message is reached. It
// never blocks (spec §5).
func (e *Election) Tick(now time.Time) error {
	if e.closed {
		return nil
	}
	e.clockNow = now
	e.transport.Poll()

	for i := 0; i < maxCascadePerTick; i++ {
		before := e.state
		e.runStateAction(now)
		if e.closed || e.fatal != nil {
			break
		}
		if e.state == before {
			break
		}
		if !isOneShot(e.state) {
			break
		}
		if i == maxCascadePerTick-1 {
			e.fail(errors.Wrapf(ErrProtocolViolation, "one-shot cascade exceeded %d states", maxCascadePerTick))
		}
	}
	return e.fatal
}

func isOneShot(s State) bool {
	switch s {
	case StateInit, StateLeaderTransition, StateFollowerCatchupTransition, StateFollowerTransition:
		return true
	default:
		return false
	}
}

func (e *Election) runStateAction(now time.Time) {
	switch e.state {
	case StateInit:
		e.tickInit(now)
	case StateCanvass:
		e.tickCanvass(now)
	case StateNominate:
		e.tickNominate(now)
	case StateCandidateBallot:
		e.tickCandidateBallot(now)
	case StateFollowerBallot:
		e.tickFollowerBallot(now)
	case StateLeaderTransition:
		e.tickLeaderTransition(now)
	case StateLeaderReady:
		e.tickLeaderReady(now)
	case StateFollowerCatchupTransition:
		e.tickFollowerCatchupTransition(now)
	case StateFollowerCatchup:
		e.tickFollowerCatchup(now)
	case StateFollowerTransition:
		e.tickFollowerTransition(now)
	case StateFollowerReady:
		e.tickFollowerReady(now)
	default:
		e.fail(errors.Wrapf(ErrProtocolViolation, "unknown state code %d", int32(e.state)))
	}
}

// transitionTo runs the exiting state's exit action, moves to target,
// stamps timeOfLastStateChange, republishes the state counter, and —
// entering CANVASS — resets peer election fields and demotes to
// follower (spec §4.6, invariant I6).
func (e *Election) transitionTo(now time.Time, target State) {
	e.runExitAction()

	from := e.state
	e.state = target
	e.timeOfLastStateChange = now
	e.timeOfLastUpdate = time.Time{}
	e.lastTransition = TransitionRecord{From: from, To: target, At: now}
	e.metrics.SetState(target)

	if target == StateCanvass {
		e.members.ResetAllElectionFields()
		if self, ok := e.members.Get(e.self); ok {
			self.LeadershipTermID = e.logLeadershipTermID
			self.LogPosition = e.logPosition
		}
		e.agent.Role(RoleFollower)
	}

	level := zap.DebugLevel
	if target == StateLeaderReady || target == StateFollowerReady {
		level = zap.InfoLevel
	}
	if ce := e.logger.Check(level, "election state transition"); ce != nil {
		ce.Write(zap.Stringer("from", from), zap.Stringer("to", target))
	}
}

// runExitAction implements spec §9: only CANVASS and FOLLOWER_CATCHUP
// carry exit bodies.
func (e *Election) runExitAction() {
	switch e.state {
	case StateCanvass:
		e.isStartup = false
	case StateFollowerCatchup:
		e.catchupEngine = nil
	}
}

func (e *Election) deadline() time.Duration {
	if e.isStartup {
		return e.cfg.StartupStatusTimeout
	}
	return e.cfg.ElectionTimeout
}

func (e *Election) broadcastOthers(send func(m *membertable.Member) bool) {
	for _, m := range e.members.Others() {
		send(m)
	}
}

// ---- per-state tick actions (spec §4.5) ----

func (e *Election) tickInit(now time.Time) {
	if !e.isStartup {
		newPos, err := e.agent.PrepareForElection(e.logPosition)
		if err != nil {
			e.fail(err)
			return
		}
		e.logPosition = newPos
	}

	if e.members.Count() == 1 {
		e.candidateTermID = e.leadershipTermID + 1
		e.transitionTo(now, StateLeaderTransition)
		return
	}
	if e.cfg.isAppointed(e.self) {
		e.nominationDeadline = now
		e.transitionTo(now, StateNominate)
		return
	}

	if termID, present, err := e.markFile.Read(); err != nil {
		e.fail(err)
		return
	} else if present {
		e.candidateTermID = termID
	}
	e.transitionTo(now, StateCanvass)
}

func (e *Election) tickCanvass(now time.Time) {
	if e.timeOfLastUpdate.IsZero() || now.Sub(e.timeOfLastUpdate) >= e.cfg.StatusInterval {
		e.broadcastOthers(func(m *membertable.Member) bool {
			return e.transport.SendCanvassPosition(m.MemberID, transport.CanvassPosition{
				LogLeadershipTermID: e.logLeadershipTermID,
				LogPosition:         e.logPosition,
				FollowerID:          e.self,
			})
		})
		e.agent.UpdateMemberDetails()
		e.timeOfLastUpdate = now
	}

	if e.cfg.hasAppointedLeader() {
		return
	}

	deadlineReached := now.Sub(e.timeOfLastStateChange) >= e.deadline()
	if e.isUnanimousCandidate() || (e.isQuorumCandidate() && deadlineReached) {
		jitter := time.Duration(0)
		if e.cfg.StatusInterval > 0 {
			jitter = time.Duration(e.rng.Int63n(int64(e.cfg.StatusInterval)))
		}
		e.nominationDeadline = now.Add(jitter)
		e.transitionTo(now, StateNominate)
	}
}

func (e *Election) tickNominate(now time.Time) {
	if now.Before(e.nominationDeadline) {
		return
	}
	next := e.candidateTermID + 1
	if e.leadershipTermID+1 > next {
		next = e.leadershipTermID + 1
	}
	e.candidateTermID = next

	e.members.ResetAllElectionFields()
	if err := e.markFile.Write(e.candidateTermID); err != nil {
		e.fail(err)
		return
	}
	e.metrics.SetCandidateTerm(e.candidateTermID)
	e.agent.Role(RoleCandidate)
	e.transitionTo(now, StateCandidateBallot)
}

func (e *Election) tickCandidateBallot(now time.Time) {
	for _, m := range e.members.Others() {
		if m.IsBallotSent {
			continue
		}
		if e.transport.SendRequestVote(m.MemberID, transport.RequestVote{
			LogLeadershipTermID: e.logLeadershipTermID,
			LogPosition:         e.logPosition,
			CandidateTermID:     e.candidateTermID,
			CandidateID:         e.self,
		}) {
			m.IsBallotSent = true
		}
	}

	if e.hasWonVoteOnFullCount(e.candidateTermID) {
		e.transitionTo(now, StateLeaderTransition)
		return
	}
	if now.Sub(e.timeOfLastStateChange) >= e.cfg.ElectionTimeout {
		if e.hasMajorityVote(e.candidateTermID) {
			e.transitionTo(now, StateLeaderTransition)
		} else {
			e.transitionTo(now, StateCanvass)
		}
	}
}

func (e *Election) tickFollowerBallot(now time.Time) {
	if now.Sub(e.timeOfLastStateChange) >= e.cfg.ElectionTimeout {
		e.transitionTo(now, StateCanvass)
	}
}

func (e *Election) tickLeaderTransition(now time.Time) {
	for term := e.leadershipTermID + 1; term < e.candidateTermID; term++ {
		if err := e.archive.Append(archive.Record{
			RecordingID: archive.NoRecordingID,
			TermID:      term,
			LogPosition: e.logPosition,
			Timestamp:   now,
		}); err != nil {
			e.fail(err)
			return
		}
	}

	e.leadershipTermID = e.candidateTermID
	e.candidateTermID = NoCandidateTerm
	e.metrics.SetLeadershipTerm(e.leadershipTermID)
	e.metrics.SetCandidateTerm(NoCandidateTerm)

	if err := e.agent.BecomeLeader(); err != nil {
		e.fail(err)
		return
	}

	if err := e.archive.Append(archive.Record{
		RecordingID: e.agent.LogRecordingID(),
		TermID:      e.leadershipTermID,
		LogPosition: e.logPosition,
		Timestamp:   now,
	}); err != nil {
		e.fail(err)
		return
	}

	if err := e.markFile.Clear(); err != nil {
		e.fail(err)
		return
	}

	for _, m := range e.members.Others() {
		m.LeadershipTermID = 0
		m.LogPosition = membertable.UnknownLogPosition
	}
	if self, ok := e.members.Get(e.self); ok {
		self.LeadershipTermID = e.leadershipTermID
		self.LogPosition = e.logPosition
	}
	e.logLeadershipTermID = e.leadershipTermID

	e.transitionTo(now, StateLeaderReady)
}

func (e *Election) tickLeaderReady(now time.Time) {
	if e.timeOfLastUpdate.IsZero() || now.Sub(e.timeOfLastUpdate) >= e.cfg.LeaderHeartbeatInterval {
		e.broadcastOthers(func(m *membertable.Member) bool {
			return e.transport.SendNewLeadershipTerm(m.MemberID, transport.NewLeadershipTerm{
				LogLeadershipTermID: e.logLeadershipTermID,
				LogPosition:         e.logPosition,
				LeadershipTermID:    e.leadershipTermID,
				LeaderID:            e.self,
				LogSessionID:        e.logSessionID,
			})
		})
		e.agent.UpdateMemberDetails()
		e.timeOfLastUpdate = now
	}

	if e.haveVotersReachedPosition(e.logPosition, e.leadershipTermID) {
		if e.agent.ElectionComplete(now) {
			_ = e.Close()
		}
	}
}

func (e *Election) tickFollowerCatchupTransition(now time.Time) {
	uri, err := followerSubscriptionURI(e.cfg.LogChannel, e.logSessionID)
	if err != nil {
		e.fail(err)
		return
	}
	if err := e.agent.AwaitServicesReady(uri, e.logSessionID); err != nil {
		e.fail(err)
		return
	}
	sub, err := e.agent.CreateAndRecordLogSubscriptionAsFollower(uri, e.logPosition)
	if err != nil {
		e.fail(errors.Wrap(err, "election: create follower subscription"))
		return
	}
	e.subscription = sub

	var leaderID membertable.ID
	if e.leaderMember != nil {
		leaderID = e.leaderMember.MemberID
	}
	e.catchupEngine = catchup.NewEngine(leaderID, e.logSessionID, e.logLeadershipTermID, e.pendingCatchupTarget, e.remoteLog, e.archive, e.logger)

	e.transitionTo(now, StateFollowerCatchup)
}

func (e *Election) tickFollowerCatchup(now time.Time) {
	done, err := e.catchupEngine.DoWork(context.Background())
	if err != nil {
		e.fail(errors.Wrap(ErrCatchupFailed, err.Error()))
		return
	}
	if n := e.catchupEngine.LastBatchSize(); n > 0 {
		e.metrics.IncCatchupRecords(n)
	}
	e.agent.CatchupLogPoll(e.catchupEngine.TargetPosition())
	if !done {
		return
	}

	e.logPosition = e.catchupEngine.TargetPosition()
	destURI, err := liveLogDestinationURI(e.cfg.LogChannel, e.cfg.LogEndpoint)
	if err != nil {
		e.fail(err)
		return
	}
	if err := e.agent.AddLiveLogDestination(e.subscription, destURI); err != nil {
		e.fail(err)
		return
	}
	if err := e.archive.Append(archive.Record{
		RecordingID: archive.NoRecordingID,
		TermID:      e.leadershipTermID,
		LogPosition: e.logPosition,
		Timestamp:   now,
	}); err != nil {
		e.fail(err)
		return
	}
	e.logLeadershipTermID = e.leadershipTermID
	e.transitionTo(now, StateFollowerReady)
}

func (e *Election) tickFollowerTransition(now time.Time) {
	uri, err := followerSubscriptionURI(e.cfg.LogChannel, e.logSessionID)
	if err != nil {
		e.fail(err)
		return
	}
	if err := e.agent.AwaitServicesReady(uri, e.logSessionID); err != nil {
		e.fail(err)
		return
	}
	sub, err := e.agent.CreateAndRecordLogSubscriptionAsFollower(uri, e.logPosition)
	if err != nil {
		e.fail(err)
		return
	}
	e.subscription = sub

	destURI, err := liveLogDestinationURI(e.cfg.LogChannel, e.cfg.LogEndpoint)
	if err != nil {
		e.fail(err)
		return
	}
	if err := e.agent.AddLiveLogDestination(sub, destURI); err != nil {
		e.fail(err)
		return
	}
	if err := e.agent.AwaitImageAndCreateFollowerLogAdapter(sub, e.logSessionID); err != nil {
		e.fail(err)
		return
	}
	if err := e.archive.Append(archive.Record{
		RecordingID: archive.NoRecordingID,
		TermID:      e.leadershipTermID,
		LogPosition: e.logPosition,
		Timestamp:   now,
	}); err != nil {
		e.fail(err)
		return
	}
	e.logLeadershipTermID = e.leadershipTermID
	e.transitionTo(now, StateFollowerReady)
}

func (e *Election) tickFollowerReady(now time.Time) {
	var leaderID membertable.ID
	if e.leaderMember != nil {
		leaderID = e.leaderMember.MemberID
	}
	ok := e.transport.SendAppendedPosition(leaderID, transport.AppendedPosition{
		LeadershipTermID: e.leadershipTermID,
		LogPosition:      e.logPosition,
		FollowerID:       e.self,
	})
	if ok {
		if e.agent.ElectionComplete(now) {
			_ = e.Close()
		}
		return
	}
	if now.Sub(e.timeOfLastStateChange) >= e.cfg.ElectionTimeout {
		e.transitionTo(now, StateCanvass)
	}
}
