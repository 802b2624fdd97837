package election

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quorumkit/election/archive"
	"github.com/quorumkit/election/markfile"
	"github.com/quorumkit/election/membertable"
	"github.com/quorumkit/election/transport"
)

// fakeAgent is a minimal, inspectable election.Agent for tests.
type fakeAgent struct {
	preparedPos   int64
	becameLeader  bool
	recordingID   int64
	subscriptions []string
	completeCalls int
	complete      bool
}

func (a *fakeAgent) PrepareForElection(logPosition int64) (int64, error) {
	a.preparedPos = logPosition
	return logPosition, nil
}
func (a *fakeAgent) Role(Role)             {}
func (a *fakeAgent) BecomeLeader() error   { a.becameLeader = true; return nil }
func (a *fakeAgent) LogRecordingID() int64 { return a.recordingID }
func (a *fakeAgent) CreateAndRecordLogSubscriptionAsFollower(channelURI string, fromPosition int64) (Subscription, error) {
	a.subscriptions = append(a.subscriptions, channelURI)
	return channelURI, nil
}
func (a *fakeAgent) AddLiveLogDestination(Subscription, string) error               { return nil }
func (a *fakeAgent) AwaitServicesReady(string, int32) error                        { return nil }
func (a *fakeAgent) AwaitImageAndCreateFollowerLogAdapter(Subscription, int32) error { return nil }
func (a *fakeAgent) CatchupLogPoll(int64)                                          {}
func (a *fakeAgent) UpdateMemberDetails()                                          {}
func (a *fakeAgent) ElectionComplete(time.Time) bool {
	a.completeCalls++
	return a.complete
}

// fakeTransport records sends and never actually delivers unless the
// test wires OnX handlers through Handlers() manually.
type fakeTransport struct {
	sent []interface{}
}

func (t *fakeTransport) SendCanvassPosition(to membertable.ID, msg transport.CanvassPosition) bool {
	t.sent = append(t.sent, msg)
	return true
}
func (t *fakeTransport) SendRequestVote(to membertable.ID, msg transport.RequestVote) bool {
	t.sent = append(t.sent, msg)
	return true
}
func (t *fakeTransport) SendVote(to membertable.ID, msg transport.Vote) bool {
	t.sent = append(t.sent, msg)
	return true
}
func (t *fakeTransport) SendNewLeadershipTerm(to membertable.ID, msg transport.NewLeadershipTerm) bool {
	t.sent = append(t.sent, msg)
	return true
}
func (t *fakeTransport) SendAppendedPosition(to membertable.ID, msg transport.AppendedPosition) bool {
	t.sent = append(t.sent, msg)
	return true
}
func (t *fakeTransport) SendCommitPosition(to membertable.ID, msg transport.CommitPosition) bool {
	t.sent = append(t.sent, msg)
	return true
}
func (t *fakeTransport) Poll() int { return 0 }

func newTestElection(t *testing.T, selfID membertable.ID, peerIDs []membertable.ID, a *fakeAgent, isStartup bool) (*Election, *fakeTransport, *archive.Log, *markfile.File) {
	t.Helper()
	dir := t.TempDir()

	mf, err := markfile.Open(dir)
	require.NoError(t, err)
	log, err := archive.Open(dir)
	require.NoError(t, err)

	peers := make(map[membertable.ID]membertable.Sender, len(peerIDs))
	for _, id := range peerIDs {
		peers[id] = stubSender{id}
	}
	table := membertable.NewTable(selfID, peers)

	tr := &fakeTransport{}
	e := NewElection(Params{
		Self:      selfID,
		Members:   table,
		Transport: tr,
		MarkFile:  mf,
		Archive:   log,
		RemoteLog: log,
		Agent:     a,
		Config: Config{
			StatusInterval:          10 * time.Millisecond,
			LeaderHeartbeatInterval: 10 * time.Millisecond,
			ElectionTimeout:         50 * time.Millisecond,
			StartupStatusTimeout:    50 * time.Millisecond,
		},
		IsStartup: isStartup,
	})
	return e, tr, log, mf
}

type stubSender struct{ id membertable.ID }

func (s stubSender) ID() membertable.ID { return s.id }

func TestSoloClusterBecomesLeaderImmediately(t *testing.T) {
	a := &fakeAgent{complete: true}
	e, _, log, mf := newTestElection(t, 0, nil, a, false)
	e.logPosition = 100

	now := time.Now()
	require.NoError(t, e.Tick(now))

	require.Equal(t, StateLeaderReady, e.State())
	require.Equal(t, int64(1), e.leadershipTermID)
	require.Equal(t, NoCandidateTerm, e.candidateTermID)
	require.True(t, a.becameLeader)

	records := log.All()
	require.Len(t, records, 1)
	require.Equal(t, int64(1), records[0].TermID)
	require.Equal(t, int64(100), records[0].LogPosition)

	_, present, err := mf.Read()
	require.NoError(t, err)
	require.False(t, present)
}

func TestThreeNodeUnanimousCanvassElectsLeader(t *testing.T) {
	a := &fakeAgent{}
	e, tr, _, _ := newTestElection(t, 0, []membertable.ID{1, 2}, a, false)
	e.leadershipTermID = 5
	e.logLeadershipTermID = 5
	e.logPosition = 1000

	now := time.Now()
	require.NoError(t, e.Tick(now)) // INIT -> CANVASS
	require.Equal(t, StateCanvass, e.State())

	e.OnCanvassPosition(transport.CanvassPosition{LogLeadershipTermID: 5, LogPosition: 1000, FollowerID: 1})
	e.OnCanvassPosition(transport.CanvassPosition{LogLeadershipTermID: 5, LogPosition: 1000, FollowerID: 2})

	require.True(t, e.isUnanimousCandidate())

	now = now.Add(time.Millisecond)
	require.NoError(t, e.Tick(now)) // CANVASS -> NOMINATE
	require.Equal(t, StateNominate, e.State())

	now = e.nominationDeadline.Add(time.Millisecond)
	require.NoError(t, e.Tick(now)) // NOMINATE -> CANDIDATE_BALLOT
	require.Equal(t, StateCandidateBallot, e.State())
	require.Equal(t, int64(6), e.candidateTermID)

	now = now.Add(time.Millisecond)
	require.NoError(t, e.Tick(now)) // CANDIDATE_BALLOT action: send RequestVote to each peer
	require.Equal(t, StateCandidateBallot, e.State())

	var sawRequestVote int
	for _, msg := range tr.sent {
		if _, ok := msg.(transport.RequestVote); ok {
			sawRequestVote++
		}
	}
	require.Equal(t, 2, sawRequestVote)

	e.OnVote(transport.Vote{CandidateTermID: 6, CandidateID: 0, FollowerID: 1, VoteGranted: true})
	e.OnVote(transport.Vote{CandidateTermID: 6, CandidateID: 0, FollowerID: 2, VoteGranted: true})
	require.True(t, e.hasWonVoteOnFullCount(6))

	now = now.Add(time.Millisecond)
	require.NoError(t, e.Tick(now)) // CANDIDATE_BALLOT -> LEADER_TRANSITION -> LEADER_READY
	require.Equal(t, StateLeaderReady, e.State())
	require.Equal(t, int64(6), e.leadershipTermID)
}

func TestRequestVoteDeniesStaleCandidate(t *testing.T) {
	a := &fakeAgent{}
	e, tr, _, mf := newTestElection(t, 0, []membertable.ID{1}, a, false)
	e.state = StateFollowerBallot // already past INIT for this unit test
	e.logLeadershipTermID = 5
	e.logPosition = 1500
	e.leadershipTermID = 5

	e.OnRequestVote(transport.RequestVote{CandidateTermID: 6, LogLeadershipTermID: 5, LogPosition: 1000, CandidateID: 1})

	require.Equal(t, StateCanvass, e.State())
	require.Equal(t, int64(6), e.candidateTermID)

	termID, present, err := mf.Read()
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, int64(6), termID)

	last := tr.sent[len(tr.sent)-1].(transport.Vote)
	require.False(t, last.VoteGranted)
}

func TestRequestVoteGrantsWhenLogNotFresher(t *testing.T) {
	a := &fakeAgent{}
	e, tr, _, _ := newTestElection(t, 0, []membertable.ID{1}, a, false)
	e.state = StateCanvass
	e.logLeadershipTermID = 5
	e.logPosition = 1000
	e.leadershipTermID = 5

	e.OnRequestVote(transport.RequestVote{CandidateTermID: 6, LogLeadershipTermID: 5, LogPosition: 1200, CandidateID: 1})

	require.Equal(t, StateFollowerBallot, e.State())
	last := tr.sent[len(tr.sent)-1].(transport.Vote)
	require.True(t, last.VoteGranted)
}

func TestFollowerCatchupReachesReady(t *testing.T) {
	remoteDir := t.TempDir()
	remoteLog, err := archive.Open(remoteDir)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, remoteLog.Append(archive.Record{RecordingID: 99, TermID: 6, LogPosition: 1500, Timestamp: now}))

	a := &fakeAgent{complete: true}
	dir := t.TempDir()
	mf, err := markfile.Open(dir)
	require.NoError(t, err)
	localLog, err := archive.Open(dir)
	require.NoError(t, err)

	peers := map[membertable.ID]membertable.Sender{1: stubSender{1}}
	table := membertable.NewTable(0, peers)
	leader, _ := table.Get(1)

	tr := &fakeTransport{}
	e := NewElection(Params{
		Self:      0,
		Members:   table,
		Transport: tr,
		MarkFile:  mf,
		Archive:   localLog,
		RemoteLog: remoteLog,
		Agent:     a,
		Config: Config{
			ElectionTimeout: 50 * time.Millisecond,
			LogChannel:      "aeron:udp?endpoint=localhost:9000",
		},
	})
	e.state = StateFollowerBallot
	e.candidateTermID = 6
	e.logLeadershipTermID = 5
	e.logPosition = 1000
	e.leaderMember = leader

	e.OnNewLeadershipTerm(transport.NewLeadershipTerm{
		LogLeadershipTermID: 5,
		LogPosition:         1500,
		LeadershipTermID:    6,
		LeaderID:            1,
		LogSessionID:        42,
	})
	require.Equal(t, StateFollowerCatchupTransition, e.State())

	require.NoError(t, e.Tick(now))
	require.Equal(t, StateFollowerCatchup, e.State())

	for i := 0; i < 5 && e.State() == StateFollowerCatchup; i++ {
		require.NoError(t, e.Tick(now))
	}
	require.Equal(t, StateFollowerReady, e.State())
	require.Equal(t, int64(1500), e.logPosition)

	require.NoError(t, e.Tick(now)) // FOLLOWER_READY action: send AppendedPosition

	var appended transport.AppendedPosition
	for _, msg := range tr.sent {
		if m, ok := msg.(transport.AppendedPosition); ok {
			appended = m
		}
	}
	require.Equal(t, int64(6), appended.LeadershipTermID)
	require.Equal(t, int64(1500), appended.LogPosition)
}

func TestCloseIsIdempotent(t *testing.T) {
	a := &fakeAgent{}
	e, _, _, _ := newTestElection(t, 0, nil, a, false)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	require.True(t, e.Closed())
}

func TestBallotTimeoutWithMajorityBecomesLeader(t *testing.T) {
	a := &fakeAgent{}
	e, _, _, _ := newTestElection(t, 0, []membertable.ID{1, 2}, a, false)
	e.state = StateCandidateBallot
	e.candidateTermID = 6
	e.timeOfLastStateChange = time.Now()

	m1, _ := e.members.Get(1)
	m1.CandidateTermID = 6
	m1.Vote = membertable.VoteGranted
	m1.IsBallotSent = true
	m2, _ := e.members.Get(2)
	m2.IsBallotSent = true

	require.False(t, e.hasWonVoteOnFullCount(6))
	require.True(t, e.hasMajorityVote(6))

	now := e.timeOfLastStateChange.Add(e.cfg.ElectionTimeout + time.Millisecond)
	require.NoError(t, e.Tick(now))
	require.Equal(t, StateLeaderReady, e.State())
	require.Equal(t, int64(6), e.leadershipTermID)
}

func TestCompareLog(t *testing.T) {
	require.Equal(t, 0, compareLog(5, 100, 5, 100))
	require.Equal(t, -1, compareLog(4, 999, 5, 0))
	require.Equal(t, 1, compareLog(5, 101, 5, 100))
}
