// Package agent provides a reference implementation of the
// election.Agent contract: it owns the long-lived log subscription
// plumbing, service-readiness gates, and role advertisement the election
// package only ever reaches through an interface (spec §1, §4.3).
//
// This is deliberately a demo-grade wiring, not a full replicated-log
// agent — application-level log replication after election is an
// explicit Non-goal of the protocol this package drives.
package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quorumkit/election/election"
)

// subscription is the demo Subscription: just a channel URI and session,
// with no real Aeron image behind it.
type subscription struct {
	channelURI string
	sessionID  int32
}

// Agent wires election.Election's consumed contract to in-process stand-
// ins suitable for the demo binary and for tests that want a full
// election loop without a real log/transport stack.
type Agent struct {
	logger *zap.Logger

	role           atomic.Int32
	recordingID    int64
	electionClosed atomic.Bool

	mu sync.Mutex
	// readyDeadline simulates the "post-election plumbing" spec §4.3's
	// electionComplete gates on: ElectionComplete returns true once now
	// is past this deadline from the first call that set it.
	readyDeadline time.Time

	// readyAfter is how long after the first ElectionComplete call the
	// deadline is set to; zero means ready on first call.
	readyAfter time.Duration
}

// New builds a demo Agent that becomes ready immediately — ElectionComplete
// returns true on its first call once in LEADER_READY/FOLLOWER_READY.
func New(logger *zap.Logger) *Agent {
	return NewWithReadyAfter(logger, 0)
}

// NewWithReadyAfter builds a demo Agent whose ElectionComplete only
// reports ready once readyAfter has elapsed since the first call,
// simulating post-election plumbing (service warmup, image attach) that
// takes longer than a single tick.
func NewWithReadyAfter(logger *zap.Logger, readyAfter time.Duration) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{logger: logger, readyAfter: readyAfter}
	a.role.Store(int32(election.RoleFollower))
	return a
}

func (a *Agent) PrepareForElection(logPosition int64) (int64, error) {
	a.logger.Debug("prepareForElection", zap.Int64("logPosition", logPosition))
	return logPosition, nil
}

func (a *Agent) Role(r election.Role) {
	a.role.Store(int32(r))
	a.logger.Info("role changed", zap.Stringer("role", r))
}

func (a *Agent) CurrentRole() election.Role {
	return election.Role(a.role.Load())
}

func (a *Agent) BecomeLeader() error {
	a.logger.Info("becomeLeader")
	atomic.AddInt64(&a.recordingID, 1)
	return nil
}

func (a *Agent) LogRecordingID() int64 {
	return atomic.LoadInt64(&a.recordingID)
}

func (a *Agent) CreateAndRecordLogSubscriptionAsFollower(channelURI string, fromPosition int64) (election.Subscription, error) {
	a.logger.Debug("createAndRecordLogSubscriptionAsFollower",
		zap.String("channelURI", channelURI), zap.Int64("fromPosition", fromPosition))
	return &subscription{channelURI: channelURI}, nil
}

func (a *Agent) AddLiveLogDestination(sub election.Subscription, destinationURI string) error {
	a.logger.Debug("addLiveLogDestination", zap.String("destinationURI", destinationURI))
	return nil
}

func (a *Agent) AwaitServicesReady(channelURI string, sessionID int32) error {
	a.logger.Debug("awaitServicesReady", zap.String("channelURI", channelURI), zap.Int32("sessionId", sessionID))
	return nil
}

func (a *Agent) AwaitImageAndCreateFollowerLogAdapter(sub election.Subscription, sessionID int32) error {
	a.logger.Debug("awaitImageAndCreateFollowerLogAdapter", zap.Int32("sessionId", sessionID))
	return nil
}

func (a *Agent) CatchupLogPoll(targetPosition int64) {
	a.logger.Debug("catchupLogPoll", zap.Int64("target", targetPosition))
}

func (a *Agent) UpdateMemberDetails() {
	a.logger.Debug("updateMemberDetails")
}

// ElectionComplete is demo-grade: it reports ready once readyAfter has
// elapsed since the first call, or immediately when readyAfter is zero.
func (a *Agent) ElectionComplete(now time.Time) bool {
	a.mu.Lock()
	if a.readyDeadline.IsZero() {
		a.readyDeadline = now.Add(a.readyAfter)
	}
	deadline := a.readyDeadline
	a.mu.Unlock()

	if now.Before(deadline) {
		return false
	}
	a.electionClosed.Store(true)
	return true
}

// Closed reports whether ElectionComplete has ever returned true.
func (a *Agent) Closed() bool { return a.electionClosed.Load() }

// RunLoop ticks election at interval until ctx is cancelled or the
// election closes, mirroring the teacher's driving-goroutine idiom for
// its own run loop.
func RunLoop(ctx context.Context, e *election.Election, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return e.Close()
		case now := <-ticker.C:
			if err := e.Tick(now); err != nil {
				return err
			}
			if e.Closed() {
				return e.Err()
			}
		}
	}
}
