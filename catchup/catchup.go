// Package catchup implements the log catch-up engine: given a leader's
// member id, a log session id, and a starting position, it advances this
// member's local log replica up to a target position before the member
// is allowed to participate in live replication (spec §4.1 item 5, §4.5
// FOLLOWER_CATCHUP).
package catchup

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumkit/election/archive"
	"github.com/quorumkit/election/membertable"
)

// batchRecords bounds the term window DoWork reads per call: each call
// asks the source for the records of terms [cursor, cursor+batchRecords],
// keeping each call non-blocking the way spec §5 requires of anything
// the FSM drives from Tick. The number of records per term is not bounded.
const batchRecords = 64

// Engine drives one follower's catch-up against one leader. It is owned
// exclusively by the election FSM: constructed on entry to
// FOLLOWER_CATCHUP_TRANSITION, released on exit from FOLLOWER_CATCHUP or
// on Close (spec §9, "Ownership of LogCatchup").
type Engine struct {
	id uuid.UUID

	leader    membertable.ID
	sessionID int32
	fromTerm  int64
	target    int64

	src archive.Source
	dst archive.Sink
	log *zap.Logger

	cursorTerm int64
	done       bool

	lastBatch int
}

// NewEngine builds a catch-up engine that will replay records in
// [fromTerm, leadership term implied by target] from src into dst.
func NewEngine(leader membertable.ID, sessionID int32, fromTerm, target int64, src archive.Source, dst archive.Sink, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		id:         uuid.New(),
		leader:     leader,
		sessionID:  sessionID,
		fromTerm:   fromTerm,
		target:     target,
		src:        src,
		dst:        dst,
		log:        log,
		cursorTerm: fromTerm,
	}
}

// IsDone reports whether the catch-up has finished: either a replayed
// record reached TargetPosition, or a DoWork call found no further
// records in the source. In the second case TargetPosition may not have
// been reached.
func (e *Engine) IsDone() bool { return e.done }

// TargetPosition is the local log position this member will have once
// catch-up completes.
func (e *Engine) TargetPosition() int64 { return e.target }

// LastBatchSize reports how many records the most recent DoWork call
// appended to dst, for callers that publish a replayed-records counter.
func (e *Engine) LastBatchSize() int { return e.lastBatch }

// DoWork pulls and replays one bounded batch of archive records,
// cooperatively — it must return promptly whether or not catch-up
// finished, per spec §5's "bounded by the catch-up engine's cooperative
// doWork". It reports true once IsDone would also report true.
func (e *Engine) DoWork(ctx context.Context) (bool, error) {
	e.lastBatch = 0
	if e.done {
		return true, nil
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	records, err := e.src.Range(e.cursorTerm, e.cursorTerm+batchRecords)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		e.done = true
		e.log.Debug("catchup complete",
			zap.String("catchupId", e.id.String()),
			zap.Int("leader", int(e.leader)),
			zap.Int64("target", e.target),
		)
		return true, nil
	}

	for i, rec := range records {
		if err := e.dst.Append(rec); err != nil {
			return false, err
		}
		e.lastBatch = i + 1
		if rec.LogPosition >= e.target {
			e.done = true
			return true, nil
		}
	}

	last := records[len(records)-1]
	e.cursorTerm = last.TermID + 1

	e.log.Debug("catchup progress",
		zap.String("catchupId", e.id.String()),
		zap.Int("leader", int(e.leader)),
		zap.Int("replayed", len(records)),
	)
	return false, nil
}
