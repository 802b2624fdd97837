package election

// MetricsSink is the observability seam the FSM publishes through. The
// state gauge is the one stable contract (spec §6); the counters resolve
// the open questions of spec §9 in favor of counting rather than
// silently dropping. NewElection replaces a nil Params.Metrics with
// NoopMetrics(), so tests that don't care can leave it unset.
type MetricsSink interface {
	SetState(State)
	SetLeadershipTerm(int64)
	SetCandidateTerm(int64)

	IncVotesGranted()
	IncVotesDenied()
	IncVotesIgnored()
	IncCatchupRecords(n int)
	IncStaleLeaderObservations()
	IncOutOfTermCommits()
}

type noopMetrics struct{}

func (noopMetrics) SetState(State)             {}
func (noopMetrics) SetLeadershipTerm(int64)    {}
func (noopMetrics) SetCandidateTerm(int64)     {}
func (noopMetrics) IncVotesGranted()           {}
func (noopMetrics) IncVotesDenied()            {}
func (noopMetrics) IncVotesIgnored()           {}
func (noopMetrics) IncCatchupRecords(int)      {}
func (noopMetrics) IncStaleLeaderObservations() {}
func (noopMetrics) IncOutOfTermCommits()        {}

// NoopMetrics is a MetricsSink that discards everything, for tests and
// callers that don't need observability wired in.
func NoopMetrics() MetricsSink { return noopMetrics{} }
