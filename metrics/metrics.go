// Package metrics publishes the election's observability surface (spec
// §6, SPEC_FULL §4.10) through a prometheus.Registry, the way the
// teacher's server wires its own request/replication counters.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quorumkit/election/election"
	"github.com/quorumkit/election/membertable"
)

// Registry implements election.MetricsSink against a set of Prometheus
// collectors, one set per member id so a multi-member demo process (or
// a test harness running several Elections in one binary) doesn't
// collide on a single gauge.
type Registry struct {
	state            prometheus.Gauge
	leadershipTerm   prometheus.Gauge
	candidateTerm    prometheus.Gauge
	votesGranted     prometheus.Counter
	votesDenied      prometheus.Counter
	votesIgnored     prometheus.Counter
	catchupRecords   prometheus.Counter
	staleLeaderObs   prometheus.Counter
	outOfTermCommits prometheus.Counter
}

// New registers a full set of election collectors for member id against
// reg and returns the sink. Safe to call once per member id per
// registry.
func New(reg prometheus.Registerer, id membertable.ID) *Registry {
	labels := prometheus.Labels{"member_id": strconv.Itoa(int(id))}
	r := &Registry{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "election_state",
			Help:        "Current election state code (0=INIT .. 10=FOLLOWER_READY).",
			ConstLabels: labels,
		}),
		leadershipTerm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "election_leadership_term",
			Help:        "Current leadershipTermId considered current by this member.",
			ConstLabels: labels,
		}),
		candidateTerm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "election_candidate_term",
			Help:        "Term of the in-flight candidacy, or -1 when none.",
			ConstLabels: labels,
		}),
		votesGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "election_votes_granted_total",
			Help:        "Votes observed as granted while this member was a candidate.",
			ConstLabels: labels,
		}),
		votesDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "election_votes_denied_total",
			Help:        "Votes observed as denied while this member was a candidate.",
			ConstLabels: labels,
		}),
		votesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "election_votes_ignored_total",
			Help:        "Votes received while not the addressed candidate; dropped per protocol.",
			ConstLabels: labels,
		}),
		catchupRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "election_catchup_records_total",
			Help:        "Recording-log records replayed by the catch-up engine.",
			ConstLabels: labels,
		}),
		staleLeaderObs: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "election_stale_leader_observations_total",
			Help:        "NewLeadershipTerm messages observed with a log term no newer than ours.",
			ConstLabels: labels,
		}),
		outOfTermCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "election_out_of_term_commits_total",
			Help:        "CommitPosition messages observed with a term ahead of ours.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(
		r.state, r.leadershipTerm, r.candidateTerm,
		r.votesGranted, r.votesDenied, r.votesIgnored,
		r.catchupRecords, r.staleLeaderObs, r.outOfTermCommits,
	)
	return r
}

func (r *Registry) SetState(s election.State)    { r.state.Set(float64(s)) }
func (r *Registry) SetLeadershipTerm(term int64) { r.leadershipTerm.Set(float64(term)) }
func (r *Registry) SetCandidateTerm(term int64)  { r.candidateTerm.Set(float64(term)) }
func (r *Registry) IncVotesGranted()             { r.votesGranted.Inc() }
func (r *Registry) IncVotesDenied()              { r.votesDenied.Inc() }
func (r *Registry) IncVotesIgnored()             { r.votesIgnored.Inc() }
func (r *Registry) IncCatchupRecords(n int)      { r.catchupRecords.Add(float64(n)) }
func (r *Registry) IncStaleLeaderObservations()  { r.staleLeaderObs.Inc() }
func (r *Registry) IncOutOfTermCommits()         { r.outOfTermCommits.Inc() }
