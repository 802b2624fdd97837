package membertable

import "testing"

type stubSender struct{ id ID }

func (s stubSender) ID() ID { return s.id }

func TestNewTableIncludesSelf(t *testing.T) {
	table := NewTable(0, map[ID]Sender{1: stubSender{1}, 2: stubSender{2}})

	if table.Count() != 3 {
		t.Fatalf("expected 3 members, got %d", table.Count())
	}
	if _, ok := table.Get(0); !ok {
		t.Fatal("expected self to be present in the table")
	}
	if len(table.Others()) != 2 {
		t.Fatalf("expected 2 others, got %d", len(table.Others()))
	}
}

func TestResetElectionFields(t *testing.T) {
	table := NewTable(0, map[ID]Sender{1: stubSender{1}})
	m, _ := table.Get(1)
	m.CandidateTermID = 6
	m.Vote = VoteGranted
	m.IsBallotSent = true
	m.Reported = true

	m.ResetElectionFields()

	if m.CandidateTermID != 0 || m.Vote != VoteUnknown || m.IsBallotSent || m.Reported {
		t.Fatalf("expected all election-scoped fields cleared, got %+v", m)
	}
}

func TestResetAllElectionFields(t *testing.T) {
	table := NewTable(0, map[ID]Sender{1: stubSender{1}, 2: stubSender{2}})
	for _, m := range table.Others() {
		m.Vote = VoteDenied
		m.IsBallotSent = true
	}

	table.ResetAllElectionFields()

	for _, m := range table.Others() {
		if m.Vote != VoteUnknown || m.IsBallotSent {
			t.Fatalf("expected reset member, got %+v", m)
		}
	}
}
