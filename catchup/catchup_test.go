package catchup

import (
	"context"
	"testing"
	"time"

	"github.com/quorumkit/election/archive"
)

func TestDoWorkReplaysUntilTarget(t *testing.T) {
	srcDir := t.TempDir()
	src, err := archive.Open(srcDir)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for term := int64(1); term <= 3; term++ {
		if err := src.Append(archive.Record{RecordingID: term, TermID: term, LogPosition: term * 100, Timestamp: now}); err != nil {
			t.Fatal(err)
		}
	}

	dstDir := t.TempDir()
	dst, err := archive.Open(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	e := NewEngine(1, 7, 1, 300, src, dst, nil)
	if e.IsDone() {
		t.Fatal("expected engine not done before DoWork")
	}

	done, err := e.DoWork(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !done || !e.IsDone() {
		t.Fatal("expected catch-up to complete once target position is replayed")
	}

	got := dst.All()
	if len(got) != 3 {
		t.Fatalf("expected 3 replayed records, got %d", len(got))
	}
	if got[len(got)-1].LogPosition != 300 {
		t.Fatalf("expected the last replayed record to reach target position, got %+v", got[len(got)-1])
	}
}

func TestDoWorkStopsShortOfUnreachedTarget(t *testing.T) {
	srcDir := t.TempDir()
	src, err := archive.Open(srcDir)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := src.Append(archive.Record{RecordingID: 1, TermID: 1, LogPosition: 100, Timestamp: now}); err != nil {
		t.Fatal(err)
	}

	dstDir := t.TempDir()
	dst, err := archive.Open(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	e := NewEngine(1, 7, 1, 999, src, dst, nil)
	done, err := e.DoWork(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if done || e.IsDone() {
		t.Fatal("expected engine to report not-done when target is unreached and source has no more records")
	}

	done, err = e.DoWork(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !done || !e.IsDone() {
		t.Fatal("expected a second DoWork over an exhausted source to report done")
	}
}
