package markfile

import "testing"

func TestFreshFileHasNoCandidateTerm(t *testing.T) {
	f, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	_, present, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if present {
		t.Fatal("expected a fresh mark-file to report no candidacy")
	}
}

func TestWriteThenReadSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	f, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Write(42); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	term, present, err := reopened.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !present || term != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", term, present)
	}
}

func TestClearRemovesCandidacy(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := f.Write(7); err != nil {
		t.Fatal(err)
	}
	if err := f.Clear(); err != nil {
		t.Fatal(err)
	}

	_, present, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if present {
		t.Fatal("expected Clear to remove the persisted candidacy")
	}
}
