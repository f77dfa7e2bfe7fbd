package progress

import (
	"errors"
	"testing"
	"time"
)

func TestTrackerAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Start("scan", 10)
	tr.Advance(3)
	tr.Advance(4)

	snap := tr.Snapshot()
	if snap.Current != 7 {
		t.Errorf("Current = %d, want 7", snap.Current)
	}
	if snap.Phase != "scan" {
		t.Errorf("Phase = %q, want scan", snap.Phase)
	}
}

func TestSnapshotETAZeroWhenNotStarted(t *testing.T) {
	t.Parallel()

	var snap Snapshot
	if eta := snap.ETA(time.Now()); eta != 0 {
		t.Errorf("ETA = %v, want 0", eta)
	}
}

func TestSupervisorPreventsOverlappingStarts(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor()
	if !sup.TryStart("build") {
		t.Fatal("first TryStart should succeed")
	}
	if sup.TryStart("build") {
		t.Fatal("second concurrent TryStart should report in-progress (false)")
	}

	sup.Finish("build", nil)
	if !sup.TryStart("build") {
		t.Fatal("TryStart after Finish should succeed again")
	}
}

func TestSupervisorRunRecordsError(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor()
	wantErr := errors.New("boom")
	started := sup.Run("job", func() error { return wantErr })
	if !started {
		t.Fatal("Run should start when idle")
	}

	st, ok := sup.State("job")
	if !ok {
		t.Fatal("expected state to be recorded")
	}
	if st.Status != TaskFailed || st.Error != "boom" {
		t.Errorf("state = %+v, want failed/boom", st)
	}
}
