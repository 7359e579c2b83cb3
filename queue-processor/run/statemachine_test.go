// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package run_test

import (
	"strconv"
	"testing"

	"github.com/go-test/deep"

	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/run"
	"github.com/autoreduction/queue-processor/queue-processor/store"
	"github.com/autoreduction/queue-processor/test/mock"
)

func queuedRun(t *testing.T, s store.Store, version int) store.ReductionRun {
	t.Helper()
	inst, err := s.GetOrCreateInstrument("WISH")
	if err != nil {
		t.Fatal(err)
	}
	exp, err := s.GetOrCreateExperiment(1820484)
	if err != nil {
		t.Fatal(err)
	}
	r := store.ReductionRun{
		ExperimentID: exp.ID,
		InstrumentID: inst.ID,
		RunNumber:    62892,
		RunVersion:   version,
		JobID:        "job-v" + strconv.Itoa(version),
		Status:       proto.STATUS_QUEUED,
		Script:       "pass",
		StartedBy:    proto.STARTED_BY_AUTOMATIC,
	}
	if err := s.CreateRun(&r, "/isis/WISH00062892.nxs"); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestHappyPath(t *testing.T) {
	s := store.NewMemoryStore()
	sm := run.NewStateMachine(s)
	r := queuedRun(t, s, 0)

	if err := sm.ToProcessing(&r); err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	if r.Status != proto.STATUS_PROCESSING {
		t.Errorf("status = %s, expected processing", proto.StatusName[r.Status])
	}
	if r.Started == nil {
		t.Error("started timestamp not set")
	}

	if err := sm.ToCompleted(&r, "log text", []string{"/out/a"}); err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	if r.Finished == nil {
		t.Error("finished timestamp not set")
	}

	// The transition was persisted, including the output location.
	stored, err := s.GetRun("job-v0")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != proto.STATUS_COMPLETED {
		t.Errorf("stored status = %s, expected completed", proto.StatusName[stored.Status])
	}
	if diff := deep.Equal(s.ReductionLocations(r.ID), []string{"/out/a"}); diff != nil {
		t.Error(diff)
	}
}

func TestCompletedClearsMessage(t *testing.T) {
	s := store.NewMemoryStore()
	sm := run.NewStateMachine(s)
	r := queuedRun(t, s, 0)
	r.Message = "stale error from a previous attempt"

	if err := sm.ToProcessing(&r); err != nil {
		t.Fatal(err)
	}
	if err := sm.ToCompleted(&r, "", nil); err != nil {
		t.Fatal(err)
	}
	if r.Message != "" {
		t.Errorf("message = %q, expected it cleared on completion", r.Message)
	}
}

func TestErrorFromProcessing(t *testing.T) {
	s := store.NewMemoryStore()
	sm := run.NewStateMachine(s)
	r := queuedRun(t, s, 0)

	if err := sm.ToProcessing(&r); err != nil {
		t.Fatal(err)
	}
	if err := sm.ToError(&r, "exception: boom", "traceback"); err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	if r.Message != "exception: boom" || r.ReductionLog != "traceback" {
		t.Errorf("run = (%q, %q), expected the failure recorded", r.Message, r.ReductionLog)
	}
}

func TestSkippedFromQueued(t *testing.T) {
	s := store.NewMemoryStore()
	sm := run.NewStateMachine(s)
	r := queuedRun(t, s, 0)

	if err := sm.ToSkipped(&r, "the instrument WISH is paused"); err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	if r.Status != proto.STATUS_SKIPPED || r.Finished == nil {
		t.Error("skip did not finalize the run")
	}
}

func TestTerminalStatesReject(t *testing.T) {
	s := store.NewMemoryStore()
	sm := run.NewStateMachine(s)

	for i, terminal := range []byte{proto.STATUS_COMPLETED, proto.STATUS_ERROR, proto.STATUS_SKIPPED} {
		r := queuedRun(t, s, i)
		r.Status = terminal

		err := sm.ToProcessing(&r)
		if _, ok := err.(run.ErrInvalidTransition); !ok {
			t.Errorf("from %s: err = %v, expected ErrInvalidTransition", proto.StatusName[terminal], err)
		}
	}
}

func TestTransitionNotVisibleOnStoreFailure(t *testing.T) {
	// A transition only takes effect once the store accepts it; a failed
	// update leaves the caller's run untouched.
	s := &mock.Store{
		UpdateRunFunc: func(store.ReductionRun) error { return mock.ErrStore },
	}
	sm := run.NewStateMachine(s)
	r := store.ReductionRun{ID: 1, JobID: "j1", Status: proto.STATUS_QUEUED}

	if err := sm.ToProcessing(&r); err != mock.ErrStore {
		t.Fatalf("err = %v, expected the store error", err)
	}
	if r.Status != proto.STATUS_QUEUED {
		t.Errorf("status = %s, expected still queued", proto.StatusName[r.Status])
	}
	if r.Started != nil {
		t.Error("started timestamp set on a failed transition")
	}
}

func TestSkipRequiresQueued(t *testing.T) {
	s := store.NewMemoryStore()
	sm := run.NewStateMachine(s)
	r := queuedRun(t, s, 0)

	if err := sm.ToProcessing(&r); err != nil {
		t.Fatal(err)
	}
	err := sm.ToSkipped(&r, "too late")
	if _, ok := err.(run.ErrInvalidTransition); !ok {
		t.Errorf("err = %v, expected ErrInvalidTransition", err)
	}
}
