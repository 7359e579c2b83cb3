// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package admission_test

import (
	"strings"
	"testing"

	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/admission"
	"github.com/autoreduction/queue-processor/queue-processor/store"
)

func validMessage() proto.Message {
	return proto.Message{
		Facility:   "ISIS",
		RunNumber:  62892,
		Instrument: "WISH",
		RBNumber:   1820484,
		StartedBy:  proto.STARTED_BY_AUTOMATIC,
		Data:       "/isis/WISH00062892.nxs",
	}
}

func validRun() store.ReductionRun {
	return store.ReductionRun{Script: "def main():\n    pass\n"}
}

func activeInstrument() store.Instrument {
	return store.Instrument{Name: "WISH", IsActive: true}
}

func TestShouldSkipValid(t *testing.T) {
	p := admission.NewPolicy("ISIS")
	if reason := p.ShouldSkip(validRun(), validMessage(), activeInstrument()); reason != "" {
		t.Errorf("reason = %q, expected none", reason)
	}
}

func TestShouldSkipEmptyScript(t *testing.T) {
	p := admission.NewPolicy("ISIS")
	run := validRun()
	run.Script = ""

	reason := p.ShouldSkip(run, validMessage(), activeInstrument())
	if !strings.Contains(reason, "missing or empty") {
		t.Errorf("reason = %q, expected script missing/empty", reason)
	}
}

func TestShouldSkipBadRunNumber(t *testing.T) {
	p := admission.NewPolicy("ISIS")
	msg := validMessage()
	msg.RunNumber = 0

	reason := p.ShouldSkip(validRun(), msg, activeInstrument())
	if !strings.Contains(reason, "run number") {
		t.Errorf("reason = %q, expected it to mention the run number", reason)
	}
}

func TestShouldSkipBadRBNumber(t *testing.T) {
	p := admission.NewPolicy("ISIS")
	msg := validMessage()
	msg.RBNumber = 12

	reason := p.ShouldSkip(validRun(), msg, activeInstrument())
	if !strings.Contains(reason, "rb number") {
		t.Errorf("reason = %q, expected it to mention the rb number", reason)
	}
}

func TestShouldSkipPausedInstrument(t *testing.T) {
	p := admission.NewPolicy("ISIS")
	inst := activeInstrument()
	inst.IsPaused = true

	reason := p.ShouldSkip(validRun(), validMessage(), inst)
	if !strings.Contains(reason, "paused") {
		t.Errorf("reason = %q, expected it to mention paused", reason)
	}
}

func TestShouldSkipCheckOrder(t *testing.T) {
	// Empty script wins over a paused instrument.
	p := admission.NewPolicy("ISIS")
	run := validRun()
	run.Script = ""
	inst := activeInstrument()
	inst.IsPaused = true

	reason := p.ShouldSkip(run, validMessage(), inst)
	if !strings.Contains(reason, "missing or empty") {
		t.Errorf("reason = %q, expected the script check to win", reason)
	}
}

func TestValidateCollectsAllFields(t *testing.T) {
	p := admission.NewPolicy("ISIS")
	msg := proto.Message{
		RunNumber: -1,
		RBNumber:  12,
		StartedBy: -2,
		Facility:  "SNS",
	}

	// run number, instrument, rb number, started by, data path, facility.
	fields := p.Validate(msg)
	if len(fields) != 6 {
		t.Errorf("got %d failing fields (%v), expected 6", len(fields), fields)
	}
}
