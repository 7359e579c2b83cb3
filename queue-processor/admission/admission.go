// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package admission decides whether an admitted data-ready message should be
// dispatched for reduction or recorded as skipped.
package admission

import (
	"fmt"
	"strings"

	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/store"
)

// A Policy validates messages and finds reasons to skip runs.
type Policy struct {
	facility string
}

// NewPolicy returns a Policy for the given facility. Messages for other
// facilities fail validation.
func NewPolicy(facility string) *Policy {
	return &Policy{
		facility: facility,
	}
}

// ShouldSkip returns the reason the run must not be dispatched, or "" if it
// should run. Checks are ordered; the first failure wins:
//
//  1. the run's snapshotted script is empty
//  2. structural validation of the message fails
//  3. the instrument is paused
//
// A skip is terminal for the run version and never counts against the retry
// budget.
func (p *Policy) ShouldSkip(run store.ReductionRun, msg proto.Message, instrument store.Instrument) string {
	if run.Script == "" {
		return fmt.Sprintf("reduction script for %s is missing or empty", instrument.Name)
	}

	if fields := p.Validate(msg); len(fields) > 0 {
		return fmt.Sprintf("message validation failed: %s", strings.Join(fields, "; "))
	}

	if instrument.IsPaused {
		return fmt.Sprintf("run %d has been skipped because the instrument %s is paused",
			msg.RunNumber, instrument.Name)
	}

	return ""
}

// Validate structurally validates a data-ready message. It returns one
// entry per failing field, empty if the message is valid.
func (p *Policy) Validate(msg proto.Message) []string {
	fields := []string{}

	if msg.RunNumber <= 0 {
		fields = append(fields, fmt.Sprintf("run number must be a positive integer, got %d", msg.RunNumber))
	}
	if msg.Instrument == "" {
		fields = append(fields, "instrument must be a non-empty string")
	}
	if msg.RBNumber < proto.RB_NUMBER_MIN || msg.RBNumber > proto.RB_NUMBER_MAX {
		fields = append(fields, fmt.Sprintf("rb number must be a 7 digit integer in [%d, %d], got %d",
			proto.RB_NUMBER_MIN, proto.RB_NUMBER_MAX, msg.RBNumber))
	}
	if msg.StartedBy < proto.STARTED_BY_OPERATOR {
		fields = append(fields, fmt.Sprintf("started by must be -1 (operator), 0 (automatic), or a user id, got %d",
			msg.StartedBy))
	}
	if msg.Data == "" {
		fields = append(fields, "data path must be a non-empty string")
	}
	if msg.Facility == "" {
		fields = append(fields, "facility must be a non-empty string")
	} else if p.facility != "" && msg.Facility != p.facility {
		fields = append(fields, fmt.Sprintf("facility must be %s, got %s", p.facility, msg.Facility))
	}

	return fields
}
