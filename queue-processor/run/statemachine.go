// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package run owns the reduction run lifecycle: the state machine that moves
// a run between statuses and the retry controller that resubmits failed runs.
package run

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/store"
)

// ErrInvalidTransition is a request to move a run to a status its current
// status does not allow. Completed, Error, and Skipped are terminal.
type ErrInvalidTransition struct {
	From byte
	To   byte
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s",
		proto.StatusName[e.From], proto.StatusName[e.To])
}

// validTransitions holds the allowed moves. Anything absent is invalid,
// including self-transitions.
var validTransitions = map[byte][]byte{
	proto.STATUS_QUEUED:     {proto.STATUS_PROCESSING, proto.STATUS_SKIPPED, proto.STATUS_ERROR},
	proto.STATUS_PROCESSING: {proto.STATUS_COMPLETED, proto.STATUS_ERROR},
}

// A StateMachine applies status transitions to runs and persists the result.
// It is the only code that writes a run's status.
type StateMachine struct {
	store store.Store
	now   func() time.Time
}

// NewStateMachine returns a StateMachine backed by the given store.
func NewStateMachine(s store.Store) *StateMachine {
	return &StateMachine{
		store: s,
		now:   time.Now,
	}
}

// validate checks that the run's current status allows moving to the target
// status. It never mutates the run.
func (m *StateMachine) validate(run *store.ReductionRun, to byte) error {
	for _, allowed := range validTransitions[run.Status] {
		if allowed == to {
			return nil
		}
	}
	return ErrInvalidTransition{From: run.Status, To: to}
}

// commit persists the updated run and only then makes the transition
// visible: on a store failure the caller's run is untouched and nothing is
// logged.
func (m *StateMachine) commit(run *store.ReductionRun, updated store.ReductionRun) error {
	if err := m.store.UpdateRun(updated); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"jobId": run.JobID,
		"run":   run.RunNumber,
		"from":  proto.StatusName[run.Status],
		"to":    proto.StatusName[updated.Status],
	}).Info("run status transition")
	*run = updated
	return nil
}

// ToProcessing marks the run as started. Only queued runs can start.
func (m *StateMachine) ToProcessing(run *store.ReductionRun) error {
	if err := m.validate(run, proto.STATUS_PROCESSING); err != nil {
		return err
	}
	updated := *run
	updated.Status = proto.STATUS_PROCESSING
	started := m.now()
	updated.Started = &started
	return m.commit(run, updated)
}

// ToCompleted marks a processing run as successfully finished. Any stale
// error message on the run is cleared, and the reduction's output locations
// are recorded against the run.
func (m *StateMachine) ToCompleted(run *store.ReductionRun, reductionLog string, outputDirs []string) error {
	if err := m.validate(run, proto.STATUS_COMPLETED); err != nil {
		return err
	}
	updated := *run
	updated.Status = proto.STATUS_COMPLETED
	finished := m.now()
	updated.Finished = &finished
	updated.Message = ""
	updated.ReductionLog = reductionLog
	if err := m.commit(run, updated); err != nil {
		return err
	}
	for _, dir := range outputDirs {
		if err := m.store.SaveReductionLocation(run.ID, dir); err != nil {
			return err
		}
	}
	return nil
}

// ToError marks a run as failed with a human-readable message and the
// script's log excerpt. Both queued and processing runs can fail.
func (m *StateMachine) ToError(run *store.ReductionRun, message, reductionLog string) error {
	if err := m.validate(run, proto.STATUS_ERROR); err != nil {
		return err
	}
	updated := *run
	updated.Status = proto.STATUS_ERROR
	finished := m.now()
	updated.Finished = &finished
	updated.Message = message
	updated.ReductionLog = reductionLog
	return m.commit(run, updated)
}

// ToSkipped marks a queued run as skipped with the admission reason. Skips
// are terminal and never retried.
func (m *StateMachine) ToSkipped(run *store.ReductionRun, reason string) error {
	if err := m.validate(run, proto.STATUS_SKIPPED); err != nil {
		return err
	}
	updated := *run
	updated.Status = proto.STATUS_SKIPPED
	finished := m.now()
	updated.Finished = &finished
	updated.Message = reason
	return m.commit(run, updated)
}
