// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package run

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/store"
	"github.com/autoreduction/queue-processor/util"
)

// A Producer sends messages to the broker. SendDelayed asks the broker to
// hold the message for the given duration before delivery.
type Producer interface {
	Send(queue string, msg proto.Message) error
	SendDelayed(queue string, msg proto.Message, delay time.Duration) error
}

// A RetryController decides whether a failed run gets another attempt, and
// schedules the attempt when it does. The retry chain for a run number is
// bounded: once the latest version reaches the limit, failures are final.
type RetryController struct {
	store    store.Store
	producer Producer
	limit    int
	delay    time.Duration
}

// NewRetryController returns a RetryController that allows at most limit
// retry versions per run number and delays each resubmission by delay.
func NewRetryController(s store.Store, p Producer, limit int, delay time.Duration) *RetryController {
	return &RetryController{
		store:    s,
		producer: p,
		limit:    limit,
		delay:    delay,
	}
}

// MaybeRetry is called after failed has landed in Error. If the run was
// cancelled or the retry budget for its run number is spent, it does
// nothing. Otherwise it creates the next run version up front, links it from
// the failed run, and schedules a delayed resubmission of msg carrying the
// new version's job id. It reports whether a retry was scheduled.
func (c *RetryController) MaybeRetry(failed store.ReductionRun, msg proto.Message) (bool, error) {
	logger := log.WithFields(log.Fields{
		"jobId":   failed.JobID,
		"run":     failed.RunNumber,
		"version": failed.RunVersion,
	})

	if failed.Cancel {
		logger.Info("not retrying a cancelled run")
		return false, nil
	}

	latest, err := c.store.LatestRunVersion(failed.ExperimentID, failed.RunNumber)
	if err != nil {
		return false, err
	}
	if latest >= c.limit {
		logger.WithFields(log.Fields{"limit": c.limit}).Info("retry budget spent, the failure is final")
		return false, nil
	}

	retry := store.ReductionRun{
		ExperimentID: failed.ExperimentID,
		InstrumentID: failed.InstrumentID,
		RunNumber:    failed.RunNumber,
		RunVersion:   latest + 1,
		JobID:        util.JobID(),
		Status:       proto.STATUS_QUEUED,
		Script:       failed.Script,
		StartedBy:    failed.StartedBy,
		Created:      time.Now(),
	}
	if err := c.store.CreateRun(&retry, msg.Data); err != nil {
		return false, err
	}

	failed.RetryRunID = &retry.ID
	if err := c.store.UpdateRun(failed); err != nil {
		return false, err
	}

	msg.RunVersion = retry.RunVersion
	msg.JobID = retry.JobID
	msg.RetryIn = int(c.delay.Seconds())
	if err := c.producer.SendDelayed(proto.QUEUE_DATA_READY, msg, c.delay); err != nil {
		return false, err
	}

	logger.WithFields(log.Fields{
		"retryJobId":   retry.JobID,
		"retryVersion": retry.RunVersion,
		"delay":        c.delay.String(),
	}).Info("scheduled a retry for the failed run")
	return true, nil
}

// Cancel cancels a run on a user's request. The behavior depends on where
// the run's chain currently is:
//
//   - the run is still queued: it is failed with a cancellation message
//   - the run already scheduled a retry that has not started: the retry
//     version is failed instead and flagged so the delayed message is dropped
//   - the retry is processing: both runs are flagged so the result of the
//     in-flight script is discarded and no further retry is scheduled
//   - the chain already finished: nothing to do
func (c *RetryController) Cancel(run store.ReductionRun) error {
	logger := log.WithFields(log.Fields{"jobId": run.JobID, "run": run.RunNumber})

	if run.Status == proto.STATUS_QUEUED {
		logger.Info("cancelling a queued run")
		run.Cancel = true
		sm := NewStateMachine(c.store)
		return sm.ToError(&run, "Run cancelled by user", "")
	}

	if run.RetryRunID == nil {
		logger.Info("cancel requested but the run chain already finished")
		return nil
	}

	retry, err := c.store.GetRunVersion(run.ExperimentID, run.RunNumber, run.RunVersion+1)
	if err != nil {
		return err
	}

	switch retry.Status {
	case proto.STATUS_QUEUED:
		logger.Info("cancelling a scheduled retry")
		retry.Cancel = true
		sm := NewStateMachine(c.store)
		return sm.ToError(&retry, "Run cancelled by user", "")
	case proto.STATUS_PROCESSING:
		logger.Info("cancelling an in-flight retry")
		run.Cancel = true
		if err := c.store.UpdateRun(run); err != nil {
			return err
		}
		retry.Cancel = true
		return c.store.UpdateRun(retry)
	default:
		logger.Info("cancel requested but the retry already finished")
		return nil
	}
}
