// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package handler implements the orchestration pipeline for data-ready
// messages: record the run, resolve its configuration, admit or skip it,
// execute the reduction script, and publish the outcome.
package handler

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/admission"
	"github.com/autoreduction/queue-processor/queue-processor/run"
	"github.com/autoreduction/queue-processor/queue-processor/runner"
	"github.com/autoreduction/queue-processor/queue-processor/script"
	"github.com/autoreduction/queue-processor/queue-processor/store"
	"github.com/autoreduction/queue-processor/queue-processor/variable"
	"github.com/autoreduction/queue-processor/util"
)

// A Handler processes queue messages end to end. Errors returned from
// HandleDataReady mean the message could not be recorded at all and should
// be redelivered; every failure past that point is recorded on the run and
// acknowledged.
type Handler struct {
	store     store.Store
	scripts   script.Loader
	resolver  *variable.Resolver
	policy    *admission.Policy
	sm        *run.StateMachine
	retry     *run.RetryController
	runner    runner.Runner
	repo      runner.Repo
	producer  run.Producer
	outputDir string
}

// Config collects the Handler's collaborators.
type Config struct {
	Store     store.Store
	Scripts   script.Loader
	Resolver  *variable.Resolver
	Policy    *admission.Policy
	Retry     *run.RetryController
	Runner    runner.Runner
	Repo      runner.Repo
	Producer  run.Producer
	OutputDir string
}

// NewHandler returns a Handler wired from cfg.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		store:     cfg.Store,
		scripts:   cfg.Scripts,
		resolver:  cfg.Resolver,
		policy:    cfg.Policy,
		sm:        run.NewStateMachine(cfg.Store),
		retry:     cfg.Retry,
		runner:    cfg.Runner,
		repo:      cfg.Repo,
		producer:  cfg.Producer,
		outputDir: cfg.OutputDir,
	}
}

// HandleDataReady processes one data-ready message. The message either
// announces a new run from the facility or resubmits a failed run as a
// scheduled retry, in which case it carries the retry version's job id.
func (h *Handler) HandleDataReady(ctx context.Context, msg proto.Message) error {
	logger := log.WithFields(log.Fields{
		"instrument": msg.Instrument,
		"run":        msg.RunNumber,
		"rb":         msg.RBNumber,
	})
	logger.Info("received a data-ready message")

	inst, err := h.store.GetOrCreateInstrument(msg.Instrument)
	if err != nil {
		return fmt.Errorf("cannot get or create instrument %s: %s", msg.Instrument, err)
	}
	exp, err := h.store.GetOrCreateExperiment(int(msg.RBNumber))
	if err != nil {
		return fmt.Errorf("cannot get or create experiment %d: %s", msg.RBNumber, err)
	}

	r, created, err := h.findOrCreateRun(msg, inst, exp)
	if err == store.ErrDuplicateRun {
		logger.Warn("duplicate data-ready message, the run version already exists")
		return nil
	}
	if err != nil {
		return err
	}
	msg.RunVersion = r.RunVersion
	msg.JobID = r.JobID
	logger = logger.WithFields(log.Fields{"jobId": r.JobID, "version": r.RunVersion})

	// The run record exists now. From here on a failure is recorded on the
	// run and the message acknowledged; redelivering it would mint a phantom
	// version on top of one stuck queued.
	if err := h.process(ctx, r, created, msg, inst, logger); err != nil {
		logger.WithFields(log.Fields{"error": err}).Error("run failed after it was recorded")
		h.failRun(r.JobID, err)
	}
	return nil
}

// process carries a recorded run through admission, dispatch, and outcome.
func (h *Handler) process(ctx context.Context, r store.ReductionRun, created bool, msg proto.Message, inst store.Instrument, logger *log.Entry) error {
	if !created && r.Cancel {
		logger.Info("dropping a cancelled retry")
		if r.Status == proto.STATUS_QUEUED {
			return h.sm.ToError(&r, "Run cancelled by user", "")
		}
		return nil
	}

	// First data for an inactive instrument switches it on.
	if !inst.IsActive {
		logger.Info("activating the instrument")
		if err := h.store.ActivateInstrument(inst.ID); err != nil {
			return err
		}
		inst.IsActive = true
	}

	args, skipReason, err := h.resolveConfiguration(r, msg)
	if err != nil {
		logger.WithFields(log.Fields{"error": err}).Error("cannot persist the run configuration")
		if serr := h.sm.ToError(&r, fmt.Sprintf("cannot persist run variables: %s", err), ""); serr != nil {
			return serr
		}
		msg.Message = r.Message
		return h.producer.Send(proto.QUEUE_REDUCTION_ERROR, msg)
	}

	if skipReason == "" {
		skipReason = h.policy.ShouldSkip(r, msg, inst)
	}
	if skipReason != "" {
		logger.WithFields(log.Fields{"reason": skipReason}).Info("skipping the run")
		if err := h.sm.ToSkipped(&r, skipReason); err != nil {
			return err
		}
		msg.Message = skipReason
		return h.producer.Send(proto.QUEUE_REDUCTION_SKIPPED, msg)
	}

	msg.ReductionScript = r.Script
	msg.ReductionArguments = args
	if err := h.producer.Send(proto.QUEUE_REDUCTION_PENDING, msg); err != nil {
		return err
	}

	return h.execute(ctx, r, msg, args)
}

// failRun moves a run stranded by an orchestration failure to Error so its
// message can be acknowledged. Best effort: a run that already reached a
// terminal status keeps it.
func (h *Handler) failRun(jobID string, cause error) {
	r, err := h.store.GetRun(jobID)
	if err != nil {
		log.WithFields(log.Fields{"jobId": jobID, "error": err}).Error("cannot load the run to record its failure")
		return
	}
	if r.Status != proto.STATUS_QUEUED && r.Status != proto.STATUS_PROCESSING {
		return
	}
	if err := h.sm.ToError(&r, fmt.Sprintf("reduction could not be orchestrated: %s", cause), ""); err != nil {
		log.WithFields(log.Fields{"jobId": jobID, "error": err}).Error("cannot record the failure on the run")
	}
}

// findOrCreateRun returns the run the message is for. A message carrying a
// known job id reuses the record the retry controller created up front;
// anything else gets a fresh record at the next free version.
func (h *Handler) findOrCreateRun(msg proto.Message, inst store.Instrument, exp store.Experiment) (store.ReductionRun, bool, error) {
	if msg.JobID != "" {
		r, err := h.store.GetRun(msg.JobID)
		if err == nil {
			return r, false, nil
		}
		if _, ok := err.(store.ErrNotFound); !ok {
			return store.ReductionRun{}, false, err
		}
	}

	scriptText, err := h.scripts.Text(msg.Instrument)
	if err != nil {
		return store.ReductionRun{}, false, fmt.Errorf("cannot read the reduction script: %s", err)
	}
	latest, err := h.store.LatestRunVersion(exp.ID, msg.RunNumber)
	if err != nil {
		return store.ReductionRun{}, false, err
	}

	jobID := msg.JobID
	if jobID == "" {
		jobID = util.JobID()
	}
	r := store.ReductionRun{
		ExperimentID: exp.ID,
		InstrumentID: inst.ID,
		RunNumber:    msg.RunNumber,
		RunVersion:   latest + 1,
		JobID:        jobID,
		Status:       proto.STATUS_QUEUED,
		Script:       scriptText,
		StartedBy:    msg.StartedBy,
		AdminLog:     msg.AdminLog,
		Created:      time.Now(),
	}
	if err := h.store.CreateRun(&r, msg.Data); err != nil {
		return store.ReductionRun{}, false, err
	}
	return r, true, nil
}

// resolveConfiguration resolves and snapshots the run's variables. A
// malformed reduce_vars file or a bad override is a configuration problem
// with the run, reported as a skip reason; a store failure is an error.
func (h *Handler) resolveConfiguration(r store.ReductionRun, msg proto.Message) (*proto.ReductionArguments, string, error) {
	defaults, err := h.scripts.Defaults(msg.Instrument)
	if err != nil {
		return nil, fmt.Sprintf("cannot load reduce_vars for %s: %s", msg.Instrument, err), nil
	}

	runVars, err := h.resolver.CreateRunVariables(r, int(msg.RBNumber), defaults, msg.ReductionArguments)
	if err != nil {
		if cerr, ok := err.(variable.ConfigError); ok {
			return nil, cerr.Error(), nil
		}
		return nil, "", err
	}

	args := &proto.ReductionArguments{
		StandardVars: map[string]interface{}{},
		AdvancedVars: map[string]interface{}{},
	}
	for _, rv := range runVars {
		value, err := variable.Convert(rv.Type, rv.Value)
		if err != nil {
			return nil, "", fmt.Errorf("stored variable %s is corrupt: %s", rv.Name, err)
		}
		if rv.IsAdvanced {
			args.AdvancedVars[rv.Name] = value
		} else {
			args.StandardVars[rv.Name] = value
		}
	}
	return args, "", nil
}

// execute runs the reduction script and records the outcome.
func (h *Handler) execute(ctx context.Context, r store.ReductionRun, msg proto.Message, args *proto.ReductionArguments) error {
	logger := log.WithFields(log.Fields{"jobId": r.JobID, "run": r.RunNumber, "version": r.RunVersion})

	if err := h.sm.ToProcessing(&r); err != nil {
		return err
	}
	if err := h.producer.Send(proto.QUEUE_REDUCTION_STARTED, msg); err != nil {
		return err
	}

	h.repo.Add(runner.Active{
		JobID:      r.JobID,
		Instrument: msg.Instrument,
		RunNumber:  r.RunNumber,
		RunVersion: r.RunVersion,
		StartedAt:  *r.Started,
	})
	defer h.repo.Remove(r.JobID)

	outputDir := h.runOutputDir(msg)
	res, runErr := h.runner.Run(ctx, runner.Job{
		JobID:        r.JobID,
		Instrument:   msg.Instrument,
		RunNumber:    r.RunNumber,
		RunVersion:   r.RunVersion,
		Script:       r.Script,
		InputFile:    msg.Data,
		OutputDir:    outputDir,
		StandardVars: args.StandardVars,
		AdvancedVars: args.AdvancedVars,
	})

	// A cancel may have landed while the script was running.
	if current, err := h.store.GetRun(r.JobID); err == nil {
		r.Cancel = current.Cancel
	}

	if runErr != nil {
		serr, ok := runErr.(runner.ScriptError)
		if !ok {
			serr = runner.ScriptError{Kind: runner.KIND_EXCEPTION, Message: runErr.Error()}
		}
		logger.WithFields(log.Fields{"kind": serr.Kind, "error": serr.Message}).Error("reduction failed")
		if err := h.sm.ToError(&r, serr.Error(), serr.Log); err != nil {
			return err
		}
		msg.Message = serr.Error()
		msg.ReductionLog = serr.Log
		if err := h.producer.Send(proto.QUEUE_REDUCTION_ERROR, msg); err != nil {
			return err
		}
		_, err := h.retry.MaybeRetry(r, h.resubmission(msg))
		return err
	}

	if r.Cancel {
		logger.Info("discarding the result of a cancelled run")
		return h.sm.ToError(&r, "Run cancelled by user", res.Log)
	}

	logger.Info("reduction completed")
	dirs := append([]string{outputDir}, res.OutputDirs...)
	if err := h.sm.ToCompleted(&r, res.Log, dirs); err != nil {
		return err
	}
	msg.ReductionData = outputDir
	msg.ReductionLog = res.Log
	return h.producer.Send(proto.QUEUE_REDUCTION_COMPLETE, msg)
}

// HandleCancel cancels the run named by the message's job id.
func (h *Handler) HandleCancel(msg proto.Message) error {
	r, err := h.store.GetRun(msg.JobID)
	if err != nil {
		return err
	}
	return h.retry.Cancel(r)
}

// resubmission strips the outcome fields from msg so the retried version
// starts from a clean data-ready message.
func (h *Handler) resubmission(msg proto.Message) proto.Message {
	return proto.Message{
		Facility:   msg.Facility,
		RunNumber:  msg.RunNumber,
		Instrument: msg.Instrument,
		RBNumber:   msg.RBNumber,
		StartedBy:  msg.StartedBy,
		Data:       msg.Data,
	}
}

// runOutputDir is the per-run directory reduced data lands in. The first
// version owns the run's directory; reruns get a version subdirectory so
// they never clobber the original output.
func (h *Handler) runOutputDir(msg proto.Message) string {
	dir := filepath.Join(h.outputDir, msg.Instrument, "RBNumber",
		fmt.Sprintf("RB%d", msg.RBNumber), "autoreduced", strconv.Itoa(msg.RunNumber))
	if msg.RunVersion > 0 {
		dir = filepath.Join(dir, fmt.Sprintf("run-version-%d", msg.RunVersion))
	}
	return dir
}
