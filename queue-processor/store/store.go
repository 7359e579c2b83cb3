// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package store persists the reduction job records: instruments,
// experiments, reduction runs and their owned locations, and the
// instrument/run variable tables. It is the only shared mutable resource in
// the queue processor; everything above it is a pure transformation over a
// message and a snapshot of store state.
package store

import (
	"time"
)

// Instrument is a beamline instrument. Paused instruments suppress new runs;
// inactive instruments are activated by the first admitted run.
type Instrument struct {
	ID       int64
	Name     string
	IsActive bool
	IsPaused bool
}

// Experiment is an experiment (RB number) registered with the facility.
// Created on first reference.
type Experiment struct {
	ID              int64
	ReferenceNumber int
}

// ReductionRun is one attempt (one version) at reducing a specific run
// number within an experiment. (ExperimentID, RunNumber, RunVersion) is
// unique; versions of the same family form a linear retry chain through
// RetryRunID.
type ReductionRun struct {
	ID           int64
	ExperimentID int64
	InstrumentID int64
	RunNumber    int
	RunVersion   int
	JobID        string // globally unique xid, stamped on queue messages
	Status       byte   // proto.STATUS_*
	Script       string // snapshot of reduce.py at creation time
	StartedBy    int
	Message      string
	ReductionLog string
	AdminLog     string
	Created      time.Time
	Started      *time.Time
	Finished     *time.Time
	RetryRunID   *int64 // successor version created by the retry controller
	Cancel       bool   // suppress further automatic retries
}

// DataLocation is the path to a raw data file consumed by a run.
type DataLocation struct {
	ID             int64
	ReductionRunID int64
	FilePath       string
}

// ReductionLocation is the path to an output artifact produced by a run.
type ReductionLocation struct {
	ID             int64
	ReductionRunID int64
	FilePath       string
}

// InstrumentVariable is a scope-qualified script configuration value. It is
// scoped either by (instrument, start_run), effective for run numbers >=
// StartRun until superseded by a later StartRun, or by (instrument,
// experiment_reference), effective for every run of that experiment.
// Instrument variables are shared reference data: they outlive any single
// run, and superseded rows are kept so that old runs stay reproducible.
type InstrumentVariable struct {
	ID           int64
	InstrumentID int64
	Name         string
	Value        string
	Type         string // variable.TYPE_*
	IsAdvanced   bool
	HelpText     string

	// Exactly one of the two scopes is set.
	StartRun            int // 0 when experiment-scoped
	ExperimentReference int // 0 when run-scoped

	// TracksScript keeps the value in sync with the script's declared
	// default. Cleared when a human overrides the value through the web
	// app, after which the persisted value always wins.
	TracksScript bool
}

// RunVariable is an immutable snapshot of an InstrumentVariable, attached to
// the run that used it. Never mutated after creation.
type RunVariable struct {
	ID                   int64
	ReductionRunID       int64
	InstrumentVariableID int64
	Name                 string
	Value                string
	Type                 string
	IsAdvanced           bool
	HelpText             string
}

// A Store persists reduction job records. All mutations are single atomic
// transactions; no method holds a transaction open across a blocking call.
type Store interface {
	// GetOrCreateExperiment returns the experiment with the given RB
	// number, creating it on first reference.
	GetOrCreateExperiment(rbNumber int) (Experiment, error)

	// GetOrCreateInstrument returns the named instrument, creating an
	// inactive, unpaused record if it does not exist.
	GetOrCreateInstrument(name string) (Instrument, error)

	// ActivateInstrument marks an instrument active.
	ActivateInstrument(instrumentID int64) error

	// LatestRunVersion returns the highest run_version for (experiment,
	// run_number), or -1 if the family has no runs.
	LatestRunVersion(experimentID int64, runNumber int) (int, error)

	// CreateRun persists a new run and the DataLocation for its raw file
	// in one transaction, setting run.ID. A version collision returns
	// ErrDuplicateRun and leaves no partial record behind.
	CreateRun(run *ReductionRun, dataPath string) error

	// GetRun returns the run with the given job id.
	GetRun(jobID string) (ReductionRun, error)

	// GetRunVersion returns the run at an exact version.
	GetRunVersion(experimentID int64, runNumber, runVersion int) (ReductionRun, error)

	// UpdateRun persists the run's status, timestamps, outcome fields,
	// retry link, and cancel flag.
	UpdateRun(run ReductionRun) error

	// DataLocations returns the raw file paths owned by a run.
	DataLocations(runID int64) ([]string, error)

	// SaveReductionLocation records an output artifact path for a run.
	SaveReductionLocation(runID int64, filePath string) error

	// CandidateVariables returns the instrument's variables in scope for
	// a run: experiment_reference matches, or start_run <= runNumber.
	CandidateVariables(instrumentID int64, experimentReference, runNumber int) ([]InstrumentVariable, error)

	// InsertInstrumentVariable persists a new variable (or a copied-on-
	// write clone with ID 0), setting v.ID.
	InsertInstrumentVariable(v *InstrumentVariable) error

	// UpdateInstrumentVariable updates a variable in place.
	UpdateInstrumentVariable(v InstrumentVariable) error

	// SaveRunVariables snapshots the resolved variables as RunVariables
	// owned by the run, in one transaction.
	SaveRunVariables(runID int64, vars []InstrumentVariable) ([]RunVariable, error)

	// RunVariables returns the snapshots attached to a run.
	RunVariables(runID int64) ([]RunVariable, error)
}
