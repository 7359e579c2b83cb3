// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package mock

import (
	"errors"

	"github.com/autoreduction/queue-processor/queue-processor/store"
)

var (
	ErrStore = errors.New("forced error in store")
)

type Store struct {
	GetOrCreateExperimentFunc    func(int) (store.Experiment, error)
	GetOrCreateInstrumentFunc    func(string) (store.Instrument, error)
	ActivateInstrumentFunc       func(int64) error
	LatestRunVersionFunc         func(int64, int) (int, error)
	CreateRunFunc                func(*store.ReductionRun, string) error
	GetRunFunc                   func(string) (store.ReductionRun, error)
	GetRunVersionFunc            func(int64, int, int) (store.ReductionRun, error)
	UpdateRunFunc                func(store.ReductionRun) error
	DataLocationsFunc            func(int64) ([]string, error)
	SaveReductionLocationFunc    func(int64, string) error
	CandidateVariablesFunc       func(int64, int, int) ([]store.InstrumentVariable, error)
	InsertInstrumentVariableFunc func(*store.InstrumentVariable) error
	UpdateInstrumentVariableFunc func(store.InstrumentVariable) error
	SaveRunVariablesFunc         func(int64, []store.InstrumentVariable) ([]store.RunVariable, error)
	RunVariablesFunc             func(int64) ([]store.RunVariable, error)
}

func (s *Store) GetOrCreateExperiment(rbNumber int) (store.Experiment, error) {
	if s.GetOrCreateExperimentFunc != nil {
		return s.GetOrCreateExperimentFunc(rbNumber)
	}
	return store.Experiment{}, nil
}

func (s *Store) GetOrCreateInstrument(name string) (store.Instrument, error) {
	if s.GetOrCreateInstrumentFunc != nil {
		return s.GetOrCreateInstrumentFunc(name)
	}
	return store.Instrument{}, nil
}

func (s *Store) ActivateInstrument(instrumentID int64) error {
	if s.ActivateInstrumentFunc != nil {
		return s.ActivateInstrumentFunc(instrumentID)
	}
	return nil
}

func (s *Store) LatestRunVersion(experimentID int64, runNumber int) (int, error) {
	if s.LatestRunVersionFunc != nil {
		return s.LatestRunVersionFunc(experimentID, runNumber)
	}
	return -1, nil
}

func (s *Store) CreateRun(run *store.ReductionRun, dataPath string) error {
	if s.CreateRunFunc != nil {
		return s.CreateRunFunc(run, dataPath)
	}
	return nil
}

func (s *Store) GetRun(jobID string) (store.ReductionRun, error) {
	if s.GetRunFunc != nil {
		return s.GetRunFunc(jobID)
	}
	return store.ReductionRun{}, nil
}

func (s *Store) GetRunVersion(experimentID int64, runNumber, runVersion int) (store.ReductionRun, error) {
	if s.GetRunVersionFunc != nil {
		return s.GetRunVersionFunc(experimentID, runNumber, runVersion)
	}
	return store.ReductionRun{}, nil
}

func (s *Store) UpdateRun(run store.ReductionRun) error {
	if s.UpdateRunFunc != nil {
		return s.UpdateRunFunc(run)
	}
	return nil
}

func (s *Store) DataLocations(runID int64) ([]string, error) {
	if s.DataLocationsFunc != nil {
		return s.DataLocationsFunc(runID)
	}
	return []string{}, nil
}

func (s *Store) SaveReductionLocation(runID int64, filePath string) error {
	if s.SaveReductionLocationFunc != nil {
		return s.SaveReductionLocationFunc(runID, filePath)
	}
	return nil
}

func (s *Store) CandidateVariables(instrumentID int64, experimentReference, runNumber int) ([]store.InstrumentVariable, error) {
	if s.CandidateVariablesFunc != nil {
		return s.CandidateVariablesFunc(instrumentID, experimentReference, runNumber)
	}
	return []store.InstrumentVariable{}, nil
}

func (s *Store) InsertInstrumentVariable(v *store.InstrumentVariable) error {
	if s.InsertInstrumentVariableFunc != nil {
		return s.InsertInstrumentVariableFunc(v)
	}
	return nil
}

func (s *Store) UpdateInstrumentVariable(v store.InstrumentVariable) error {
	if s.UpdateInstrumentVariableFunc != nil {
		return s.UpdateInstrumentVariableFunc(v)
	}
	return nil
}

func (s *Store) SaveRunVariables(runID int64, vars []store.InstrumentVariable) ([]store.RunVariable, error) {
	if s.SaveRunVariablesFunc != nil {
		return s.SaveRunVariablesFunc(runID, vars)
	}
	return []store.RunVariable{}, nil
}

func (s *Store) RunVariables(runID int64) ([]store.RunVariable, error) {
	if s.RunVariablesFunc != nil {
		return s.RunVariablesFunc(runID)
	}
	return []store.RunVariable{}, nil
}
