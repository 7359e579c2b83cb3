// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package store

import (
	"sync"
)

// MemoryStore is an in-memory Store. It is used by tests and by the dev
// harness; production runs on MySQL.
type MemoryStore struct {
	mu          sync.Mutex
	nextID      int64
	instruments map[string]*Instrument
	experiments map[int]*Experiment
	runs        []*ReductionRun
	dataLocs    []DataLocation
	redLocs     []ReductionLocation
	instVars    []*InstrumentVariable
	runVars     []RunVariable
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:      1,
		instruments: map[string]*Instrument{},
		experiments: map[int]*Experiment{},
	}
}

func (m *MemoryStore) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *MemoryStore) GetOrCreateExperiment(rbNumber int) (Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.experiments[rbNumber]; ok {
		return *exp, nil
	}
	exp := &Experiment{ID: m.id(), ReferenceNumber: rbNumber}
	m.experiments[rbNumber] = exp
	return *exp, nil
}

func (m *MemoryStore) GetOrCreateInstrument(name string) (Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instruments[name]; ok {
		return *inst, nil
	}
	inst := &Instrument{ID: m.id(), Name: name}
	m.instruments[name] = inst
	return *inst, nil
}

func (m *MemoryStore) ActivateInstrument(instrumentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instruments {
		if inst.ID == instrumentID {
			inst.IsActive = true
			return nil
		}
	}
	return ErrNotUpdated
}

// PauseInstrument is a test helper; in production pausing is done through
// the web app.
func (m *MemoryStore) PauseInstrument(name string, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instruments[name]; ok {
		inst.IsPaused = paused
	}
}

func (m *MemoryStore) LatestRunVersion(experimentID int64, runNumber int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := -1
	for _, run := range m.runs {
		if run.ExperimentID == experimentID && run.RunNumber == runNumber && run.RunVersion > latest {
			latest = run.RunVersion
		}
	}
	return latest, nil
}

func (m *MemoryStore) CreateRun(run *ReductionRun, dataPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.runs {
		if existing.ExperimentID == run.ExperimentID && existing.RunNumber == run.RunNumber &&
			existing.RunVersion == run.RunVersion {
			return ErrDuplicateRun
		}
	}
	run.ID = m.id()
	stored := *run
	m.runs = append(m.runs, &stored)
	m.dataLocs = append(m.dataLocs, DataLocation{ID: m.id(), ReductionRunID: run.ID, FilePath: dataPath})
	return nil
}

func (m *MemoryStore) GetRun(jobID string) (ReductionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.JobID == jobID {
			return *run, nil
		}
	}
	return ReductionRun{}, NewErrNotFound("reduction run")
}

func (m *MemoryStore) GetRunVersion(experimentID int64, runNumber, runVersion int) (ReductionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.ExperimentID == experimentID && run.RunNumber == runNumber && run.RunVersion == runVersion {
			return *run, nil
		}
	}
	return ReductionRun{}, NewErrNotFound("reduction run")
}

func (m *MemoryStore) UpdateRun(run ReductionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.runs {
		if existing.ID == run.ID {
			stored := run
			m.runs[i] = &stored
			return nil
		}
	}
	return ErrNotUpdated
}

func (m *MemoryStore) DataLocations(runID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := []string{}
	for _, loc := range m.dataLocs {
		if loc.ReductionRunID == runID {
			paths = append(paths, loc.FilePath)
		}
	}
	return paths, nil
}

func (m *MemoryStore) SaveReductionLocation(runID int64, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redLocs = append(m.redLocs, ReductionLocation{ID: m.id(), ReductionRunID: runID, FilePath: filePath})
	return nil
}

// ReductionLocations is a test helper.
func (m *MemoryStore) ReductionLocations(runID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := []string{}
	for _, loc := range m.redLocs {
		if loc.ReductionRunID == runID {
			paths = append(paths, loc.FilePath)
		}
	}
	return paths
}

func (m *MemoryStore) CandidateVariables(instrumentID int64, experimentReference, runNumber int) ([]InstrumentVariable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vars := []InstrumentVariable{}
	for _, v := range m.instVars {
		if v.InstrumentID != instrumentID {
			continue
		}
		if (v.ExperimentReference != 0 && v.ExperimentReference == experimentReference) ||
			(v.ExperimentReference == 0 && v.StartRun <= runNumber) {
			vars = append(vars, *v)
		}
	}
	return vars, nil
}

func (m *MemoryStore) InsertInstrumentVariable(v *InstrumentVariable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = m.id()
	stored := *v
	m.instVars = append(m.instVars, &stored)
	return nil
}

func (m *MemoryStore) UpdateInstrumentVariable(v InstrumentVariable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.instVars {
		if existing.ID == v.ID {
			stored := v
			m.instVars[i] = &stored
			return nil
		}
	}
	return ErrNotUpdated
}

// InstrumentVariables is a test helper returning every persisted variable.
func (m *MemoryStore) InstrumentVariables() []InstrumentVariable {
	m.mu.Lock()
	defer m.mu.Unlock()
	vars := make([]InstrumentVariable, 0, len(m.instVars))
	for _, v := range m.instVars {
		vars = append(vars, *v)
	}
	return vars
}

func (m *MemoryStore) SaveRunVariables(runID int64, vars []InstrumentVariable) ([]RunVariable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runVars := make([]RunVariable, 0, len(vars))
	for _, v := range vars {
		rv := RunVariable{
			ID:                   m.id(),
			ReductionRunID:       runID,
			InstrumentVariableID: v.ID,
			Name:                 v.Name,
			Value:                v.Value,
			Type:                 v.Type,
			IsAdvanced:           v.IsAdvanced,
			HelpText:             v.HelpText,
		}
		m.runVars = append(m.runVars, rv)
		runVars = append(runVars, rv)
	}
	return runVars, nil
}

func (m *MemoryStore) RunVariables(runID int64) ([]RunVariable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runVars := []RunVariable{}
	for _, rv := range m.runVars {
		if rv.ReductionRunID == runID {
			runVars = append(runVars, rv)
		}
	}
	return runVars, nil
}

var _ Store = &MemoryStore{}
