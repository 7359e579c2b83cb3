// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	// Instrument queries.
	selectInstrument   = "SELECT id, name, is_active, is_paused FROM instruments WHERE name = ?"
	insertInstrument   = "INSERT INTO instruments (name, is_active, is_paused) VALUES (?, FALSE, FALSE)"
	activateInstrument = "UPDATE instruments SET is_active = TRUE WHERE id = ?"

	// Experiment queries.
	selectExperiment = "SELECT id, reference_number FROM experiments WHERE reference_number = ?"
	insertExperiment = "INSERT INTO experiments (reference_number) VALUES (?)"

	// Reduction run queries.
	selectMaxRunVersion = "SELECT COALESCE(MAX(run_version), -1) FROM reduction_runs WHERE experiment_id = ? AND run_number = ?"
	insertRun           = "INSERT INTO reduction_runs (experiment_id, instrument_id, run_number, run_version, job_id, " +
		"status, script, started_by, message, reduction_log, admin_log, created, cancel) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE)"
	selectRunColumns = "SELECT id, experiment_id, instrument_id, run_number, run_version, job_id, status, script, " +
		"started_by, message, reduction_log, admin_log, created, started, finished, retry_run_id, cancel FROM reduction_runs"
	selectRunByJobID   = selectRunColumns + " WHERE job_id = ?"
	selectRunByVersion = selectRunColumns + " WHERE experiment_id = ? AND run_number = ? AND run_version = ?"
	updateRun          = "UPDATE reduction_runs SET status = ?, started = ?, finished = ?, message = ?, " +
		"reduction_log = ?, admin_log = ?, retry_run_id = ?, cancel = ? WHERE id = ?"

	// Location queries.
	insertDataLocation      = "INSERT INTO data_locations (reduction_run_id, file_path) VALUES (?, ?)"
	selectDataLocations     = "SELECT file_path FROM data_locations WHERE reduction_run_id = ? ORDER BY id"
	insertReductionLocation = "INSERT INTO reduction_locations (reduction_run_id, file_path) VALUES (?, ?)"

	// Variable queries.
	selectCandidateVariables = "SELECT id, instrument_id, name, value, type, is_advanced, help_text, start_run, " +
		"experiment_reference, tracks_script FROM instrument_variables " +
		"WHERE instrument_id = ? AND (experiment_reference = ? OR start_run <= ?) ORDER BY start_run, id"
	insertInstrumentVariable = "INSERT INTO instrument_variables (instrument_id, name, value, type, is_advanced, " +
		"help_text, start_run, experiment_reference, tracks_script) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	updateInstrumentVariable = "UPDATE instrument_variables SET value = ?, type = ?, help_text = ?, start_run = ?, " +
		"tracks_script = ? WHERE id = ?"
	insertRunVariable = "INSERT INTO run_variables (reduction_run_id, instrument_variable_id, name, value, type, " +
		"is_advanced, help_text) VALUES (?, ?, ?, ?, ?, ?, ?)"
	selectRunVariables = "SELECT id, reduction_run_id, instrument_variable_id, name, value, type, is_advanced, " +
		"help_text FROM run_variables WHERE reduction_run_id = ? ORDER BY id"
)

// MySQL error number for a unique key violation.
const dupeKeyErrorCode = 1062

type mysqlStore struct {
	db *sql.DB
}

// NewMySQLStore returns a Store backed by the given MySQL connection pool.
func NewMySQLStore(db *sql.DB) Store {
	return &mysqlStore{
		db: db,
	}
}

func (s *mysqlStore) GetOrCreateExperiment(rbNumber int) (Experiment, error) {
	var exp Experiment
	err := s.db.QueryRow(selectExperiment, rbNumber).Scan(&exp.ID, &exp.ReferenceNumber)
	if err == nil {
		return exp, nil
	}
	if err != sql.ErrNoRows {
		return exp, err
	}

	res, err := s.db.Exec(insertExperiment, rbNumber)
	if err != nil {
		// Another consumer may have created it concurrently.
		if isDupeKeyError(err) {
			err = s.db.QueryRow(selectExperiment, rbNumber).Scan(&exp.ID, &exp.ReferenceNumber)
			return exp, err
		}
		return exp, err
	}
	exp.ID, err = res.LastInsertId()
	exp.ReferenceNumber = rbNumber
	return exp, err
}

func (s *mysqlStore) GetOrCreateInstrument(name string) (Instrument, error) {
	var inst Instrument
	err := s.db.QueryRow(selectInstrument, name).Scan(&inst.ID, &inst.Name, &inst.IsActive, &inst.IsPaused)
	if err == nil {
		return inst, nil
	}
	if err != sql.ErrNoRows {
		return inst, err
	}

	res, err := s.db.Exec(insertInstrument, name)
	if err != nil {
		if isDupeKeyError(err) {
			err = s.db.QueryRow(selectInstrument, name).Scan(&inst.ID, &inst.Name, &inst.IsActive, &inst.IsPaused)
			return inst, err
		}
		return inst, err
	}
	inst.ID, err = res.LastInsertId()
	inst.Name = name
	return inst, err
}

func (s *mysqlStore) ActivateInstrument(instrumentID int64) error {
	res, err := s.db.Exec(activateInstrument, instrumentID)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

func (s *mysqlStore) LatestRunVersion(experimentID int64, runNumber int) (int, error) {
	var version int
	err := s.db.QueryRow(selectMaxRunVersion, experimentID, runNumber).Scan(&version)
	return version, err
}

func (s *mysqlStore) CreateRun(run *ReductionRun, dataPath string) error {
	txn, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	res, err := txn.Exec(insertRun,
		run.ExperimentID,
		run.InstrumentID,
		run.RunNumber,
		run.RunVersion,
		run.JobID,
		run.Status,
		run.Script,
		run.StartedBy,
		run.Message,
		run.ReductionLog,
		run.AdminLog,
		run.Created,
	)
	if err != nil {
		if isDupeKeyError(err) {
			return ErrDuplicateRun
		}
		return err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if _, err := txn.Exec(insertDataLocation, runID, dataPath); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return err
	}
	run.ID = runID
	return nil
}

func (s *mysqlStore) GetRun(jobID string) (ReductionRun, error) {
	return s.scanRun(s.db.QueryRow(selectRunByJobID, jobID))
}

func (s *mysqlStore) GetRunVersion(experimentID int64, runNumber, runVersion int) (ReductionRun, error) {
	return s.scanRun(s.db.QueryRow(selectRunByVersion, experimentID, runNumber, runVersion))
}

func (s *mysqlStore) UpdateRun(run ReductionRun) error {
	res, err := s.db.Exec(updateRun,
		run.Status,
		nullTime(run.Started),
		nullTime(run.Finished),
		run.Message,
		run.ReductionLog,
		run.AdminLog,
		nullInt64(run.RetryRunID),
		run.Cancel,
		run.ID,
	)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

func (s *mysqlStore) DataLocations(runID int64) ([]string, error) {
	rows, err := s.db.Query(selectDataLocations, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *mysqlStore) SaveReductionLocation(runID int64, filePath string) error {
	_, err := s.db.Exec(insertReductionLocation, runID, filePath)
	return err
}

func (s *mysqlStore) CandidateVariables(instrumentID int64, experimentReference, runNumber int) ([]InstrumentVariable, error) {
	rows, err := s.db.Query(selectCandidateVariables, instrumentID, experimentReference, runNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vars := []InstrumentVariable{}
	for rows.Next() {
		var v InstrumentVariable
		err := rows.Scan(&v.ID, &v.InstrumentID, &v.Name, &v.Value, &v.Type, &v.IsAdvanced, &v.HelpText,
			&v.StartRun, &v.ExperimentReference, &v.TracksScript)
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

func (s *mysqlStore) InsertInstrumentVariable(v *InstrumentVariable) error {
	res, err := s.db.Exec(insertInstrumentVariable, v.InstrumentID, v.Name, v.Value, v.Type, v.IsAdvanced,
		v.HelpText, v.StartRun, v.ExperimentReference, v.TracksScript)
	if err != nil {
		return err
	}
	v.ID, err = res.LastInsertId()
	return err
}

func (s *mysqlStore) UpdateInstrumentVariable(v InstrumentVariable) error {
	res, err := s.db.Exec(updateInstrumentVariable, v.Value, v.Type, v.HelpText, v.StartRun, v.TracksScript, v.ID)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

func (s *mysqlStore) SaveRunVariables(runID int64, vars []InstrumentVariable) ([]RunVariable, error) {
	txn, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	runVars := make([]RunVariable, 0, len(vars))
	for _, v := range vars {
		res, err := txn.Exec(insertRunVariable, runID, v.ID, v.Name, v.Value, v.Type, v.IsAdvanced, v.HelpText)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		runVars = append(runVars, RunVariable{
			ID:                   id,
			ReductionRunID:       runID,
			InstrumentVariableID: v.ID,
			Name:                 v.Name,
			Value:                v.Value,
			Type:                 v.Type,
			IsAdvanced:           v.IsAdvanced,
			HelpText:             v.HelpText,
		})
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return runVars, nil
}

func (s *mysqlStore) RunVariables(runID int64) ([]RunVariable, error) {
	rows, err := s.db.Query(selectRunVariables, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runVars := []RunVariable{}
	for rows.Next() {
		var rv RunVariable
		err := rows.Scan(&rv.ID, &rv.ReductionRunID, &rv.InstrumentVariableID, &rv.Name, &rv.Value, &rv.Type,
			&rv.IsAdvanced, &rv.HelpText)
		if err != nil {
			return nil, err
		}
		runVars = append(runVars, rv)
	}
	return runVars, rows.Err()
}

// ------------------------------------------------------------------------

func (s *mysqlStore) scanRun(row *sql.Row) (ReductionRun, error) {
	var run ReductionRun
	var started, finished sql.NullTime
	var retryRunID sql.NullInt64
	err := row.Scan(&run.ID, &run.ExperimentID, &run.InstrumentID, &run.RunNumber, &run.RunVersion, &run.JobID,
		&run.Status, &run.Script, &run.StartedBy, &run.Message, &run.ReductionLog, &run.AdminLog, &run.Created,
		&started, &finished, &retryRunID, &run.Cancel)
	if err != nil {
		if err == sql.ErrNoRows {
			return run, NewErrNotFound("reduction run")
		}
		return run, err
	}
	if started.Valid {
		run.Started = &started.Time
	}
	if finished.Valid {
		run.Finished = &finished.Time
	}
	if retryRunID.Valid {
		run.RetryRunID = &retryRunID.Int64
	}
	return run, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func checkOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	switch {
	case n == 0:
		return ErrNotUpdated
	case n > 1:
		return ErrMultipleUpdated
	}
	return nil
}

func isDupeKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == dupeKeyErrorCode
	}
	return false
}
