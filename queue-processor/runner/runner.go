// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package runner executes reduction scripts. A script runs as an external
// process; the runner owns no persistent state and is the single point where
// the black-box script's failure modes are converted into a typed taxonomy.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"
)

// Script failure kinds. The handler maps these onto the run's terminal
// state and retry eligibility.
const (
	KIND_MISSING_SCRIPT   = "missing script"
	KIND_EXCEPTION        = "exception"
	KIND_TIMEOUT          = "timeout"
	KIND_MALFORMED_OUTPUT = "malformed output"
)

// ScriptError is a failed script execution.
type ScriptError struct {
	Kind    string // KIND_* const
	Message string
	Log     string // excerpt of the script's combined output
}

func (e ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Job is everything needed to execute one reduction.
type Job struct {
	JobID      string
	Instrument string
	RunNumber  int
	RunVersion int

	Script       string // reduction script text, snapshotted on the run
	InputFile    string
	OutputDir    string
	StandardVars map[string]interface{}
	AdvancedVars map[string]interface{}
}

// Result is a successful script execution. OutputDirs lists any additional
// output directories the script reported beyond the job's OutputDir.
type Result struct {
	OutputDirs []string
	Log        string
}

// A Runner runs one reduction job, blocking until the script finishes, the
// timeout fires, or ctx is cancelled. Errors are always ScriptError.
type Runner interface {
	Run(ctx context.Context, job Job) (Result, error)
}

// payload is the JSON handed to the runner script on stdin-free contract:
// argv[1] is the payload file, argv[2] is the result file.
type payload struct {
	Script       string                 `json:"script"`
	InputFile    string                 `json:"input_file"`
	OutputDir    string                 `json:"output_directory"`
	StandardVars map[string]interface{} `json:"standard_vars"`
	AdvancedVars map[string]interface{} `json:"advanced_vars"`
}

// resultFile is what the runner script writes to argv[2]. An empty file is
// also a success with no additional outputs.
type resultFile struct {
	Error      string   `json:"error,omitempty"`
	OutputDirs []string `json:"output_dirs,omitempty"`
	Log        string   `json:"log,omitempty"`
}

// Keep only the tail of huge script logs; the full log lives in the
// script's own output directory.
const maxLogExcerpt = 10000

type subprocessRunner struct {
	interpreter  string
	runnerScript string
	timeout      time.Duration
}

// NewSubprocessRunner returns a Runner that executes jobs with
// "<interpreter> <runnerScript> <payload file> <result file>", enforcing the
// given wall-clock timeout per job.
func NewSubprocessRunner(interpreter, runnerScript string, timeout time.Duration) Runner {
	return &subprocessRunner{
		interpreter:  interpreter,
		runnerScript: runnerScript,
		timeout:      timeout,
	}
}

func (r *subprocessRunner) Run(ctx context.Context, job Job) (Result, error) {
	logger := log.WithFields(log.Fields{
		"jobId":      job.JobID,
		"instrument": job.Instrument,
		"run":        job.RunNumber,
		"version":    job.RunVersion,
	})

	payloadFile, resultPath, err := r.writePayload(job)
	if err != nil {
		return Result{}, ScriptError{Kind: KIND_EXCEPTION, Message: err.Error()}
	}
	defer os.Remove(payloadFile)
	defer os.Remove(resultPath)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.interpreter, r.runnerScript, payloadFile, resultPath)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	logger.Info("starting the reduction script")
	start := time.Now()
	runErr := cmd.Run()
	logger.WithFields(log.Fields{"runtime": time.Since(start).Seconds()}).Info("reduction script finished")

	logExcerpt := tail(output.String(), maxLogExcerpt)

	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, ScriptError{
			Kind:    KIND_TIMEOUT,
			Message: fmt.Sprintf("script exceeded timeout of %s", r.timeout),
			Log:     logExcerpt,
		}
	}
	if runErr != nil {
		if execErr, ok := runErr.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return Result{}, ScriptError{
				Kind:    KIND_MISSING_SCRIPT,
				Message: fmt.Sprintf("cannot execute %s: %s", r.interpreter, runErr),
			}
		}
		if os.IsNotExist(runErr) {
			return Result{}, ScriptError{
				Kind:    KIND_MISSING_SCRIPT,
				Message: runErr.Error(),
			}
		}
		return Result{}, ScriptError{
			Kind:    KIND_EXCEPTION,
			Message: fmt.Sprintf("script exited with an error: %s", runErr),
			Log:     logExcerpt,
		}
	}

	res, err := readResult(resultPath)
	if err != nil {
		return Result{}, ScriptError{
			Kind:    KIND_MALFORMED_OUTPUT,
			Message: err.Error(),
			Log:     logExcerpt,
		}
	}
	if res.Error != "" {
		return Result{}, ScriptError{
			Kind:    KIND_EXCEPTION,
			Message: res.Error,
			Log:     firstNonEmpty(res.Log, logExcerpt),
		}
	}

	return Result{
		OutputDirs: res.OutputDirs,
		Log:        firstNonEmpty(res.Log, logExcerpt),
	}, nil
}

func (r *subprocessRunner) writePayload(job Job) (payloadFile, resultPath string, err error) {
	data, err := json.Marshal(payload{
		Script:       job.Script,
		InputFile:    job.InputFile,
		OutputDir:    job.OutputDir,
		StandardVars: job.StandardVars,
		AdvancedVars: job.AdvancedVars,
	})
	if err != nil {
		return "", "", fmt.Errorf("cannot marshal job payload: %s", err)
	}

	pf, err := ioutil.TempFile("", "reduce_payload")
	if err != nil {
		return "", "", err
	}
	if _, err := pf.Write(data); err != nil {
		pf.Close()
		os.Remove(pf.Name())
		return "", "", err
	}
	if err := pf.Close(); err != nil {
		os.Remove(pf.Name())
		return "", "", err
	}

	rf, err := ioutil.TempFile("", "reduce_result")
	if err != nil {
		os.Remove(pf.Name())
		return "", "", err
	}
	rf.Close()

	return pf.Name(), rf.Name(), nil
}

func readResult(path string) (resultFile, error) {
	var res resultFile
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("cannot read script result file: %s", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return res, nil // success, no additional outputs
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("cannot parse script result file: %s", err)
	}
	return res, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
