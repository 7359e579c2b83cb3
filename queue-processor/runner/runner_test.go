// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package runner_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/autoreduction/queue-processor/queue-processor/runner"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "runner_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "runner.sh")
	if err := ioutil.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testJob() runner.Job {
	return runner.Job{
		JobID:      "abc123",
		Instrument: "WISH",
		RunNumber:  62892,
		RunVersion: 0,
		Script:     "pass",
		InputFile:  "/isis/WISH00062892.nxs",
		OutputDir:  "/instrument/WISH/RBNumber/RB1820484/autoreduced",
	}
}

func TestRunSuccessEmptyResult(t *testing.T) {
	// The script writes nothing to the result file: success, no extras.
	script := writeScript(t, "#!/bin/sh\nexit 0\n")
	r := runner.NewSubprocessRunner("/bin/sh", script, 10*time.Second)

	res, err := r.Run(context.Background(), testJob())
	if err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	if len(res.OutputDirs) != 0 {
		t.Errorf("output dirs = %v, expected none", res.OutputDirs)
	}
}

func TestRunSuccessWithOutputDirs(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\n"+
		`echo '{"output_dirs": ["/out/a", "/out/b"], "log": "all good"}' > "$2"`+"\n")
	r := runner.NewSubprocessRunner("/bin/sh", script, 10*time.Second)

	res, err := r.Run(context.Background(), testJob())
	if err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	if diff := deep.Equal(res.OutputDirs, []string{"/out/a", "/out/b"}); diff != nil {
		t.Error(diff)
	}
	if res.Log != "all good" {
		t.Errorf("log = %q, expected the script's log", res.Log)
	}
}

func TestRunScriptException(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho 'Traceback: boom' >&2\nexit 1\n")
	r := runner.NewSubprocessRunner("/bin/sh", script, 10*time.Second)

	_, err := r.Run(context.Background(), testJob())
	serr, ok := err.(runner.ScriptError)
	if !ok {
		t.Fatalf("err = %v, expected a runner.ScriptError", err)
	}
	if serr.Kind != runner.KIND_EXCEPTION {
		t.Errorf("kind = %s, expected %s", serr.Kind, runner.KIND_EXCEPTION)
	}
	if serr.Log == "" {
		t.Error("log excerpt is empty, expected the script's stderr")
	}
}

func TestRunReportedError(t *testing.T) {
	// Exit 0 but the result file carries an error: still an exception.
	script := writeScript(t, "#!/bin/sh\n"+
		`echo '{"error": "reduce.py raised ValueError"}' > "$2"`+"\n")
	r := runner.NewSubprocessRunner("/bin/sh", script, 10*time.Second)

	_, err := r.Run(context.Background(), testJob())
	serr, ok := err.(runner.ScriptError)
	if !ok {
		t.Fatalf("err = %v, expected a runner.ScriptError", err)
	}
	if serr.Kind != runner.KIND_EXCEPTION {
		t.Errorf("kind = %s, expected %s", serr.Kind, runner.KIND_EXCEPTION)
	}
	if serr.Message != "reduce.py raised ValueError" {
		t.Errorf("message = %q, expected the reported error", serr.Message)
	}
}

func TestRunTimeout(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nsleep 10\n")
	r := runner.NewSubprocessRunner("/bin/sh", script, 100*time.Millisecond)

	_, err := r.Run(context.Background(), testJob())
	serr, ok := err.(runner.ScriptError)
	if !ok {
		t.Fatalf("err = %v, expected a runner.ScriptError", err)
	}
	if serr.Kind != runner.KIND_TIMEOUT {
		t.Errorf("kind = %s, expected %s", serr.Kind, runner.KIND_TIMEOUT)
	}
}

func TestRunMalformedOutput(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\n"+
		`echo 'not json at all' > "$2"`+"\n")
	r := runner.NewSubprocessRunner("/bin/sh", script, 10*time.Second)

	_, err := r.Run(context.Background(), testJob())
	serr, ok := err.(runner.ScriptError)
	if !ok {
		t.Fatalf("err = %v, expected a runner.ScriptError", err)
	}
	if serr.Kind != runner.KIND_MALFORMED_OUTPUT {
		t.Errorf("kind = %s, expected %s", serr.Kind, runner.KIND_MALFORMED_OUTPUT)
	}
}

func TestRunMissingInterpreter(t *testing.T) {
	r := runner.NewSubprocessRunner("/no/such/interpreter", "/no/such/script.py", 10*time.Second)

	_, err := r.Run(context.Background(), testJob())
	serr, ok := err.(runner.ScriptError)
	if !ok {
		t.Fatalf("err = %v, expected a runner.ScriptError", err)
	}
	if serr.Kind != runner.KIND_MISSING_SCRIPT {
		t.Errorf("kind = %s, expected %s", serr.Kind, runner.KIND_MISSING_SCRIPT)
	}
}

func TestRepo(t *testing.T) {
	repo := runner.NewRepo()
	a := runner.Active{JobID: "j1", Instrument: "WISH", RunNumber: 100, StartedAt: time.Now()}
	repo.Add(a)

	got, ok := repo.Get("j1")
	if !ok {
		t.Fatal("job j1 not in the repo, expected it there")
	}
	if got.RunNumber != 100 {
		t.Errorf("run number = %d, expected 100", got.RunNumber)
	}
	if repo.Count() != 1 {
		t.Errorf("count = %d, expected 1", repo.Count())
	}

	repo.Remove("j1")
	if _, ok := repo.Get("j1"); ok {
		t.Error("job j1 still in the repo after removal")
	}
	if len(repo.Items()) != 0 {
		t.Errorf("items = %v, expected empty", repo.Items())
	}
}
