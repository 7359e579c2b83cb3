// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package script_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"

	"github.com/autoreduction/queue-processor/queue-processor/script"
)

func writeScriptDir(t *testing.T, instrument, text, vars string) string {
	dir, err := ioutil.TempDir("", "script_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	instDir := filepath.Join(dir, instrument)
	if err := os.MkdirAll(instDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if text != "" {
		if err := ioutil.WriteFile(filepath.Join(instDir, script.SCRIPT_FILE), []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if vars != "" {
		if err := ioutil.WriteFile(filepath.Join(instDir, script.VARS_FILE), []byte(vars), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestTextMissingScript(t *testing.T) {
	dir := writeScriptDir(t, "WISH", "", "")
	loader := script.NewLoader(dir)

	text, err := loader.Text("WISH")
	if err != nil {
		t.Errorf("err = %s, expected nil", err)
	}
	if text != "" {
		t.Errorf("text = %q, expected empty string for a missing script", text)
	}
}

func TestTextAndDefaults(t *testing.T) {
	vars := `{
  "standard_vars": {"monitor": 2, "sum_runs": false},
  "advanced_vars": {"mask_file": "wish_mask.xml"},
  "variable_help": {"standard_vars": {"monitor": "monitor spectrum"}}
}`
	dir := writeScriptDir(t, "WISH", "def main(input_file, output_dir):\n    pass\n", vars)
	loader := script.NewLoader(dir)

	text, err := loader.Text("WISH")
	if err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	if text == "" {
		t.Error("text is empty, expected script contents")
	}

	defaults, err := loader.Defaults("WISH")
	if err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	expect := script.Defaults{
		StandardVars: map[string]interface{}{"monitor": float64(2), "sum_runs": false},
		AdvancedVars: map[string]interface{}{"mask_file": "wish_mask.xml"},
		VariableHelp: map[string]map[string]string{
			"standard_vars": {"monitor": "monitor spectrum"},
		},
	}
	if diff := deep.Equal(defaults, expect); diff != nil {
		t.Error(diff)
	}
	if got := defaults.Help(false, "monitor"); got != "monitor spectrum" {
		t.Errorf("Help(false, monitor) = %q, expected %q", got, "monitor spectrum")
	}
	if got := defaults.Help(true, "mask_file"); got != "" {
		t.Errorf("Help(true, mask_file) = %q, expected empty", got)
	}
}

func TestDefaultsMissingVarsFile(t *testing.T) {
	dir := writeScriptDir(t, "WISH", "pass", "")
	loader := script.NewLoader(dir)

	if _, err := loader.Defaults("WISH"); err == nil {
		t.Error("expected an error for a missing reduce_vars.json, did not get one")
	}
}

func TestDefaultsBadJSON(t *testing.T) {
	dir := writeScriptDir(t, "WISH", "pass", "{not json")
	loader := script.NewLoader(dir)

	if _, err := loader.Defaults("WISH"); err == nil {
		t.Error("expected an error for unparseable reduce_vars.json, did not get one")
	}
}
