// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package script locates per-instrument reduction scripts and their declared
// variable defaults. Scripts live on shared storage, one directory per
// instrument:
//
//	<dir>/<INSTRUMENT>/reduce.py       the reduction script itself
//	<dir>/<INSTRUMENT>/reduce_vars.json declared defaults and help text
//
// The orchestrator never executes instrument code in-process: reduce.py is
// only ever snapshotted as text and handed to the external runner, and the
// declared defaults are read from the typed reduce_vars.json contract.
package script

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
)

const (
	SCRIPT_FILE = "reduce.py"
	VARS_FILE   = "reduce_vars.json"
)

// Defaults are the variable defaults a reduction script declares.
type Defaults struct {
	StandardVars map[string]interface{} `json:"standard_vars"`
	AdvancedVars map[string]interface{} `json:"advanced_vars"`

	// VariableHelp maps "standard_vars"/"advanced_vars" to per-variable
	// help text.
	VariableHelp map[string]map[string]string `json:"variable_help"`
}

// Help returns the help text declared for a variable, or "".
func (d Defaults) Help(isAdvanced bool, name string) string {
	group := "standard_vars"
	if isAdvanced {
		group = "advanced_vars"
	}
	if d.VariableHelp == nil {
		return ""
	}
	return d.VariableHelp[group][name]
}

// A Loader reads reduction scripts for instruments.
type Loader interface {
	// Text returns the script text for an instrument, or "" if the
	// instrument has no script.
	Text(instrument string) (string, error)

	// Defaults returns the script's declared variable defaults. A
	// missing or unparseable reduce_vars.json is an error; the caller
	// skips the run rather than running with empty configuration.
	Defaults(instrument string) (Defaults, error)
}

type dirLoader struct {
	dir string
}

// NewLoader returns a Loader reading from the given script directory.
func NewLoader(dir string) Loader {
	return &dirLoader{
		dir: dir,
	}
}

func (l *dirLoader) Text(instrument string) (string, error) {
	data, err := ioutil.ReadFile(filepath.Join(l.dir, instrument, SCRIPT_FILE))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // no script, admission skips the run
		}
		return "", err
	}
	return string(data), nil
}

func (l *dirLoader) Defaults(instrument string) (Defaults, error) {
	var defaults Defaults
	path := filepath.Join(l.dir, instrument, VARS_FILE)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("cannot load script defaults %s: %s", path, err)
	}
	if err := json.Unmarshal(data, &defaults); err != nil {
		return defaults, fmt.Errorf("cannot parse script defaults %s: %s", path, err)
	}
	if defaults.StandardVars == nil {
		defaults.StandardVars = map[string]interface{}{}
	}
	if defaults.AdvancedVars == nil {
		defaults.AdvancedVars = map[string]interface{}{}
	}
	return defaults, nil
}
