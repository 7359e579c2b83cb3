// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package variable

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/script"
	"github.com/autoreduction/queue-processor/queue-processor/store"
)

// ConfigError reports that the desired variable set could not be built from
// the script defaults and overrides. It is an admission-class failure: the
// run is skipped rather than run with stale or empty configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

// A Resolver produces the effective InstrumentVariable set for a run and
// snapshots it as RunVariables.
type Resolver struct {
	store store.Store
}

func NewResolver(s store.Store) *Resolver {
	return &Resolver{
		store: s,
	}
}

// desired is one (name, value, advanced) tuple from the merged argument set.
type desired struct {
	name       string
	value      interface{}
	isAdvanced bool
}

// CreateRunVariables resolves the variables that apply to the given run and
// persists a RunVariable snapshot of each, linked to the run.
//
// For each desired variable the best persisted candidate is the one set for
// this experiment, else the one with the highest start_run <= the run
// number. A candidate that tracks the script follows the script's current
// value: updated in place when its start_run is this run, copied on write to
// a new start_run otherwise, so runs that already snapshotted the original
// stay reproducible. A candidate a human has pinned (tracks_script false) is
// never touched. A variable with no candidate at all is created fresh,
// tracking the script from this run onward.
func (r *Resolver) CreateRunVariables(run store.ReductionRun, experimentReference int, defaults script.Defaults, overrides *proto.ReductionArguments) ([]store.RunVariable, error) {
	all, err := mergeArguments(defaults, overrides)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return []store.RunVariable{}, nil
	}

	candidates, err := r.store.CandidateVariables(run.InstrumentID, experimentReference, run.RunNumber)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"instrument": run.InstrumentID,
		"run":        run.RunNumber,
		"version":    run.RunVersion,
	})

	resolved := make([]store.InstrumentVariable, 0, len(all))
	for _, d := range all {
		helpText := SanitizeHelp(defaults.Help(d.isAdvanced, d.name))
		newType := TypeOf(d.value)
		newValue := Encode(d.value)

		candidate := findAppropriate(candidates, d.name, experimentReference, run.RunNumber)
		if candidate == nil {
			v := store.InstrumentVariable{
				InstrumentID: run.InstrumentID,
				Name:         d.name,
				Value:        newValue,
				Type:         newType,
				IsAdvanced:   d.isAdvanced,
				HelpText:     helpText,
				StartRun:     run.RunNumber,
				TracksScript: true,
			}
			if err := r.store.InsertInstrumentVariable(&v); err != nil {
				return nil, err
			}
			logger.WithFields(log.Fields{"variable": d.name}).Info("created new instrument variable")
			resolved = append(resolved, v)
			continue
		}

		v, err := r.updateIfNecessary(*candidate, experimentReference, run.RunNumber, newValue, newType, helpText, logger)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, v)
	}

	logger.Info("creating run variable snapshots")
	return r.store.SaveRunVariables(run.ID, resolved)
}

// updateIfNecessary reconciles a found candidate with the script's current
// value:
//   - variables pinned by a human (tracks_script false) are left unchanged,
//     whatever their scope
//   - tracking experiment-scoped variables are updated in place so only one
//     exists per (name, experiment)
//   - tracking variables changed at their own start run are refined in place
//   - tracking variables changed at a later run are copied on write
func (r *Resolver) updateIfNecessary(v store.InstrumentVariable, experimentReference, runNumber int, newValue, newType, helpText string, logger *log.Entry) (store.InstrumentVariable, error) {
	changed := v.Value != newValue || v.Type != newType || v.HelpText != helpText
	if !changed {
		return v, nil
	}

	if !v.TracksScript {
		// Human override is sticky regardless of script changes.
		return v, nil
	}

	if experimentReference != 0 && v.ExperimentReference == experimentReference {
		v.Value = newValue
		v.Type = newType
		v.HelpText = helpText
		if err := r.store.UpdateInstrumentVariable(v); err != nil {
			return v, err
		}
		return v, nil
	}

	if v.StartRun == runNumber {
		v.Value = newValue
		v.Type = newType
		v.HelpText = helpText
		if err := r.store.UpdateInstrumentVariable(v); err != nil {
			return v, err
		}
		logger.WithFields(log.Fields{"variable": v.Name}).Info("refined instrument variable in place")
		return v, nil
	}

	// Copy on write: a new row at this run's start_run, leaving the
	// original value reachable by earlier runs.
	clone := v
	clone.ID = 0
	clone.StartRun = runNumber
	clone.Value = newValue
	clone.Type = newType
	clone.HelpText = helpText
	if err := r.store.InsertInstrumentVariable(&clone); err != nil {
		return clone, err
	}
	logger.WithFields(log.Fields{"variable": v.Name, "start_run": runNumber}).Info("copied instrument variable for new start run")
	return clone, nil
}

// findAppropriate picks the candidate that should apply to a variable name.
// A variable set for the run's experiment always wins; otherwise the
// run-scoped candidate with the highest start_run <= runNumber is used, ties
// broken by the latest row.
func findAppropriate(candidates []store.InstrumentVariable, name string, experimentReference, runNumber int) *store.InstrumentVariable {
	var best *store.InstrumentVariable
	for i := range candidates {
		v := &candidates[i]
		if v.Name != name {
			continue
		}
		if experimentReference != 0 && v.ExperimentReference == experimentReference {
			return v
		}
		if v.ExperimentReference != 0 || v.StartRun > runNumber {
			continue
		}
		if best == nil || v.StartRun > best.StartRun || (v.StartRun == best.StartRun && v.ID > best.ID) {
			best = v
		}
	}
	return best
}

// mergeArguments merges caller-supplied overrides over the script's declared
// defaults. Overrides win; they are coerced to the declared default's type
// first. Override names the script does not declare are dropped. The result
// is ordered (standard then advanced, names sorted) so that resolution is
// deterministic.
func mergeArguments(defaults script.Defaults, overrides *proto.ReductionArguments) ([]desired, error) {
	std := copyValues(defaults.StandardVars)
	adv := copyValues(defaults.AdvancedVars)

	if overrides != nil {
		if err := applyOverrides(std, overrides.StandardVars); err != nil {
			return nil, err
		}
		if err := applyOverrides(adv, overrides.AdvancedVars); err != nil {
			return nil, err
		}
	}

	all := make([]desired, 0, len(std)+len(adv))
	for _, name := range sortedNames(std) {
		all = append(all, desired{name: name, value: std[name], isAdvanced: false})
	}
	for _, name := range sortedNames(adv) {
		all = append(all, desired{name: name, value: adv[name], isAdvanced: true})
	}
	return all, nil
}

func applyOverrides(vars map[string]interface{}, overrides map[string]interface{}) error {
	for name, value := range overrides {
		declared, ok := vars[name]
		if !ok {
			continue
		}
		coerced, err := Coerce(value, TypeOf(declared))
		if err != nil {
			return ConfigError{Message: fmt.Sprintf("override for variable %s: %s", name, err)}
		}
		vars[name] = coerced
	}
	return nil
}

func copyValues(m map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func sortedNames(m map[string]interface{}) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
