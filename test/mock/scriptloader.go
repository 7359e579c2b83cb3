// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package mock

import (
	"errors"

	"github.com/autoreduction/queue-processor/queue-processor/script"
)

var (
	// ErrScriptLoader is the forced error for the ScriptLoader mock.
	ErrScriptLoader = errors.New("forced error in script loader")
)

// ScriptLoader is a mock script.Loader.
type ScriptLoader struct {
	TextFunc     func(instrument string) (string, error)
	DefaultsFunc func(instrument string) (script.Defaults, error)
}

func (l *ScriptLoader) Text(instrument string) (string, error) {
	if l.TextFunc != nil {
		return l.TextFunc(instrument)
	}
	return "", nil
}

func (l *ScriptLoader) Defaults(instrument string) (script.Defaults, error) {
	if l.DefaultsFunc != nil {
		return l.DefaultsFunc(instrument)
	}
	return script.Defaults{}, nil
}
