// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotUpdated      = errors.New("cannot find record to update")
	ErrMultipleUpdated = errors.New("multiple records updated")

	// ErrDuplicateRun is returned by CreateRun when a run already exists
	// at the same (experiment, run_number, run_version). Redelivered
	// messages hit this instead of silently minting a new version.
	ErrDuplicateRun = errors.New("reduction run already exists at this version")
)

type ErrNotFound struct {
	resource string
}

func NewErrNotFound(resource string) ErrNotFound {
	return ErrNotFound{resource}
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found", e.resource)
}
