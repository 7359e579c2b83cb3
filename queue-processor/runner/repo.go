// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package runner

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Active is one reduction currently executing on this host.
type Active struct {
	JobID      string
	Instrument string
	RunNumber  int
	RunVersion int
	StartedAt  time.Time
}

// A Repo tracks the reductions in flight. It backs the status API and lets
// cancellation requests find whether a run is still executing here.
type Repo interface {
	Add(a Active)
	Remove(jobID string)
	Get(jobID string) (Active, bool)
	Items() map[string]Active
	Count() int
}

type repo struct {
	active cmap.ConcurrentMap[string, Active]
}

// NewRepo returns an empty in-memory Repo.
func NewRepo() Repo {
	return &repo{
		active: cmap.New[Active](),
	}
}

func (r *repo) Add(a Active) {
	r.active.Set(a.JobID, a)
}

func (r *repo) Remove(jobID string) {
	r.active.Remove(jobID)
}

func (r *repo) Get(jobID string) (Active, bool) {
	return r.active.Get(jobID)
}

func (r *repo) Items() map[string]Active {
	return r.active.Items()
}

func (r *repo) Count() int {
	return r.active.Count()
}
