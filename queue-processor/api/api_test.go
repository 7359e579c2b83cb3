// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/autoreduction/queue-processor/config"
	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/api"
	"github.com/autoreduction/queue-processor/queue-processor/runner"
	"github.com/autoreduction/queue-processor/queue-processor/store"
)

type canceller struct {
	cancelled []string
	err       error
}

func (c *canceller) HandleCancel(msg proto.Message) error {
	if c.err != nil {
		return c.err
	}
	c.cancelled = append(c.cancelled, msg.JobID)
	return nil
}

func newAPI(t *testing.T) (*api.API, *store.MemoryStore, runner.Repo, *canceller) {
	t.Helper()
	s := store.NewMemoryStore()
	repo := runner.NewRepo()
	cnc := &canceller{}
	a := api.NewAPI(api.Config{
		Server:    config.Server{Addr: "127.0.0.1:0"},
		Store:     s,
		Repo:      repo,
		Canceller: cnc,
	})
	return a, s, repo, cnc
}

func request(t *testing.T, a *api.API, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	a, _, _, _ := newAPI(t)
	rec := request(t, a, http.MethodGet, "/api/v1/ping")
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("response = (%d, %q), expected (200, pong)", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	a, _, repo, _ := newAPI(t)
	repo.Add(runner.Active{
		JobID:      "j1",
		Instrument: "WISH",
		RunNumber:  62892,
		StartedAt:  time.Now().Add(-time.Minute),
	})

	rec := request(t, a, http.MethodGet, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, expected 200", rec.Code)
	}
	var running []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &running); err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0]["jobId"] != "j1" {
		t.Errorf("status = %v, expected one entry for j1", running)
	}
	if running[0]["runtimeSec"].(float64) <= 0 {
		t.Error("runtime not reported")
	}
}

func TestGetRun(t *testing.T) {
	a, s, _, _ := newAPI(t)
	inst, _ := s.GetOrCreateInstrument("WISH")
	exp, _ := s.GetOrCreateExperiment(1820484)
	r := store.ReductionRun{
		ExperimentID: exp.ID,
		InstrumentID: inst.ID,
		RunNumber:    62892,
		JobID:        "j1",
		Status:       proto.STATUS_QUEUED,
		Script:       "pass",
	}
	if err := s.CreateRun(&r, "/isis/data.nxs"); err != nil {
		t.Fatal(err)
	}

	rec := request(t, a, http.MethodGet, "/api/v1/runs/j1")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, expected 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "62892") {
		t.Errorf("body = %s, expected the run", rec.Body.String())
	}
}

func TestGetRunNotFound(t *testing.T) {
	a, _, _, _ := newAPI(t)
	rec := request(t, a, http.MethodGet, "/api/v1/runs/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, expected 404", rec.Code)
	}
}

func TestCancelRun(t *testing.T) {
	a, _, _, cnc := newAPI(t)
	rec := request(t, a, http.MethodPut, "/api/v1/runs/j1/cancel")
	if rec.Code != http.StatusNoContent {
		t.Errorf("code = %d, expected 204", rec.Code)
	}
	if len(cnc.cancelled) != 1 || cnc.cancelled[0] != "j1" {
		t.Errorf("cancelled = %v, expected [j1]", cnc.cancelled)
	}
}
