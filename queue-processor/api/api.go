// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package api provides controllers for each api endpoint. Controllers are
// "dumb wiring"; there is no application logic here. The API is read-mostly:
// runs are driven by queue messages, the only mutation it exposes is cancel.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/autoreduction/queue-processor/config"
	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/runner"
	"github.com/autoreduction/queue-processor/queue-processor/store"
	v "github.com/autoreduction/queue-processor/version"
)

const (
	API_ROOT = "/api/v1/"
)

// A Canceller cancels the run named by a message's job id.
type Canceller interface {
	HandleCancel(msg proto.Message) error
}

// Config collects the API's collaborators.
type Config struct {
	Server    config.Server
	Store     store.Store
	Repo      runner.Repo
	Canceller Canceller
}

// API provides controllers for endpoints it registers with a router.
type API struct {
	cfg Config
	// --
	echo *echo.Echo
}

// NewAPI creates a new API struct. It initializes an echo web server within
// the struct, and registers all of the API's routes with it.
func NewAPI(cfg Config) *API {
	api := &API{
		cfg: cfg,
		// --
		echo: echo.New(),
	}
	api.echo.HideBanner = true

	api.echo.GET(API_ROOT+"ping", api.pingHandler)                     // liveness
	api.echo.GET(API_ROOT+"status", api.statusHandler)                 // reductions in flight
	api.echo.GET(API_ROOT+"runs/:jobId", api.getRunHandler)            // one run -> store.ReductionRun
	api.echo.PUT(API_ROOT+"runs/:jobId/cancel", api.cancelRunHandler)  // cancel a run
	api.echo.GET(API_ROOT+"runs/:jobId/variables", api.runVarsHandler) // the run's variable snapshots
	api.echo.GET("/version", api.versionHandler)                       // return version.Version()

	api.echo.Use(middleware.Recover())
	api.echo.Use(middleware.Logger())

	return api
}

func (api *API) Router() *echo.Echo {
	return api.echo
}

// Run makes the API listen on the configured address.
func (api *API) Run() error {
	if api.cfg.Server.TLS.CertFile != "" && api.cfg.Server.TLS.KeyFile != "" {
		return api.echo.StartTLS(api.cfg.Server.Addr, api.cfg.Server.TLS.CertFile, api.cfg.Server.TLS.KeyFile)
	}
	return api.echo.Start(api.cfg.Server.Addr)
}

// Stop stops the API when it's running. When Stop is called, Run returns
// immediately. Make sure to wait for Stop to return.
func (api *API) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return api.echo.Shutdown(ctx)
}

// ServeHTTP makes the API implement the http.Handler interface.
func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.echo.ServeHTTP(w, r)
}

// GET <API_ROOT>/ping
func (api *API) pingHandler(c echo.Context) error {
	return c.String(http.StatusOK, "pong")
}

// GET /version
func (api *API) versionHandler(c echo.Context) error {
	return c.String(http.StatusOK, v.Version())
}

// runningStatus is one in-flight reduction as reported by the status
// endpoint.
type runningStatus struct {
	JobID      string    `json:"jobId"`
	Instrument string    `json:"instrument"`
	RunNumber  int       `json:"runNumber"`
	RunVersion int       `json:"runVersion"`
	StartedAt  time.Time `json:"startedAt"`
	RuntimeSec float64   `json:"runtimeSec"`
}

// GET <API_ROOT>/status
// List the reductions currently executing on this instance.
func (api *API) statusHandler(c echo.Context) error {
	now := time.Now()
	running := []runningStatus{}
	for _, a := range api.cfg.Repo.Items() {
		running = append(running, runningStatus{
			JobID:      a.JobID,
			Instrument: a.Instrument,
			RunNumber:  a.RunNumber,
			RunVersion: a.RunVersion,
			StartedAt:  a.StartedAt,
			RuntimeSec: now.Sub(a.StartedAt).Seconds(),
		})
	}
	return c.JSON(http.StatusOK, running)
}

// GET <API_ROOT>/runs/{jobId}
func (api *API) getRunHandler(c echo.Context) error {
	r, err := api.cfg.Store.GetRun(c.Param("jobId"))
	if err != nil {
		return handleError(err, c)
	}
	return c.JSON(http.StatusOK, r)
}

// GET <API_ROOT>/runs/{jobId}/variables
func (api *API) runVarsHandler(c echo.Context) error {
	r, err := api.cfg.Store.GetRun(c.Param("jobId"))
	if err != nil {
		return handleError(err, c)
	}
	vars, err := api.cfg.Store.RunVariables(r.ID)
	if err != nil {
		return handleError(err, c)
	}
	return c.JSON(http.StatusOK, vars)
}

// PUT <API_ROOT>/runs/{jobId}/cancel
func (api *API) cancelRunHandler(c echo.Context) error {
	jobID := c.Param("jobId")
	if err := api.cfg.Canceller.HandleCancel(proto.Message{JobID: jobID}); err != nil {
		return handleError(err, c)
	}
	return c.NoContent(http.StatusNoContent)
}

func handleError(err error, c echo.Context) error {
	ret := proto.Error{
		Message:    err.Error(),
		HTTPStatus: http.StatusInternalServerError,
	}

	switch err.(type) {
	case store.ErrNotFound:
		ret.HTTPStatus = http.StatusNotFound
	}

	return c.JSON(ret.HTTPStatus, ret)
}
