// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package server bootstraps and runs the queue processor.
package server

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/autoreduction/queue-processor/queue-processor/admission"
	"github.com/autoreduction/queue-processor/queue-processor/api"
	"github.com/autoreduction/queue-processor/queue-processor/app"
	"github.com/autoreduction/queue-processor/queue-processor/consumer"
	"github.com/autoreduction/queue-processor/queue-processor/handler"
	"github.com/autoreduction/queue-processor/queue-processor/run"
	"github.com/autoreduction/queue-processor/queue-processor/runner"
	"github.com/autoreduction/queue-processor/queue-processor/variable"
)

const consumerStopTimeout = 30 * time.Second

type Server struct {
	appCtx app.Context
	api    *api.API
	broker *consumer.Client
	cons   *consumer.Consumer
	repo   runner.Repo

	apiStopped chan struct{}
	stopMux    sync.Mutex
	stopped    bool
}

func NewServer(appCtx app.Context) *Server {
	return &Server{
		appCtx:     appCtx,
		stopMux:    sync.Mutex{},
		apiStopped: make(chan struct{}),
	}
}

// Boot sets up the server. It must be called before calling Run.
func (s *Server) Boot(configFile string) error {
	// Only run Boot once.
	if s.api != nil {
		return nil
	}

	// Either both or neither RunAPI and StopAPI hooks must be provided -
	// can't have just one.
	if (s.appCtx.Hooks.RunAPI == nil) != (s.appCtx.Hooks.StopAPI == nil) {
		return fmt.Errorf("only one of RunAPI and StopAPI hooks provided - either both or neither must be provided")
	}

	cfg, err := s.appCtx.Hooks.LoadConfig(configFile, s.appCtx)
	if err != nil {
		return fmt.Errorf("error loading config: %s", err)
	}
	s.appCtx.Config = cfg
	cfgstr, _ := json.MarshalIndent(cfg, "", "  ")
	log.Printf("Config: %s", cfgstr)

	return s.makeComponents()
}

// Run runs the queue processor in the foreground: the broker consumer in a
// goroutine and the status API blocking. It returns when the API stops,
// either from an error or after a call to Stop.
//
// If stopOnSignal = true, the server will listen for TERM and INT signals
// from the OS and call Stop to shut itself down when those signals are
// received. Else, the caller must call Stop to shut down the server.
func (s *Server) Run(stopOnSignal bool) error {
	if s.api == nil {
		panic("Server.Run called before Server.Boot")
	}
	if s.stopped {
		return fmt.Errorf("server stopped")
	}

	if err := s.broker.Connect(); err != nil {
		return fmt.Errorf("error connecting to the broker: %s", err)
	}

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- s.cons.Run()
	}()

	if stopOnSignal {
		go s.waitForShutdown()
	}

	var err error
	if s.appCtx.Hooks.RunAPI != nil {
		err = s.appCtx.Hooks.RunAPI()
	} else {
		err = s.api.Run()
	}

	// If the server was stopped (as opposed to some error within the API),
	// wait to make sure it's done shutting down the API before returning.
	if s.stopped {
		<-s.apiStopped
	}

	select {
	case cerr := <-consumerErr:
		if cerr != nil {
			return fmt.Errorf("error from consumer: %s", cerr)
		}
	default:
	}

	if err != nil {
		return fmt.Errorf("error from API: %s", err)
	}
	return nil
}

// Stop stops the server: the consumer finishes its in-flight reduction, the
// broker connection closes, and then the API shuts down. Once Stop has been
// called, the server cannot be reused - future calls to Run return an error.
func (s *Server) Stop() error {
	s.stopMux.Lock()
	defer s.stopMux.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	log.Info("stopping the queue processor")

	s.cons.Stop(consumerStopTimeout)
	s.broker.Disconnect()

	var err error
	if s.appCtx.Hooks.StopAPI != nil {
		err = s.appCtx.Hooks.StopAPI()
	} else {
		err = s.api.Stop()
	}
	close(s.apiStopped) // indicate to Run that the API is done shutting down

	if err != nil {
		return fmt.Errorf("error stopping API: %s", err)
	}
	return nil
}

// API returns the status API created in Boot.
func (s *Server) API() *api.API {
	return s.api
}

// --------------------------------------------------------------------------

// Catch TERM and INT signals to gracefully shut down the queue processor.
func (s *Server) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	if err := s.Stop(); err != nil {
		log.Errorf("error shutting down server: %s", err)
	}
}

func (s *Server) makeComponents() error {
	cfg := s.appCtx.Config

	st, err := s.appCtx.Factories.MakeStore(s.appCtx)
	if err != nil {
		return fmt.Errorf("error connecting to the reduction database: %s", err)
	}

	s.broker, err = s.appCtx.Factories.MakeBrokerClient(s.appCtx)
	if err != nil {
		return fmt.Errorf("error making the broker client: %s", err)
	}

	scripts, err := s.appCtx.Factories.MakeScriptLoader(s.appCtx)
	if err != nil {
		return fmt.Errorf("error making the script loader: %s", err)
	}

	rnr, err := s.appCtx.Factories.MakeRunner(s.appCtx)
	if err != nil {
		return fmt.Errorf("error making the runner: %s", err)
	}

	// Repo holds the reductions in flight. The handler adds and removes
	// entries around script execution; the status API reads it.
	s.repo = runner.NewRepo()

	retryDelay := time.Duration(cfg.Reduction.RetryDelaySec) * time.Second
	retry := run.NewRetryController(st, s.broker, cfg.Reduction.RetryLimit, retryDelay)

	h := handler.NewHandler(handler.Config{
		Store:     st,
		Scripts:   scripts,
		Resolver:  variable.NewResolver(st),
		Policy:    admission.NewPolicy(cfg.Reduction.Facility),
		Retry:     retry,
		Runner:    rnr,
		Repo:      s.repo,
		Producer:  s.broker,
		OutputDir: cfg.Reduction.OutputDir,
	})

	s.cons = consumer.NewConsumer(s.broker, h)

	s.api = api.NewAPI(api.Config{
		Server:    cfg.Server,
		Store:     st,
		Repo:      s.repo,
		Canceller: h,
	})
	return nil
}
