// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package app provides the application context: config plus the factories
// and hooks that the server uses to build its components. Tests and custom
// builds override factories to swap in fakes or different backends.
package app

import (
	"crypto/tls"
	"time"

	"github.com/autoreduction/queue-processor/config"
	"github.com/autoreduction/queue-processor/queue-processor/consumer"
	"github.com/autoreduction/queue-processor/queue-processor/db"
	"github.com/autoreduction/queue-processor/queue-processor/runner"
	"github.com/autoreduction/queue-processor/queue-processor/script"
	"github.com/autoreduction/queue-processor/queue-processor/store"
	"github.com/autoreduction/queue-processor/util"
)

type Context struct {
	Hooks     Hooks
	Factories Factories

	Config config.QueueProcessor
}

type Factories struct {
	MakeStore        func(Context) (store.Store, error)
	MakeBrokerClient func(Context) (*consumer.Client, error)
	MakeScriptLoader func(Context) (script.Loader, error)
	MakeRunner       func(Context) (runner.Runner, error)
}

type Hooks struct {
	// LoadConfig loads the config file named on the command line. Override
	// to load config from somewhere else entirely.
	LoadConfig func(string, Context) (config.QueueProcessor, error)

	// RunAPI runs the status API. It should block until the API is stopped
	// via a call to StopAPI. If this hook is provided, it is called instead
	// of api.Run, and StopAPI must be provided as well.
	RunAPI func() error

	// StopAPI stops running the status API. It's called when the server is
	// stopped, and it should cause RunAPI to return. If this hook is
	// provided, it is called instead of api.Stop, and RunAPI must be
	// provided as well.
	StopAPI func() error
}

func Defaults() Context {
	return Context{
		Factories: Factories{
			MakeStore:        MakeStore,
			MakeBrokerClient: MakeBrokerClient,
			MakeScriptLoader: MakeScriptLoader,
			MakeRunner:       MakeRunner,
		},
		Hooks: Hooks{
			LoadConfig: LoadConfig,
		},
	}
}

// LoadConfig is the default LoadConfig hook: defaults overlaid with the
// config file.
func LoadConfig(configFile string, appCtx Context) (config.QueueProcessor, error) {
	cfg := config.Defaults()
	if err := config.Load(configFile, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// MakeStore is the default MakeStore factory: the MySQL reduction database.
func MakeStore(appCtx Context) (store.Store, error) {
	cfg := appCtx.Config.MySQL
	var tlsConfig *tls.Config
	if cfg.TLS.CAFile != "" && cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		var err error
		tlsConfig, err = util.NewTLSConfig(cfg.TLS.CAFile, cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
	}
	conn := db.NewConnectionPool(cfg.MaxOpen, cfg.MaxIdle, cfg.DSN, tlsConfig)
	sqlDB, err := conn.Connect()
	if err != nil {
		return nil, err
	}
	return store.NewMySQLStore(sqlDB), nil
}

// MakeBrokerClient is the default MakeBrokerClient factory. The returned
// client is not yet connected; the server connects it during boot.
func MakeBrokerClient(appCtx Context) (*consumer.Client, error) {
	return consumer.NewClient(appCtx.Config.STOMP), nil
}

// MakeScriptLoader is the default MakeScriptLoader factory: per-instrument
// scripts on the shared filesystem.
func MakeScriptLoader(appCtx Context) (script.Loader, error) {
	return script.NewLoader(appCtx.Config.Reduction.ScriptDir), nil
}

// MakeRunner is the default MakeRunner factory: reduction scripts in a
// subprocess under the configured interpreter.
func MakeRunner(appCtx Context) (runner.Runner, error) {
	cfg := appCtx.Config.Reduction
	timeout := time.Duration(cfg.ScriptTimeoutSec) * time.Second
	return runner.NewSubprocessRunner(cfg.Interpreter, cfg.RunnerScript, timeout), nil
}
