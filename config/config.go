// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package config

import (
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"
)

///////////////////////////////////////////////////////////////////////////////
// High-Level Config Structs
///////////////////////////////////////////////////////////////////////////////

// QueueProcessor is the config used by the queue processor. This is read
// from in queue-processor/bin/main.go.
type QueueProcessor struct {
	// The config that the status API web server will run with.
	Server Server `yaml:"server"`

	// The config used to connect to the reduction database.
	MySQL MySQL `yaml:"mysql"`

	// The config used to connect to the message broker.
	STOMP STOMP `yaml:"stomp"`

	// Reduction pipeline tunables.
	Reduction Reduction `yaml:"reduction"`
}

///////////////////////////////////////////////////////////////////////////////
// Config Components
///////////////////////////////////////////////////////////////////////////////

// Server is the configuration for a web server.
type Server struct {
	// The address the server will listen on (ex: "127.0.0.1:8687").
	Addr string `yaml:"addr"`

	// The TLS config used by the server.
	TLS TLS `yaml:"tls"`
}

// MySQL is the configuration for connecting to a MySQL database.
type MySQL struct {
	// The full Data Source Name (DSN) of the database (see
	// https://github.com/go-sql-driver/mysql#dsn-data-source-name).
	// "parseTime=true" is always appended, and if a TLS config is given
	// it is registered and appended too, so include neither in the string.
	DSN string `yaml:"dsn"`

	// The TLS config used to connect to the database.
	TLS TLS `yaml:"tls"`

	// Connection pool limits.
	MaxOpen int `yaml:"max_open"`
	MaxIdle int `yaml:"max_idle"`
}

// STOMP is the configuration for connecting to the ActiveMQ broker.
type STOMP struct {
	// The broker address (ex: "activemq:61613").
	Addr string `yaml:"addr"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Heartbeat interval, in seconds, sent to and requested from the
	// broker.
	HeartbeatSec int `yaml:"heartbeat_sec"`
}

// Reduction is the configuration for the reduction pipeline itself.
type Reduction struct {
	// The directory holding per-instrument reduction scripts:
	// <ScriptDir>/<INSTRUMENT>/reduce.py and reduce_vars.json.
	ScriptDir string `yaml:"script_dir"`

	// The root directory reduced output is written under.
	OutputDir string `yaml:"output_dir"`

	// The facility this processor serves. Messages for other facilities
	// are skipped.
	Facility string `yaml:"facility"`

	// The interpreter and runner script used to execute reduction scripts
	// in a subprocess (ex: "python3", "runner.py").
	Interpreter  string `yaml:"interpreter"`
	RunnerScript string `yaml:"runner_script"`

	// Wall-clock timeout, in seconds, for one script execution.
	ScriptTimeoutSec int `yaml:"script_timeout_sec"`

	// RetryLimit bounds the length of a retry chain: once a run family
	// has this many failed versions no further retry is scheduled.
	RetryLimit int `yaml:"retry_limit"`

	// RetryDelaySec is how long, in seconds, the broker holds a retry
	// message before redelivering it.
	RetryDelaySec int `yaml:"retry_delay_sec"`
}

// TLS configuration.
type TLS struct {
	// The certificate file to use.
	CertFile string `yaml:"cert_file"`

	// The key file to use.
	KeyFile string `yaml:"key_file"`

	// The CA file to use.
	CAFile string `yaml:"ca_file"`
}

///////////////////////////////////////////////////////////////////////////////
// Defaults
///////////////////////////////////////////////////////////////////////////////

const (
	DEFAULT_ADDR               = "127.0.0.1:8687"
	DEFAULT_FACILITY           = "ISIS"
	DEFAULT_INTERPRETER        = "python3"
	DEFAULT_SCRIPT_TIMEOUT_SEC = 3600
	DEFAULT_RETRY_LIMIT        = 5
	DEFAULT_RETRY_DELAY_SEC    = 600
	DEFAULT_MAX_OPEN           = 10
	DEFAULT_MAX_IDLE           = 10
)

// Defaults returns a QueueProcessor with every tunable set to its default.
// Load overwrites fields present in the config file.
func Defaults() QueueProcessor {
	return QueueProcessor{
		Server: Server{
			Addr: DEFAULT_ADDR,
		},
		MySQL: MySQL{
			MaxOpen: DEFAULT_MAX_OPEN,
			MaxIdle: DEFAULT_MAX_IDLE,
		},
		Reduction: Reduction{
			Facility:         DEFAULT_FACILITY,
			Interpreter:      DEFAULT_INTERPRETER,
			ScriptTimeoutSec: DEFAULT_SCRIPT_TIMEOUT_SEC,
			RetryLimit:       DEFAULT_RETRY_LIMIT,
			RetryDelaySec:    DEFAULT_RETRY_DELAY_SEC,
		},
	}
}

///////////////////////////////////////////////////////////////////////////////
// Loading Config
///////////////////////////////////////////////////////////////////////////////

// Load loads a configuration file into the struct pointed to by the
// configStruct argument.
func Load(configFile string, configStruct interface{}) error {
	// Make sure the file exists.
	_, err := os.Stat(configFile)
	if err != nil {
		return err
	}

	// Read the file.
	data, err := ioutil.ReadFile(configFile)
	if err != nil {
		return err
	}

	// Unmarshal the contents of the file into the provided struct.
	err = yaml.UnmarshalStrict(data, configStruct)
	if err != nil {
		return err
	}

	return nil
}
