// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package config_test

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/go-test/deep"

	"github.com/autoreduction/queue-processor/config"
)

func createTempFile(t *testing.T, content []byte) string {
	tmpfile, err := ioutil.TempFile("", "for_test")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tmpfile.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	return tmpfile.Name()
}

func TestLoadConfigFileNotExist(t *testing.T) {
	// Config file doesn't exist.
	err := config.Load("nonexistant_file.txt", nil)
	if !os.IsNotExist(err) {
		t.Errorf("expected a 'file does not exist' error, did not get one")
	}
}

func TestLoadConfigBadContent(t *testing.T) {
	// Config file exists, but contains bad content.
	content := []byte("%%---invalid_yaml")
	fileName := createTempFile(t, content)
	defer os.Remove(fileName)

	var actualConfig config.QueueProcessor
	err := config.Load(fileName, &actualConfig)
	if err == nil {
		t.Error("expected an error, did not get one")
	}
}

func TestLoadConfigQueueProcessor(t *testing.T) {
	content := []byte(`
---
server:
  addr: ":8687"
mysql:
  dsn: autoreduce:@tcp(localhost:3306)/autoreduction
stomp:
  addr: "activemq:61613"
  username: autoreduce
reduction:
  script_dir: /isis/autoreduce/scripts
  output_dir: /instrument
  script_timeout_sec: 1800
  retry_limit: 3
`)
	fileName := createTempFile(t, content)
	defer os.Remove(fileName)

	actualConfig := config.Defaults()
	err := config.Load(fileName, &actualConfig)
	if err != nil {
		t.Errorf("err = %s, expected nil", err)
	}

	expectedConfig := config.Defaults()
	expectedConfig.Server.Addr = ":8687"
	expectedConfig.MySQL.DSN = "autoreduce:@tcp(localhost:3306)/autoreduction"
	expectedConfig.STOMP.Addr = "activemq:61613"
	expectedConfig.STOMP.Username = "autoreduce"
	expectedConfig.Reduction.ScriptDir = "/isis/autoreduce/scripts"
	expectedConfig.Reduction.OutputDir = "/instrument"
	expectedConfig.Reduction.ScriptTimeoutSec = 1800
	expectedConfig.Reduction.RetryLimit = 3

	if diff := deep.Equal(actualConfig, expectedConfig); diff != nil {
		t.Error(diff)
	}
}

func TestLoadConfigUnknownKey(t *testing.T) {
	content := []byte(`
---
reduction:
  no_such_key: true
`)
	fileName := createTempFile(t, content)
	defer os.Remove(fileName)

	var actualConfig config.QueueProcessor
	err := config.Load(fileName, &actualConfig)
	if err == nil {
		t.Error("expected an error for an unknown key, did not get one")
	}
}
