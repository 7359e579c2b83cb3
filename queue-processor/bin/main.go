// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package main

import (
	"log"

	arg "github.com/alexflint/go-arg"

	"github.com/autoreduction/queue-processor/queue-processor/app"
	"github.com/autoreduction/queue-processor/queue-processor/server"
	v "github.com/autoreduction/queue-processor/version"
)

type arguments struct {
	Config string `arg:"positional" default:"config/queue-processor.yaml" help:"path to the config file"`
}

func (arguments) Version() string {
	return "queue-processor " + v.Version()
}

func main() {
	var args arguments
	arg.MustParse(&args)

	s := server.NewServer(app.Defaults())
	if err := s.Boot(args.Config); err != nil {
		log.Fatalf("Error starting the queue processor: %s", err)
	}
	err := s.Run(true)
	log.Fatalf("Queue processor stopped: %s", err)
}
