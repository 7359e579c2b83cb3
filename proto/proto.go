// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package proto provides queue message structures and constants.
package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ReductionArguments are the merged variable maps handed to the reduction
// script. Standard variables are the ones instrument scientists normally
// touch; advanced variables are hidden behind a toggle in the web app.
type ReductionArguments struct {
	StandardVars map[string]interface{} `json:"standard_vars"`
	AdvancedVars map[string]interface{} `json:"advanced_vars"`
}

// RBNumber is an experiment reference number. The facility software is
// inconsistent about its type on the wire: it may arrive as a number, a
// numeric string, or junk like "N/A". Junk normalises to 0, which fails the
// range validation downstream with a recorded reason instead of making the
// whole message unparseable.
type RBNumber int

func (rb *RBNumber) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*rb = RBNumber(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		n = 0
	}
	*rb = RBNumber(n)
	return nil
}

// Message represents one message on an autoreduction queue. The same
// structure is used on every queue: inbound DataReady messages only populate
// the run identity fields, outbound Reduction* messages additionally carry
// the resolved script and arguments so downstream consumers never need
// database access.
type Message struct {
	Description string   `json:"description,omitempty"`
	Facility    string   `json:"facility"`
	RunNumber   int      `json:"run_number"`
	Instrument  string   `json:"instrument"`
	RBNumber    RBNumber `json:"rb_number"`
	StartedBy   int      `json:"started_by"`
	Data        string   `json:"data"` // path to the raw data file

	// Set once the run record exists.
	RunVersion int    `json:"run_version"`
	JobID      string `json:"job_id,omitempty"`

	// Set by the orchestrator when the run is admitted.
	ReductionScript    string              `json:"reduction_script,omitempty"`
	ReductionArguments *ReductionArguments `json:"reduction_arguments,omitempty"`

	// Outcome fields. ReductionLog and AdminLog cannot be null in the
	// database, so they default to "".
	ReductionLog  string `json:"reduction_log"`
	AdminLog      string `json:"admin_log"`
	Message       string `json:"message,omitempty"`
	RetryIn       int    `json:"retry_in,omitempty"` // seconds
	ReductionData string `json:"reduction_data,omitempty"`

	// Cancel tells the consumer to ignore this run if it arrives, most
	// likely as a delayed retry through the broker scheduler.
	Cancel bool `json:"cancel,omitempty"`
}

// Serialize returns the JSON encoding of the message.
func (m Message) Serialize() ([]byte, error) {
	return json.Marshal(m)
}

// Populate fills the message from a serialized message body. Unknown keys
// are an error so that producer/consumer schema drift is caught immediately
// rather than silently dropped.
func (m *Message) Populate(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("unable to recognise serialized message: %s", err)
	}
	return nil
}

// Error is the standard response for all handled API errors.
type Error struct {
	Message    string `json:"message"`    // human-readable and loggable error message
	JobID      string `json:"jobId"`      // entity ID that caused error, if any
	HTTPStatus int    `json:"httpStatus"` // HTTP status code
}

func NewError(msgFmt string, msgArgs ...interface{}) Error {
	e := Error{}
	if msgFmt != "" {
		e.Message = fmt.Sprintf(msgFmt, msgArgs...)
	}
	return e
}

func (e Error) String() string {
	return e.Message
}

func (e Error) Error() string {
	return e.Message
}
