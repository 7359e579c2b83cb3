// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package proto

const (
	STATUS_UNKNOWN byte = iota

	STATUS_QUEUED     // admitted, waiting for dispatch
	STATUS_PROCESSING // reduction script running

	// Terminal states for a run version. A later version may still be
	// created by the retry controller.
	STATUS_COMPLETED
	STATUS_ERROR
	STATUS_SKIPPED
)

var StatusName = map[byte]string{
	STATUS_UNKNOWN:    "UNKNOWN",
	STATUS_QUEUED:     "QUEUED",
	STATUS_PROCESSING: "PROCESSING",
	STATUS_COMPLETED:  "COMPLETED",
	STATUS_ERROR:      "ERROR",
	STATUS_SKIPPED:    "SKIPPED",
}

var StatusValue = map[string]byte{
	"UNKNOWN":    STATUS_UNKNOWN,
	"QUEUED":     STATUS_QUEUED,
	"PROCESSING": STATUS_PROCESSING,
	"COMPLETED":  STATUS_COMPLETED,
	"ERROR":      STATUS_ERROR,
	"SKIPPED":    STATUS_SKIPPED,
}

// Queue destinations.
const (
	QUEUE_DATA_READY         = "/queue/DataReady"
	QUEUE_REDUCTION_PENDING  = "/queue/ReductionPending"
	QUEUE_REDUCTION_STARTED  = "/queue/ReductionStarted"
	QUEUE_REDUCTION_COMPLETE = "/queue/ReductionComplete"
	QUEUE_REDUCTION_ERROR    = "/queue/ReductionError"
	QUEUE_REDUCTION_SKIPPED  = "/queue/ReductionSkipped"
)

// Sentinel values for Message.StartedBy. Positive values are web app user ids.
const (
	STARTED_BY_OPERATOR  = -1
	STARTED_BY_AUTOMATIC = 0
)

// RB numbers (experiment references) are 7-digit positive integers.
const (
	RB_NUMBER_MIN = 1000000
	RB_NUMBER_MAX = 9999999
)
