// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/autoreduction/queue-processor/retry"
)

func TestDoEventualSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(3, time.Millisecond,
		func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		},
		nil,
	)
	if err != nil {
		t.Errorf("err = %s, expected nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, expected 3", calls)
	}
}

func TestDoExhausted(t *testing.T) {
	forced := errors.New("forced")
	logged := 0
	err := retry.Do(3, time.Millisecond,
		func() error { return forced },
		func(error) { logged++ },
	)
	if err != forced {
		t.Errorf("err = %v, expected the forced error", err)
	}
	// The final failure is returned, not logged.
	if logged != 2 {
		t.Errorf("logged = %d, expected 2", logged)
	}
}
