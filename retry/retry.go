// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package retry

import (
	"time"
)

type TryFunc func() error
type LogFunc func(error)

// Do calls tryFunc up to tries times, sleeping between attempts. It is used
// for transient failures talking to external services (broker connects,
// delayed sends), not for reduction retries, which have their own bounded
// controller. Intermediate errors go to logFunc; the last one is returned.
func Do(tries int, sleep time.Duration, tryFunc TryFunc, logFunc LogFunc) error {
	var err error
	for i := 0; i < tries; i++ {
		if err = tryFunc(); err == nil {
			return nil
		}
		if i == tries-1 {
			break
		}
		if logFunc != nil {
			logFunc(err)
		}
		time.Sleep(sleep)
	}
	return err
}
