package util

import "time"

// TimeOperation runs op and reports how long it took alongside its error.
func TimeOperation(op func() error) (int64, error) {
	start := time.Now()
	err := op()
	return time.Since(start).Microseconds(), err
}
