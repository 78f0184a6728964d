package instrument

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned for a setting the instrument does not accept.
var ErrUnsupported = errors.New("unsupported by instrument")

// DeviceError is a failed exchange with an instrument. It aborts the operation
// that issued it but leaves the session usable.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Wrap returns err as a *DeviceError for op, or nil when err is nil. An error
// that already is a DeviceError is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceError{Op: op, Err: err}
}

// IsDeviceError reports whether err came from talking to an instrument.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
