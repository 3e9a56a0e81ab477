package k3ng

import "errors"

var (
	// ErrLinkUnavailable means the serial port is missing or unusable.
	ErrLinkUnavailable = errors.New("link unavailable")
	// ErrNoResponse means the device sent no lines where at least one was expected.
	ErrNoResponse = errors.New("no response from rotator")
	// ErrMalformedResponse means a response did not have the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrDeviceRejected means a well-formed response signalled failure.
	ErrDeviceRejected = errors.New("rejected by rotator")
	// ErrValidation means caller input was out of contract. No I/O was performed.
	ErrValidation = errors.New("invalid argument")
	// ErrTimeDrift means the clock read back after a set was too far off.
	ErrTimeDrift = errors.New("time did not save")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrLinkUnavailable, "link_unavailable"},
	{ErrNoResponse, "no_response"},
	{ErrMalformedResponse, "malformed_response"},
	{ErrDeviceRejected, "device_rejected"},
	{ErrValidation, "validation"},
	{ErrTimeDrift, "time_drift"},
}

// Kind returns a stable name for the failure class of err, or "" if err
// does not wrap one of the package errors.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// KindError returns the sentinel error named by kind, or nil.
func KindError(kind string) error {
	for _, k := range kinds {
		if k.name == kind {
			return k.err
		}
	}
	return nil
}
