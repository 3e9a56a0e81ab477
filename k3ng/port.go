package k3ng

import (
	"fmt"
	"os"

	"github.com/tarm/serial"
)

// serialPort adapts a tarm serial port to Port.
type serialPort struct {
	*serial.Port
}

// OpenPort opens a serial device with the baud rate and poll timeout from opts.
func OpenPort(name string, opts *Options) (Port, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if _, err := os.Stat(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
	}
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: unable to acquire read/write permissions on %s; change permissions or run as superuser", ErrLinkUnavailable, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
	}
	f.Close()

	baud := opts.Baud
	if baud == 0 {
		baud = 9600
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		// A zero timeout makes tarm block forever.
		timeout = DefaultOptions().PollTimeout
	}
	p, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %q: %v", ErrLinkUnavailable, name, err)
	}
	return serialPort{p}, nil
}
