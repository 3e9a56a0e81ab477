package k3ng

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Port is the byte-level serial link. Read returns zero bytes (with a nil
// error or io.EOF) when nothing arrived within the port's read timeout.
type Port interface {
	io.ReadWriteCloser
	// Flush discards any received bytes that have not been read.
	Flush() error
}

const (
	terminator = "\r"
	// extendedPrefix precedes every extended command code.
	extendedPrefix = `\?`
	// primeCommand is a no-op that must be sent before extended commands work.
	primeCommand = `\-`

	statusOK    = "OK"
	statusError = `\!??`
	// Extended responses are `\!OK` + two command characters + payload.
	envelopeLen   = 5
	payloadOffset = 6
)

// Options controls link timing. A zero Options performs no pacing, which is
// what the simulator wants.
type Options struct {
	Baud int
	// ReadTimeout bounds the wait for the echoed command line.
	ReadTimeout time.Duration
	// PollTimeout is the driver's per-read timeout. A read that times out
	// ends a drain of the receive queue.
	PollTimeout time.Duration
	// SendDelay is slept before the command and before its terminator.
	SendDelay time.Duration
	// CharDelay, if set, paces the command one byte at a time.
	CharDelay time.Duration
	// EchoDelay is slept after the terminator, before discarding the echo.
	EchoDelay time.Duration
	// SettleDelay is slept before collecting a response.
	SettleDelay time.Duration
	// UploadDelay is slept around a TLE upload.
	UploadDelay time.Duration
	// RebootDelay is slept after a command that restarts the controller.
	RebootDelay time.Duration
	// Now is the host time that controller clocks are set from and checked
	// against. Defaults to time.Now. Link timeouts always use wall time.
	Now func() time.Time
}

// DefaultOptions returns the timing the controller firmware expects.
func DefaultOptions() *Options {
	return &Options{
		Baud:        9600,
		ReadTimeout: 1 * time.Second,
		PollTimeout: 100 * time.Millisecond,
		SendDelay:   30 * time.Millisecond,
		EchoDelay:   200 * time.Millisecond,
		SettleDelay: 200 * time.Millisecond,
		UploadDelay: 500 * time.Millisecond,
		RebootDelay: 1 * time.Second,
	}
}

func (o *Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// link frames commands and reads responses. It is not safe for concurrent
// use; Rotator serializes access.
type link struct {
	port Port
	opts *Options
	// partial holds an unterminated line between reads.
	partial strings.Builder
}

func newLink(port Port, opts *Options) *link {
	return &link{port: port, opts: opts}
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// readAvailable drains every byte currently queued by the port and returns
// the complete, non-empty lines.
func (l *link) readAvailable() ([]string, error) {
	var lines []string
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		for _, b := range buf[:n] {
			if b == '\r' || b == '\n' {
				if l.partial.Len() > 0 {
					lines = append(lines, l.partial.String())
					l.partial.Reset()
				}
				continue
			}
			l.partial.WriteByte(b)
		}
		if err != nil && err != io.EOF {
			return lines, fmt.Errorf("reading port: %w", err)
		}
		if n == 0 {
			break
		}
	}
	log.Debug().Strs("rx", lines).Msg("read")
	return lines, nil
}

// discardLine consumes bytes through the next line feed, giving up after
// ReadTimeout of wall time.
func (l *link) discardLine() error {
	deadline := time.Now().Add(l.opts.ReadTimeout)
	var b [1]byte
	for {
		n, err := l.port.Read(b[:])
		if n == 1 {
			if b[0] == '\n' {
				return nil
			}
			continue
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading port: %w", err)
		}
		if !time.Now().Before(deadline) {
			return nil
		}
	}
}

func (l *link) writeRaw(p []byte) error {
	if _, err := l.port.Write(p); err != nil {
		return fmt.Errorf("writing port: %w", err)
	}
	return nil
}

// write sends cmd and its terminator, then drops the echoed line.
func (l *link) write(cmd string) error {
	log.Debug().Str("tx", cmd).Msg("write")
	sleep(l.opts.SendDelay)
	if l.opts.CharDelay > 0 {
		for i := 0; i < len(cmd); i++ {
			if i > 0 {
				sleep(l.opts.CharDelay)
			}
			if err := l.writeRaw([]byte{cmd[i]}); err != nil {
				return err
			}
		}
	} else if err := l.writeRaw([]byte(cmd)); err != nil {
		return err
	}
	sleep(l.opts.SendDelay)
	if err := l.writeRaw([]byte(terminator)); err != nil {
		return err
	}
	sleep(l.opts.EchoDelay)
	return l.discardLine()
}

// query sends cmd and returns every line received after the settle delay.
func (l *link) query(cmd string) ([]string, error) {
	if err := l.write(cmd); err != nil {
		return nil, err
	}
	sleep(l.opts.SettleDelay)
	return l.readAvailable()
}

// queryLines is query for commands that must produce at least n lines.
func (l *link) queryLines(cmd string, n int) ([]string, error) {
	lines, err := l.query(cmd)
	if err != nil {
		return nil, err
	}
	if len(lines) < n {
		if len(lines) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoResponse, cmd)
		}
		return nil, fmt.Errorf("%w: %q: want %d lines, got %q", ErrMalformedResponse, cmd, n, lines)
	}
	return lines, nil
}

// queryExtended sends an extended command and returns its payload.
func (l *link) queryExtended(cmd string) (string, error) {
	if len(cmd) < 2 || strings.Contains(cmd, extendedPrefix) {
		return "", fmt.Errorf("%w: extended command %q", ErrValidation, cmd)
	}
	sleep(l.opts.SettleDelay)
	if err := l.write(extendedPrefix + cmd); err != nil {
		return "", err
	}
	sleep(l.opts.SettleDelay)
	lines, err := l.readAvailable()
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNoResponse, cmd)
	}
	return parseExtended(lines[0])
}

// parseExtended validates the status envelope of an extended response.
func parseExtended(resp string) (string, error) {
	status := resp
	if len(status) > envelopeLen {
		status = status[:envelopeLen]
	}
	if strings.Contains(status, statusError) {
		return "", fmt.Errorf("%w: response error: %s", ErrDeviceRejected, resp)
	}
	if !strings.Contains(status, statusOK) {
		return "", fmt.Errorf("%w: invalid response: %s", ErrMalformedResponse, resp)
	}
	if len(resp) <= payloadOffset {
		return "", nil
	}
	return strings.TrimSpace(resp[payloadOffset:]), nil
}

// flush sends a bare terminator and throws away everything received.
func (l *link) flush() error {
	if err := l.write(terminator); err != nil {
		return err
	}
	l.partial.Reset()
	return l.port.Flush()
}
