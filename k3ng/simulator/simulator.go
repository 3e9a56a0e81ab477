// Package simulator emulates a K3NG rotator controller at the byte level.
package simulator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// Jog and slew rate in degrees/second
	slewRate = 5.0
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond

	defaultMaxTLEs = 8
)

type element struct {
	title, one, two string
}

// Simulator implements k3ng.Port. The zero value is not usable; call New.
type Simulator struct {
	mu     sync.Mutex
	out    bytes.Buffer
	in     []byte
	closed bool

	now       func() time.Time
	echo      bool
	primed    bool
	clockOff  time.Duration
	clockSkew time.Duration
	responses map[string][]string

	version        string
	grid           string
	az, el         float64
	azVel, elVel   float64
	azTarget       *float64
	elTarget       *float64
	autopark       int
	parkAz, parkEl int
	analog         [6]int

	tles      []element
	maxTLEs   int
	uploading bool
	upload    []string
	corrupt   bool
	selected  string
	tracking  bool
}

// New returns a simulator at azimuth 0, elevation 0 with an empty TLE store.
func New() *Simulator {
	s := &Simulator{
		now:       time.Now,
		echo:      true,
		responses: make(map[string][]string),
		version:   "2020.06.20.01",
		grid:      "FN42ai",
		parkAz:    180,
		maxTLEs:   defaultMaxTLEs,
	}
	for i := range s.analog {
		s.analog[i] = 100*i + 12
	}
	return s
}

// SetNow replaces the simulator's clock source.
func (s *Simulator) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetClockSkew makes the controller store set times off by d.
func (s *Simulator) SetClockSkew(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockSkew = d
}

// SetEcho controls whether received lines are echoed.
func (s *Simulator) SetEcho(echo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.echo = echo
}

// SetPosition moves the antenna instantly.
func (s *Simulator) SetPosition(az, el float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.az, s.el = az, el
}

// SetAnalog sets the raw ADC value of an analog pin.
func (s *Simulator) SetAnalog(pin, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analog[pin] = value
}

// SetMaxTLEs limits how many element sets fit in EEPROM.
func (s *Simulator) SetMaxTLEs(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxTLEs = n
}

// CorruptNextUpload makes the next TLE upload fail its checksum.
func (s *Simulator) CorruptNextUpload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = true
}

// Respond overrides the reply to an exact command line. No lines means the
// controller stays silent.
func (s *Simulator) Respond(cmd string, lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[cmd] = lines
}

// Primed reports whether the link has been primed since the last reboot.
func (s *Simulator) Primed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primed
}

// Tracking reports whether satellite tracking is active.
func (s *Simulator) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

// Position returns the current antenna position.
func (s *Simulator) Position() (az, el float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.az, s.el
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.out.Len() == 0 {
		return 0, nil
	}
	return s.out.Read(p)
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	for _, b := range p {
		switch b {
		case '\r':
			line := string(s.in)
			s.in = s.in[:0]
			s.handle(line)
		case '\n':
		default:
			s.in = append(s.in, b)
		}
	}
	return len(p), nil
}

// Flush discards output the host has not read.
func (s *Simulator) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Reset()
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulator) sendLine(line string) {
	log.Debug().Str("tx", line).Msg("sim->host")
	s.out.WriteString(line + "\r\n")
}

func (s *Simulator) sendf(format string, args ...interface{}) {
	s.sendLine(fmt.Sprintf(format, args...))
}

func (s *Simulator) clock() time.Time {
	return s.now().UTC().Add(s.clockOff).Truncate(time.Second)
}

func (s *Simulator) handle(line string) {
	log.Debug().Str("rx", line).Msg("host->sim")
	if s.echo {
		s.out.WriteString(line + "\r\n")
	}
	if s.uploading {
		if line == "" {
			s.finishUpload()
		} else {
			s.upload = append(s.upload, strings.TrimSpace(line))
		}
		return
	}
	if line == "" {
		return
	}
	if lines, ok := s.responses[line]; ok {
		for _, l := range lines {
			s.sendLine(l)
		}
		return
	}
	if m := extendedRE.FindStringSubmatch(line); m != nil {
		if s.primed {
			s.extended(m[1], m[2])
		}
		return
	}
	s.basic(line)
}

var extendedRE = regexp.MustCompile(`^\\\?([A-Z]{2})(.*)$`)

func (s *Simulator) ok(cmd string, format string, args ...interface{}) {
	s.sendf(`\!OK`+cmd+format, args...)
}

func (s *Simulator) fail(cmd string) {
	s.sendf(`\!??%s`, cmd)
}

// adc maps an angle onto a 10-bit reading across a 450 degree span.
func adc(angle float64) int {
	return int(math.Round(angle * 1023 / 450))
}

func (s *Simulator) extended(cmd, arg string) {
	switch cmd {
	case "CV":
		s.ok(cmd, "%s", s.version)
	case "RG":
		s.ok(cmd, "%s", s.grid)
	case "AZ":
		s.ok(cmd, "%07.2f", s.az)
	case "EL":
		if math.Abs(s.el) < 0.005 {
			// The firmware renders zero elevation as negative zero.
			s.ok(cmd, "00-0.00")
			return
		}
		s.ok(cmd, "%07.2f", s.el)
	case "GA", "GE":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			s.fail(cmd)
			return
		}
		if cmd == "GA" {
			s.azTarget, s.azVel = &v, 0
		} else {
			s.elTarget, s.elVel = &v, 0
		}
		s.ok(cmd, "")
	case "RU":
		s.elTarget, s.elVel = nil, slewRate
		s.ok(cmd, "")
	case "RD":
		s.elTarget, s.elVel = nil, -slewRate
		s.ok(cmd, "")
	case "RR":
		s.azTarget, s.azVel = nil, slewRate
		s.ok(cmd, "")
	case "RL":
		s.azTarget, s.azVel = nil, -slewRate
		s.ok(cmd, "")
	case "SA":
		s.azTarget, s.azVel = nil, 0
		s.ok(cmd, "")
	case "SE":
		s.elTarget, s.elVel = nil, 0
		s.ok(cmd, "")
	case "SS":
		s.azTarget, s.azVel = nil, 0
		s.elTarget, s.elVel = nil, 0
		s.ok(cmd, "")
	case "EF", "EO":
		s.ok(cmd, "%04d", adc(s.el))
	case "AF", "AO":
		s.ok(cmd, "%04d", adc(s.az))
	case "AR":
		pin, err := strconv.Atoi(arg)
		if err != nil || pin < 0 || pin >= len(s.analog) {
			s.fail(cmd)
			return
		}
		s.ok(cmd, "%02d%04d", pin, s.analog[pin])
	default:
		s.fail(cmd)
	}
}

const deviceTime = "2006-01-02 15:04:05"

func (s *Simulator) basic(line string) {
	switch {
	case line == `\-`:
		s.primed = true
		s.sendLine("K3NG rotator controller")
	case line == `\C`:
		s.sendLine(s.clock().Format(deviceTime))
	case strings.HasPrefix(line, `\O`):
		t, err := time.ParseInLocation("20060102150405", line[2:], time.UTC)
		if err != nil {
			s.sendLine("Error setting clock")
			return
		}
		t = t.Add(s.clockSkew)
		s.clockOff = t.Sub(s.now().UTC())
		s.sendf("Clock set to %s", t.Format(deviceTime))
	case strings.HasPrefix(line, `\G`):
		s.grid = line[2:]
		s.sendf("Grid set to %s", s.grid)
	case line == `\Q`:
		s.sendLine("Wrote to memory")
		s.reboot()
	case line == `\P`:
		az, el := float64(s.parkAz), float64(s.parkEl)
		s.azTarget, s.elTarget = &az, &el
		s.tracking = false
		s.sendLine("Parking")
	case strings.HasPrefix(line, `\PA`):
		s.setPark(line[3:], &s.parkAz, "azimuth")
	case strings.HasPrefix(line, `\PE`):
		s.setPark(line[3:], &s.parkEl, "elevation")
	case strings.HasPrefix(line, `\Y`):
		s.setAutopark(strings.TrimSpace(line[2:]))
	case line == `\#`:
		s.uploading, s.upload = true, nil
	case line == `\@`:
		s.sendLine("TLE file:")
		for _, e := range s.tles {
			s.sendLine(e.title)
			s.sendLine(e.one)
			s.sendLine(e.two)
		}
	case line == `\!`:
		s.tles, s.selected, s.tracking = nil, "", false
		s.sendLine("Erased the TLE file area")
	case line == `\|`:
		s.sendLine("Trackable satellites:")
		for _, e := range s.tles {
			s.sendf("%s\tAOS in ~15m", e.title)
		}
	case line == `\~`:
		s.trackingStatus()
	case strings.HasPrefix(line, `\$`):
		e, ok := s.find(line[2:])
		if !ok {
			s.sendLine("Satellite not found")
			return
		}
		s.selected = e.title
		s.sendf("Selected %s", e.title)
		s.sendf("Loading %s...", e.title)
	case strings.HasPrefix(line, `\%`):
		e, ok := s.find(line[2:])
		if !ok {
			s.sendLine("Satellite not found")
			return
		}
		s.sendLine(e.title)
		s.sendLine(s.passLine())
	case line == `\^1`:
		if s.selected == "" {
			s.sendLine("No satellite selected.")
			return
		}
		s.tracking = true
		s.sendLine("Satellite tracking activated.")
	case line == `\^0`:
		s.tracking = false
		s.sendLine("Satellite tracking deactivated.")
	default:
		s.sendLine("??")
	}
}

func (s *Simulator) reboot() {
	s.primed = false
	s.tracking = false
	s.azTarget, s.elTarget = nil, nil
	s.azVel, s.elVel = 0, 0
}

func (s *Simulator) setPark(arg string, dest *int, axis string) {
	if arg == "" {
		s.sendf("Park az: %d el: %d", s.parkAz, s.parkEl)
		return
	}
	v, err := strconv.Atoi(arg)
	if err != nil {
		s.sendf("Invalid park %s", axis)
		return
	}
	*dest = v
	s.sendf("Park %s set to %d", axis, v)
}

func (s *Simulator) setAutopark(arg string) {
	if arg == "" {
		if s.autopark == 0 {
			s.sendLine("Autopark is off")
		} else {
			s.sendf("Autopark is on, timer %d minute(s)", s.autopark)
		}
		return
	}
	v, err := strconv.Atoi(arg)
	if err != nil {
		s.sendLine("Invalid autopark")
		return
	}
	s.autopark = v
	if v == 0 {
		s.sendLine("Autopark off")
		return
	}
	s.sendf("Autopark on, timer %d minute(s)", v)
}

func (s *Simulator) finishUpload() {
	s.uploading = false
	up := s.upload
	s.upload = nil
	if s.corrupt {
		s.corrupt = false
		s.sendLine("TLE file is corrupt")
		return
	}
	if len(up) != 3 || !strings.HasPrefix(up[1], "1 ") || !strings.HasPrefix(up[2], "2 ") {
		s.sendLine("TLE file is corrupt")
		return
	}
	e := element{title: up[0], one: up[1], two: up[2]}
	for i := range s.tles {
		if s.tles[i].title == e.title {
			s.tles[i] = e
			s.sendLine("TLE file updated")
			s.sendLine(e.title)
			return
		}
	}
	if len(s.tles) >= s.maxTLEs {
		s.sendLine("File was truncated")
		return
	}
	s.tles = append(s.tles, e)
	s.sendLine("TLE file loaded")
	s.sendLine(e.title)
}

func (s *Simulator) find(prefix string) (element, bool) {
	if prefix == "" {
		return element{}, false
	}
	for _, e := range s.tles {
		if strings.HasPrefix(e.title, prefix) {
			return e, true
		}
	}
	return element{}, false
}

func (s *Simulator) passLine() string {
	aos := s.clock().Add(15 * time.Minute)
	los := aos.Add(12 * time.Minute)
	return fmt.Sprintf("Next AOS:%s Az:10 LOS:%s Az:200 Max El:60", aos.Format(deviceTime), los.Format(deviceTime))
}

func (s *Simulator) trackingStatus() {
	if s.selected == "" {
		s.sendLine("No satellite selected")
		return
	}
	state, next, active := "LOS", "AOS", "TRACKING_INACTIVE"
	if s.tracking {
		active = "TRACKING_ACTIVE"
	}
	s.sendf("Satellite:%s", s.selected)
	s.sendf("AZ:%d EL:%d Lat:42.36 Long:-71.09 %s %s", int(s.az), int(s.el), state, active)
	s.sendLine(s.passLine())
	s.sendf("%s in ~15m", next)
}

// Step advances the antenna by dt.
func (s *Simulator) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.az = math.Mod(servo(s.az, s.azVel, s.azTarget, dt)+360, 360)
	s.el = math.Max(0, math.Min(90, servo(s.el, s.elVel, s.elTarget, dt)))
}

// servo returns the position after moving at vel, or toward target if set.
func servo(pos, vel float64, target *float64, dt time.Duration) float64 {
	max := slewRate * dt.Seconds()
	if target == nil {
		return pos + vel*dt.Seconds()
	}
	delta := *target - pos
	if math.Abs(delta) <= max {
		return *target
	}
	if delta < 0 {
		return pos - max
	}
	return pos + max
}

// Run steps the simulation until ctx is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		s.Step(stepSize)
	}
}
