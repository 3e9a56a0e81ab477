// Package k3ng controls a K3NG rotator controller over its serial command
// interface.
package k3ng

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Command codes. Basic commands are sent as-is, extended codes are
// prefixed with `\?`.
const (
	cmdClock         = `\C`
	cmdSetClock      = `\O`
	cmdSetLocation   = `\G`
	cmdSave          = `\Q`
	cmdPark          = `\P`
	cmdAutopark      = `\Y`
	cmdParkAzimuth   = `\PA`
	cmdParkElevation = `\PE`
	cmdLoadTLE       = `\#`
	cmdListTLEs      = `\@`
	cmdClearTLEs     = `\!`
	cmdTrackable     = `\|`
	cmdTrackStatus   = `\~`
	cmdSelect        = `\$`
	cmdNextPass      = `\%`
	cmdTracking      = `\^`

	extVersion    = "CV"
	extLocation   = "RG"
	extElevation  = "EL"
	extAzimuth    = "AZ"
	extGotoEl     = "GE"
	extGotoAz     = "GA"
	extDown       = "RD"
	extUp         = "RU"
	extLeft       = "RL"
	extRight      = "RR"
	extStopAz     = "SA"
	extStopEl     = "SE"
	extStop       = "SS"
	extCalUp      = "EF"
	extCalDown    = "EO"
	extCalCW      = "AF"
	extCalCCW     = "AO"
	extAnalogRead = "AR"
)

const (
	// MaxClockDrift is how far the controller clock may be from the host.
	MaxClockDrift = 10 * time.Second
	// MaxAnalogPin is the highest readable analog input.
	MaxAnalogPin = 5
	// DefaultVref and DefaultADCBits describe the controller's Arduino ADC.
	DefaultVref    = 5.0
	DefaultADCBits = 10

	clockFormat       = "20060102150405"
	trackingActivated = "Satellite tracking activated."
	trackingStopped   = "Satellite tracking deactivated."
)

// Rotator is a K3NG controller on an exclusively owned link. Every method
// holds the link for its whole exchange, so a Rotator may be shared.
type Rotator struct {
	mu   sync.Mutex
	link *link
	opts *Options
}

// Open opens a serial device and primes the controller.
func Open(name string, opts *Options) (*Rotator, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	port, err := OpenPort(name, opts)
	if err != nil {
		return nil, err
	}
	r, err := New(port, opts)
	if err != nil {
		port.Close()
		return nil, err
	}
	log.Info().Str("port", name).Msg("opened rotator")
	return r, nil
}

// New takes ownership of port, flushes it, and primes the controller.
// A nil opts uses DefaultOptions.
func New(port Port, opts *Options) (*Rotator, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	r := &Rotator{link: newLink(port, opts), opts: opts}
	if err := r.link.flush(); err != nil {
		return nil, err
	}
	if err := r.prime(); err != nil {
		return nil, err
	}
	return r, nil
}

// prime sends the no-op that extended commands need to work.
func (r *Rotator) prime() error {
	lines, err := r.link.query(primeCommand)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: unable to communicate with rotator", ErrNoResponse)
	}
	return nil
}

// Close releases the serial link.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link.port.Close()
}

// Flush sends a bare terminator and discards pending input.
func (r *Rotator) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link.flush()
}

// Query sends a basic command and returns the raw response lines.
func (r *Rotator) Query(cmd string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link.query(cmd)
}

// QueryExtended sends an extended command and returns its payload.
func (r *Rotator) QueryExtended(cmd string) (string, error) {
	return r.extended(cmd)
}

func (r *Rotator) extended(cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link.queryExtended(cmd)
}

func (r *Rotator) extendedInt(cmd string) (int, error) {
	payload, err := r.extended(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", ErrMalformedResponse, cmd, payload)
	}
	return v, nil
}

func (r *Rotator) extendedDo(cmd string) error {
	_, err := r.extended(cmd)
	return err
}

// Version returns the firmware version.
func (r *Rotator) Version() (string, error) {
	return r.extended(extVersion)
}

// Clock returns the controller time.
func (r *Rotator) Clock() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock()
}

func (r *Rotator) clock() (time.Time, error) {
	lines, err := r.link.queryLines(cmdClock, 1)
	if err != nil {
		return time.Time{}, err
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return time.Time{}, fmt.Errorf("%w: clock %q", ErrMalformedResponse, lines[0])
	}
	return parseDeviceTime(fields[0], fields[1])
}

func drift(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

// SetClock sets the controller clock to t and verifies the echoed time.
func (r *Rotator) SetClock(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setClock(t)
}

func (r *Rotator) setClock(t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("%w: no time given", ErrValidation)
	}
	t = t.UTC().Truncate(time.Second)
	lines, err := r.link.queryLines(cmdSetClock+t.Format(clockFormat), 1)
	if err != nil {
		return err
	}
	// "Clock set to YYYY-MM-DD HH:MM:SS"
	fields := strings.Split(lines[0], " ")
	if len(fields) < 5 {
		return fmt.Errorf("%w: clock echo %q", ErrMalformedResponse, lines[0])
	}
	got, err := parseDeviceTime(fields[3], fields[4])
	if err != nil {
		return err
	}
	if d := drift(got, t); d > MaxClockDrift {
		return fmt.Errorf("%w: set %s, controller reports %s (%v off)", ErrTimeDrift, t.Format(deviceTime), got.Format(deviceTime), d)
	}
	// Advisory; checkClock logs its own failure.
	_ = r.checkClock()
	return nil
}

// SetClockString sets the clock from a YYYYMMDDHHMMSS string.
func (r *Rotator) SetClockString(s string) error {
	if len(s) != len(clockFormat) {
		return fmt.Errorf("%w: invalid time length %q", ErrValidation, s)
	}
	t, err := time.ParseInLocation(clockFormat, s, time.UTC)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return r.SetClock(t)
}

// SetClockNow sets the controller to the current UTC time.
func (r *Rotator) SetClockNow() error {
	now := r.opts.now().UTC()
	log.Debug().Time("time", now).Msg("setting to current UTC time")
	return r.SetClock(now)
}

// CheckClock logs a warning if the controller clock has drifted. Only
// failing to read the clock is an error.
func (r *Rotator) CheckClock() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkClock()
}

func (r *Rotator) checkClock() error {
	got, err := r.clock()
	if err != nil {
		log.Warn().Err(err).Msg("reading controller clock")
		return err
	}
	if d := drift(got, r.opts.now()); d > MaxClockDrift {
		log.Warn().Dur("drift", d).Msg("time difference greater than 10 seconds")
	}
	return nil
}

// Location returns the stored Maidenhead grid square.
func (r *Rotator) Location() (string, error) {
	return r.extended(extLocation)
}

// SetLocation stores a six character Maidenhead grid square.
func (r *Rotator) SetLocation(grid string) error {
	if len(grid) != 6 {
		return fmt.Errorf("%w: invalid location length %q", ErrValidation, grid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, err := r.link.queryLines(cmdSetLocation+grid, 1)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToUpper(strings.Join(lines, " ")), strings.ToUpper(grid)) {
		return fmt.Errorf("%w: location not set (%s)", ErrDeviceRejected, lines[0])
	}
	return nil
}

// SaveToEEPROM persists the configuration. The controller restarts, so the
// link is flushed and primed again before returning.
func (r *Rotator) SaveToEEPROM() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.link.write(cmdSave); err != nil {
		return err
	}
	sleep(r.opts.RebootDelay)
	if err := r.link.flush(); err != nil {
		return err
	}
	return r.prime()
}

// Elevation returns the current elevation in degrees.
func (r *Rotator) Elevation() (float64, error) {
	payload, err := r.extended(extElevation)
	if err != nil {
		return 0, err
	}
	return ParseElevation(payload)
}

// Azimuth returns the current azimuth in degrees.
func (r *Rotator) Azimuth() (float64, error) {
	payload, err := r.extended(extAzimuth)
	if err != nil {
		return 0, err
	}
	return ParseAzimuth(payload)
}

// SetElevation moves to an absolute elevation.
func (r *Rotator) SetElevation(el float64) error {
	return r.extendedDo(fmt.Sprintf("%s%05.2f", extGotoEl, el))
}

// SetAzimuth moves to an absolute azimuth.
func (r *Rotator) SetAzimuth(az float64) error {
	return r.extendedDo(fmt.Sprintf("%s%05.2f", extGotoAz, az))
}

func (r *Rotator) Down() error  { return r.extendedDo(extDown) }
func (r *Rotator) Up() error    { return r.extendedDo(extUp) }
func (r *Rotator) Left() error  { return r.extendedDo(extLeft) }
func (r *Rotator) Right() error { return r.extendedDo(extRight) }

// CCW is Left.
func (r *Rotator) CCW() error { return r.Left() }

// CW is Right.
func (r *Rotator) CW() error { return r.Right() }

func (r *Rotator) StopAzimuth() error   { return r.extendedDo(extStopAz) }
func (r *Rotator) StopElevation() error { return r.extendedDo(extStopEl) }

// Stop halts both axes.
func (r *Rotator) Stop() error { return r.extendedDo(extStop) }

// CalFullUp latches the current position as full up and returns the raw reading.
func (r *Rotator) CalFullUp() (int, error) { return r.extendedInt(extCalUp) }

// CalFullDown latches the current position as full down.
func (r *Rotator) CalFullDown() (int, error) { return r.extendedInt(extCalDown) }

// CalFullCW latches the current position as full clockwise.
func (r *Rotator) CalFullCW() (int, error) { return r.extendedInt(extCalCW) }

// CalFullCCW latches the current position as full counterclockwise.
func (r *Rotator) CalFullCCW() (int, error) { return r.extendedInt(extCalCCW) }

// Park sends the rotator to its park position.
func (r *Rotator) Park() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, err := r.link.queryLines(cmdPark, 1)
	if err != nil {
		return err
	}
	if !strings.Contains(lines[0], "Parking") {
		return fmt.Errorf("%w: not parking (%s)", ErrDeviceRejected, lines[0])
	}
	return nil
}

// Autopark returns the autopark timer in minutes, 0 when disabled.
func (r *Rotator) Autopark() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, err := r.link.queryLines(cmdAutopark, 1)
	if err != nil {
		return 0, err
	}
	if strings.Contains(lines[0], "Autopark is off") {
		return 0, nil
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 5 {
		return 0, fmt.Errorf("%w: autopark %q", ErrMalformedResponse, lines[0])
	}
	mins, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0, fmt.Errorf("%w: autopark %q", ErrMalformedResponse, lines[0])
	}
	return mins, nil
}

// SetAutopark sets the autopark timer in minutes. Zero disables it.
//
// The controller re-runs autopark every few seconds, and ADC drift can make
// it nudge the antenna between runs.
func (r *Rotator) SetAutopark(minutes int) error {
	if minutes < 0 || minutes > 9999 {
		return fmt.Errorf("%w: autopark duration %d", ErrValidation, minutes)
	}
	cmd, want := cmdAutopark+"0", "off"
	if minutes != 0 {
		cmd, want = fmt.Sprintf("%s %04d", cmdAutopark, minutes), fmt.Sprintf("%d minute", minutes)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, err := r.link.queryLines(cmd, 1)
	if err != nil {
		return err
	}
	if !strings.Contains(lines[0], want) {
		return fmt.Errorf("%w: autopark not set (%s)", ErrDeviceRejected, lines[0])
	}
	return nil
}

// ParkLocation returns the stored park azimuth and elevation.
func (r *Rotator) ParkLocation() (az, el int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, err := r.link.queryLines(cmdParkAzimuth, 1)
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Split(lines[0], " ")
	if len(fields) < 5 {
		return 0, 0, fmt.Errorf("%w: park location %q", ErrMalformedResponse, lines[0])
	}
	if az, err = strconv.Atoi(fields[2]); err != nil {
		return 0, 0, fmt.Errorf("%w: park location %q", ErrMalformedResponse, lines[0])
	}
	if el, err = strconv.Atoi(fields[4]); err != nil {
		return 0, 0, fmt.Errorf("%w: park location %q", ErrMalformedResponse, lines[0])
	}
	return az, el, nil
}

// SetParkLocation stores a park position. Each axis is checked separately.
func (r *Rotator) SetParkLocation(az, el int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, err := r.link.queryLines(fmt.Sprintf("%s%03d", cmdParkAzimuth, az), 1)
	if err != nil {
		return err
	}
	if !strings.Contains(lines[0], strconv.Itoa(az)) {
		return fmt.Errorf("%w: azimuth park not set (%s)", ErrDeviceRejected, lines[0])
	}
	lines, err = r.link.queryLines(fmt.Sprintf("%s%03d", cmdParkElevation, el), 1)
	if err != nil {
		return err
	}
	if !strings.Contains(lines[0], strconv.Itoa(el)) {
		return fmt.Errorf("%w: elevation park not set (%s)", ErrDeviceRejected, lines[0])
	}
	return nil
}

// LoadTLE uploads a satellite's element set.
func (r *Rotator) LoadTLE(sat Satellite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadTLE(sat)
}

func (r *Rotator) loadTLE(sat Satellite) error {
	sat = NewSatellite(sat.ID, sat.TLE)
	if !sat.TLE.valid() {
		return fmt.Errorf("%w: element set %q", ErrValidation, sat.TLE.Lines())
	}
	if err := r.link.write(cmdLoadTLE); err != nil {
		return err
	}
	sleep(r.opts.UploadDelay)
	for _, line := range append(sat.TLE.Lines(), terminator) {
		if err := r.link.write(line); err != nil {
			return err
		}
	}
	sleep(r.opts.UploadDelay)
	lines, err := r.link.readAvailable()
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: element upload", ErrNoResponse)
	}
	switch {
	case strings.Contains(lines[0], "corrupt"):
		log.Error().Strs("rx", lines).Msg("TLE corrupted on write")
		return fmt.Errorf("%w: TLE corrupted", ErrDeviceRejected)
	case strings.Contains(lines[0], "truncated"):
		log.Error().Strs("rx", lines).Msg("file was truncated due to lack of EEPROM storage")
		return fmt.Errorf("%w: TLE truncated", ErrDeviceRejected)
	case len(lines) < 2 || !strings.Contains(lines[1], sat.TLE.Title):
		log.Error().Strs("rx", lines).Msg("TLE not loaded")
		return fmt.Errorf("%w: TLE not loaded", ErrDeviceRejected)
	}
	return nil
}

// TLEs lists the element sets stored on the controller.
func (r *Rotator) TLEs() ([]TLE, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, err := r.link.queryLines(cmdListTLEs, 1)
	if err != nil {
		return nil, err
	}
	return parseTLEList(lines)
}

// ClearTLEs erases every stored element set.
func (r *Rotator) ClearTLEs() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines, err := r.link.queryLines(cmdClearTLEs, 1)
	if err != nil {
		return err
	}
	if !strings.Contains(lines[0], "Erased the TLE file area") {
		return fmt.Errorf("%w: failed to clear TLEs (%s)", ErrDeviceRejected, lines[0])
	}
	return nil
}

// Trackable lists the satellites the controller can currently track.
func (r *Rotator) Trackable() ([]string, error) {
	lines, err := r.Query(cmdTrackable)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		lines[i] = strings.ReplaceAll(lines[i], "\t", "    ")
	}
	return lines, nil
}

// TrackingStatus reads the tracking report.
func (r *Rotator) TrackingStatus() (TrackingStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trackingStatus()
}

func (r *Rotator) trackingStatus() (TrackingStatus, error) {
	lines, err := r.link.queryLines(cmdTrackStatus, 1)
	if err != nil {
		return TrackingStatus{}, err
	}
	return ParseTrackingStatus(lines)
}

// SelectSatellite picks the satellite to track by its title.
func (r *Rotator) SelectSatellite(sat Satellite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectSatellite(sat)
}

func (r *Rotator) selectSatellite(sat Satellite) error {
	sat = NewSatellite(sat.ID, sat.TLE)
	lines, err := r.link.queryLines(cmdSelect+sat.prefix(5), 1)
	if err != nil {
		return err
	}
	if len(lines) < 2 || !strings.Contains(lines[1], "Loading") {
		return fmt.Errorf("%w: unable to select satellite %q", ErrDeviceRejected, sat.TLE.Title)
	}
	return nil
}

// NextPass returns the controller's pass prediction for sat.
func (r *Rotator) NextPass(sat Satellite) ([]string, error) {
	sat = NewSatellite(sat.ID, sat.TLE)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link.queryLines(cmdNextPass+sat.prefix(6), 1)
}

func (r *Rotator) setTracking(on bool) error {
	cmd, want := cmdTracking+"0", trackingStopped
	if on {
		cmd, want = cmdTracking+"1", trackingActivated
	}
	lines, err := r.link.queryLines(cmd, 1)
	if err != nil {
		return err
	}
	if lines[0] != want {
		log.Error().Strs("rx", lines).Bool("enable", on).Msg("tracking not changed")
		return fmt.Errorf("%w: want %q, got %q", ErrDeviceRejected, want, lines[0])
	}
	return nil
}

// EnableTracking starts tracking the selected satellite.
func (r *Rotator) EnableTracking() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setTracking(true)
}

// DisableTracking stops tracking.
func (r *Rotator) DisableTracking() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setTracking(false)
}

// LoadAndTrack sets the clock, uploads sat, selects it and starts tracking.
func (r *Rotator) LoadAndTrack(sat Satellite) (TrackingStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.setClock(r.opts.now()); err != nil {
		return TrackingStatus{}, err
	}
	if err := r.loadTLE(sat); err != nil {
		return TrackingStatus{}, err
	}
	// Advisory; checkClock logs its own failure.
	_ = r.checkClock()
	if err := r.selectSatellite(sat); err != nil {
		return TrackingStatus{}, err
	}
	if err := r.setTracking(true); err != nil {
		return TrackingStatus{}, err
	}
	return r.trackingStatus()
}

// RawAnalog returns the ADC reading of analog pin 0-5.
func (r *Rotator) RawAnalog(pin int) (int, error) {
	if pin < 0 || pin > MaxAnalogPin {
		return 0, fmt.Errorf("%w: invalid pin number %d", ErrValidation, pin)
	}
	payload, err := r.extended(fmt.Sprintf("%s%02d", extAnalogRead, pin))
	if err != nil {
		return 0, err
	}
	// The payload echoes the two-digit pin before the value.
	if len(payload) < 3 {
		return 0, fmt.Errorf("%w: analog %q", ErrMalformedResponse, payload)
	}
	v, err := strconv.Atoi(payload[2:])
	if err != nil {
		return 0, fmt.Errorf("%w: analog %q", ErrMalformedResponse, payload)
	}
	return v, nil
}

// RawVoltage converts a RawAnalog reading using the reference voltage and
// ADC resolution in bits.
func (r *Rotator) RawVoltage(pin int, vref float64, bits int) (float64, error) {
	if bits <= 0 || bits > 31 {
		return 0, fmt.Errorf("%w: resolution %d bits", ErrValidation, bits)
	}
	raw, err := r.RawAnalog(pin)
	if err != nil {
		return 0, err
	}
	return float64(raw) * vref / float64(int(1)<<bits), nil
}
