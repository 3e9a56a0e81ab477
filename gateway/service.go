// Package gateway publishes a rotator's operations to remote callers.
//
// Only the operations in Service cross the network. They are listed by hand
// in the methods table; nothing is discovered by reflection.
package gateway

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/w1xm/k3ng_interface/k3ng"
)

// DefaultPort is the TCP port the daemon listens on.
const DefaultPort = 18866

// Service is the remotely invokable contract. *k3ng.Rotator and *Client
// both implement it.
type Service interface {
	Version() (string, error)
	Clock() (time.Time, error)
	SetClock(t time.Time) error
	SetClockNow() error
	CheckClock() error
	Location() (string, error)
	SetLocation(grid string) error
	SaveToEEPROM() error

	Azimuth() (float64, error)
	Elevation() (float64, error)
	SetAzimuth(angle float64) error
	SetElevation(angle float64) error
	Up() error
	Down() error
	Left() error
	Right() error
	CW() error
	CCW() error
	StopAzimuth() error
	StopElevation() error
	Stop() error

	CalFullUp() (int, error)
	CalFullDown() (int, error)
	CalFullCW() (int, error)
	CalFullCCW() (int, error)

	Park() error
	Autopark() (int, error)
	SetAutopark(minutes int) error
	ParkLocation() (az, el int, err error)
	SetParkLocation(az, el int) error

	LoadTLE(sat k3ng.Satellite) error
	TLEs() ([]k3ng.TLE, error)
	ClearTLEs() error
	Trackable() ([]string, error)
	TrackingStatus() (k3ng.TrackingStatus, error)
	SelectSatellite(sat k3ng.Satellite) error
	NextPass(sat k3ng.Satellite) ([]string, error)
	EnableTracking() error
	DisableTracking() error
	LoadAndTrack(sat k3ng.Satellite) (k3ng.TrackingStatus, error)

	RawAnalog(pin int) (int, error)
	RawVoltage(pin int, vref float64, bits int) (float64, error)
}

var _ Service = (*k3ng.Rotator)(nil)

// Params carries the arguments of every method. Each method reads only the
// fields it needs.
type Params struct {
	Time      time.Time      `json:"time,omitempty"`
	Grid      string         `json:"grid,omitempty"`
	Angle     float64        `json:"angle,omitempty"`
	Minutes   int            `json:"minutes,omitempty"`
	Azimuth   int            `json:"azimuth,omitempty"`
	Elevation int            `json:"elevation,omitempty"`
	Satellite k3ng.Satellite `json:"satellite,omitempty"`
	Pin       int            `json:"pin,omitempty"`
	Vref      float64        `json:"vref,omitempty"`
	Bits      int            `json:"bits,omitempty"`
}

// ParkPosition is the result of park_location.
type ParkPosition struct {
	Azimuth   int `json:"azimuth"`
	Elevation int `json:"elevation"`
}

type method func(s Service, p Params) (interface{}, error)

func none(err error) (interface{}, error) {
	return nil, err
}

var methods = map[string]method{
	"version":         func(s Service, p Params) (interface{}, error) { return s.Version() },
	"clock":           func(s Service, p Params) (interface{}, error) { return s.Clock() },
	"set_clock":       func(s Service, p Params) (interface{}, error) { return none(s.SetClock(p.Time)) },
	"set_clock_now":   func(s Service, p Params) (interface{}, error) { return none(s.SetClockNow()) },
	"check_clock":     func(s Service, p Params) (interface{}, error) { return none(s.CheckClock()) },
	"location":        func(s Service, p Params) (interface{}, error) { return s.Location() },
	"set_location":    func(s Service, p Params) (interface{}, error) { return none(s.SetLocation(p.Grid)) },
	"save_to_eeprom":  func(s Service, p Params) (interface{}, error) { return none(s.SaveToEEPROM()) },
	"azimuth":         func(s Service, p Params) (interface{}, error) { return s.Azimuth() },
	"elevation":       func(s Service, p Params) (interface{}, error) { return s.Elevation() },
	"set_azimuth":     func(s Service, p Params) (interface{}, error) { return none(s.SetAzimuth(p.Angle)) },
	"set_elevation":   func(s Service, p Params) (interface{}, error) { return none(s.SetElevation(p.Angle)) },
	"up":              func(s Service, p Params) (interface{}, error) { return none(s.Up()) },
	"down":            func(s Service, p Params) (interface{}, error) { return none(s.Down()) },
	"left":            func(s Service, p Params) (interface{}, error) { return none(s.Left()) },
	"right":           func(s Service, p Params) (interface{}, error) { return none(s.Right()) },
	"cw":              func(s Service, p Params) (interface{}, error) { return none(s.CW()) },
	"ccw":             func(s Service, p Params) (interface{}, error) { return none(s.CCW()) },
	"stop_azimuth":    func(s Service, p Params) (interface{}, error) { return none(s.StopAzimuth()) },
	"stop_elevation":  func(s Service, p Params) (interface{}, error) { return none(s.StopElevation()) },
	"stop":            func(s Service, p Params) (interface{}, error) { return none(s.Stop()) },
	"cal_full_up":     func(s Service, p Params) (interface{}, error) { return s.CalFullUp() },
	"cal_full_down":   func(s Service, p Params) (interface{}, error) { return s.CalFullDown() },
	"cal_full_cw":     func(s Service, p Params) (interface{}, error) { return s.CalFullCW() },
	"cal_full_ccw":    func(s Service, p Params) (interface{}, error) { return s.CalFullCCW() },
	"park":            func(s Service, p Params) (interface{}, error) { return none(s.Park()) },
	"autopark":        func(s Service, p Params) (interface{}, error) { return s.Autopark() },
	"set_autopark":    func(s Service, p Params) (interface{}, error) { return none(s.SetAutopark(p.Minutes)) },
	"park_location": func(s Service, p Params) (interface{}, error) {
		az, el, err := s.ParkLocation()
		if err != nil {
			return nil, err
		}
		return ParkPosition{Azimuth: az, Elevation: el}, nil
	},
	"set_park_location": func(s Service, p Params) (interface{}, error) {
		return none(s.SetParkLocation(p.Azimuth, p.Elevation))
	},
	"load_tle":         func(s Service, p Params) (interface{}, error) { return none(s.LoadTLE(p.Satellite)) },
	"tles":             func(s Service, p Params) (interface{}, error) { return s.TLEs() },
	"clear_tles":       func(s Service, p Params) (interface{}, error) { return none(s.ClearTLEs()) },
	"trackable":        func(s Service, p Params) (interface{}, error) { return s.Trackable() },
	"tracking_status":  func(s Service, p Params) (interface{}, error) { return s.TrackingStatus() },
	"select_satellite": func(s Service, p Params) (interface{}, error) { return none(s.SelectSatellite(p.Satellite)) },
	"next_pass":        func(s Service, p Params) (interface{}, error) { return s.NextPass(p.Satellite) },
	"enable_tracking":  func(s Service, p Params) (interface{}, error) { return none(s.EnableTracking()) },
	"disable_tracking": func(s Service, p Params) (interface{}, error) { return none(s.DisableTracking()) },
	"load_and_track":   func(s Service, p Params) (interface{}, error) { return s.LoadAndTrack(p.Satellite) },
	"raw_analog":       func(s Service, p Params) (interface{}, error) { return s.RawAnalog(p.Pin) },
	"raw_voltage": func(s Service, p Params) (interface{}, error) {
		if p.Vref == 0 {
			p.Vref = k3ng.DefaultVref
		}
		if p.Bits == 0 {
			p.Bits = k3ng.DefaultADCBits
		}
		return s.RawVoltage(p.Pin, p.Vref, p.Bits)
	},
}

// Methods returns the names of every remotely invokable operation.
func Methods() []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Response is the body of every call reply.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
}

// RemoteError is a failure reported by the gateway. It unwraps to the k3ng
// sentinel named by Kind, so errors.Is works across the network.
type RemoteError struct {
	Method string
	Kind   string
	Msg    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Msg)
}

func (e *RemoteError) Unwrap() error {
	return k3ng.KindError(e.Kind)
}
