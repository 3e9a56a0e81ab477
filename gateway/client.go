package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/w1xm/k3ng_interface/k3ng"
)

// Client calls a remote gateway. Its methods mirror *k3ng.Rotator.
type Client struct {
	ctx        context.Context
	baseURL    string
	httpClient *http.Client
}

var _ Service = (*Client)(nil)

// NewClient returns a client for the gateway at baseURL, e.g.
// "http://localhost:18866".
func NewClient(baseURL string) *Client {
	return &Client{
		ctx:     context.Background(),
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Uploads and reboots hold the link for several seconds.
			Timeout: 30 * time.Second,
		},
	}
}

// WithContext returns a copy of c whose calls are bound to ctx.
func (c *Client) WithContext(ctx context.Context) *Client {
	c2 := *c
	c2.ctx = ctx
	return &c2
}

// Call invokes method with p and decodes its result into result, which may
// be nil.
func (c *Client) Call(ctx context.Context, method string, p Params, result interface{}) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/call/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", k3ng.ErrLinkUnavailable, err)
	}
	defer resp.Body.Close()
	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("%s: decoding response (status %d): %w", method, resp.StatusCode, err)
	}
	if r.Error != "" || resp.StatusCode != http.StatusOK {
		return &RemoteError{Method: method, Kind: r.Kind, Msg: r.Error}
	}
	if result != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, result); err != nil {
			return fmt.Errorf("%s: decoding result: %w", method, err)
		}
	}
	return nil
}

// Methods lists the operations the gateway exposes.
func (c *Client) Methods(ctx context.Context) ([]string, error) {
	var names []string
	err := c.getJSON(ctx, "/api/methods", &names)
	return names, err
}

// Status returns the gateway's latest poll snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.getJSON(ctx, "/api/status", &status)
	return status, err
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", k3ng.ErrLinkUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) call(method string, p Params, result interface{}) error {
	return c.Call(c.ctx, method, p, result)
}

func (c *Client) do(method string) error {
	return c.call(method, Params{}, nil)
}

func (c *Client) Version() (v string, err error) {
	err = c.call("version", Params{}, &v)
	return
}

func (c *Client) Clock() (t time.Time, err error) {
	err = c.call("clock", Params{}, &t)
	return
}

func (c *Client) SetClock(t time.Time) error {
	return c.call("set_clock", Params{Time: t}, nil)
}

func (c *Client) SetClockNow() error { return c.do("set_clock_now") }
func (c *Client) CheckClock() error  { return c.do("check_clock") }

func (c *Client) Location() (grid string, err error) {
	err = c.call("location", Params{}, &grid)
	return
}

func (c *Client) SetLocation(grid string) error {
	return c.call("set_location", Params{Grid: grid}, nil)
}

func (c *Client) SaveToEEPROM() error { return c.do("save_to_eeprom") }

func (c *Client) Azimuth() (angle float64, err error) {
	err = c.call("azimuth", Params{}, &angle)
	return
}

func (c *Client) Elevation() (angle float64, err error) {
	err = c.call("elevation", Params{}, &angle)
	return
}

func (c *Client) SetAzimuth(angle float64) error {
	return c.call("set_azimuth", Params{Angle: angle}, nil)
}

func (c *Client) SetElevation(angle float64) error {
	return c.call("set_elevation", Params{Angle: angle}, nil)
}

func (c *Client) Up() error            { return c.do("up") }
func (c *Client) Down() error          { return c.do("down") }
func (c *Client) Left() error          { return c.do("left") }
func (c *Client) Right() error         { return c.do("right") }
func (c *Client) CW() error            { return c.do("cw") }
func (c *Client) CCW() error           { return c.do("ccw") }
func (c *Client) StopAzimuth() error   { return c.do("stop_azimuth") }
func (c *Client) StopElevation() error { return c.do("stop_elevation") }
func (c *Client) Stop() error          { return c.do("stop") }

func (c *Client) calInt(method string) (v int, err error) {
	err = c.call(method, Params{}, &v)
	return
}

func (c *Client) CalFullUp() (int, error)   { return c.calInt("cal_full_up") }
func (c *Client) CalFullDown() (int, error) { return c.calInt("cal_full_down") }
func (c *Client) CalFullCW() (int, error)   { return c.calInt("cal_full_cw") }
func (c *Client) CalFullCCW() (int, error)  { return c.calInt("cal_full_ccw") }

func (c *Client) Park() error { return c.do("park") }

func (c *Client) Autopark() (minutes int, err error) {
	err = c.call("autopark", Params{}, &minutes)
	return
}

func (c *Client) SetAutopark(minutes int) error {
	return c.call("set_autopark", Params{Minutes: minutes}, nil)
}

func (c *Client) ParkLocation() (az, el int, err error) {
	var p ParkPosition
	err = c.call("park_location", Params{}, &p)
	return p.Azimuth, p.Elevation, err
}

func (c *Client) SetParkLocation(az, el int) error {
	return c.call("set_park_location", Params{Azimuth: az, Elevation: el}, nil)
}

func (c *Client) LoadTLE(sat k3ng.Satellite) error {
	return c.call("load_tle", Params{Satellite: sat}, nil)
}

func (c *Client) TLEs() (tles []k3ng.TLE, err error) {
	err = c.call("tles", Params{}, &tles)
	return
}

func (c *Client) ClearTLEs() error { return c.do("clear_tles") }

func (c *Client) Trackable() (lines []string, err error) {
	err = c.call("trackable", Params{}, &lines)
	return
}

func (c *Client) TrackingStatus() (ts k3ng.TrackingStatus, err error) {
	err = c.call("tracking_status", Params{}, &ts)
	return
}

func (c *Client) SelectSatellite(sat k3ng.Satellite) error {
	return c.call("select_satellite", Params{Satellite: sat}, nil)
}

func (c *Client) NextPass(sat k3ng.Satellite) (lines []string, err error) {
	err = c.call("next_pass", Params{Satellite: sat}, &lines)
	return
}

func (c *Client) EnableTracking() error  { return c.do("enable_tracking") }
func (c *Client) DisableTracking() error { return c.do("disable_tracking") }

func (c *Client) LoadAndTrack(sat k3ng.Satellite) (ts k3ng.TrackingStatus, err error) {
	err = c.call("load_and_track", Params{Satellite: sat}, &ts)
	return
}

func (c *Client) RawAnalog(pin int) (v int, err error) {
	err = c.call("raw_analog", Params{Pin: pin}, &v)
	return
}

func (c *Client) RawVoltage(pin int, vref float64, bits int) (v float64, err error) {
	err = c.call("raw_voltage", Params{Pin: pin, Vref: vref, Bits: bits}, &v)
	return
}
