package k3ng_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/k3ng_interface/k3ng"
	"github.com/w1xm/k3ng_interface/k3ng/simulator"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return epoch }

func newRotator(t *testing.T) (*k3ng.Rotator, *simulator.Simulator) {
	t.Helper()
	sim := simulator.New()
	sim.SetNow(fixedNow)
	r, err := k3ng.New(sim, &k3ng.Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, sim
}

var iss = k3ng.NewSatellite(25544, k3ng.NewTLE(
	"ISS (ZARYA)",
	"1 25544U 98067A   24001.50000000  .00016717  00000-0  10270-3 0  9005",
	"2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.49823156432233",
))

func TestPrime(t *testing.T) {
	r, sim := newRotator(t)
	if !sim.Primed() {
		t.Fatal("simulator was not primed")
	}
	v, err := r.Version()
	if err != nil {
		t.Fatal(err)
	}
	if v != "2020.06.20.01" {
		t.Errorf("Version() = %q", v)
	}
}

func TestPrimeNoResponse(t *testing.T) {
	sim := simulator.New()
	sim.Respond(`\-`)
	if _, err := k3ng.New(sim, &k3ng.Options{}); !errors.Is(err, k3ng.ErrNoResponse) {
		t.Errorf("New = %v, want %v", err, k3ng.ErrNoResponse)
	}
}

func TestClock(t *testing.T) {
	for _, test := range []struct {
		name string
		skew time.Duration
		err  error
	}{
		{"exact", 0, nil},
		{"behind", -5 * time.Second, nil},
		{"limit", 10 * time.Second, nil},
		{"too far", 11 * time.Second, k3ng.ErrTimeDrift},
		{"too far behind", -30 * time.Second, k3ng.ErrTimeDrift},
	} {
		t.Run(test.name, func(t *testing.T) {
			r, sim := newRotator(t)
			sim.SetClockSkew(test.skew)
			if err := r.SetClockNow(); !errors.Is(err, test.err) {
				t.Fatalf("SetClockNow() = %v, want %v", err, test.err)
			}
			got, err := r.Clock()
			if err != nil {
				t.Fatal(err)
			}
			if want := epoch.Add(test.skew); !got.Equal(want) {
				t.Errorf("Clock() = %v, want %v", got, want)
			}
			// A drifted clock is only reported by the passive check.
			if err := r.CheckClock(); err != nil {
				t.Errorf("CheckClock() = %v", err)
			}
		})
	}
}

func TestSetClockString(t *testing.T) {
	r, _ := newRotator(t)
	if err := r.SetClockString("20240101120000"); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"2024010112000", "202401011200000", "2024x101120000"} {
		if err := r.SetClockString(s); !errors.Is(err, k3ng.ErrValidation) {
			t.Errorf("SetClockString(%q) = %v, want %v", s, err, k3ng.ErrValidation)
		}
	}
	if err := r.SetClock(time.Time{}); !errors.Is(err, k3ng.ErrValidation) {
		t.Errorf("SetClock(zero) = %v, want %v", err, k3ng.ErrValidation)
	}
}

func TestLocation(t *testing.T) {
	r, sim := newRotator(t)
	if err := r.SetLocation("FN03hp"); err != nil {
		t.Fatal(err)
	}
	got, err := r.Location()
	if err != nil {
		t.Fatal(err)
	}
	if got != "FN03hp" {
		t.Errorf("Location() = %q", got)
	}
	if err := r.SetLocation("FN03"); !errors.Is(err, k3ng.ErrValidation) {
		t.Errorf("SetLocation(FN03) = %v, want %v", err, k3ng.ErrValidation)
	}
	sim.Respond(`\GFN42ai`, "Invalid grid")
	if err := r.SetLocation("FN42ai"); !errors.Is(err, k3ng.ErrDeviceRejected) {
		t.Errorf("SetLocation rejected = %v, want %v", err, k3ng.ErrDeviceRejected)
	}
}

func TestSaveToEEPROM(t *testing.T) {
	r, sim := newRotator(t)
	if err := r.SaveToEEPROM(); err != nil {
		t.Fatal(err)
	}
	if !sim.Primed() {
		t.Error("controller not primed after reboot")
	}
	if _, err := r.Version(); err != nil {
		t.Errorf("Version() after reboot = %v", err)
	}
}

func TestPosition(t *testing.T) {
	r, sim := newRotator(t)
	el, err := r.Elevation()
	if err != nil {
		t.Fatal(err)
	}
	if el != 0 {
		t.Errorf("Elevation() = %v, want 0", el)
	}
	sim.SetPosition(123.45, 45)
	az, err := r.Azimuth()
	if err != nil {
		t.Fatal(err)
	}
	if az != 123.45 {
		t.Errorf("Azimuth() = %v, want 123.45", az)
	}
	if el, err = r.Elevation(); err != nil || el != 45 {
		t.Errorf("Elevation() = %v, %v, want 45", el, err)
	}
}

func TestMotion(t *testing.T) {
	r, sim := newRotator(t)
	if err := r.SetAzimuth(90); err != nil {
		t.Fatal(err)
	}
	if err := r.SetElevation(10); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		sim.Step(25 * time.Millisecond)
	}
	if az, el := sim.Position(); az != 90 || el != 10 {
		t.Errorf("Position() = %v, %v, want 90, 10", az, el)
	}

	if err := r.Up(); err != nil {
		t.Fatal(err)
	}
	sim.Step(time.Second)
	if err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	_, el := sim.Position()
	sim.Step(time.Second)
	if _, el2 := sim.Position(); el2 != el || el <= 10 {
		t.Errorf("elevation moved %v -> %v after stop", el, el2)
	}

	for _, f := range []func() error{r.Down, r.Left, r.Right, r.CW, r.CCW, r.StopAzimuth, r.StopElevation} {
		if err := f(); err != nil {
			t.Error(err)
		}
	}
}

func TestCalibration(t *testing.T) {
	r, sim := newRotator(t)
	sim.SetPosition(450, 180)
	for _, test := range []struct {
		name string
		f    func() (int, error)
		want int
	}{
		{"up", r.CalFullUp, 409},
		{"down", r.CalFullDown, 409},
		{"cw", r.CalFullCW, 1023},
		{"ccw", r.CalFullCCW, 1023},
	} {
		got, err := test.f()
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if got != test.want {
			t.Errorf("%s = %d, want %d", test.name, got, test.want)
		}
	}
}

func TestRejectedExtended(t *testing.T) {
	r, sim := newRotator(t)
	sim.Respond(`\?SS`, `\!??SS`)
	if err := r.Stop(); !errors.Is(err, k3ng.ErrDeviceRejected) {
		t.Errorf("Stop() = %v, want %v", err, k3ng.ErrDeviceRejected)
	}
	if _, err := r.QueryExtended("A"); !errors.Is(err, k3ng.ErrValidation) {
		t.Errorf("QueryExtended(A) = %v, want %v", err, k3ng.ErrValidation)
	}
}

func TestPark(t *testing.T) {
	r, sim := newRotator(t)
	az, el, err := r.ParkLocation()
	if err != nil {
		t.Fatal(err)
	}
	if az != 180 || el != 0 {
		t.Errorf("ParkLocation() = %d, %d, want 180, 0", az, el)
	}
	if err := r.SetParkLocation(90, 45); err != nil {
		t.Fatal(err)
	}
	if az, el, err = r.ParkLocation(); err != nil || az != 90 || el != 45 {
		t.Errorf("ParkLocation() = %d, %d, %v, want 90, 45", az, el, err)
	}
	if err := r.Park(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		sim.Step(25 * time.Millisecond)
	}
	if az, el := sim.Position(); az != 90 || el != 45 {
		t.Errorf("Position() = %v, %v, want 90, 45", az, el)
	}

	sim.Respond(`\PE045`, "Invalid park elevation")
	if err := r.SetParkLocation(90, 45); !errors.Is(err, k3ng.ErrDeviceRejected) || !strings.Contains(err.Error(), "elevation") {
		t.Errorf("SetParkLocation = %v, want elevation rejection", err)
	}
	sim.Respond(`\P`, "Unable to park")
	if err := r.Park(); !errors.Is(err, k3ng.ErrDeviceRejected) {
		t.Errorf("Park() = %v, want %v", err, k3ng.ErrDeviceRejected)
	}
}

func TestAutopark(t *testing.T) {
	r, sim := newRotator(t)
	if got, err := r.Autopark(); err != nil || got != 0 {
		t.Errorf("Autopark() = %d, %v, want 0", got, err)
	}
	if err := r.SetAutopark(15); err != nil {
		t.Fatal(err)
	}
	if got, err := r.Autopark(); err != nil || got != 15 {
		t.Errorf("Autopark() = %d, %v, want 15", got, err)
	}
	if err := r.SetAutopark(0); err != nil {
		t.Fatal(err)
	}
	for _, m := range []int{-1, 10000} {
		if err := r.SetAutopark(m); !errors.Is(err, k3ng.ErrValidation) {
			t.Errorf("SetAutopark(%d) = %v, want %v", m, err, k3ng.ErrValidation)
		}
	}
	sim.Respond(`\Y0`, "Autopark on")
	if err := r.SetAutopark(0); !errors.Is(err, k3ng.ErrDeviceRejected) {
		t.Errorf("SetAutopark(0) = %v, want %v", err, k3ng.ErrDeviceRejected)
	}
	sim.Respond(`\Y 0005`, "Autopark on, timer 50 minutes")
	if err := r.SetAutopark(5); !errors.Is(err, k3ng.ErrDeviceRejected) {
		t.Errorf("SetAutopark(5) = %v, want %v", err, k3ng.ErrDeviceRejected)
	}
}

func TestTLEStore(t *testing.T) {
	r, _ := newRotator(t)
	if err := r.LoadTLE(iss); err != nil {
		t.Fatal(err)
	}
	// Uploading the same title again replaces it.
	if err := r.LoadTLE(iss); err != nil {
		t.Fatal(err)
	}
	tles, err := r.TLEs()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tles, []k3ng.TLE{iss.TLE}); diff != "" {
		t.Errorf("unexpected TLEs: got(-)/want(+):\n%s", diff)
	}
	trackable, err := r.Trackable()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(trackable, []string{"Trackable satellites:", "ISSZARYA    AOS in ~15m"}); diff != "" {
		t.Errorf("unexpected trackable: got(-)/want(+):\n%s", diff)
	}
	if err := r.ClearTLEs(); err != nil {
		t.Fatal(err)
	}
	if tles, err := r.TLEs(); err != nil || len(tles) != 0 {
		t.Errorf("TLEs() after clear = %v, %v", tles, err)
	}
}

func TestLoadTLENormalizesTitle(t *testing.T) {
	r, _ := newRotator(t)
	raw := k3ng.Satellite{ID: 25544, TLE: k3ng.NewTLE("0 ISS (ZARYA)", iss.TLE.LineOne, iss.TLE.LineTwo)}
	if err := r.LoadTLE(raw); err != nil {
		t.Fatal(err)
	}
	tles, err := r.TLEs()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tles, []k3ng.TLE{iss.TLE}); diff != "" {
		t.Errorf("unexpected TLEs: got(-)/want(+):\n%s", diff)
	}
	if err := r.SelectSatellite(raw); err != nil {
		t.Errorf("SelectSatellite(%q) = %v", raw.TLE.Title, err)
	}
	if pass, err := r.NextPass(raw); err != nil || pass[0] != "ISSZARYA" {
		t.Errorf("NextPass(%q) = %q, %v", raw.TLE.Title, pass, err)
	}
}

func TestLoadTLEErrors(t *testing.T) {
	r, sim := newRotator(t)
	bad := iss
	bad.TLE.LineOne = "x"
	if err := r.LoadTLE(bad); !errors.Is(err, k3ng.ErrValidation) {
		t.Errorf("LoadTLE(bad) = %v, want %v", err, k3ng.ErrValidation)
	}

	sim.SetMaxTLEs(0)
	if err := r.LoadTLE(iss); !errors.Is(err, k3ng.ErrDeviceRejected) || !strings.Contains(err.Error(), "truncated") {
		t.Errorf("LoadTLE(full) = %v, want truncated rejection", err)
	}

	sim.SetMaxTLEs(8)
	sim.CorruptNextUpload()
	if err := r.LoadTLE(iss); !errors.Is(err, k3ng.ErrDeviceRejected) || !strings.Contains(err.Error(), "corrupt") {
		t.Errorf("LoadTLE(corrupt) = %v, want corrupt rejection", err)
	}
	if err := r.LoadTLE(iss); err != nil {
		t.Errorf("LoadTLE after corrupt upload = %v", err)
	}

	sim.Respond(`\#`)
	if err := r.LoadTLE(iss); err == nil {
		t.Error("LoadTLE with upload ignored succeeded")
	}
}

func TestTracking(t *testing.T) {
	r, sim := newRotator(t)
	if _, err := r.TrackingStatus(); !errors.Is(err, k3ng.ErrMalformedResponse) {
		t.Errorf("TrackingStatus() with nothing selected = %v, want %v", err, k3ng.ErrMalformedResponse)
	}
	if err := r.EnableTracking(); !errors.Is(err, k3ng.ErrDeviceRejected) {
		t.Errorf("EnableTracking() with nothing selected = %v, want %v", err, k3ng.ErrDeviceRejected)
	}
	if err := r.SelectSatellite(iss); !errors.Is(err, k3ng.ErrDeviceRejected) {
		t.Errorf("SelectSatellite() before upload = %v, want %v", err, k3ng.ErrDeviceRejected)
	}

	sim.SetPosition(10, 0)
	status, err := r.LoadAndTrack(iss)
	if err != nil {
		t.Fatal(err)
	}
	if !sim.Tracking() {
		t.Error("simulator is not tracking")
	}
	want := k3ng.TrackingStatus{
		SatName:    "ISSZARYA",
		SatState:   k3ng.LOS,
		IsTracking: true,
		Azimuth:    10,
		Latitude:   42.36,
		Longitude:  -71.09,
		NextPass: k3ng.PassInfo{
			StartTime:    epoch.Add(15 * time.Minute),
			StartAzimuth: 10,
			EndTime:      epoch.Add(27 * time.Minute),
			EndAzimuth:   200,
			MaxElevation: 60,
		},
		NextEvent:     k3ng.AOS,
		NextEventMins: 15,
	}
	if diff := cmp.Diff(status, want); diff != "" {
		t.Errorf("unexpected status: got(-)/want(+):\n%s", diff)
	}

	pass, err := r.NextPass(iss)
	if err != nil {
		t.Fatal(err)
	}
	if len(pass) != 2 || pass[0] != "ISSZARYA" {
		t.Errorf("NextPass() = %q", pass)
	}
	if _, err := k3ng.ParsePassInfo(pass[1]); err != nil {
		t.Errorf("NextPass() pass line: %v", err)
	}

	if err := r.DisableTracking(); err != nil {
		t.Fatal(err)
	}
	if sim.Tracking() {
		t.Error("simulator is still tracking")
	}
}

func TestAnalog(t *testing.T) {
	r, sim := newRotator(t)
	got, err := r.RawAnalog(3)
	if err != nil {
		t.Fatal(err)
	}
	if got != 312 {
		t.Errorf("RawAnalog(3) = %d, want 312", got)
	}
	sim.SetAnalog(1, 512)
	v, err := r.RawVoltage(1, k3ng.DefaultVref, k3ng.DefaultADCBits)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2.5 {
		t.Errorf("RawVoltage(1) = %v, want 2.5", v)
	}
	for _, pin := range []int{-1, 6} {
		if _, err := r.RawAnalog(pin); !errors.Is(err, k3ng.ErrValidation) {
			t.Errorf("RawAnalog(%d) = %v, want %v", pin, err, k3ng.ErrValidation)
		}
	}
	if _, err := r.RawVoltage(1, 5, 0); !errors.Is(err, k3ng.ErrValidation) {
		t.Errorf("RawVoltage(bits=0) = %v, want %v", err, k3ng.ErrValidation)
	}
}

func TestErrorKinds(t *testing.T) {
	for _, sentinel := range []error{
		k3ng.ErrLinkUnavailable,
		k3ng.ErrNoResponse,
		k3ng.ErrMalformedResponse,
		k3ng.ErrDeviceRejected,
		k3ng.ErrValidation,
		k3ng.ErrTimeDrift,
	} {
		kind := k3ng.Kind(wrap(sentinel))
		if kind == "" {
			t.Errorf("Kind(%v) is empty", sentinel)
		}
		if got := k3ng.KindError(kind); got != sentinel {
			t.Errorf("KindError(%q) = %v, want %v", kind, got, sentinel)
		}
	}
	if k := k3ng.Kind(errors.New("other")); k != "" {
		t.Errorf("Kind(other) = %q", k)
	}
}

func wrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func TestOpenMissingPort(t *testing.T) {
	if _, err := k3ng.Open("/dev/does-not-exist-k3ng", nil); !errors.Is(err, k3ng.ErrLinkUnavailable) {
		t.Errorf("Open = %v, want %v", err, k3ng.ErrLinkUnavailable)
	}
}
