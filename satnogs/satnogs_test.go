package satnogs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/k3ng_interface/k3ng"
)

func TestSatellite(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("format") != "json" {
			http.Error(w, "bad format", http.StatusBadRequest)
			return
		}
		switch q.Get("norad_cat_id") {
		case "25544":
			w.Write([]byte(`[{
				"tle0": "0 ISS (ZARYA)",
				"tle1": "1 25544U 98067A   24001.50000000  .00016717  00000-0  10270-3 0  9005",
				"tle2": "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.49823156432233"
			}]`))
		case "1":
			w.Write([]byte(`[]`))
		case "2":
			w.Write([]byte(`{`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()
	c := NewClient(ts.URL)

	sat, err := c.Satellite(context.Background(), 25544)
	if err != nil {
		t.Fatal(err)
	}
	want := k3ng.Satellite{ID: 25544, TLE: k3ng.TLE{
		Title:   "ISSZARYA",
		LineOne: "1 25544U 98067A   24001.50000000  .00016717  00000-0  10270-3 0  9005",
		LineTwo: "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.49823156432233",
	}}
	if diff := cmp.Diff(sat, want); diff != "" {
		t.Errorf("unexpected satellite: got(-)/want(+):\n%s", diff)
	}

	for _, test := range []struct {
		id   int
		want string
	}{
		{1, "no TLE"},
		{2, "decoding"},
		{3, "status code 404"},
	} {
		if _, err := c.Satellite(context.Background(), test.id); err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("Satellite(%d) = %v, want error containing %q", test.id, err, test.want)
		}
	}
}

func TestDefaultURL(t *testing.T) {
	if got := NewClient("").baseURL; got != DefaultURL {
		t.Errorf("baseURL = %q, want %q", got, DefaultURL)
	}
}
