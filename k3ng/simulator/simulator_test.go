package simulator

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// exchange writes each line with a carriage return and returns everything
// the simulator sent back, split into lines.
func exchange(t *testing.T, s *Simulator, lines ...string) []string {
	t.Helper()
	for _, line := range lines {
		if _, err := s.Write([]byte(line + "\r")); err != nil {
			t.Fatal(err)
		}
	}
	var out strings.Builder
	buf := make([]byte, 64)
	for {
		n, err := s.Read(buf)
		out.Write(buf[:n])
		if n == 0 || err != nil {
			break
		}
	}
	return strings.Split(strings.TrimSuffix(out.String(), "\r\n"), "\r\n")
}

func TestEcho(t *testing.T) {
	s := New()
	if diff := cmp.Diff(exchange(t, s, `\-`), []string{`\-`, "K3NG rotator controller"}); diff != "" {
		t.Errorf("unexpected output: got(-)/want(+):\n%s", diff)
	}
	s.SetEcho(false)
	if diff := cmp.Diff(exchange(t, s, `\?CV`), []string{`\!OKCV2020.06.20.01`}); diff != "" {
		t.Errorf("unexpected output: got(-)/want(+):\n%s", diff)
	}
}

func TestExtendedNeedsPrime(t *testing.T) {
	s := New()
	s.SetEcho(false)
	if got := exchange(t, s, `\?AZ`); len(got) != 1 || got[0] != "" {
		t.Errorf("unprimed extended command answered: %q", got)
	}
	exchange(t, s, `\-`)
	for _, test := range []struct {
		cmd  string
		want string
	}{
		{`\?AZ`, `\!OKAZ0000.00`},
		{`\?EL`, `\!OKEL00-0.00`},
		{`\?AR02`, `\!OKAR020212`},
		{`\?AR09`, `\!??AR`},
		{`\?GAxyz`, `\!??GA`},
		{`\?ZZ`, `\!??ZZ`},
	} {
		if diff := cmp.Diff(exchange(t, s, test.cmd), []string{test.want}); diff != "" {
			t.Errorf("%s: unexpected output: got(-)/want(+):\n%s", test.cmd, diff)
		}
	}
}

func TestUpload(t *testing.T) {
	s := New()
	s.SetEcho(false)
	got := exchange(t, s, `\#`, "NOAA19", "1 33591U", "2 33591", "")
	if diff := cmp.Diff(got, []string{"TLE file loaded", "NOAA19"}); diff != "" {
		t.Errorf("unexpected output: got(-)/want(+):\n%s", diff)
	}
	got = exchange(t, s, `\#`, "BROKEN", "3 x", "")
	if diff := cmp.Diff(got, []string{"TLE file is corrupt"}); diff != "" {
		t.Errorf("unexpected output: got(-)/want(+):\n%s", diff)
	}
	got = exchange(t, s, `\@`)
	if diff := cmp.Diff(got, []string{"TLE file:", "NOAA19", "1 33591U", "2 33591"}); diff != "" {
		t.Errorf("unexpected output: got(-)/want(+):\n%s", diff)
	}
}

func TestReboot(t *testing.T) {
	s := New()
	exchange(t, s, `\-`)
	exchange(t, s, `\Q`)
	if s.Primed() {
		t.Error("still primed after reboot")
	}
}

func TestClosed(t *testing.T) {
	s := New()
	s.Close()
	if _, err := s.Write([]byte(`\-` + "\r")); err != io.ErrClosedPipe {
		t.Errorf("Write after Close = %v", err)
	}
	if _, err := s.Read(make([]byte, 1)); err != io.ErrClosedPipe {
		t.Errorf("Read after Close = %v", err)
	}
}

func TestServo(t *testing.T) {
	target := 10.0
	for _, test := range []struct {
		name   string
		pos    float64
		vel    float64
		target *float64
		want   float64
	}{
		{"jog", 0, slewRate, nil, slewRate},
		{"approach", 0, 0, &target, slewRate},
		{"arrive", 8, 0, &target, 10},
		{"reverse", 20, 0, &target, 20 - slewRate},
	} {
		if got := servo(test.pos, test.vel, test.target, time.Second); got != test.want {
			t.Errorf("%s: servo = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestRun(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != context.DeadlineExceeded {
		t.Errorf("Run = %v, want %v", err, context.DeadlineExceeded)
	}
}
