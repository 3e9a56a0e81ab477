package gateway

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func rotctldConn(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := net.Pipe()
	go s.handleRotctld(server)
	t.Cleanup(func() { client.Close() })
	client.SetDeadline(time.Now().Add(5 * time.Second))
	return client, bufio.NewReader(client)
}

func readLines(t *testing.T, r *bufio.Reader, n int) []string {
	t.Helper()
	var lines []string
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading line %d: %v", i, err)
		}
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
	return lines
}

func TestRotctld(t *testing.T) {
	s, _, sim := newGateway(t)
	sim.SetPosition(12.5, 3)
	conn, r := rotctldConn(t, s)
	for _, test := range []struct {
		cmd  string
		want []string
	}{
		{"p", []string{"12.500000", "3.000000"}},
		{`+\get_pos`, []string{"get_pos:", "Azimuth: 12.500000", "Elevation: 3.000000", "RPRT 0"}},
		{"_", []string{"2020.06.20.01"}},
		{`+\get_info`, []string{"get_info:", "Info: 2020.06.20.01", "RPRT 0"}},
		{"P -90 10", []string{"RPRT 0"}},
		{`\set_pos 270 10`, []string{"RPRT 0"}},
		{"P 90", []string{"RPRT -22"}},
		{"P abc 10", []string{"RPRT -22"}},
		{"M 2 50", []string{"RPRT 0"}},
		{"M 4 50", []string{"RPRT 0"}},
		{"M 8 50", []string{"RPRT 0"}},
		{"M 16 50", []string{"RPRT 0"}},
		{"M 3 50", []string{"RPRT -22"}},
		{"S", []string{"RPRT 0"}},
		{"K", []string{"RPRT 0"}},
		{"X", []string{"RPRT -1"}},
	} {
		if _, err := conn.Write([]byte(test.cmd + "\n")); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(readLines(t, r, len(test.want)), test.want); diff != "" {
			t.Errorf("%q: unexpected reply: got(-)/want(+):\n%s", test.cmd, diff)
		}
	}
}

func TestRotctldSetPos(t *testing.T) {
	s, _, sim := newGateway(t)
	conn, r := rotctldConn(t, s)
	if _, err := conn.Write([]byte("P -90 10\n")); err != nil {
		t.Fatal(err)
	}
	readLines(t, r, 1)
	sim.Step(time.Minute)
	az, el := sim.Position()
	if az != 270 || el != 10 {
		t.Errorf("position = %v, %v, want 270, 10", az, el)
	}
}

func TestRotctldCaps(t *testing.T) {
	s, _, _ := newGateway(t)
	conn, r := rotctldConn(t, s)
	if _, err := conn.Write([]byte(`\dump_caps` + "\n")); err != nil {
		t.Fatal(err)
	}
	lines := readLines(t, r, 14)
	if lines[0] != "Model name: K3NG" || lines[13] != "Can get Info: Y" {
		t.Errorf("unexpected caps: %q", lines)
	}
}

func TestRotctldErrors(t *testing.T) {
	s, _, sim := newGateway(t)
	conn, r := rotctldConn(t, s)
	sim.Respond(`\?SS`, `\!??SS`)
	sim.Respond(`\?AZ`, "garbage")
	sim.Respond(`\P`)
	for _, test := range []struct {
		cmd  string
		want string
	}{
		{"S", "RPRT -9"},
		{"p", "RPRT -8"},
		{"K", "RPRT -5"},
	} {
		if _, err := conn.Write([]byte(test.cmd + "\n")); err != nil {
			t.Fatal(err)
		}
		if got := readLines(t, r, 1)[0]; got != test.want {
			t.Errorf("%q = %q, want %q", test.cmd, got, test.want)
		}
	}
}
