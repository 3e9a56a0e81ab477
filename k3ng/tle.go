package k3ng

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// TLE is a titled two-line element set.
type TLE struct {
	Title   string `json:"title"`
	LineOne string `json:"line_one"`
	LineTwo string `json:"line_two"`
}

// NewTLE trims each line. The title is otherwise left alone.
func NewTLE(title, lineOne, lineTwo string) TLE {
	return TLE{
		Title:   strings.TrimSpace(title),
		LineOne: strings.TrimSpace(lineOne),
		LineTwo: strings.TrimSpace(lineTwo),
	}
}

// Lines returns the element set in upload order.
func (t TLE) Lines() []string {
	return []string{t.Title, t.LineOne, t.LineTwo}
}

func (t TLE) String() string {
	return strings.Join(t.Lines(), "\n")
}

func (t TLE) valid() bool {
	return t.Title != "" && strings.HasPrefix(t.LineOne, "1 ") && strings.HasPrefix(t.LineTwo, "2 ")
}

// ParseTLE decodes exactly one element set from three lines.
func ParseTLE(lines []string) (TLE, error) {
	if len(lines) != 3 {
		return TLE{}, fmt.Errorf("%w: element set has %d lines, want 3", ErrMalformedResponse, len(lines))
	}
	t := NewTLE(lines[0], lines[1], lines[2])
	if !t.valid() {
		return TLE{}, fmt.Errorf("%w: bad element set %q", ErrMalformedResponse, lines)
	}
	return t, nil
}

// ReadTLE reads the first element set from r, skipping blank lines.
func ReadTLE(r io.Reader) (TLE, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() && len(lines) < 3 {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return TLE{}, fmt.Errorf("reading element set: %w", err)
	}
	return ParseTLE(lines)
}

// parseTLEList decodes the stored element listing: a header line followed by
// three-line records through the end of input.
func parseTLEList(lines []string) ([]TLE, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty element listing", ErrNoResponse)
	}
	var tles []TLE
	i := 1
	for i < len(lines) {
		if i+2 >= len(lines) {
			return nil, fmt.Errorf("%w: truncated element set at line %d", ErrMalformedResponse, i)
		}
		t, err := ParseTLE(lines[i : i+3])
		if err != nil {
			return nil, err
		}
		tles = append(tles, t)
		i += 3
	}
	return tles, nil
}

// Satellite is a NORAD catalog entry with its element set.
type Satellite struct {
	ID  int `json:"id"`
	TLE TLE `json:"tle"`
}

var titleStrip = regexp.MustCompile(`[^A-Za-z0-9]+`)

// NormalizeTitle drops a leading "0 " line number and every character the
// controller's file system rejects.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.TrimPrefix(title, "0 ")
	return titleStrip.ReplaceAllString(title, "")
}

// NewSatellite builds a Satellite with a normalized title.
func NewSatellite(id int, tle TLE) Satellite {
	tle = NewTLE(tle.Title, tle.LineOne, tle.LineTwo)
	tle.Title = NormalizeTitle(tle.Title)
	return Satellite{ID: id, TLE: tle}
}

// UnmarshalJSON decodes a Satellite and normalizes its title like
// NewSatellite.
func (s *Satellite) UnmarshalJSON(data []byte) error {
	type plain Satellite
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = NewSatellite(p.ID, p.TLE)
	return nil
}

func (s Satellite) prefix(n int) string {
	if len(s.TLE.Title) < n {
		return s.TLE.Title
	}
	return s.TLE.Title[:n]
}
