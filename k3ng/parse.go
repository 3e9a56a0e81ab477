package k3ng

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignalState is loss or acquisition of signal.
type SignalState int

const (
	LOS SignalState = iota
	AOS
)

func (s SignalState) String() string {
	switch s {
	case LOS:
		return "LOS"
	case AOS:
		return "AOS"
	}
	return fmt.Sprintf("SignalState(%d)", int(s))
}

// ParseSignalState decodes "AOS" or "LOS" in any case.
func ParseSignalState(text string) (SignalState, error) {
	switch strings.ToUpper(text) {
	case "LOS":
		return LOS, nil
	case "AOS":
		return AOS, nil
	}
	return 0, fmt.Errorf("%w: state %q is not in [AOS | LOS]", ErrMalformedResponse, text)
}

func (s SignalState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SignalState) UnmarshalText(text []byte) error {
	v, err := ParseSignalState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

const deviceTime = "2006-01-02 15:04:05"

// parseDeviceTime reads the controller's "YYYY-MM-DD HH:MM:SS" clock format,
// which some builds suffix with Z. Times are UTC.
func parseDeviceTime(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation(deviceTime, date+" "+strings.TrimSuffix(clock, "Z"), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return t, nil
}

// PassInfo is the next predicted pass of the selected satellite.
type PassInfo struct {
	StartTime    time.Time `json:"start_time"`
	StartAzimuth int       `json:"start_azimuth"`
	EndTime      time.Time `json:"end_time"`
	EndAzimuth   int       `json:"end_azimuth"`
	MaxElevation int       `json:"max_elevation"`
}

func intField(token, prefix string) (int, error) {
	if !strings.HasPrefix(token, prefix) {
		return 0, fmt.Errorf("%w: %q does not start with %q", ErrMalformedResponse, token, prefix)
	}
	v, err := strconv.Atoi(token[len(prefix):])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return v, nil
}

func floatField(token, prefix string) (float64, error) {
	if !strings.HasPrefix(token, prefix) {
		return 0, fmt.Errorf("%w: %q does not start with %q", ErrMalformedResponse, token, prefix)
	}
	v, err := strconv.ParseFloat(token[len(prefix):], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return v, nil
}

// passEvent reads "AOS:YYYY-MM-DD HH:MM:SS" starting at tokens[i]. Some
// firmware builds put a one-letter marker between the colon and the date
// ("AOS:D YYYY-MM-DD ..."). It returns the index of the next token.
func passEvent(tokens []string, i int, prefix string) (time.Time, int, error) {
	if i >= len(tokens) || !strings.HasPrefix(tokens[i], prefix) {
		return time.Time{}, 0, fmt.Errorf("%w: missing %q field", ErrMalformedResponse, prefix)
	}
	date := tokens[i][len(prefix):]
	i++
	if len(date) != len("2006-01-02") {
		if i >= len(tokens) {
			return time.Time{}, 0, fmt.Errorf("%w: truncated %q field", ErrMalformedResponse, prefix)
		}
		date = tokens[i]
		i++
	}
	if i >= len(tokens) {
		return time.Time{}, 0, fmt.Errorf("%w: truncated %q field", ErrMalformedResponse, prefix)
	}
	t, err := parseDeviceTime(date, tokens[i])
	if err != nil {
		return time.Time{}, 0, err
	}
	return t, i + 1, nil
}

// ParsePassInfo decodes
//
//	Next AOS:YYYY-MM-DD HH:MM:SS Az:NN LOS:YYYY-MM-DD HH:MM:SS Az:NN Max El:NN
func ParsePassInfo(line string) (PassInfo, error) {
	var p PassInfo
	tokens := strings.Fields(line)
	if len(tokens) == 0 || tokens[0] != "Next" {
		return p, fmt.Errorf("%w: pass line %q", ErrMalformedResponse, line)
	}
	start, i, err := passEvent(tokens, 1, "AOS:")
	if err != nil {
		return p, err
	}
	if i >= len(tokens) {
		return p, fmt.Errorf("%w: pass line %q", ErrMalformedResponse, line)
	}
	startAz, err := intField(tokens[i], "Az:")
	if err != nil {
		return p, err
	}
	end, i, err := passEvent(tokens, i+1, "LOS:")
	if err != nil {
		return p, err
	}
	if i+2 >= len(tokens) || tokens[i+1] != "Max" {
		return p, fmt.Errorf("%w: pass line %q", ErrMalformedResponse, line)
	}
	endAz, err := intField(tokens[i], "Az:")
	if err != nil {
		return p, err
	}
	maxEl, err := intField(tokens[i+2], "El:")
	if err != nil {
		return p, err
	}
	return PassInfo{
		StartTime:    start,
		StartAzimuth: startAz,
		EndTime:      end,
		EndAzimuth:   endAz,
		MaxElevation: maxEl,
	}, nil
}

// ParseMinutes decodes a time to event such as "~45m" or "~1h30m".
func ParseMinutes(text string) (int, error) {
	s := strings.ReplaceAll(text, "~", "")
	if !strings.HasSuffix(s, "m") {
		return 0, fmt.Errorf("%w: duration %q", ErrMalformedResponse, text)
	}
	s = strings.TrimSuffix(s, "m")
	hours := 0
	if h := strings.Index(s, "h"); h >= 0 {
		var err error
		if hours, err = strconv.Atoi(s[:h]); err != nil {
			return 0, fmt.Errorf("%w: duration %q", ErrMalformedResponse, text)
		}
		s = s[h+1:]
	}
	mins, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", ErrMalformedResponse, text)
	}
	return hours*60 + mins, nil
}

// TrackingStatus is the controller's satellite tracking report.
type TrackingStatus struct {
	SatName       string      `json:"satname"`
	SatState      SignalState `json:"sat_state"`
	IsTracking    bool        `json:"is_tracking"`
	Azimuth       float64     `json:"cur_az"`
	Elevation     float64     `json:"cur_el"`
	Latitude      float64     `json:"cur_lat"`
	Longitude     float64     `json:"cur_long"`
	NextPass      PassInfo    `json:"next_pass"`
	NextEvent     SignalState `json:"next_event"`
	NextEventMins int         `json:"next_event_mins"`
}

// ParseTrackingStatus decodes the four line block
//
//	Satellite:NAME
//	AZ:NN EL:NN Lat:NN.NN Long:NN.NN (AOS|LOS) TRACKING_(ACTIVE|INACTIVE)
//	Next AOS:... (see ParsePassInfo)
//	(AOS|LOS) in ~XhYm
func ParseTrackingStatus(lines []string) (TrackingStatus, error) {
	var s TrackingStatus
	if len(lines) < 4 {
		return s, fmt.Errorf("%w: tracking status has %d lines, want 4", ErrMalformedResponse, len(lines))
	}
	const satPrefix = "Satellite:"
	if !strings.HasPrefix(lines[0], satPrefix) {
		return s, fmt.Errorf("%w: satellite line %q", ErrMalformedResponse, lines[0])
	}
	name := strings.TrimSpace(lines[0][len(satPrefix):])

	info := strings.Fields(lines[1])
	if len(info) < 6 {
		return s, fmt.Errorf("%w: position line %q", ErrMalformedResponse, lines[1])
	}
	az, err := floatField(info[0], "AZ:")
	if err != nil {
		return s, err
	}
	el, err := floatField(info[1], "EL:")
	if err != nil {
		return s, err
	}
	lat, err := floatField(info[2], "Lat:")
	if err != nil {
		return s, err
	}
	long, err := floatField(info[3], "Long:")
	if err != nil {
		return s, err
	}
	state, err := ParseSignalState(info[4])
	if err != nil {
		return s, err
	}
	var tracking bool
	switch info[5] {
	case "TRACKING_ACTIVE":
		tracking = true
	case "TRACKING_INACTIVE":
	default:
		return s, fmt.Errorf("%w: tracking flag %q", ErrMalformedResponse, info[5])
	}

	pass, err := ParsePassInfo(lines[2])
	if err != nil {
		return s, err
	}

	event := strings.Fields(lines[3])
	if len(event) < 3 {
		return s, fmt.Errorf("%w: event line %q", ErrMalformedResponse, lines[3])
	}
	next, err := ParseSignalState(event[0])
	if err != nil {
		return s, err
	}
	mins, err := ParseMinutes(event[2])
	if err != nil {
		return s, err
	}

	return TrackingStatus{
		SatName:       name,
		SatState:      state,
		IsTracking:    tracking,
		Azimuth:       az,
		Elevation:     el,
		Latitude:      lat,
		Longitude:     long,
		NextPass:      pass,
		NextEvent:     next,
		NextEventMins: mins,
	}, nil
}

// parseAngle strips the zero padding of a fixed-width angle field.
func parseAngle(payload string) (float64, error) {
	s := strings.Trim(payload, "0")
	if s == "" || s == "." {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: angle %q", ErrMalformedResponse, payload)
	}
	return v, nil
}

// ParseAzimuth decodes an azimuth payload.
func ParseAzimuth(payload string) (float64, error) {
	return parseAngle(payload)
}

// ParseElevation decodes an elevation payload. The firmware renders zero
// elevation as "0-0.", which is rewritten before the padding is stripped.
func ParseElevation(payload string) (float64, error) {
	return parseAngle(strings.ReplaceAll(payload, "0-0.", "00."))
}
