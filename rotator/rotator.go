// Package rotator describes az/el positioners independent of their wire protocol.
package rotator

// Rotator is a positioner that can report and command its pointing.
type Rotator interface {
	Azimuth() (float64, error)
	Elevation() (float64, error)
	SetAzimuth(angle float64) error
	SetElevation(angle float64) error
	Stop() error
}

// Mover jogs the axes until stopped.
type Mover interface {
	Up() error
	Down() error
	Left() error
	Right() error
}

// Position is a pointing snapshot in decimal degrees.
type Position struct {
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
}

// Read returns the current position of r.
func Read(r Rotator) (Position, error) {
	az, err := r.Azimuth()
	if err != nil {
		return Position{}, err
	}
	el, err := r.Elevation()
	if err != nil {
		return Position{}, err
	}
	return Position{Azimuth: az, Elevation: el}, nil
}

// Goto commands both axes.
func Goto(r Rotator, p Position) error {
	if err := r.SetAzimuth(p.Azimuth); err != nil {
		return err
	}
	return r.SetElevation(p.Elevation)
}
