package solar

import (
	"errors"
	"fmt"
	"time"
)

const (
	// GoldenHourMargin is the length of each golden-hour window
	GoldenHourMargin = 30 * time.Minute

	// BlueHourMargin is the length of each blue-hour window
	BlueHourMargin = 20 * time.Minute
)

// WindowKind names one of the four daily lighting windows
type WindowKind string

const (
	MorningBlue   WindowKind = "morning_blue"
	MorningGolden WindowKind = "morning_golden"
	EveningGolden WindowKind = "evening_golden"
	EveningBlue   WindowKind = "evening_blue"
)

// Label returns a human readable name for the window
func (k WindowKind) Label() string {
	switch k {
	case MorningBlue:
		return "Morning blue hour"
	case MorningGolden:
		return "Morning golden hour"
	case EveningGolden:
		return "Evening golden hour"
	case EveningBlue:
		return "Evening blue hour"
	default:
		return string(k)
	}
}

// Polar describes why a day has no sunrise/sunset
type Polar string

const (
	PolarNone        Polar = ""
	PolarMidnightSun Polar = "midnight_sun"
	PolarNight       Polar = "polar_night"
)

// Window is a named interval [Start, End)
type Window struct {
	Kind  WindowKind `json:"kind"`
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
}

// Contains reports whether t lies within the window, endpoints included.
// Classification treats windows as closed intervals.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Windows is the set of lighting windows for one date at one coordinate
type Windows struct {
	Date          Date       `json:"date"`
	Coordinate    Coordinate `json:"coordinate"`
	Sunrise       time.Time  `json:"sunrise"`
	Sunset        time.Time  `json:"sunset"`
	MorningBlue   Window     `json:"morning_blue"`
	MorningGolden Window     `json:"morning_golden"`
	EveningGolden Window     `json:"evening_golden"`
	EveningBlue   Window     `json:"evening_blue"`
	Polar         Polar      `json:"polar,omitempty"`
}

// Degenerate reports whether the day has no sunrise/sunset and therefore no windows
func (w Windows) Degenerate() bool {
	return w.Polar != PolarNone
}

// Chronological returns the four windows ordered by start time
func (w Windows) Chronological() []Window {
	if w.Degenerate() {
		return nil
	}
	return []Window{w.MorningBlue, w.MorningGolden, w.EveningGolden, w.EveningBlue}
}

// In returns a copy of the windows with every instant converted to loc
func (w Windows) In(loc *time.Location) Windows {
	if w.Degenerate() {
		return w
	}
	conv := func(win Window) Window {
		return Window{Kind: win.Kind, Start: win.Start.In(loc), End: win.End.In(loc)}
	}
	w.Sunrise = w.Sunrise.In(loc)
	w.Sunset = w.Sunset.In(loc)
	w.MorningBlue = conv(w.MorningBlue)
	w.MorningGolden = conv(w.MorningGolden)
	w.EveningGolden = conv(w.EveningGolden)
	w.EveningBlue = conv(w.EveningBlue)
	return w
}

// WindowsFromInstants derives the four windows from sunrise and sunset.
// No correction is attempted when the windows would overlap.
func WindowsFromInstants(date Date, coord Coordinate, in Instants) Windows {
	return Windows{
		Date:       date,
		Coordinate: coord,
		Sunrise:    in.Sunrise,
		Sunset:     in.Sunset,
		MorningBlue: Window{
			Kind:  MorningBlue,
			Start: in.Sunrise.Add(-BlueHourMargin),
			End:   in.Sunrise,
		},
		MorningGolden: Window{
			Kind:  MorningGolden,
			Start: in.Sunrise,
			End:   in.Sunrise.Add(GoldenHourMargin),
		},
		EveningGolden: Window{
			Kind:  EveningGolden,
			Start: in.Sunset.Add(-GoldenHourMargin),
			End:   in.Sunset,
		},
		EveningBlue: Window{
			Kind:  EveningBlue,
			Start: in.Sunset,
			End:   in.Sunset.Add(BlueHourMargin),
		},
	}
}

// ComputeWindows asks the provider for the date's sunrise and sunset and
// derives the lighting windows. A day without sunrise or sunset yields
// degenerate windows with Polar set rather than an error.
func ComputeWindows(p Provider, date Date, coord Coordinate) (Windows, error) {
	if err := coord.Validate(); err != nil {
		return Windows{}, err
	}

	in, err := p.SunriseSunset(date, coord)
	switch {
	case errors.Is(err, ErrPolarDay):
		return Windows{Date: date, Coordinate: coord, Polar: PolarMidnightSun}, nil
	case errors.Is(err, ErrPolarNight):
		return Windows{Date: date, Coordinate: coord, Polar: PolarNight}, nil
	case err != nil:
		return Windows{}, fmt.Errorf("failed to calculate sunrise/sunset for %s at %s: %w", date, coord, err)
	}

	return WindowsFromInstants(date, coord, in), nil
}
