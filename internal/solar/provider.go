package solar

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/sixdouglas/suncalc"
)

var (
	// ErrPolarDay is returned by a Provider when the sun never sets on the date
	ErrPolarDay = errors.New("sun does not set on this date")

	// ErrPolarNight is returned by a Provider when the sun never rises on the date
	ErrPolarNight = errors.New("sun does not rise on this date")
)

// Provider names accepted by NewProvider
const (
	ProviderSunrise = "sunrise"
	ProviderSuncalc = "suncalc"
)

// horizonAltitude is the apparent altitude of the sun's upper limb at
// sunrise/sunset once atmospheric refraction is accounted for (-0.833°)
const horizonAltitude = -0.833 * math.Pi / 180

// Instants holds sunrise and sunset for a specific date and coordinate
type Instants struct {
	Sunrise time.Time
	Sunset  time.Time
}

// Provider calculates sunrise and sunset for a calendar date at a coordinate.
// Implementations return ErrPolarDay or ErrPolarNight when either is undefined.
type Provider interface {
	SunriseSunset(date Date, coord Coordinate) (Instants, error)
}

// NewProvider returns the provider registered under name
func NewProvider(name string) (Provider, error) {
	switch name {
	case "", ProviderSunrise:
		return SunriseProvider{}, nil
	case ProviderSuncalc:
		return SuncalcProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown solar provider: %s", name)
	}
}

// SunriseProvider uses github.com/nathan-osman/go-sunrise
type SunriseProvider struct{}

// SunriseSunset implements Provider
func (SunriseProvider) SunriseSunset(date Date, coord Coordinate) (Instants, error) {
	if err := coord.Validate(); err != nil {
		return Instants{}, err
	}

	rise, set := sunrise.SunriseSunset(
		coord.Latitude, coord.Longitude,
		date.Year, date.Month, date.Day,
	)

	// go-sunrise returns zero times when the sun does not cross the horizon
	if rise.IsZero() || set.IsZero() || !rise.Before(set) {
		return Instants{}, polarCondition(date, coord)
	}

	return Instants{Sunrise: rise, Sunset: set}, nil
}

// SuncalcProvider uses github.com/sixdouglas/suncalc
type SuncalcProvider struct{}

// SunriseSunset implements Provider
func (SuncalcProvider) SunriseSunset(date Date, coord Coordinate) (Instants, error) {
	if err := coord.Validate(); err != nil {
		return Instants{}, err
	}

	noon := solarNoonApprox(date, coord)
	times := suncalc.GetTimes(noon, coord.Latitude, coord.Longitude)

	rise, okRise := times[suncalc.Sunrise]
	set, okSet := times[suncalc.Sunset]
	if !okRise || !okSet || !plausible(rise.Value, noon) || !plausible(set.Value, noon) || !rise.Value.Before(set.Value) {
		return Instants{}, polarCondition(date, coord)
	}

	return Instants{Sunrise: rise.Value.UTC(), Sunset: set.Value.UTC()}, nil
}

// solarNoonApprox estimates local solar noon in UTC from the longitude alone
func solarNoonApprox(date Date, coord Coordinate) time.Time {
	offset := time.Duration(coord.Longitude / 15 * float64(time.Hour))
	return date.Noon().Add(-offset)
}

// plausible rejects the NaN-derived garbage suncalc produces when the sun
// never reaches the horizon
func plausible(t, noon time.Time) bool {
	if t.IsZero() {
		return false
	}
	d := t.Sub(noon)
	return d > -24*time.Hour && d < 24*time.Hour
}

// polarCondition decides between polar day and polar night from the sun's
// altitude at solar noon
func polarCondition(date Date, coord Coordinate) error {
	pos := suncalc.GetPosition(solarNoonApprox(date, coord), coord.Latitude, coord.Longitude)
	if pos.Altitude > horizonAltitude {
		return ErrPolarDay
	}
	return ErrPolarNight
}
