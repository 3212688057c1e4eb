package solar

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoUpcomingEvent is returned when no window starts within the lookahead horizon
var ErrNoUpcomingEvent = errors.New("no upcoming lighting event")

// maxLookaheadDays bounds the search for the next sunrise during polar night
const maxLookaheadDays = 366

// UpcomingEvent is the next window boundary strictly after now
type UpcomingEvent struct {
	Kind    WindowKind `json:"kind"`
	Label   string     `json:"label"`
	At      time.Time  `json:"at"`
	NextDay bool       `json:"next_day"`
}

// NextEvent finds the first window start strictly after now. When every
// boundary of the given day has passed, the provider is queried for the
// following dates and the first morning blue start is returned.
func NextEvent(now time.Time, coord Coordinate, today Windows, p Provider) (UpcomingEvent, error) {
	for _, w := range today.Chronological() {
		if w.Start.After(now) {
			return UpcomingEvent{Kind: w.Kind, Label: w.Kind.Label(), At: w.Start}, nil
		}
	}

	date := today.Date
	if date == (Date{}) {
		date = SolarDateOf(now, coord)
	}

	for i := 1; i <= maxLookaheadDays; i++ {
		next, err := ComputeWindows(p, date.AddDays(i), coord)
		if err != nil {
			return UpcomingEvent{}, fmt.Errorf("failed to compute windows for next event: %w", err)
		}
		if next.Degenerate() {
			continue
		}
		if start := next.MorningBlue.Start; start.After(now) {
			return UpcomingEvent{
				Kind:    MorningBlue,
				Label:   MorningBlue.Label(),
				At:      start,
				NextDay: true,
			}, nil
		}
	}

	return UpcomingEvent{}, ErrNoUpcomingEvent
}
