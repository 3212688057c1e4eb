package lighting

import (
	"time"

	"goldenhour/internal/solar"
)

// Snapshot is everything the presentation layer shows for one tick
type Snapshot struct {
	Now        time.Time            `json:"now"`
	Coordinate *solar.Coordinate    `json:"coordinate,omitempty"`
	Loading    bool                 `json:"loading"`
	Error      string               `json:"error,omitempty"`
	State      solar.LightingState  `json:"state,omitempty"`
	Next       *solar.UpcomingEvent `json:"next_event,omitempty"`
	Countdown  string               `json:"countdown,omitempty"`
	Windows    *solar.Windows       `json:"windows,omitempty"`
	Polar      solar.Polar          `json:"polar,omitempty"`
}

// Located reports whether a coordinate is known
func (s Snapshot) Located() bool {
	return s.Coordinate != nil
}
