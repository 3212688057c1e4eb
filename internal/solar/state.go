package solar

import "time"

// LightingState is the photographic lighting condition at an instant
type LightingState string

const (
	StateGolden LightingState = "golden"
	StateBlue   LightingState = "blue"
	StateDay    LightingState = "day"
)

// Classify returns the lighting state at now for the given day's windows.
// Golden is checked before blue, so sunrise and sunset themselves count as golden.
func Classify(now time.Time, w Windows) LightingState {
	if w.Degenerate() {
		return StateDay
	}

	switch {
	case w.MorningGolden.Contains(now), w.EveningGolden.Contains(now):
		return StateGolden
	case w.MorningBlue.Contains(now), w.EveningBlue.Contains(now):
		return StateBlue
	default:
		return StateDay
	}
}

// AllStates lists every lighting state
var AllStates = []LightingState{StateGolden, StateBlue, StateDay}
