package lighting

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"goldenhour/internal/solar"
)

// Renderer presents a snapshot
type Renderer interface {
	Render(Snapshot)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(Snapshot)

func (f RendererFunc) Render(s Snapshot) { f(s) }

// TerminalRenderer rewrites a single status line on w
type TerminalRenderer struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

// NewTerminalRenderer creates a renderer writing to w
func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w}
}

// Render implements Renderer. Unchanged lines are not rewritten.
func (r *TerminalRenderer) Render(s Snapshot) {
	line := StatusLine(s)

	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.last {
		return
	}
	r.last = line
	fmt.Fprintf(r.w, "\r\033[K%s", line)
}

// StatusLine formats a snapshot as one line of text
func StatusLine(s Snapshot) string {
	if !s.Located() {
		switch {
		case s.Loading:
			return "Locating..."
		case s.Error != "":
			return "Location unavailable: " + s.Error
		default:
			return "Waiting for location"
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.Now.Format("15:04:05"), stateLabel(s.State))

	switch s.Polar {
	case solar.PolarMidnightSun:
		b.WriteString(" (midnight sun)")
	case solar.PolarNight:
		b.WriteString(" (polar night)")
	}

	if s.Next != nil {
		when := s.Next.At.Format("15:04")
		if s.Next.NextDay {
			when = s.Next.At.Format("Mon 15:04")
		}
		fmt.Fprintf(&b, " | %s in %s (%s)", s.Next.Label, s.Countdown, when)
	}

	fmt.Fprintf(&b, " | %.4f, %.4f", s.Coordinate.Latitude, s.Coordinate.Longitude)

	if s.Loading {
		b.WriteString(" | locating...")
	} else if s.Error != "" {
		b.WriteString(" | " + s.Error)
	}
	return b.String()
}

func stateLabel(state solar.LightingState) string {
	switch state {
	case solar.StateGolden:
		return "Golden hour"
	case solar.StateBlue:
		return "Blue hour"
	case solar.StateDay:
		return "Regular light"
	default:
		return string(state)
	}
}
