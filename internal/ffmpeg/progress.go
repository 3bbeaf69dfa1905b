package ffmpeg

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// The engine's -progress stream is a sequence of key=value lines.
// Only two keys matter here: the total duration declaration and the
// current position.
const (
	keyDuration = "duration"
	keyPosition = "out_time"

	// notAvailable is the sentinel ffmpeg emits when a value is
	// unknown, e.g. for live or headerless inputs.
	notAvailable = "N/A"
)

// Tracker accumulates duration/position declarations from progress
// lines and derives a percentage. Zero value is ready to use.
type Tracker struct {
	duration time.Duration
	position time.Duration
}

// Observe consumes one progress line. It returns the derived
// percentage and true when the line moved the position and the total
// duration is known. Malformed and N/A values are not errors: they
// leave the tracker unchanged and report false.
func (t *Tracker) Observe(line string) (int, bool) {
	key, value, found := strings.Cut(line, "=")
	if !found {
		return 0, false
	}
	switch strings.TrimSpace(key) {
	case keyDuration:
		if d, ok := ParseTimestamp(value); ok {
			t.duration = d
		}
	case keyPosition:
		if p, ok := ParseTimestamp(value); ok {
			t.position = p
			if t.duration > 0 {
				return Percent(t.position, t.duration), true
			}
		}
	}
	return 0, false
}

// Percent maps a position within a total duration onto the reported
// progress scale. The contract is exactly
//
//	min(90, round(position/duration * 80) + 10)
//
// floored at 10: 0-10 is reserved for the queued phase and 90-100 for
// finalization, so a job never reads 100% before its process actually
// exited, regardless of the real completion ratio.
func Percent(position, duration time.Duration) int {
	if duration <= 0 {
		return 10
	}
	ratio := float64(position) / float64(duration)
	if ratio < 0 {
		ratio = 0
	}
	pct := int(math.Round(ratio*80)) + 10
	if pct > 90 {
		pct = 90
	}
	return pct
}

// ParseTimestamp parses the engine's HH:MM:SS.ffffff timestamps.
// The N/A sentinel and anything malformed yield ok == false.
func ParseTimestamp(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == notAvailable {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, false
	}
	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return d, true
}
