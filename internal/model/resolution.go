package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Resolution is one supported candle width.
type Resolution struct {
	Name     string
	Duration time.Duration
}

// Supported resolutions.
var (
	Res1m  = Resolution{Name: "1m", Duration: time.Minute}
	Res5m  = Resolution{Name: "5m", Duration: 5 * time.Minute}
	Res15m = Resolution{Name: "15m", Duration: 15 * time.Minute}
	Res30m = Resolution{Name: "30m", Duration: 30 * time.Minute}
	Res1h  = Resolution{Name: "1h", Duration: time.Hour}
)

// AllResolutions lists every supported resolution, narrowest first.
var AllResolutions = []Resolution{Res1m, Res5m, Res15m, Res30m, Res1h}

var resolutionRegistry = make(map[string]Resolution, len(AllResolutions))

func init() {
	for _, r := range AllResolutions {
		resolutionRegistry[r.Name] = r
	}
}

// ParseResolution looks a resolution up by name ("1m", "5m", ...).
func ParseResolution(name string) (Resolution, error) {
	r, ok := resolutionRegistry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Resolution{}, fmt.Errorf("unsupported resolution: %q", name)
	}
	return r, nil
}

// ParseResolutions parses a list of names, failing on the first unknown one.
func ParseResolutions(names []string) ([]Resolution, error) {
	out := make([]Resolution, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		r, err := ParseResolution(n)
		if err != nil {
			return nil, err
		}
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out, nil
}

// Seconds returns the resolution width in whole seconds.
func (r Resolution) Seconds() int {
	return int(r.Duration / time.Second)
}

// Truncate floors t to the start of its bucket, using the wall clock of t's
// own location. Seconds are always dropped; minute widths floor the minute
// to a multiple of the width and the hourly width floors to the hour.
// Calendar fields are used instead of time.Truncate so that locations with
// non-hour offsets still bucket on local boundaries.
func (r Resolution) Truncate(t time.Time) time.Time {
	minute := t.Minute()
	switch {
	case r.Duration >= time.Hour:
		minute = 0
	case r.Duration > time.Minute:
		step := int(r.Duration / time.Minute)
		minute = minute / step * step
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}

func (r Resolution) String() string { return r.Name }

// SeriesKey identifies one candle series.
type SeriesKey struct {
	Symbol     string
	Resolution string
}

func (k SeriesKey) String() string {
	return k.Symbol + "_" + strings.ToUpper(k.Resolution)
}

var seriesName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidSymbol reports whether symbol can name a candle series (and so a
// storage table): ASCII letters, digits and underscores only.
func ValidSymbol(symbol string) bool { return seriesName.MatchString(symbol) }

// Valid reports whether the key's String form is a usable series name.
func (k SeriesKey) Valid() bool { return seriesName.MatchString(k.String()) }
