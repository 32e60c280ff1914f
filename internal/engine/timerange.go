package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Implicit bind parameter names available to every SQL node.
const (
	TimeFromParam = "__timeFrom"
	TimeToParam   = "__timeTo"
)

// TimeRange selects the query window: a named bucket (1h, 7d, 30d, 90d,
// 180d, 365d, all) or "custom" with explicit From/To bounds, which may be
// absolute timestamps or relative expressions like "now-1h".
type TimeRange struct {
	Name string `json:"name,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Window is the resolved UTC query window. Unbounded marks the "all" range;
// From is pinned to the Unix epoch in that case so nodes referencing the
// implicit binds still receive concrete values.
type Window struct {
	From      time.Time
	To        time.Time
	Unbounded bool
}

var namedRanges = map[string]time.Duration{
	"1h":   time.Hour,
	"7d":   7 * 24 * time.Hour,
	"30d":  30 * 24 * time.Hour,
	"90d":  90 * 24 * time.Hour,
	"180d": 180 * 24 * time.Hour,
	"365d": 365 * 24 * time.Hour,
}

// Resolve turns the selector into concrete bounds against a single now so
// that every node in one request observes the same window.
func (r TimeRange) Resolve(now time.Time) (Window, error) {
	now = now.UTC()
	name := strings.TrimSpace(strings.ToLower(r.Name))

	if name == "" {
		if r.From == "" && r.To == "" {
			name = "all"
		} else {
			name = "custom"
		}
	}

	if name == "all" {
		return Window{From: time.Unix(0, 0).UTC(), To: now, Unbounded: true}, nil
	}

	if duration, ok := namedRanges[name]; ok {
		return Window{From: now.Add(-duration), To: now}, nil
	}

	if name != "custom" {
		return Window{}, &TimeRangeError{Value: r.Name, Reason: "unknown named range"}
	}

	if r.From == "" || r.To == "" {
		return Window{}, &TimeRangeError{Value: r.Name, Reason: "custom range requires from and to"}
	}
	from, err := parseBound(r.From, now)
	if err != nil {
		return Window{}, &TimeRangeError{Value: r.From, Reason: err.Error()}
	}
	to, err := parseBound(r.To, now)
	if err != nil {
		return Window{}, &TimeRangeError{Value: r.To, Reason: err.Error()}
	}
	if from.After(to) {
		return Window{}, &TimeRangeError{Value: r.From, Reason: "from is after to"}
	}
	return Window{From: from, To: to}, nil
}

// parseBound accepts "now", "now±N<unit>" with units m/h/d, or an absolute
// timestamp.
func parseBound(raw string, now time.Time) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty bound")
	}

	if strings.HasPrefix(value, "now") {
		rest := strings.TrimSpace(strings.TrimPrefix(value, "now"))
		if rest == "" {
			return now, nil
		}
		sign := rest[0]
		if sign != '+' && sign != '-' {
			return time.Time{}, fmt.Errorf("expected + or - after now")
		}
		offset, err := parseRelativeOffset(strings.TrimSpace(rest[1:]))
		if err != nil {
			return time.Time{}, err
		}
		if sign == '-' {
			offset = -offset
		}
		return now.Add(offset), nil
	}

	t, err := parseTimestamp(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized bound")
	}
	return t, nil
}

func parseRelativeOffset(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing offset")
	}
	digits := 0
	for digits < len(raw) && raw[digits] >= '0' && raw[digits] <= '9' {
		digits++
	}
	if digits == 0 || digits == len(raw) {
		return 0, fmt.Errorf("offset must be a number followed by a unit")
	}
	amount, err := strconv.Atoi(raw[:digits])
	if err != nil {
		return 0, fmt.Errorf("offset must be a number followed by a unit")
	}
	switch raw[digits:] {
	case "m":
		return time.Duration(amount) * time.Minute, nil
	case "h":
		return time.Duration(amount) * time.Hour, nil
	case "d":
		return time.Duration(amount) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown offset unit %q", raw[digits:])
	}
}
