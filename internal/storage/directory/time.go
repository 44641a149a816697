package directory

import (
	"fmt"
	"time"
)

// GeneralizedTime is the layout used for date attribute values. Values are
// always written in UTC so they order correctly as strings.
const GeneralizedTime = "20060102150405.000Z0700"

var generalizedTimeLayouts = []string{
	GeneralizedTime,
	"20060102150405Z0700",
	"200601021504Z0700",
}

// FormatTime renders t as a generalized time value.
func FormatTime(t time.Time) string {
	return t.UTC().Format(GeneralizedTime)
}

// ParseTime parses a generalized time value with or without fractional
// seconds.
func ParseTime(v string) (time.Time, error) {
	for _, layout := range generalizedTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("directory: invalid generalized time %q", v)
}
