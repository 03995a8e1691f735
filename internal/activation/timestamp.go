package activation

import (
	"fmt"
	"time"
)

// timestampParser is one accepted textual shape for a token start time.
type timestampParser interface {
	Parse(value string) (time.Time, bool)
}

// layoutParser accepts exactly one layout. The length check rejects
// fraction widths the layout does not spell out, which time.Parse
// would otherwise tolerate after the seconds field.
type layoutParser struct {
	layout string
}

func (p layoutParser) Parse(value string) (time.Time, bool) {
	if len(value) != len(p.layout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(p.layout, value, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// startTimeParsers are tried in order; the first match wins. Every
// shape is read as UTC, with or without the trailing Z.
var startTimeParsers = []timestampParser{
	layoutParser{layout: "2006-01-02T15:04:05Z"},
	layoutParser{layout: "2006-01-02T15:04:05.000Z"},
	layoutParser{layout: "2006-01-02T15:04:05.000000Z"},
	layoutParser{layout: "2006-01-02T15:04:05"},
	layoutParser{layout: "2006-01-02T15:04:05.000"},
	layoutParser{layout: "2006-01-02T15:04:05.000000"},
}

// CanonicalTimeLayout is the layout Encode writes.
const CanonicalTimeLayout = "2006-01-02T15:04:05Z"

// ParseStartTime parses a token start time.
func ParseStartTime(value string) (time.Time, error) {
	for _, p := range startTimeParsers {
		if t, ok := p.Parse(value); ok {
			return t, nil
		}
	}
	return time.Time{}, newError(KindBadTimestamp, fmt.Errorf("unrecognized start time %q", value))
}

// toMillis converts t to epoch milliseconds, truncating finer precision.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
