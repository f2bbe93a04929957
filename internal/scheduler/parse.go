package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"raidbot/internal/command"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseFrequency accepts a Go duration ("168h", "2h30m") or an HH:MM
// interval ("02:30" is two and a half hours).
func ParseFrequency(raw string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, fmt.Errorf("frequency required")
	}
	if reHHMM.MatchString(v) {
		return parseHHMMDuration(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q (use HH:MM or a duration like '24h'/'168h')", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("frequency must be > 0")
	}
	return d, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("frequency must be > 0")
	}
	return d, nil
}

var startLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

// ParseStart reads a start time. RFC 3339 values carry their own offset;
// the short layouts are read in loc. Empty or "now" means now.
func ParseStart(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(raw)
	if v == "" || strings.EqualFold(v, "now") {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start %q (use 'YYYY-MM-DD HH:MM' or RFC 3339)", raw)
}

// ParseArguments reads "name=value;name=value". Values may contain '='.
func ParseArguments(raw string) ([]command.Argument, error) {
	var out []command.Argument
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid argument %q (use name=value)", part)
		}
		out = append(out, command.Argument{Name: name, Value: strings.TrimSpace(value)})
	}
	return out, nil
}

// FormatArguments is the inverse of ParseArguments.
func FormatArguments(args []command.Argument) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Name + "=" + a.Value
	}
	return strings.Join(parts, ";")
}
