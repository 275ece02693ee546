package attendance

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Slot is one parsed entry of a weekly schedule string. Start and End are
// minutes after midnight; End <= Start means the slot crosses midnight.
type Slot struct {
	Days  [7]bool
	Start int
	End   int
}

// Window is a concrete start/end pair on a calendar date.
type Window struct {
	Start time.Time
	End   time.Time
}

var slotPattern = regexp.MustCompile(`(?i)^([a-z]+)\s*(\d{1,2})(?::(\d{2}))?\s*([ap]\.?m\.?)?\s*-\s*(\d{1,2})(?::(\d{2}))?\s*([ap]\.?m\.?)?$`)

// ParseSchedule parses a comma separated schedule such as
// "MTW 9:00 AM-10:30 AM, F 1:00 PM-3:00 PM". Malformed slots are skipped.
func ParseSchedule(schedule string) []Slot {
	var slots []Slot
	for _, raw := range strings.Split(schedule, ",") {
		if slot, ok := parseSlot(strings.TrimSpace(raw)); ok {
			slots = append(slots, slot)
		}
	}
	return slots
}

// ResolveSchedule returns the window of the first slot that runs on date's
// weekday. ok is false when no slot applies to that weekday, including
// when nothing parses at all; callers then fall back to DefaultWindow.
func ResolveSchedule(schedule string, date time.Time) (Window, bool) {
	for _, slot := range ParseSchedule(schedule) {
		if slot.Days[date.Weekday()] {
			return slot.On(date), true
		}
	}
	return Window{}, false
}

// DefaultWindow is the window used when a class has no slot for today.
func DefaultWindow(now time.Time) Window {
	return Window{Start: now, End: now.Add(DefaultSessionLength)}
}

// On places the slot on the calendar date of d, in d's location.
func (s Slot) On(d time.Time) Window {
	y, m, day := d.Date()
	loc := d.Location()
	start := time.Date(y, m, day, s.Start/60, s.Start%60, 0, 0, loc)
	end := time.Date(y, m, day, s.End/60, s.End%60, 0, 0, loc)
	if !end.After(start) {
		end = time.Date(y, m, day+1, s.End/60, s.End%60, 0, 0, loc)
	}
	return Window{Start: start, End: end}
}

func parseSlot(raw string) (Slot, bool) {
	m := slotPattern.FindStringSubmatch(raw)
	if m == nil {
		return Slot{}, false
	}
	days, ok := parseDayCodes(m[1])
	if !ok {
		return Slot{}, false
	}
	startMer, endMer := meridiem(m[4]), meridiem(m[7])

	var start, end int
	switch {
	case startMer == "" && endMer == "":
		if start, ok = clock24(m[2], m[3]); !ok {
			return Slot{}, false
		}
		if end, ok = clock24(m[5], m[6]); !ok {
			return Slot{}, false
		}
	case startMer == "":
		if end, ok = clock12(m[5], m[6], endMer); !ok {
			return Slot{}, false
		}
		if start, ok = clock12(m[2], m[3], endMer); !ok {
			return Slot{}, false
		}
		// "11:00-1:00 PM" means 11 AM, not an overnight slot.
		if endMer == "PM" && start >= end {
			if am, _ := clock12(m[2], m[3], "AM"); am < end {
				start = am
			}
		}
	case endMer == "":
		if start, ok = clock12(m[2], m[3], startMer); !ok {
			return Slot{}, false
		}
		if end, ok = clock12(m[5], m[6], startMer); !ok {
			return Slot{}, false
		}
		if startMer == "AM" && end <= start {
			if pm, _ := clock12(m[5], m[6], "PM"); pm > start {
				end = pm
			}
		}
	default:
		if start, ok = clock12(m[2], m[3], startMer); !ok {
			return Slot{}, false
		}
		if end, ok = clock12(m[5], m[6], endMer); !ok {
			return Slot{}, false
		}
	}
	return Slot{Days: days, Start: start, End: end}, true
}

// parseDayCodes reads codes M, T, W, Th, F, S (or Sa), Su.
func parseDayCodes(codes string) ([7]bool, bool) {
	var days [7]bool
	s := strings.ToUpper(codes)
	found := false
	for len(s) > 0 {
		switch {
		case strings.HasPrefix(s, "TH"):
			days[time.Thursday] = true
			s = s[2:]
		case strings.HasPrefix(s, "SU"):
			days[time.Sunday] = true
			s = s[2:]
		case strings.HasPrefix(s, "SA"):
			days[time.Saturday] = true
			s = s[2:]
		case s[0] == 'M':
			days[time.Monday] = true
			s = s[1:]
		case s[0] == 'T':
			days[time.Tuesday] = true
			s = s[1:]
		case s[0] == 'W':
			days[time.Wednesday] = true
			s = s[1:]
		case s[0] == 'F':
			days[time.Friday] = true
			s = s[1:]
		case s[0] == 'S':
			days[time.Saturday] = true
			s = s[1:]
		default:
			return days, false
		}
		found = true
	}
	return days, found
}

func meridiem(s string) string {
	s = strings.ToUpper(strings.ReplaceAll(s, ".", ""))
	if s == "AM" || s == "PM" {
		return s
	}
	return ""
}

func clock12(hour, minute, mer string) (int, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil || h < 1 || h > 12 {
		return 0, false
	}
	mm, ok := minutes(minute)
	if !ok {
		return 0, false
	}
	if h == 12 {
		h = 0
	}
	if mer == "PM" {
		h += 12
	}
	return h*60 + mm, true
}

func clock24(hour, minute string) (int, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil || h > 23 {
		return 0, false
	}
	mm, ok := minutes(minute)
	if !ok {
		return 0, false
	}
	return h*60 + mm, true
}

func minutes(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	mm, err := strconv.Atoi(s)
	if err != nil || mm > 59 {
		return 0, false
	}
	return mm, true
}
