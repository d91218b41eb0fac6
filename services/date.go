package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"casefile_billing_go/config"

	"github.com/xuri/excelize/v2"
)

// Layouts tried in order for unambiguous year-first dates. Values without
// an offset are read in the parser's location.
var isoLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
}

var clockLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04PM",
	"3:04:05PM",
	"3:04 PM",
	"3:04:05 PM",
	"3PM",
	"3 PM",
}

var (
	slashDateRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})(?:[ T]+(.+))?$`)
	serialRe    = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// DateParser turns date and time text from tabular sources into times.
// It never guesses: a slash date whose first two parts could both be the
// month is rejected unless Order names the convention.
type DateParser struct {
	Location *time.Location
	Order    string // config.DateOrderStrict, config.DateOrderMDY or config.DateOrderDMY
}

// NewDateParser creates a parser for the given location and date order
func NewDateParser(loc *time.Location, order string) *DateParser {
	if loc == nil {
		loc = time.UTC
	}
	return &DateParser{Location: loc, Order: strings.ToUpper(order)}
}

// ParseDate parses a date or date-time value. The returned error is a
// *DateParseError naming field.
func (p *DateParser) ParseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &DateParseError{Field: field, Value: value}
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, value, p.Location); err == nil {
			return t, nil
		}
	}

	if m := slashDateRe.FindStringSubmatch(value); m != nil {
		return p.parseSlashDate(field, value, m)
	}

	return time.Time{}, &DateParseError{Field: field, Value: value}
}

func (p *DateParser) parseSlashDate(field, value string, m []string) (time.Time, error) {
	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	var month, day int
	switch {
	case first > 12 && second > 12:
		return time.Time{}, &DateParseError{Field: field, Value: value}
	case first > 12:
		day, month = first, second
	case second > 12:
		month, day = first, second
	case first == second:
		month, day = first, second
	case p.Order == config.DateOrderMDY:
		month, day = first, second
	case p.Order == config.DateOrderDMY:
		day, month = first, second
	default:
		return time.Time{}, &DateParseError{Field: field, Value: value, Ambiguous: true}
	}

	hour, minute, sec := 0, 0, 0
	if m[4] != "" {
		var ok bool
		hour, minute, sec, ok = parseClock(m[4])
		if !ok {
			return time.Time{}, &DateParseError{Field: field, Value: value}
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, p.Location)
	// Reject overflow such as 2/30 that time.Date would normalise
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, &DateParseError{Field: field, Value: value}
	}
	return t, nil
}

// ParseClock parses a time-of-day value and anchors it to the calendar
// day of anchor, in the parser's location.
func (p *DateParser) ParseClock(field, value string, anchor time.Time) (time.Time, error) {
	hour, minute, sec, ok := parseClock(value)
	if !ok {
		return time.Time{}, &DateParseError{Field: field, Value: strings.TrimSpace(value)}
	}
	a := anchor.In(p.Location)
	return time.Date(a.Year(), a.Month(), a.Day(), hour, minute, sec, 0, p.Location), nil
}

// IsClock reports whether value is a bare time of day
func IsClock(value string) bool {
	_, _, _, ok := parseClock(value)
	return ok
}

// ParseSerial converts a spreadsheet serial day number to a time in the
// parser's location. Serials below 1 carry only a time of day, which is
// anchored to anchor when given.
func (p *DateParser) ParseSerial(field, value string, anchor *time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if !serialRe.MatchString(value) {
		return time.Time{}, &DateParseError{Field: field, Value: value}
	}
	serial, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, &DateParseError{Field: field, Value: value}
	}
	wall, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, &DateParseError{Field: field, Value: value}
	}

	if serial < 1 {
		if anchor == nil {
			return time.Time{}, &DateParseError{Field: field, Value: value}
		}
		a := anchor.In(p.Location)
		return time.Date(a.Year(), a.Month(), a.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, p.Location), nil
	}
	return time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, p.Location), nil
}

// IsSerial reports whether value looks like a spreadsheet serial number
func IsSerial(value string) bool {
	return serialRe.MatchString(strings.TrimSpace(value))
}

func parseClock(value string) (hour, minute, sec int, ok bool) {
	value = strings.ToUpper(strings.TrimSpace(value))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Hour(), t.Minute(), t.Second(), true
		}
	}
	return 0, 0, 0, false
}
