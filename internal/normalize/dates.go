package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var numericLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"02/01/06",
}

var months = map[string]time.Month{
	"janvier": time.January, "janv": time.January, "jan": time.January, "january": time.January,
	"fevrier": time.February, "fevr": time.February, "fev": time.February, "feb": time.February, "february": time.February,
	"mars": time.March, "mar": time.March, "march": time.March,
	"avril": time.April, "avr": time.April, "apr": time.April, "april": time.April,
	"mai": time.May, "may": time.May,
	"juin": time.June, "jun": time.June, "june": time.June,
	"juillet": time.July, "juil": time.July, "jul": time.July, "july": time.July,
	"aout": time.August, "aug": time.August, "august": time.August,
	"septembre": time.September, "sept": time.September, "sep": time.September, "september": time.September,
	"octobre": time.October, "oct": time.October, "october": time.October,
	"novembre": time.November, "nov": time.November, "november": time.November,
	"decembre": time.December, "dec": time.December, "december": time.December,
}

var (
	dayMonthYear = regexp.MustCompile(`^(\d{1,2})(?:er|st|nd|rd|th)? ([a-z]+) (\d{4})$`)
	monthDayYear = regexp.MustCompile(`^([a-z]+) (\d{1,2})(?:st|nd|rd|th)? (\d{4})$`)
)

// ParseDate parses the date formats found on French and English invoices. It returns
// nil for anything it cannot read; it never panics.
func ParseDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range numericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return plausible(t)
		}
	}

	folded := Fold(s)
	if m := dayMonthYear.FindStringSubmatch(folded); m != nil {
		return fromParts(m[3], m[2], m[1])
	}
	if m := monthDayYear.FindStringSubmatch(folded); m != nil {
		return fromParts(m[3], m[1], m[2])
	}
	return nil
}

func fromParts(yearStr, monthStr, dayStr string) *time.Time {
	month, ok := months[monthStr]
	if !ok {
		return nil
	}
	year, err1 := strconv.Atoi(yearStr)
	day, err2 := strconv.Atoi(dayStr)
	if err1 != nil || err2 != nil {
		return nil
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return nil
	}
	return plausible(t)
}

func plausible(t time.Time) *time.Time {
	if t.Year() < 1970 || t.Year() > 2200 {
		return nil
	}
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &t
}
