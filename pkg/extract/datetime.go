package extract

import (
	"regexp"
	"strconv"
	"time"

	"github.com/vango-go/vai-forms/pkg/forms"
)

var monthWords = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	isoDateRE     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	numericDateRE = regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{2,4})\b`)
)

func civilDate(y int, m time.Month, d int) (time.Time, bool) {
	if y < 1 || m < time.January || m > time.December || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if t.Month() != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// dateCandidates returns the distinct calendar dates mentioned in answer.
// unresolved reports a month-name date followed by a year-like number that
// could not be read as a year.
func dateCandidates(answer string, now time.Time) (out []time.Time, unresolved bool) {
	seen := map[time.Time]struct{}{}
	add := func(t time.Time, ok bool) {
		if !ok {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	for _, m := range isoDateRE.FindAllStringSubmatch(answer, -1) {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		add(civilDate(y, time.Month(mo), d))
	}
	for _, m := range numericDateRE.FindAllStringSubmatch(answer, -1) {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			y += 2000
		}
		add(civilDate(y, time.Month(mo), d))
	}
	if len(out) > 0 {
		return out, false
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	toks := numberTokens(answer)
	for i, tok := range toks {
		switch tok {
		case "today":
			add(today, true)
		case "tomorrow":
			if i >= 2 && toks[i-1] == "after" && toks[i-2] == "day" {
				add(today.AddDate(0, 0, 2), true)
			} else {
				add(today.AddDate(0, 0, 1), true)
			}
		case "yesterday":
			add(today.AddDate(0, 0, -1), true)
		}
	}

	nums := spokenNumbers(toks)
	for i, tok := range toks {
		month, ok := monthWords[tok]
		if !ok {
			continue
		}
		// "march 5th", "5 march" and "fifth of march" all name a day; "may"
		// without a day is just a word.
		dayAt := -1
		for k, n := range nums {
			isDay := n.value >= 1 && n.value <= 31 && n.value == float64(int(n.value))
			if isDay && (n.start == i+1 || n.end == i || (n.end == i-1 && toks[i-1] == "of")) {
				dayAt = k
				break
			}
		}
		if dayAt < 0 {
			continue
		}
		var after []spokenNumber
		for k, n := range nums {
			if k != dayAt && n.start > i {
				after = append(after, n)
			}
		}
		year, ok := spokenYear(toks, after)
		if !ok {
			unresolved = true
			continue
		}
		if year == 0 {
			year = today.Year()
		}
		add(civilDate(year, month, int(nums[dayAt].value)))
	}
	return out, unresolved
}

func wholeNumber(n spokenNumber, lo, hi float64) bool {
	return !n.ordinal && n.value >= lo && n.value <= hi && n.value == float64(int(n.value))
}

// spokenYear reads the year from the numbers that follow a month name:
// "1985", "two thousand five", "nineteen eighty five", "twenty twenty" and
// "nineteen oh five". It returns 0 when no year-like number follows, and
// false when one does but it is not a year.
func spokenYear(toks []string, after []spokenNumber) (int, bool) {
	var nums []spokenNumber
	for _, n := range after {
		// Small numbers are times or counts ("at 3"), not years.
		if wholeNumber(n, 10, 9999) {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return 0, true
	}
	first := nums[0]
	if wholeNumber(first, 1000, 9999) {
		return int(first.value), true
	}
	if !wholeNumber(first, 10, 99) {
		return 0, false
	}
	// The second half may be a single digit after "oh", so look at every
	// number rather than only the year-like ones.
	for _, n := range after {
		if n.start < first.end {
			continue
		}
		adjacent := n.start == first.end
		oh := n.start == first.end+1 && (toks[first.end] == "oh" || toks[first.end] == "o") && wholeNumber(n, 0, 9)
		if (adjacent && wholeNumber(n, 10, 99)) || oh {
			return int(first.value)*100 + int(n.value), true
		}
		break
	}
	return 0, false
}

func parseDateBound(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(forms.DateLayout, s)
	return t, err == nil
}
