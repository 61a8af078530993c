package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

type numKind int

const (
	kindNone numKind = iota
	kindUnit
	kindTeen
	kindTens
	kindHundred
	kindScale
)

var cardinalWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15, "sixteen": 16,
	"seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	"hundred": 100, "thousand": 1000, "million": 1000000,
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6, "seventh": 7, "eighth": 8,
	"ninth": 9, "tenth": 10, "eleventh": 11, "twelfth": 12, "thirteenth": 13, "fourteenth": 14,
	"fifteenth": 15, "sixteenth": 16, "seventeenth": 17, "eighteenth": 18, "nineteenth": 19,
	"twentieth": 20, "thirtieth": 30,
}

func classifyNumberWord(w string) (numKind, int, bool) {
	v, ok := cardinalWords[w]
	ord := false
	if !ok {
		if v, ok = ordinalWords[w]; !ok {
			return kindNone, 0, false
		}
		ord = true
	}
	switch {
	case v == 100:
		return kindHundred, v, ord
	case v >= 1000:
		return kindScale, v, ord
	case v >= 20:
		return kindTens, v, ord
	case v >= 10:
		return kindTeen, v, ord
	default:
		return kindUnit, v, ord
	}
}

// canFollow reports whether a number word of kind next continues a number
// whose last word had kind last ("twenty five" does, "seven eight" does not).
func canFollow(last, next numKind) bool {
	switch next {
	case kindUnit:
		return last == kindTens || last == kindHundred || last == kindScale
	case kindTeen, kindTens:
		return last == kindHundred || last == kindScale
	case kindHundred:
		return last == kindUnit || last == kindTeen || last == kindTens
	case kindScale:
		return last != kindNone && last != kindScale
	}
	return false
}

type spokenNumber struct {
	value   float64
	ordinal bool
	// token index range [start, end)
	start, end int
}

var numberTokenRE = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?(?:st|nd|rd|th)?|[a-z]+`)

// numberTokens splits s into lowercase words and digit literals.
func numberTokens(s string) []string {
	s = strings.ToLower(strings.NewReplacer("'", "", "’", "").Replace(s))
	idx := numberTokenRE.FindAllStringIndex(s, -1)
	out := make([]string, 0, len(idx))
	for _, m := range idx {
		tok := s[m[0]:m[1]]
		// "1-10" is a range, not a negative ten.
		if strings.HasPrefix(tok, "-") && m[0] > 0 && s[m[0]-1] >= '0' && s[m[0]-1] <= '9' {
			tok = tok[1:]
		}
		out = append(out, tok)
	}
	return out
}

func parseDigitLiteral(tok string) (float64, bool, bool) {
	ord := false
	for _, suf := range []string{"st", "nd", "rd", "th"} {
		if strings.HasSuffix(tok, suf) {
			tok = strings.TrimSuffix(tok, suf)
			ord = true
			break
		}
	}
	tok = strings.ReplaceAll(tok, ",", "")
	if tok == "" || tok == "-" {
		return 0, false, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false, false
	}
	return v, ord, true
}

func isNumberWord(tok string) bool {
	k, _, _ := classifyNumberWord(tok)
	return k != kindNone
}

// spokenNumbers finds every number in toks, combining spoken number words
// ("one hundred and five", "seven point five") into single values.
func spokenNumbers(toks []string) []spokenNumber {
	var out []spokenNumber

	var (
		active    bool
		total     float64
		current   float64
		last      numKind
		ordinal   bool
		start     int
		negative  bool
		pendingNg bool
	)
	flush := func(end int) {
		if !active {
			return
		}
		v := total + current
		if negative {
			v = -v
		}
		out = append(out, spokenNumber{value: v, ordinal: ordinal, start: start, end: end})
		active, total, current, last, ordinal, negative = false, 0, 0, kindNone, false, false
	}
	next := func(i int) string {
		if i+1 < len(toks) {
			return toks[i+1]
		}
		return ""
	}

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if v, ord, ok := parseDigitLiteral(tok); ok {
			flush(i)
			if pendingNg {
				v = -v
				pendingNg = false
			}
			out = append(out, spokenNumber{value: v, ordinal: ord, start: i, end: i + 1})
			continue
		}

		kind, v, ord := classifyNumberWord(tok)
		if kind == kindNone {
			switch {
			case tok == "and" && active && (last == kindHundred || last == kindScale) && isNumberWord(next(i)):
				continue
			case tok == "a" && !active && (next(i) == "hundred" || next(i) == "thousand" || next(i) == "million"):
				active, start, current, last = true, i, 1, kindUnit
				continue
			case tok == "point" && active:
				digits := ""
				j := i + 1
				for ; j < len(toks); j++ {
					k, d, _ := classifyNumberWord(toks[j])
					if k != kindUnit {
						break
					}
					digits += strconv.Itoa(d)
				}
				if digits != "" {
					frac, _ := strconv.ParseFloat("0."+digits, 64)
					current += frac
					i = j - 1
					flush(j)
					continue
				}
			case (tok == "minus" || tok == "negative") && (isNumberWord(next(i)) || isDigitToken(next(i))):
				flush(i)
				pendingNg = true
				continue
			}
			flush(i)
			pendingNg = false
			continue
		}

		if active && !canFollow(last, kind) {
			flush(i)
		}
		if !active {
			active, start = true, i
			if pendingNg {
				negative, pendingNg = true, false
			}
		}
		switch kind {
		case kindHundred:
			current = math.Max(current, 1) * 100
		case kindScale:
			total += math.Max(current, 1) * float64(v)
			current = 0
		default:
			current += float64(v)
		}
		last = kind
		ordinal = ord
	}
	flush(len(toks))
	return out
}

func isDigitToken(tok string) bool {
	_, _, ok := parseDigitLiteral(tok)
	return ok
}

// pronounOneAfter lists words after which a lone "one" stands in for a noun
// ("a good one", "this one") rather than the number.
var pronounOneAfter = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "this": {}, "that": {}, "which": {}, "another": {}, "any": {},
	"each": {}, "every": {}, "some": {}, "other": {}, "same": {}, "only": {}, "last": {}, "next": {},
	"good": {}, "great": {}, "nice": {}, "bad": {}, "best": {}, "better": {}, "worse": {}, "worst": {},
	"big": {}, "small": {}, "little": {}, "new": {}, "old": {}, "right": {}, "wrong": {}, "real": {},
	"solid": {}, "decent": {}, "fine": {}, "excellent": {}, "terrible": {}, "awful": {},
}

func pronounOne(toks []string, n spokenNumber) bool {
	if n.end-n.start != 1 || toks[n.start] != "one" || n.start == 0 {
		return false
	}
	_, ok := pronounOneAfter[toks[n.start-1]]
	return ok
}

var slashDenominatorRE = regexp.MustCompile(`\s*/\s*\d+(?:\.\d+)?`)

// numberCandidates returns the distinct numbers mentioned in an answer,
// ignoring rating denominators ("8 out of 10", "8/10").
func numberCandidates(answer string) []float64 {
	toks := numberTokens(slashDenominatorRE.ReplaceAllString(answer, " "))
	nums := spokenNumbers(toks)
	var out []float64
	seen := map[float64]struct{}{}
	for _, n := range nums {
		if n.start >= 2 && toks[n.start-2] == "out" && toks[n.start-1] == "of" {
			continue
		}
		if pronounOne(toks, n) {
			continue
		}
		if _, dup := seen[n.value]; dup {
			continue
		}
		seen[n.value] = struct{}{}
		out = append(out, n.value)
	}
	return out
}
