package extract

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var (
	emailRE          = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}`)
	emailCanonicalRE = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}$`)
	symbolSpaceRE    = regexp.MustCompile(`\s*([@._\-])\s*`)
	spokenEmail      = strings.NewReplacer(
		" at ", " @ ",
		" dot ", " . ",
		" period ", " . ",
		" underscore ", " _ ",
		" dash ", " - ",
		" hyphen ", " - ",
	)
)

// emailCandidates finds addresses in an answer, accepting spoken forms such
// as "jane dot doe at example dot com".
func emailCandidates(answer string) []string {
	s := " " + strings.ToLower(strings.TrimSpace(answer)) + " "
	s = spokenEmail.Replace(s)
	// Replacer does not match overlapping spaces, run twice for "a dot b dot c".
	s = spokenEmail.Replace(s)
	s = symbolSpaceRE.ReplaceAllString(s, "$1")

	var out []string
	seen := map[string]struct{}{}
	for _, m := range emailRE.FindAllString(s, -1) {
		m = strings.Trim(m, ".-_")
		if _, err := mail.ParseAddress(m); err != nil {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func emailDomain(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at >= 0 {
		return addr[at+1:]
	}
	return ""
}

func domainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), "@"))
		if domain == a || strings.HasSuffix(domain, "."+a) {
			return true
		}
	}
	return false
}

var digitWords = map[string]string{
	"zero": "0", "oh": "0", "o": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var phoneTokenRE = regexp.MustCompile(`\+|\d+|[a-z]+`)

type phoneRun struct {
	digits string
	plus   bool
}

// phoneRuns splits an answer into runs of adjacent digits and digit words.
// Any other word ends a run, so "555 123 4567, call after 5" yields two runs.
func phoneRuns(answer string) []phoneRun {
	var (
		out    []phoneRun
		cur    phoneRun
		b      strings.Builder
		repeat = 1
	)
	flush := func() {
		if b.Len() > 0 {
			cur.digits = b.String()
			out = append(out, cur)
		}
		cur, repeat = phoneRun{}, 1
		b.Reset()
	}
	for _, tok := range phoneTokenRE.FindAllString(strings.ToLower(answer), -1) {
		switch tok {
		case "+", "plus":
			flush()
			cur.plus = true
			continue
		case "double":
			repeat = 2
			continue
		case "triple":
			repeat = 3
			continue
		}
		d, ok := digitWords[tok]
		if !ok && tok[0] >= '0' && tok[0] <= '9' {
			d, ok = tok, true
		}
		if !ok {
			flush()
			continue
		}
		if repeat > 1 && len(d) == 1 {
			d = strings.Repeat(d, repeat)
		}
		b.WriteString(d)
		repeat = 1
	}
	flush()
	return out
}

// phoneCandidates returns the distinct runs long enough to be a phone number,
// and the longest run seen so short answers can be explained.
func phoneCandidates(answer string) ([]phoneRun, int) {
	var out []phoneRun
	longest := 0
	seen := map[string]struct{}{}
	for _, r := range phoneRuns(answer) {
		longest = max(longest, len(r.digits))
		if len(r.digits) < minPhoneDigits {
			continue
		}
		if _, dup := seen[r.digits]; dup {
			continue
		}
		seen[r.digits] = struct{}{}
		out = append(out, r)
	}
	return out, longest
}

func normalizeCountryCode(cc string) string {
	return strings.TrimLeft(strings.TrimSpace(cc), "+")
}

// countryCodeOf returns the calling code of an E.164 number.
func countryCodeOf(e164 string) (int, bool) {
	num, err := phonenumbers.Parse(e164, phonenumbers.UNKNOWN_REGION)
	if err != nil {
		return 0, false
	}
	return int(num.GetCountryCode()), true
}

func countryCodeAllowed(code int, allowed []string) bool {
	for _, cc := range allowed {
		if n, err := strconv.Atoi(normalizeCountryCode(cc)); err == nil && n == code {
			return true
		}
	}
	return false
}
