// Package extract turns conversational answers into typed, validated field
// values.
//
// Canonical value types: text, email, phone, date and choice are strings
// (dates as YYYY-MM-DD), number is float64, boolean is bool and multi_choice
// is []string. Every value Extract returns passes Validate for the same spec.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nyaruka/phonenumbers"

	"github.com/vango-go/vai-forms/pkg/forms"
)

// Rejection explains why an answer did not satisfy a field.
type Rejection struct {
	Field  string
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("field %q rejected: %s", r.Field, r.Reason)
}

func reject(spec forms.FieldSpec, format string, args ...any) *Rejection {
	return &Rejection{Field: spec.Name, Reason: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a validation rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// Engine extracts values. The zero value is ready to use.
type Engine struct {
	// Now anchors relative dates ("tomorrow"). Defaults to time.Now.
	Now func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Extract uses the zero Engine.
func Extract(spec forms.FieldSpec, answer string) (any, error) {
	return Engine{}.Extract(spec, answer)
}

// Extract converts a raw answer into a canonical value for spec, or returns a
// *Rejection.
func (e Engine) Extract(spec forms.FieldSpec, answer string) (any, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, reject(spec, "no answer was given")
	}

	var value any
	switch spec.Type {
	case forms.FieldText:
		value = strings.TrimSpace(strings.TrimRight(answer, ". "))
	case forms.FieldNumber:
		nums := numberCandidates(answer)
		switch len(nums) {
		case 0:
			return nil, reject(spec, "no number was found in the answer")
		case 1:
			value = nums[0]
		default:
			return nil, reject(spec, "the answer mentions more than one number")
		}
	case forms.FieldEmail:
		found := emailCandidates(answer)
		switch len(found) {
		case 0:
			return nil, reject(spec, "no valid email address was found")
		case 1:
			value = found[0]
		default:
			return nil, reject(spec, "the answer contains more than one email address")
		}
	case forms.FieldPhone:
		v, err := e.phone(spec, answer)
		if err != nil {
			return nil, err
		}
		value = v
	case forms.FieldDate:
		dates, unresolved := dateCandidates(answer, e.now())
		switch {
		case unresolved:
			return nil, reject(spec, "the year was not understood")
		case len(dates) == 0:
			return nil, reject(spec, "no calendar date was recognized")
		case len(dates) == 1:
			value = dates[0].Format(forms.DateLayout)
		default:
			return nil, reject(spec, "the answer mentions more than one date")
		}
	case forms.FieldBoolean:
		b, ok := booleanAnswer(answer)
		if !ok {
			return nil, reject(spec, "the answer was not a clear yes or no")
		}
		value = b
	case forms.FieldChoice:
		idx := optionMatches(answer, spec.Validation.Options)
		switch len(idx) {
		case 0:
			return nil, reject(spec, "the answer did not match any option (%s)", strings.Join(spec.Validation.Options, ", "))
		case 1:
			value = spec.Validation.Options[idx[0]]
		default:
			return nil, reject(spec, "the answer matched more than one option")
		}
	case forms.FieldMultiChoice:
		idx := selectionMatches(answer, spec.Validation.Options)
		if len(idx) == 0 {
			return nil, reject(spec, "the answer did not match any option (%s)", strings.Join(spec.Validation.Options, ", "))
		}
		sel := make([]string, len(idx))
		for i, j := range idx {
			sel[i] = spec.Validation.Options[j]
		}
		value = sel
	default:
		return nil, reject(spec, "unsupported field type %q", spec.Type)
	}

	if err := Validate(spec, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (e Engine) phone(spec forms.FieldSpec, answer string) (string, error) {
	runs, longest := phoneCandidates(answer)
	switch {
	case len(runs) == 0 && longest == 0:
		return "", reject(spec, "no phone number was found")
	case len(runs) == 0:
		return "", reject(spec, "a phone number needs %d to %d digits", minPhoneDigits, maxPhoneDigits)
	case len(runs) > 1:
		return "", reject(spec, "the answer mentions more than one phone number")
	}
	digits, plus := runs[0].digits, runs[0].plus
	if len(digits) > maxPhoneDigits {
		return "", reject(spec, "a phone number needs %d to %d digits", minPhoneDigits, maxPhoneDigits)
	}

	if !plus {
		cc, _ := strconv.Atoi(normalizeCountryCode(spec.Validation.DefaultCountryCode))
		switch {
		case cc > 0 && len(digits) <= 10:
			region := phonenumbers.GetRegionCodeForCountryCode(cc)
			if region == phonenumbers.UNKNOWN_REGION {
				return "+" + strconv.Itoa(cc) + digits, nil
			}
			num, err := phonenumbers.Parse(digits, region)
			if err != nil {
				return "", reject(spec, "not a phone number for country code +%d", cc)
			}
			return phonenumbers.Format(num, phonenumbers.E164), nil
		case len(digits) > 10 && len(spec.Validation.CountryCodes) > 0:
			// Long national-looking input may already start with an allowed code.
			if code, ok := countryCodeOf("+" + digits); ok && countryCodeAllowed(code, spec.Validation.CountryCodes) {
				plus = true
			}
		}
	}
	if !plus {
		return digits, nil
	}
	num, err := phonenumbers.Parse("+"+digits, phonenumbers.UNKNOWN_REGION)
	if err != nil {
		return "", reject(spec, "the country code was not recognized")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Validate checks a canonical value against spec.
func Validate(spec forms.FieldSpec, value any) error {
	v := spec.Validation
	switch spec.Type {
	case forms.FieldText:
		s, ok := value.(string)
		if !ok {
			return reject(spec, "expected text")
		}
		if strings.TrimSpace(s) == "" {
			return reject(spec, "the answer is empty")
		}
		n := utf8.RuneCountInString(s)
		if v.MinLength != nil && n < *v.MinLength {
			return reject(spec, "must be at least %d characters", *v.MinLength)
		}
		if v.MaxLength != nil && n > *v.MaxLength {
			return reject(spec, "must be at most %d characters", *v.MaxLength)
		}
		if v.Pattern != "" {
			re, err := regexp.Compile(v.Pattern)
			if err != nil {
				return reject(spec, "invalid pattern")
			}
			if !re.MatchString(s) {
				return reject(spec, "does not have the expected format")
			}
		}
	case forms.FieldNumber:
		f, ok := value.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return reject(spec, "expected a number")
		}
		if v.IntegerOnly && f != math.Trunc(f) {
			return reject(spec, "must be a whole number")
		}
		if v.Min != nil && f < *v.Min {
			return reject(spec, "must be at least %s", formatNumber(*v.Min))
		}
		if v.Max != nil && f > *v.Max {
			return reject(spec, "must be at most %s", formatNumber(*v.Max))
		}
	case forms.FieldEmail:
		s, ok := value.(string)
		if !ok || !emailCanonicalRE.MatchString(s) {
			return reject(spec, "expected a valid email address")
		}
		if !domainAllowed(emailDomain(s), v.AllowedDomains) {
			return reject(spec, "email domain must be one of %s", strings.Join(v.AllowedDomains, ", "))
		}
	case forms.FieldPhone:
		s, ok := value.(string)
		if !ok {
			return reject(spec, "expected a phone number")
		}
		digits := strings.TrimPrefix(s, "+")
		if strings.Trim(digits, "0123456789") != "" {
			return reject(spec, "expected a phone number")
		}
		if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
			return reject(spec, "a phone number needs %d to %d digits", minPhoneDigits, maxPhoneDigits)
		}
		if len(v.CountryCodes) > 0 {
			code, ok := 0, false
			if strings.HasPrefix(s, "+") {
				code, ok = countryCodeOf(s)
			}
			if !ok || !countryCodeAllowed(code, v.CountryCodes) {
				return reject(spec, "country code must be one of %s", strings.Join(v.CountryCodes, ", "))
			}
		}
	case forms.FieldDate:
		s, ok := value.(string)
		if !ok {
			return reject(spec, "expected a date")
		}
		d, err := time.Parse(forms.DateLayout, s)
		if err != nil {
			return reject(spec, "expected a date")
		}
		if lo, ok := parseDateBound(v.MinDate); ok && d.Before(lo) {
			return reject(spec, "must be on or after %s", v.MinDate)
		}
		if hi, ok := parseDateBound(v.MaxDate); ok && d.After(hi) {
			return reject(spec, "must be on or before %s", v.MaxDate)
		}
	case forms.FieldBoolean:
		if _, ok := value.(bool); !ok {
			return reject(spec, "expected yes or no")
		}
	case forms.FieldChoice:
		s, ok := value.(string)
		if !ok || !hasOption(v.Options, s) {
			return reject(spec, "must be one of %s", strings.Join(v.Options, ", "))
		}
	case forms.FieldMultiChoice:
		sel, ok := value.([]string)
		if !ok {
			return reject(spec, "expected a list of options")
		}
		seen := map[string]struct{}{}
		for _, s := range sel {
			if !hasOption(v.Options, s) {
				return reject(spec, "%q is not one of %s", s, strings.Join(v.Options, ", "))
			}
			if _, dup := seen[s]; dup {
				return reject(spec, "%q was selected twice", s)
			}
			seen[s] = struct{}{}
		}
		if v.MinSelections != nil && len(sel) < *v.MinSelections {
			return reject(spec, "choose at least %d options", *v.MinSelections)
		}
		if v.MaxSelections != nil && len(sel) > *v.MaxSelections {
			return reject(spec, "choose at most %d options", *v.MaxSelections)
		}
	default:
		return reject(spec, "unsupported field type %q", spec.Type)
	}
	return nil
}

func hasOption(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}

// Normalize converts a JSON-decoded value into the canonical form for spec
// and validates it. Strings for non-text fields go through Extract, so "yes"
// or "March 3rd 2026" are accepted.
func (e Engine) Normalize(spec forms.FieldSpec, raw any) (any, error) {
	switch x := raw.(type) {
	case nil:
		return nil, reject(spec, "a value is required")
	case string:
		if spec.Type == forms.FieldText {
			s := strings.TrimSpace(x)
			return s, Validate(spec, s)
		}
		if spec.Type == forms.FieldChoice && hasOption(spec.Validation.Options, x) {
			return x, nil
		}
		return e.Extract(spec, x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, reject(spec, "expected a number")
		}
		return f, Validate(spec, f)
	case float64:
		return x, Validate(spec, x)
	case int:
		return float64(x), Validate(spec, float64(x))
	case int64:
		return float64(x), Validate(spec, float64(x))
	case bool:
		return x, Validate(spec, x)
	case []string:
		return x, Validate(spec, x)
	case []any:
		if spec.Type != forms.FieldMultiChoice {
			return nil, reject(spec, "a list is only valid for multi_choice fields")
		}
		sel := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, reject(spec, "options must be strings")
			}
			if !hasOption(spec.Validation.Options, s) {
				idx := optionMatches(s, spec.Validation.Options)
				if len(idx) != 1 {
					return nil, reject(spec, "%q is not one of %s", s, strings.Join(spec.Validation.Options, ", "))
				}
				s = spec.Validation.Options[idx[0]]
			}
			sel = append(sel, s)
		}
		return sel, Validate(spec, sel)
	default:
		return nil, reject(spec, "unsupported value type %T", raw)
	}
}

// Normalize uses the zero Engine.
func Normalize(spec forms.FieldSpec, raw any) (any, error) {
	return Engine{}.Normalize(spec, raw)
}

// FormatValue renders a canonical value for summaries and prompts.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return formatNumber(x)
	case bool:
		if x {
			return "yes"
		}
		return "no"
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = FormatValue(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
