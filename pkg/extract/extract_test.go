package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-forms/pkg/forms"
)

func ptr[T any](v T) *T { return &v }

var fixedNow = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) }

func TestExtractNumber(t *testing.T) {
	rating := forms.FieldSpec{Name: "rating", Type: forms.FieldNumber, Validation: forms.Validation{Min: ptr(1.0), Max: ptr(10.0)}}
	free := forms.FieldSpec{Name: "amount", Type: forms.FieldNumber}

	accept := []struct {
		spec   forms.FieldSpec
		answer string
		want   float64
	}{
		{rating, "eight", 8},
		{rating, "8", 8},
		{rating, "I'd give it a 9 out of 10", 9},
		{rating, "8/10", 8},
		{rating, "Eight.", 8},
		{free, "twenty five", 25},
		{free, "one hundred and five", 105},
		{free, "a thousand", 1000},
		{free, "seven point five", 7.5},
		{free, "1,250", 1250},
		{free, "minus three", -3},
		{rating, "I'd give it an eight, it's a good one", 8},
		{rating, "this one gets a seven", 7},
		{free, "one", 1},
	}
	for _, tc := range accept {
		got, err := Extract(tc.spec, tc.answer)
		require.NoError(t, err, tc.answer)
		assert.Equal(t, tc.want, got, tc.answer)
	}

	for _, answer := range []string{"maybe seven or eight", "not sure", "11", "zero", ""} {
		_, err := Extract(rating, answer)
		require.Error(t, err, answer)
		assert.True(t, IsRejection(err), answer)
	}

	whole := forms.FieldSpec{Name: "n", Type: forms.FieldNumber, Validation: forms.Validation{IntegerOnly: true}}
	_, err := Extract(whole, "seven point five")
	assert.ErrorContains(t, err, "whole number")
}

func TestExtractText(t *testing.T) {
	name := forms.FieldSpec{Name: "customer_name", Type: forms.FieldText, Required: true}
	got, err := Extract(name, "  John Smith. ")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", got)

	bounded := forms.FieldSpec{Name: "code", Type: forms.FieldText, Validation: forms.Validation{MinLength: ptr(3), MaxLength: ptr(5), Pattern: `^[A-Z0-9]+$`}}
	_, err = Extract(bounded, "AB")
	assert.ErrorContains(t, err, "at least 3")
	_, err = Extract(bounded, "abcd")
	assert.ErrorContains(t, err, "expected format")
	got, err = Extract(bounded, "AB12")
	require.NoError(t, err)
	assert.Equal(t, "AB12", got)
}

func TestExtractEmail(t *testing.T) {
	spec := forms.FieldSpec{Name: "email", Type: forms.FieldEmail}
	for answer, want := range map[string]string{
		"jane.doe@example.com":                         "jane.doe@example.com",
		"it's jane dot doe at example dot com":         "jane.doe@example.com",
		"My email is Bob_Smith@Mail.Example.co.uk ok?": "bob_smith@mail.example.co.uk",
	} {
		got, err := Extract(spec, answer)
		require.NoError(t, err, answer)
		assert.Equal(t, want, got, answer)
	}
	_, err := Extract(spec, "john at gmail")
	assert.True(t, IsRejection(err))
	_, err = Extract(spec, "a@example.com or b@example.com")
	assert.ErrorContains(t, err, "more than one")

	restricted := forms.FieldSpec{Name: "email", Type: forms.FieldEmail, Validation: forms.Validation{AllowedDomains: []string{"example.com"}}}
	_, err = Extract(restricted, "x@other.org")
	assert.ErrorContains(t, err, "domain")
	_, err = Extract(restricted, "x@eu.example.com")
	assert.NoError(t, err)
}

func TestExtractPhone(t *testing.T) {
	us := forms.FieldSpec{Name: "phone", Type: forms.FieldPhone, Validation: forms.Validation{DefaultCountryCode: "1"}}
	got, err := Extract(us, "555 123 4567")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", got)

	plain := forms.FieldSpec{Name: "phone", Type: forms.FieldPhone}
	got, err = Extract(plain, "five five five one two three four five six seven")
	require.NoError(t, err)
	assert.Equal(t, "5551234567", got)

	got, err = Extract(plain, "double five five, 123-4567")
	require.NoError(t, err)
	assert.Equal(t, "5551234567", got)

	uk := forms.FieldSpec{Name: "phone", Type: forms.FieldPhone, Validation: forms.Validation{CountryCodes: []string{"+44"}}}
	got, err = Extract(uk, "+44 20 7946 0958")
	require.NoError(t, err)
	assert.Equal(t, "+442079460958", got)

	_, err = Extract(uk, "+1 555 123 4567")
	assert.ErrorContains(t, err, "country code")
	_, err = Extract(plain, "123")
	assert.ErrorContains(t, err, "digits")
}

func TestExtractPhoneKeepsStrayNumbersOut(t *testing.T) {
	plain := forms.FieldSpec{Name: "phone", Type: forms.FieldPhone}

	got, err := Extract(plain, "my number is 555 123 4567, call after 5")
	require.NoError(t, err)
	assert.Equal(t, "5551234567", got)

	got, err = Extract(plain, "555 1234")
	require.NoError(t, err)
	assert.Equal(t, "5551234", got)

	_, err = Extract(plain, "work is 555 123 4567 and home is 555 765 4321")
	assert.ErrorContains(t, err, "more than one phone number")

	_, err = Extract(plain, "1234 5678 9012 3456 78")
	assert.ErrorContains(t, err, "digits")
}

func TestExtractPhoneMatchesWholeCountryCodes(t *testing.T) {
	four := forms.FieldSpec{Name: "phone", Type: forms.FieldPhone, Validation: forms.Validation{CountryCodes: []string{"4"}}}
	_, err := Extract(four, "+49 30 1234 5678")
	assert.ErrorContains(t, err, "country code")

	germany := forms.FieldSpec{Name: "phone", Type: forms.FieldPhone, Validation: forms.Validation{CountryCodes: []string{"49"}}}
	got, err := Extract(germany, "plus four nine three zero one two three four five six seven eight")
	require.NoError(t, err)
	assert.Equal(t, "+493012345678", got)
	assert.NoError(t, Validate(germany, got))

	assert.Error(t, Validate(four, "+493012345678"))
	assert.Error(t, Validate(germany, "493012345678"))
}

func TestExtractDate(t *testing.T) {
	e := Engine{Now: fixedNow}
	spec := forms.FieldSpec{Name: "visit", Type: forms.FieldDate}
	for answer, want := range map[string]string{
		"2026-04-01":               "2026-04-01",
		"04/05/2026":               "2026-04-05",
		"March fifth":              "2026-03-05",
		"the 3rd of May 2025":      "2025-05-03",
		"on March 5, 2024":         "2024-03-05",
		"tomorrow":                 "2026-03-11",
		"the day after tomorrow":   "2026-03-12",
		"it was yesterday I think": "2026-03-09",
	} {
		got, err := e.Extract(spec, answer)
		require.NoError(t, err, answer)
		assert.Equal(t, want, got, answer)
	}
	for _, answer := range []string{"February 30th", "I may come", "sometime soon", "March fifth nineteen"} {
		_, err := e.Extract(spec, answer)
		assert.True(t, IsRejection(err), answer)
	}

	bounded := forms.FieldSpec{Name: "visit", Type: forms.FieldDate, Validation: forms.Validation{MaxDate: "2026-12-31"}}
	_, err := e.Extract(bounded, "January 1 2027")
	assert.ErrorContains(t, err, "on or before")
}

func TestExtractBoolean(t *testing.T) {
	spec := forms.FieldSpec{Name: "consent", Type: forms.FieldBoolean}
	for answer, want := range map[string]bool{
		"yes please":           true,
		"Yeah, sure.":          true,
		"of course":            true,
		"nope":                 false,
		"absolutely not":       false,
		"I don't":              false,
		"No problem, go ahead": true,
		"I don't mind":         true,
	} {
		got, err := Extract(spec, answer)
		require.NoError(t, err, answer)
		assert.Equal(t, want, got, answer)
	}
	for _, answer := range []string{"not sure", "maybe", "yes and no", "purple", "no problem, but no"} {
		_, err := Extract(spec, answer)
		assert.True(t, IsRejection(err), answer)
	}
}

func TestExtractDateSpokenYear(t *testing.T) {
	e := Engine{Now: fixedNow}
	spec := forms.FieldSpec{Name: "birthday", Type: forms.FieldDate}
	for answer, want := range map[string]string{
		"March fifth, nineteen eighty five":   "1985-03-05",
		"the fifth of March twenty twenty":    "2020-03-05",
		"June 2nd twenty twenty five":         "2025-06-02",
		"July 4th nineteen oh five":           "1905-07-04",
		"the 1st of May two thousand and ten": "2010-05-01",
		"March fifth at 3":                    "2026-03-05",
	} {
		got, err := e.Extract(spec, answer)
		require.NoError(t, err, answer)
		assert.Equal(t, want, got, answer)
	}

	_, err := e.Extract(spec, "March fifth, eighty five")
	assert.ErrorContains(t, err, "year")
}

func TestExtractChoice(t *testing.T) {
	spec := forms.FieldSpec{Name: "plan", Type: forms.FieldChoice, Validation: forms.Validation{Options: []string{"Basic", "Premium", "Premium Plus"}}}
	for answer, want := range map[string]string{
		"premium plus please": "Premium Plus",
		"the BASIC one":       "Basic",
		"premum":              "Premium",
		"premiun":             "Premium",
	} {
		got, err := Extract(spec, answer)
		require.NoError(t, err, answer)
		assert.Equal(t, want, got, answer)
	}
	_, err := Extract(spec, "gold")
	assert.True(t, IsRejection(err))
	_, err = Extract(spec, "basic or premium")
	assert.ErrorContains(t, err, "more than one")

	accents := forms.FieldSpec{Name: "city", Type: forms.FieldChoice, Validation: forms.Validation{Options: []string{"São Paulo", "Zürich"}}}
	got, err := Extract(accents, "sao paulo")
	require.NoError(t, err)
	assert.Equal(t, "São Paulo", got)
}

func TestExtractMultiChoice(t *testing.T) {
	spec := forms.FieldSpec{Name: "channels", Type: forms.FieldMultiChoice, Validation: forms.Validation{
		Options:       []string{"Email", "SMS", "Phone call"},
		MaxSelections: ptr(2),
	}}
	got, err := Extract(spec, "sms and email")
	require.NoError(t, err)
	assert.Equal(t, []string{"Email", "SMS"}, got)

	_, err = Extract(spec, "email, sms and a phone call")
	assert.ErrorContains(t, err, "at most 2")

	atLeast := spec
	atLeast.Validation.MaxSelections = nil
	atLeast.Validation.MinSelections = ptr(2)
	_, err = Extract(atLeast, "just email")
	assert.ErrorContains(t, err, "at least 2")

	_, err = Extract(spec, "carrier pigeon")
	assert.True(t, IsRejection(err))
}

func TestExtractOutputAlwaysValidates(t *testing.T) {
	e := Engine{Now: fixedNow}
	cases := []struct {
		spec    forms.FieldSpec
		answers []string
	}{
		{forms.FieldSpec{Name: "n", Type: forms.FieldNumber, Validation: forms.Validation{Min: ptr(0.0), Max: ptr(100.0)}}, []string{"eight", "42", "ninety nine", "3 out of 5"}},
		{forms.FieldSpec{Name: "t", Type: forms.FieldText, Validation: forms.Validation{MaxLength: ptr(40)}}, []string{"hello", "  padded  "}},
		{forms.FieldSpec{Name: "d", Type: forms.FieldDate}, []string{"tomorrow", "June 1st 2026"}},
		{forms.FieldSpec{Name: "p", Type: forms.FieldPhone, Validation: forms.Validation{DefaultCountryCode: "+1"}}, []string{"555 867 5309"}},
		{forms.FieldSpec{Name: "c", Type: forms.FieldMultiChoice, Validation: forms.Validation{Options: []string{"Red", "Blue"}}}, []string{"red and blue", "blu"}},
	}
	for _, tc := range cases {
		for _, a := range tc.answers {
			v, err := e.Extract(tc.spec, a)
			require.NoError(t, err, a)
			assert.NoError(t, Validate(tc.spec, v), a)
		}
	}
}

func TestNormalize(t *testing.T) {
	rating := forms.FieldSpec{Name: "rating", Type: forms.FieldNumber, Validation: forms.Validation{Min: ptr(1.0), Max: ptr(10.0)}}
	v, err := Normalize(rating, 9.0)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
	v, err = Normalize(rating, "nine")
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
	_, err = Normalize(rating, 42.0)
	assert.True(t, IsRejection(err))
	_, err = Normalize(rating, nil)
	assert.True(t, IsRejection(err))

	multi := forms.FieldSpec{Name: "c", Type: forms.FieldMultiChoice, Validation: forms.Validation{Options: []string{"Email", "SMS"}}}
	v, err = Normalize(multi, []any{"email", "SMS"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Email", "SMS"}, v)

	flag := forms.FieldSpec{Name: "b", Type: forms.FieldBoolean}
	v, err = Normalize(flag, "yes")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "8", FormatValue(8.0))
	assert.Equal(t, "7.5", FormatValue(7.5))
	assert.Equal(t, "yes", FormatValue(true))
	assert.Equal(t, "Email, SMS", FormatValue([]string{"Email", "SMS"}))
	assert.Equal(t, "", FormatValue(nil))
}
