// Package forms describes the fields a voice session collects.
//
// A Form is immutable once a session references it. Definitions are loaded
// from YAML through a Source; storage and editing of definitions live outside
// this module.
package forms

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type FieldType string

const (
	FieldText        FieldType = "text"
	FieldNumber      FieldType = "number"
	FieldEmail       FieldType = "email"
	FieldPhone       FieldType = "phone"
	FieldDate        FieldType = "date"
	FieldBoolean     FieldType = "boolean"
	FieldChoice      FieldType = "choice"
	FieldMultiChoice FieldType = "multi_choice"
)

// DateLayout is the canonical rendering of date values.
const DateLayout = "2006-01-02"

var ErrNotFound = errors.New("form not found")

func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldEmail, FieldPhone, FieldDate, FieldBoolean, FieldChoice, FieldMultiChoice:
		return true
	default:
		return false
	}
}

// Validation holds type-specific constraints. Unset pointers mean no bound.
type Validation struct {
	Min         *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	IntegerOnly bool     `yaml:"integer_only,omitempty" json:"integer_only,omitempty"`

	MinLength *int   `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength *int   `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Pattern   string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	Options       []string `yaml:"options,omitempty" json:"options,omitempty"`
	MinSelections *int     `yaml:"min_selections,omitempty" json:"min_selections,omitempty"`
	MaxSelections *int     `yaml:"max_selections,omitempty" json:"max_selections,omitempty"`

	AllowedDomains []string `yaml:"allowed_domains,omitempty" json:"allowed_domains,omitempty"`

	CountryCodes       []string `yaml:"country_codes,omitempty" json:"country_codes,omitempty"`
	DefaultCountryCode string   `yaml:"default_country_code,omitempty" json:"default_country_code,omitempty"`

	MinDate string `yaml:"min_date,omitempty" json:"min_date,omitempty"`
	MaxDate string `yaml:"max_date,omitempty" json:"max_date,omitempty"`
}

type FieldSpec struct {
	Name       string     `yaml:"name" json:"name"`
	Type       FieldType  `yaml:"type" json:"type"`
	Required   bool       `yaml:"required,omitempty" json:"required,omitempty"`
	Prompt     string     `yaml:"prompt" json:"prompt"`
	Validation Validation `yaml:"validation,omitempty" json:"validation,omitempty"`
}

type Callback struct {
	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
	Secret string `yaml:"secret,omitempty" json:"-"`
}

type Form struct {
	ID                  string        `yaml:"id" json:"id"`
	Name                string        `yaml:"name" json:"name"`
	Description         string        `yaml:"description,omitempty" json:"description,omitempty"`
	Intro               string        `yaml:"intro,omitempty" json:"intro,omitempty"`
	Persona             string        `yaml:"persona,omitempty" json:"persona,omitempty"`
	Fields              []FieldSpec   `yaml:"fields" json:"fields"`
	Callback            Callback      `yaml:"callback,omitempty" json:"callback"`
	SuccessMessage      string        `yaml:"success_message,omitempty" json:"success_message,omitempty"`
	ErrorMessage        string        `yaml:"error_message,omitempty" json:"error_message,omitempty"`
	SessionTTL          time.Duration `yaml:"session_ttl,omitempty" json:"session_ttl,omitempty"`
	RequireConfirmation bool          `yaml:"require_confirmation,omitempty" json:"require_confirmation,omitempty"`
}

// Source resolves form definitions by id.
type Source interface {
	Form(ctx context.Context, id string) (*Form, error)
}

func (f *Form) Field(name string) (FieldSpec, bool) {
	for _, fs := range f.Fields {
		if fs.Name == name {
			return fs, true
		}
	}
	return FieldSpec{}, false
}

func (f *Form) SuccessText() string {
	if s := strings.TrimSpace(f.SuccessMessage); s != "" {
		return s
	}
	return "Thank you! Your responses have been recorded."
}

func (f *Form) ErrorText() string {
	if s := strings.TrimSpace(f.ErrorMessage); s != "" {
		return s
	}
	return "Sorry, we could not complete this form. Please try again later."
}

// Validate checks a definition and fills defaults (callback method).
func (f *Form) Validate() error {
	if f == nil {
		return errors.New("form is nil")
	}
	f.ID = strings.TrimSpace(f.ID)
	if f.ID == "" {
		return errors.New("form id is required")
	}
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("form %q: name is required", f.ID)
	}
	if len(f.Fields) == 0 {
		return fmt.Errorf("form %q: at least one field is required", f.ID)
	}
	if f.SessionTTL < 0 {
		return fmt.Errorf("form %q: session_ttl must be >= 0", f.ID)
	}
	seen := make(map[string]struct{}, len(f.Fields))
	for i := range f.Fields {
		fs := &f.Fields[i]
		fs.Name = strings.TrimSpace(fs.Name)
		if fs.Name == "" {
			return fmt.Errorf("form %q: field %d: name is required", f.ID, i)
		}
		if _, dup := seen[fs.Name]; dup {
			return fmt.Errorf("form %q: duplicate field name %q", f.ID, fs.Name)
		}
		seen[fs.Name] = struct{}{}
		if err := fs.validate(); err != nil {
			return fmt.Errorf("form %q: field %q: %w", f.ID, fs.Name, err)
		}
	}

	if f.Callback.Method == "" {
		f.Callback.Method = "POST"
	}
	f.Callback.Method = strings.ToUpper(strings.TrimSpace(f.Callback.Method))
	if f.Callback.Method != "POST" && f.Callback.Method != "PUT" {
		return fmt.Errorf("form %q: callback method must be POST or PUT", f.ID)
	}
	if raw := strings.TrimSpace(f.Callback.URL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("form %q: callback url must be an absolute http(s) url", f.ID)
		}
		f.Callback.URL = raw
	}
	return nil
}

func (fs *FieldSpec) validate() error {
	if !fs.Type.Valid() {
		return fmt.Errorf("unknown type %q", fs.Type)
	}
	if strings.TrimSpace(fs.Prompt) == "" {
		return errors.New("prompt is required")
	}
	v := fs.Validation
	if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
		return errors.New("min must be <= max")
	}
	if v.MinLength != nil && *v.MinLength < 0 {
		return errors.New("min_length must be >= 0")
	}
	if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
		return errors.New("min_length must be <= max_length")
	}
	if v.Pattern != "" {
		if _, err := regexp.Compile(v.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	}
	if fs.Type == FieldChoice || fs.Type == FieldMultiChoice {
		if len(v.Options) == 0 {
			return errors.New("options are required")
		}
	}
	if v.MinSelections != nil && v.MaxSelections != nil && *v.MinSelections > *v.MaxSelections {
		return errors.New("min_selections must be <= max_selections")
	}
	var minDate, maxDate time.Time
	var err error
	if v.MinDate != "" {
		if minDate, err = time.Parse(DateLayout, v.MinDate); err != nil {
			return errors.New("min_date must be YYYY-MM-DD")
		}
	}
	if v.MaxDate != "" {
		if maxDate, err = time.Parse(DateLayout, v.MaxDate); err != nil {
			return errors.New("max_date must be YYYY-MM-DD")
		}
	}
	if !minDate.IsZero() && !maxDate.IsZero() && minDate.After(maxDate) {
		return errors.New("min_date must be <= max_date")
	}
	for _, cc := range v.CountryCodes {
		if strings.Trim(cc, "+0123456789") != "" {
			return fmt.Errorf("invalid country code %q", cc)
		}
	}
	return nil
}
