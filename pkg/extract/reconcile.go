package extract

import (
	"fmt"
	"math"
	"strings"

	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/record"
)

// Reconcile re-derives a best-effort value for every field from a full
// conversation log and summarizes the session. It has no side effects and
// does not consult live per-turn state, so it can run over recorded logs.
func (e Engine) Reconcile(log []record.Turn, fields []forms.FieldSpec) record.Proposal {
	values := make(map[string]any, len(fields))
	var resolved, missing []string

	for _, spec := range fields {
		v, ok := e.reconcileField(log, spec)
		if !ok {
			missing = append(missing, spec.Name)
			continue
		}
		values[spec.Name] = v
		resolved = append(resolved, fmt.Sprintf("%s: %s", spec.Name, FormatValue(v)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Collected %d of %d fields.", len(resolved), len(fields))
	if len(resolved) > 0 {
		fmt.Fprintf(&b, " %s.", strings.Join(resolved, "; "))
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, " Not provided: %s.", strings.Join(missing, ", "))
	}

	confidence := 0.0
	if len(fields) > 0 {
		confidence = math.Round(float64(len(resolved))/float64(len(fields))*100) / 100
	}
	return record.Proposal{Values: values, Summary: b.String(), Confidence: confidence}
}

// Reconcile uses the zero Engine.
func Reconcile(log []record.Turn, fields []forms.FieldSpec) record.Proposal {
	return Engine{}.Reconcile(log, fields)
}

func (e Engine) reconcileField(log []record.Turn, spec forms.FieldSpec) (any, bool) {
	for i := len(log) - 1; i >= 0; i-- {
		t := log[i]
		if t.Speaker != record.SpeakerUser || t.Field != spec.Name {
			continue
		}
		if v, err := e.Extract(spec, t.Content); err == nil {
			return v, true
		}
	}

	// Self-identifying formats can be found in answers given to other
	// questions ("you can reach me at jane@example.com").
	switch spec.Type {
	case forms.FieldEmail, forms.FieldPhone, forms.FieldDate:
	default:
		return nil, false
	}
	for i := len(log) - 1; i >= 0; i-- {
		t := log[i]
		if t.Speaker != record.SpeakerUser || t.Field == spec.Name {
			continue
		}
		if v, err := e.Extract(spec, t.Content); err == nil {
			return v, true
		}
	}
	return nil, false
}
