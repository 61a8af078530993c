package conversation

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-forms/pkg/capability"
	"github.com/vango-go/vai-forms/pkg/forms"
)

// SystemInstruction is the persona and protocol handed to the AI capability
// when a session connects.
func SystemInstruction(f *forms.Form) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly voice assistant helping a user complete the form %q.\n", f.Name)
	if d := strings.TrimSpace(f.Description); d != "" {
		fmt.Fprintf(&b, "Form description: %s\n", d)
	}
	if p := strings.TrimSpace(f.Persona); p != "" {
		fmt.Fprintf(&b, "%s\n", p)
	}
	b.WriteString("\nFields to collect, in order:\n")
	for i, fs := range f.Fields {
		req := "optional"
		if fs.Required {
			req = "REQUIRED"
		}
		fmt.Fprintf(&b, "%d. %s (%s, %s): %s\n", i+1, fs.Name, fs.Type, req, fs.Prompt)
		if opts := fs.Validation.Options; len(opts) > 0 {
			fmt.Fprintf(&b, "   options: %s\n", strings.Join(opts, ", "))
		}
	}
	b.WriteString("\nCRITICAL INSTRUCTIONS:\n")
	b.WriteString("- Ask one question at a time and only the question you are told to ask next.\n")
	b.WriteString("- Keep responses short and conversational.\n")
	b.WriteString("- When the user answers, call " + capability.AnswerToolName + " with the field name and the answer exactly as understood.\n")
	b.WriteString("- Never invent answers or move to another field on your own.\n")
	b.WriteString("- If you are told an answer was not accepted, politely ask again using the clarification given.\n")
	return b.String()
}

func greeting(f *forms.Form, resumed bool) string {
	if resumed {
		return fmt.Sprintf("Welcome the user back and tell them you will continue the %s form where you left off.", f.Name)
	}
	if intro := strings.TrimSpace(f.Intro); intro != "" {
		return "Greet the user and say: " + intro
	}
	return fmt.Sprintf("Greet the user warmly and explain you will help them complete the %s form.", f.Name)
}

func introText(f *forms.Form, resumed bool) string {
	if resumed {
		return fmt.Sprintf("Welcome back! Let's continue the %s form.", f.Name)
	}
	if intro := strings.TrimSpace(f.Intro); intro != "" {
		return intro
	}
	return fmt.Sprintf("Hi! Let's complete the %s form together.", f.Name)
}

func retryText(spec forms.FieldSpec, reason string) string {
	return fmt.Sprintf("Sorry, I couldn't use that (%s). %s", reason, spec.Prompt)
}

func promptInstruction(f *forms.Form, index int, spec forms.FieldSpec) string {
	req := "optional"
	if spec.Required {
		req = "required"
	}
	return fmt.Sprintf("Ask question %d of %d (%s, %s %s): %s", index+1, len(f.Fields), spec.Name, req, spec.Type, spec.Prompt)
}

func retryInstruction(spec forms.FieldSpec, answer, reason string) string {
	hint := ""
	switch spec.Type {
	case forms.FieldNumber:
		hint = " Ask for a single number."
	case forms.FieldBoolean:
		hint = " Ask for a clear yes or no."
	case forms.FieldDate:
		hint = " Ask for a specific calendar date."
	case forms.FieldChoice, forms.FieldMultiChoice:
		hint = " Read the options again: " + strings.Join(spec.Validation.Options, ", ") + "."
	case forms.FieldEmail:
		hint = " Ask them to spell the email address."
	case forms.FieldPhone:
		hint = " Ask for the full phone number digit by digit."
	}
	return fmt.Sprintf("The answer %q for %s could not be accepted: %s. Politely ask again: %s%s", answer, spec.Name, reason, spec.Prompt, hint)
}
