package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeClientMessages(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"start"}`))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := msg.(ClientStart); !ok {
		t.Fatalf("start decoded as %T", msg)
	}

	msg, err = DecodeClientMessage([]byte(`{"type":"manual_complete"}`))
	if err != nil {
		t.Fatalf("manual_complete: %v", err)
	}
	if _, ok := msg.(ClientManualComplete); !ok {
		t.Fatalf("manual_complete decoded as %T", msg)
	}

	msg, err = DecodeClientMessage([]byte(`{"type":"text_answer","text":"  John Smith "}`))
	if err != nil {
		t.Fatalf("text_answer: %v", err)
	}
	answer, ok := msg.(ClientTextAnswer)
	if !ok || answer.Text != "John Smith" {
		t.Fatalf("text_answer=%#v", msg)
	}
}

func TestDecodeClientMessageErrors(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		param string
	}{
		{name: "invalid json", in: `{`},
		{name: "missing type", in: `{}`, param: "type"},
		{name: "unknown type", in: `{"type":"hello"}`, param: "type"},
		{name: "empty answer", in: `{"type":"text_answer","text":"  "}`, param: "text"},
		{name: "wrong text type", in: `{"type":"text_answer","text":5}`},
		{name: "oversized answer", in: `{"type":"text_answer","text":"` + strings.Repeat("a", MaxTextAnswerRunes+1) + `"}`, param: "text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tc.in))
			de, ok := err.(*DecodeError)
			if !ok {
				t.Fatalf("err=%T %v, want *DecodeError", err, err)
			}
			if de.Code != CodeBadRequest {
				t.Fatalf("code=%q", de.Code)
			}
			if de.Param != tc.param {
				t.Fatalf("param=%q, want %q", de.Param, tc.param)
			}
		})
	}
}

func TestServerFrameShapes(t *testing.T) {
	b, err := json.Marshal(ServerCompleted{
		Type:            TypeCompleted,
		Message:         "Thanks",
		Summary:         "Collected 2 of 2 fields.",
		ExtractedFields: map[string]any{"rating": 8.0},
		Confidence:      1,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"completed","message":"Thanks","summary":"Collected 2 of 2 fields.","extracted_fields":{"rating":8},"confidence":1}`
	if string(b) != want {
		t.Fatalf("completed=%s\nwant      %s", b, want)
	}

	b, _ = json.Marshal(ServerProgress{Type: TypeProgress, CurrentField: 2, TotalFields: 4, Percentage: 25})
	if string(b) != `{"type":"progress","current_field":2,"total_fields":4,"percentage":25}` {
		t.Fatalf("progress=%s", b)
	}

	if (&DecodeError{Message: "bad", Param: "text"}).Error() != "bad (text)" {
		t.Fatal("unexpected DecodeError format")
	}
}
