package gemini

import (
	"io"
	"log/slog"
	"testing"

	"google.golang.org/genai"

	"github.com/vango-go/vai-forms/pkg/capability"
)

func TestTranslateServerContent(t *testing.T) {
	c := &conn{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			InputTranscription: &genai.Transcription{Text: "John Smith"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 2}}},
				{Text: "thinking"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{9}}},
			}},
			OutputTranscription: &genai.Transcription{Text: "Thanks John"},
			TurnComplete:        true,
		},
	}

	got := c.translate(msg)
	want := []capability.EventKind{
		capability.EventInputTranscript,
		capability.EventAudio,
		capability.EventOutputTranscript,
		capability.EventTurnComplete,
	}
	if len(got) != len(want) {
		t.Fatalf("events=%d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Fatalf("event[%d]=%q, want %q", i, got[i].Kind, want[i])
		}
	}
	if got[0].Text != "John Smith" || string(got[1].Audio) != "\x01\x02" {
		t.Fatalf("unexpected payloads: %+v", got)
	}
}

func TestTranslateInterruptedFirst(t *testing.T) {
	c := &conn{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	got := c.translate(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true}})
	if len(got) != 1 || got[0].Kind != capability.EventInterrupted {
		t.Fatalf("got %+v, want one interrupted event", got)
	}
	if c.translate(nil) != nil {
		t.Fatalf("nil message should produce no events")
	}
}

func TestAnswerToolSchema(t *testing.T) {
	decl := answerTool([]string{"customer_name", "rating"})
	if decl.Name != capability.AnswerToolName {
		t.Fatalf("name=%q", decl.Name)
	}
	field := decl.Parameters.Properties["field"]
	if field == nil || len(field.Enum) != 2 || field.Enum[1] != "rating" {
		t.Fatalf("field schema=%+v", field)
	}
	if len(decl.Parameters.Required) != 2 {
		t.Fatalf("required=%v", decl.Parameters.Required)
	}
}
