// Package capability abstracts the remote conversational-AI audio service.
//
// A Conn is one provider session: audio goes in through SendAudio,
// instructions through SendControl, and everything the provider produces
// comes back on Events until the session ends.
package capability

import (
	"context"
	"errors"
)

const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

var (
	// ErrBackpressure is returned by SendAudio when the provider cannot take
	// more audio right now; callers may retry the same chunk later.
	ErrBackpressure = errors.New("capability backpressure")
	ErrClosed       = errors.New("capability session closed")
)

// AnswerToolName is the tool a provider calls to report a structured answer.
const AnswerToolName = "record_field_value"

type EventKind string

const (
	EventAudio            EventKind = "audio"
	EventInputTranscript  EventKind = "input_transcript"
	EventOutputTranscript EventKind = "output_transcript"
	EventTurnComplete     EventKind = "turn_complete"
	EventInterrupted      EventKind = "interrupted"
	// EventAnswer carries a structured answer the provider extracted itself.
	EventAnswer EventKind = "answer"
	EventError  EventKind = "error"
)

type Event struct {
	Kind  EventKind
	Audio []byte
	Text  string
	// Field names the form field of an EventAnswer.
	Field string
	Err   error
}

type Setup struct {
	SessionID   string
	FormName    string
	Instruction string
	// Fields lists the field names the provider may report answers for.
	Fields []string
}

type Control struct {
	Text string
}

type Conn interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendControl(ctx context.Context, c Control) error
	// Events is closed when the provider session ends; Err then reports why.
	Events() <-chan Event
	Err() error
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, setup Setup) (Conn, error)
}

// Error wraps a provider failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return "capability " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
