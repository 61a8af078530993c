// Package protocol defines the JSON control frames exchanged with a browser
// over the live session websocket. Audio travels in binary frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	TypeStart          = "start"
	TypeManualComplete = "manual_complete"
	TypeTextAnswer     = "text_answer"

	TypeReady      = "ready"
	TypeProgress   = "progress"
	TypeTranscript = "transcript"
	TypeCompleted  = "completed"
	TypeError      = "error"
	TypeExpired    = "expired"
	TypeFailed     = "failed"
)

// MaxTextAnswerRunes bounds a typed fallback answer.
const MaxTextAnswerRunes = 2000

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

type ClientStart struct {
	Type string `json:"type"`
}

type ClientManualComplete struct {
	Type string `json:"type"`
}

type ClientTextAnswer struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DecodeClientMessage parses one text frame into ClientStart,
// ClientManualComplete or ClientTextAnswer.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeStart:
		return ClientStart{Type: typ}, nil
	case TypeManualComplete:
		return ClientManualComplete{Type: typ}, nil
	case TypeTextAnswer:
		var msg ClientTextAnswer
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text_answer frame", "")
		}
		msg.Type = typ
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.Text == "" {
			return nil, badRequest("text_answer.text is required", "text")
		}
		if utf8.RuneCountInString(msg.Text) > MaxTextAnswerRunes {
			return nil, badRequest(fmt.Sprintf("text_answer.text exceeds %d characters", MaxTextAnswerRunes), "text")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

type ServerReady struct {
	Type             string `json:"type"`
	SessionID        string `json:"session_id"`
	FormName         string `json:"form_name"`
	TotalFields      int    `json:"total_fields"`
	InputSampleRate  int    `json:"input_sample_rate"`
	OutputSampleRate int    `json:"output_sample_rate"`
}

type ServerProgress struct {
	Type         string `json:"type"`
	CurrentField int    `json:"current_field"`
	TotalFields  int    `json:"total_fields"`
	Percentage   int    `json:"percentage"`
}

const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

type ServerTranscript struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type ServerCompleted struct {
	Type            string         `json:"type"`
	Message         string         `json:"message"`
	Summary         string         `json:"summary"`
	ExtractedFields map[string]any `json:"extracted_fields"`
	Confidence      float64        `json:"confidence"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ServerExpired struct {
	Type string `json:"type"`
}

type ServerFailed struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error codes carried by ServerError.
const (
	CodeBadRequest         = "bad_request"
	CodeSessionNotFound    = "session_not_found"
	CodeSessionBusy        = "session_busy"
	CodeSessionClosed      = "session_closed"
	CodeCapabilityLost     = "capability_unavailable"
	CodeInternal           = "internal"
	CodeServerShuttingDown = "server_shutting_down"
)
