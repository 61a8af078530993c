// Package gemini implements capability.Connector over the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/vai-forms/pkg/capability"
)

const (
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	inputAudioMIME = "audio/pcm;rate=16000"
	eventBuffer    = 64
)

type Config struct {
	APIKey string
	Model  string
	Voice  string
}

type Connector struct {
	client *genai.Client
	model  string
	voice  string
	logger *slog.Logger
}

func NewConnector(ctx context.Context, cfg Config, logger *slog.Logger) (*Connector, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Connector{client: client, model: model, voice: strings.TrimSpace(cfg.Voice), logger: logger}, nil
}

func (c *Connector) Connect(ctx context.Context, setup capability.Setup) (capability.Conn, error) {
	conf := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		SystemInstruction:        genai.NewContentFromText(setup.Instruction, genai.RoleUser),
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		Tools:                    []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{answerTool(setup.Fields)}}},
	}
	if c.voice != "" {
		conf.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.voice}},
		}
	}

	sess, err := c.client.Live.Connect(ctx, c.model, conf)
	if err != nil {
		return nil, &capability.Error{Op: "connect", Err: err}
	}
	conn := &conn{
		sess:   sess,
		events: make(chan capability.Event, eventBuffer),
		done:   make(chan struct{}),
		logger: c.logger.With("session_id", setup.SessionID, "model", c.model),
	}
	go conn.readLoop()
	return conn, nil
}

func answerTool(fields []string) *genai.FunctionDeclaration {
	field := &genai.Schema{Type: genai.TypeString, Description: "Name of the form field being answered."}
	if len(fields) > 0 {
		field.Enum = append([]string(nil), fields...)
	}
	return &genai.FunctionDeclaration{
		Name:        capability.AnswerToolName,
		Description: "Record the user's answer to the current form question.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"field": field,
				"value": {Type: genai.TypeString, Description: "The answer as the user gave it."},
			},
			Required: []string{"field", "value"},
		},
	}
}

type conn struct {
	sess   *genai.Session
	logger *slog.Logger

	// sendMu serializes writes on the provider websocket.
	sendMu sync.Mutex

	events    chan capability.Event
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (c *conn) Events() <-chan capability.Event { return c.events }

func (c *conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *conn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) SendAudio(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed() {
		return capability.ErrClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: inputAudioMIME, Data: pcm},
	}); err != nil {
		return &capability.Error{Op: "send audio", Err: err}
	}
	return nil
}

func (c *conn) SendControl(ctx context.Context, ctl capability.Control) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed() {
		return capability.ErrClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.sess.SendRealtimeInput(genai.LiveRealtimeInput{Text: ctl.Text}); err != nil {
		return &capability.Error{Op: "send control", Err: err}
	}
	return nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.setErr(capability.ErrClosed)
		err = c.sess.Close()
	})
	return err
}

func (c *conn) readLoop() {
	defer close(c.events)
	for {
		msg, err := c.sess.Receive()
		if err != nil {
			if !c.closed() {
				c.setErr(&capability.Error{Op: "receive", Err: err})
			}
			return
		}
		for _, ev := range c.translate(msg) {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

func (c *conn) translate(msg *genai.LiveServerMessage) []capability.Event {
	if msg == nil {
		return nil
	}
	var out []capability.Event
	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			out = append(out, capability.Event{Kind: capability.EventInterrupted})
		}
		if tr := sc.InputTranscription; tr != nil && strings.TrimSpace(tr.Text) != "" {
			out = append(out, capability.Event{Kind: capability.EventInputTranscript, Text: tr.Text})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil {
					continue
				}
				if strings.HasPrefix(part.InlineData.MIMEType, "audio/") && len(part.InlineData.Data) > 0 {
					out = append(out, capability.Event{Kind: capability.EventAudio, Audio: part.InlineData.Data})
				}
			}
		}
		if tr := sc.OutputTranscription; tr != nil && strings.TrimSpace(tr.Text) != "" {
			out = append(out, capability.Event{Kind: capability.EventOutputTranscript, Text: tr.Text})
		}
		if sc.TurnComplete {
			out = append(out, capability.Event{Kind: capability.EventTurnComplete})
		}
	}
	if tc := msg.ToolCall; tc != nil {
		out = append(out, c.handleToolCalls(tc.FunctionCalls)...)
	}
	if msg.GoAway != nil {
		c.logger.Warn("gemini live go-away received")
	}
	return out
}

func (c *conn) handleToolCalls(calls []*genai.FunctionCall) []capability.Event {
	var out []capability.Event
	var responses []*genai.FunctionResponse
	for _, fc := range calls {
		if fc == nil {
			continue
		}
		if fc.Name != capability.AnswerToolName {
			responses = append(responses, &genai.FunctionResponse{
				ID: fc.ID, Name: fc.Name,
				Response: map[string]any{"error": "unknown tool"},
			})
			continue
		}
		field, _ := fc.Args["field"].(string)
		value := ""
		switch v := fc.Args["value"].(type) {
		case string:
			value = v
		case nil:
		default:
			value = fmt.Sprint(v)
		}
		out = append(out, capability.Event{Kind: capability.EventAnswer, Field: field, Text: value})
		responses = append(responses, &genai.FunctionResponse{
			ID: fc.ID, Name: fc.Name,
			Response: map[string]any{"output": "received; wait for the next instruction"},
		})
	}
	if len(responses) > 0 {
		c.sendMu.Lock()
		err := c.sess.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
		c.sendMu.Unlock()
		if err != nil {
			c.logger.Warn("gemini tool response failed", "error", err)
		}
	}
	return out
}
