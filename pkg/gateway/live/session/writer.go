package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter is the only goroutine that writes to the websocket. JSON
// control frames always go ahead of queued playback audio.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	control  <-chan []byte
	playback *frameQueue
	// onAudio observes each audio frame written.
	onAudio func(n int)
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}
	defer w.ws.Close()
	w.cfg = w.cfg.withDefaults()

	pingTicker := time.NewTicker(w.cfg.PingInterval)
	defer pingTicker.Stop()

	var audioReady <-chan struct{}
	if w.playback != nil {
		audioReady = w.playback.Ready()
	}

	for {
		select {
		case <-w.ctx.Done():
			w.flushControlOnShutdown()
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(w.cfg.WriteTimeout))
			return nil
		default:
		}

		select {
		case payload := <-w.control:
			if err := w.write(websocket.TextMessage, payload); err != nil {
				return err
			}
			continue
		default:
		}

		// One audio frame at a time so a control frame can cut in between.
		if w.playback != nil {
			if frame, ok := w.playback.Pop(); ok {
				if err := w.write(websocket.BinaryMessage, frame); err != nil {
					return err
				}
				if w.onAudio != nil {
					w.onAudio(len(frame))
				}
				continue
			}
		}

		select {
		case <-w.ctx.Done():
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(w.cfg.WriteTimeout)); err != nil {
				return err
			}
		case payload := <-w.control:
			if err := w.write(websocket.TextMessage, payload); err != nil {
				return err
			}
		case <-audioReady:
		}
	}
}

// flushControlOnShutdown writes the final control frames (completed, error)
// queued before cancellation. Playback audio is dropped.
func (w *outboundWriter) flushControlOnShutdown() {
	flushTimeout := 100 * time.Millisecond
	if w.cfg.WriteTimeout > 0 && w.cfg.WriteTimeout < flushTimeout {
		flushTimeout = w.cfg.WriteTimeout
	}
	deadline := time.Now().Add(flushTimeout)
	for time.Now().Before(deadline) {
		select {
		case payload := <-w.control:
			if err := w.write(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *outboundWriter) write(messageType int, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(messageType, payload)
}
