package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
	closed bool
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeWSWriter) waitWrites(t *testing.T, n int) []recordedWrite {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w := f.snapshot(); len(w) >= n {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, got %+v", n, f.snapshot())
	return nil
}

func testWriterConfig() Config {
	return Config{PingInterval: time.Hour, WriteTimeout: time.Second}
}

func TestOutboundWriter_ControlBeatsPlayback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	control := make(chan []byte, 1)
	playback := newFrameQueue(8)
	playback.Push([]byte{0x01})
	playback.Push([]byte{0x02})
	control <- []byte(`{"type":"progress"}`)

	ws := &fakeWSWriter{}
	var audioBytes int
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      testWriterConfig(),
		control:  control,
		playback: playback,
		onAudio:  func(n int) { audioBytes += n },
	}
	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	writes := ws.waitWrites(t, 3)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if writes[0].messageType != websocket.TextMessage || !strings.Contains(writes[0].data, `"progress"`) {
		t.Fatalf("first write was not the control frame: %+v", writes[0])
	}
	if writes[1].data != "\x01" || writes[2].data != "\x02" {
		t.Fatalf("audio out of order: %+v", writes[1:3])
	}
	if writes[1].messageType != websocket.BinaryMessage {
		t.Fatalf("audio type=%d, want BinaryMessage", writes[1].messageType)
	}
	if audioBytes != 2 {
		t.Fatalf("audioBytes=%d, want 2", audioBytes)
	}
}

func TestOutboundWriter_WakesOnLatePlayback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	playback := newFrameQueue(8)
	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, cfg: testWriterConfig(), control: make(chan []byte), playback: playback}
	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	time.Sleep(20 * time.Millisecond)
	playback.Push([]byte{0x07})
	writes := ws.waitWrites(t, 1)
	if writes[0].data != "\x07" {
		t.Fatalf("unexpected write: %+v", writes[0])
	}
	cancel()
	<-done
}

func TestOutboundWriter_FlushesControlAndDropsAudioOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	control := make(chan []byte, 2)
	control <- []byte(`{"type":"completed"}`)
	playback := newFrameQueue(8)
	playback.Push([]byte{0x01})

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, cfg: testWriterConfig(), control: control, playback: playback}

	cancel()
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 2 {
		t.Fatalf("expected completed + close, got %+v", writes)
	}
	if !strings.Contains(writes[0].data, `"completed"`) {
		t.Fatalf("expected completed to flush on shutdown, writes=%+v", writes)
	}
	if writes[1].messageType != websocket.CloseMessage {
		t.Fatalf("expected close frame, got type %d", writes[1].messageType)
	}
	if !ws.closed {
		t.Fatalf("expected websocket to be closed")
	}
}
