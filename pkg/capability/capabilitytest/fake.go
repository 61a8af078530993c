// Package capabilitytest provides a scriptable in-memory capability for tests.
package capabilitytest

import (
	"context"
	"errors"
	"sync"

	"github.com/vango-go/vai-forms/pkg/capability"
)

// Conn records what the session sends and lets a test push provider events.
// Emit and Finish must be called from a single goroutine.
type Conn struct {
	mu       sync.Mutex
	audio    [][]byte
	controls []capability.Control
	err      error

	events   chan capability.Event
	done     chan struct{}
	once     sync.Once
	finished bool

	// OnControl runs after each SendControl, outside the lock.
	OnControl func(c *Conn, ctl capability.Control)
	// AudioErr, when set, is returned by SendAudio.
	AudioErr func(pcm []byte) error
}

func NewConn() *Conn {
	return &Conn{
		events: make(chan capability.Event, 256),
		done:   make(chan struct{}),
	}
}

func (c *Conn) SendAudio(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return capability.ErrClosed
	default:
	}
	if c.AudioErr != nil {
		if err := c.AudioErr(pcm); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.audio = append(c.audio, append([]byte(nil), pcm...))
	c.mu.Unlock()
	return nil
}

func (c *Conn) SendControl(ctx context.Context, ctl capability.Control) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return capability.ErrClosed
	default:
	}
	c.mu.Lock()
	c.controls = append(c.controls, ctl)
	hook := c.OnControl
	c.mu.Unlock()
	if hook != nil {
		hook(c, ctl)
	}
	return nil
}

func (c *Conn) Events() <-chan capability.Event { return c.events }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Emit queues a provider event. It reports false once the conn is closed.
func (c *Conn) Emit(ev capability.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// Finish ends the event stream with err, as a provider disconnect would.
func (c *Conn) Finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	c.err = err
	close(c.events)
}

func (c *Conn) Audio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...)
}

func (c *Conn) Controls() []capability.Control {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capability.Control(nil), c.controls...)
}

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

var ErrConnectFailed = errors.New("capabilitytest: connect failed")

// Connector hands out Conns built by NewConn. The first FailFirst connects
// fail.
type Connector struct {
	mu        sync.Mutex
	FailFirst int
	NewConn   func() *Conn
	conns     []*Conn
	setups    []capability.Setup
	ready     chan *Conn
}

func NewConnector() *Connector {
	return &Connector{ready: make(chan *Conn, 16)}
}

func (f *Connector) Connect(ctx context.Context, setup capability.Setup) (capability.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.setups = append(f.setups, setup)
	if f.FailFirst > 0 {
		f.FailFirst--
		f.mu.Unlock()
		return nil, ErrConnectFailed
	}
	newConn := f.NewConn
	f.mu.Unlock()

	var c *Conn
	if newConn != nil {
		c = newConn()
	} else {
		c = NewConn()
	}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	if f.ready != nil {
		select {
		case f.ready <- c:
		default:
		}
	}
	return c, nil
}

// Ready yields each Conn as it is connected.
func (f *Connector) Ready() <-chan *Conn { return f.ready }

func (f *Connector) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

func (f *Connector) Setups() []capability.Setup {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capability.Setup(nil), f.setups...)
}
