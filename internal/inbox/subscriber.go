package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"filedrop/internal/model"
	"filedrop/internal/utils/log"
)

// Subscriber lifecycle:
//
//	idle -> connecting -> connected -> (message)*
//	          ^                |
//	          |   error/close  v
//	          +---- idle (pending reconnect)
//
// until Cancel or a superseding Subscribe moves it to closed.

type (
	State int

	EventKind int

	// Event is what the subscription channel delivers. Message is set
	// for EventMessage, Err for EventError.
	Event struct {
		Kind    EventKind
		Message *model.GSOCMessage
		Err     error
	}

	Options struct {
		// DisableReconnect turns off the automatic retry after a
		// transport failure. Reconnect is on by default.
		DisableReconnect bool
		ReconnectDelay   time.Duration
		Buffer           int
	}

	// Subscriber holds at most one live inbox channel. A new Subscribe
	// cancels the previous subscription first.
	Subscriber struct {
		base   string
		dialer *websocket.Dialer
		opts   Options

		mu     sync.Mutex
		gen    uint64
		state  State
		cancel context.CancelFunc
		conn   *websocket.Conn
	}
)

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
)

const (
	EventConnected EventKind = iota
	EventMessage
	EventError
	EventClosed
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultBuffer         = 16
)

var errSuperseded = errors.New("subscription superseded")

// reduce is the pure transition function over delivered events. The
// connecting edge is driven by the dial attempt itself, not an event.
func reduce(s State, k EventKind) State {
	if s == StateClosed {
		return StateClosed
	}
	switch k {
	case EventConnected:
		return StateConnected
	case EventError, EventClosed:
		return StateIdle
	default:
		return s
	}
}

func NewSubscriber(base string, opts Options) *Subscriber {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Subscriber{
		base:   base,
		dialer: websocket.DefaultDialer,
		opts:   opts,
		state:  StateIdle,
	}
}

// Subscribe opens the inbox channel and returns the event stream. The
// stream is closed when the subscription ends for good: Cancel, a
// superseding Subscribe, ctx cancellation, or a transport failure with
// reconnect disabled. Descriptors are delivered in transport order and
// are not deduplicated here; after a reconnect the feed is re-read from
// startIndex, so the consumer's dedup by reference is load-bearing.
func (s *Subscriber) Subscribe(ctx context.Context, params model.InboxParams, startIndex uint64) <-chan Event {
	params = params.Normalize()

	s.mu.Lock()
	s.cancelLocked()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.mu.Unlock()

	events := make(chan Event, s.opts.Buffer)
	go s.run(runCtx, gen, params, startIndex, events)
	return events
}

// Cancel tears down the live subscription and any pending reconnect
// timer. Safe to call when nothing is live, and safe to call twice.
func (s *Subscriber) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.gen++
	s.state = StateClosed
}

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) cancelLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Subscriber) run(ctx context.Context, gen uint64, params model.InboxParams, startIndex uint64, events chan Event) {
	defer close(events)

	for {
		conn, _, err := s.dialer.DialContext(ctx, s.feedURL(params, startIndex), nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug("inbox connect failed", zap.Error(err))
			if !s.emit(ctx, gen, events, Event{Kind: EventError, Err: err}) {
				return
			}
			if !s.waitReconnect(ctx, gen) {
				return
			}
			continue
		}

		s.setConn(gen, conn)
		log.Debug("inbox connected",
			zap.String("overlay", params.TargetOverlay),
			zap.Uint64("from", startIndex))
		if !s.emit(ctx, gen, events, Event{Kind: EventConnected}) {
			conn.Close()
			return
		}

		readErr := s.readLoop(ctx, gen, conn, events)
		conn.Close()
		s.setConn(gen, nil)

		if ctx.Err() != nil || errors.Is(readErr, errSuperseded) {
			return
		}

		ev := Event{Kind: EventError, Err: readErr}
		if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			ev = Event{Kind: EventClosed}
		}
		if !s.emit(ctx, gen, events, ev) {
			return
		}
		// Reconnect re-reads from the original start index; dedup
		// downstream absorbs redelivered descriptors.
		if !s.waitReconnect(ctx, gen) {
			return
		}
	}
}

func (s *Subscriber) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn, events chan Event) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg model.GSOCMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error("unmarshal feed descriptor failed", zap.Error(err))
			continue
		}

		if !s.emit(ctx, gen, events, Event{Kind: EventMessage, Message: &msg}) {
			return errSuperseded
		}
	}
}

// emit delivers an event unless this subscription has been superseded
// or torn down. State mutation is gated on the generation check so a
// stale goroutine cannot touch the live subscription's state.
func (s *Subscriber) emit(ctx context.Context, gen uint64, events chan<- Event, ev Event) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.state = reduce(s.state, ev.Kind)
	s.mu.Unlock()

	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Subscriber) waitReconnect(ctx context.Context, gen uint64) bool {
	if s.opts.DisableReconnect {
		return false
	}

	t := time.NewTimer(s.opts.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.state = StateConnecting
	return true
}

func (s *Subscriber) setConn(gen uint64, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.conn = conn
}

func (s *Subscriber) feedURL(params model.InboxParams, startIndex uint64) string {
	base := s.base
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/gsoc/subscribe/%s/%s?from=%d",
		base,
		url.PathEscape(params.TargetOverlay),
		url.PathEscape(params.BaseIdentifier),
		startIndex)
}
