package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/framing"
	"github.com/jtrauntvein/coratools/messages"
)

// StreamRouter implements Router over a byte stream such as a TCP connection.
// Outgoing messages are framed and written under a mutex; Run reads frames,
// reassembles messages and posts their delivery to the dispatcher.
type StreamRouter struct {
	conn       io.ReadWriter
	dispatcher *event.Dispatcher
	logger     *slog.Logger

	writeMu sync.Mutex
	framer  *framing.Framer

	sessions    *Table[uint32, SessionHandler]
	lastSession uint32 // guarded by the sessions lock

	closed    atomic.Bool
	closeOnce sync.Once
}

// StreamOption configures a StreamRouter.
type StreamOption func(*StreamRouter)

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) StreamOption {
	return func(r *StreamRouter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxFrameSize overrides framing.DefaultMaxFrameSize.
func WithMaxFrameSize(n int) StreamOption {
	return func(r *StreamRouter) {
		r.framer = framing.NewFramer(n)
	}
}

// NewStreamRouter creates a router over conn whose callbacks are delivered by d.
func NewStreamRouter(conn io.ReadWriter, d *event.Dispatcher, opts ...StreamOption) *StreamRouter {
	r := &StreamRouter{
		conn:       conn,
		dispatcher: d,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		framer:     framing.NewFramer(framing.DefaultMaxFrameSize),
		sessions:   NewTable[uint32, SessionHandler](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatcher implements Router.
func (r *StreamRouter) Dispatcher() *event.Dispatcher {
	return r.dispatcher
}

// OpenSession implements Router.
func (r *StreamRouter) OpenSession(h SessionHandler) (uint32, error) {
	if h == nil {
		return 0, errors.New("open session: nil handler")
	}
	if r.closed.Load() {
		return 0, ErrClosed
	}

	a := r.sessions.Lock()
	defer a.Unlock()
	for {
		r.lastSession++
		if r.lastSession == messages.RouterSession {
			continue
		}
		if _, used := a.Get(r.lastSession); !used {
			break
		}
	}
	a.Set(r.lastSession, h)
	r.logger.Debug("session opened", slog.Uint64("session", uint64(r.lastSession)))
	return r.lastSession, nil
}

// CloseSession implements Router. The server is told the session is gone.
func (r *StreamRouter) CloseSession(session uint32) {
	a := r.sessions.Lock()
	_, ok := a.Delete(session)
	a.Unlock()
	if !ok || r.closed.Load() {
		return
	}
	if err := r.write(messages.New(session, messages.TypeSessionClose, nil)); err != nil {
		r.logger.Debug("session close not sent", slog.Uint64("session", uint64(session)), slog.Any("error", err))
	}
}

// SendMessage implements Router.
func (r *StreamRouter) SendMessage(msg *messages.Message) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if msg.Session != messages.RouterSession {
		a := r.sessions.Lock()
		_, ok := a.Get(msg.Session)
		a.Unlock()
		if !ok {
			return fmt.Errorf("%w: %d", ErrNoSession, msg.Session)
		}
	}
	return r.write(msg)
}

// Sessions returns the number of open sessions.
func (r *StreamRouter) Sessions() int {
	a := r.sessions.Lock()
	defer a.Unlock()
	return a.Len()
}

func (r *StreamRouter) write(msg *messages.Message) error {
	encoded, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	for _, f := range r.framer.Split(encoded) {
		if _, err := r.conn.Write(f.Encode()); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	r.logger.Debug("sent", slog.String("type", msg.Type.String()), slog.Uint64("session", uint64(msg.Session)))
	return nil
}

// Run reads from the connection until it fails or ctx is cancelled. When the
// connection implements io.Closer it is closed on cancellation to unblock the
// pending read. Every open session is then closed with CloseReasonTransport
// or CloseReasonRouterClosed.
func (r *StreamRouter) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	assembler := framing.NewAssembler()
	for {
		f, err := framing.ReadFrame(r.conn)
		if err != nil {
			if ctx.Err() != nil || r.closed.Load() {
				r.shutdown(CloseReasonRouterClosed)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			r.logger.Warn("transport failed", slog.Any("error", err))
			r.shutdown(CloseReasonTransport)
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: connection closed by server", ErrClosed)
			}
			return fmt.Errorf("read frame: %w", err)
		}

		complete, data, err := assembler.Add(f)
		if err != nil {
			r.shutdown(CloseReasonTransport)
			return fmt.Errorf("assemble frame: %w", err)
		}
		if !complete {
			continue
		}

		msg, err := messages.Decode(data)
		if err != nil {
			r.logger.Warn("dropping undecodable message", slog.Any("error", err))
			continue
		}
		r.logger.Debug("received", slog.String("type", msg.Type.String()), slog.Uint64("session", uint64(msg.Session)))
		r.dispatcher.Post(&event.Func{Fn: func() { r.deliver(msg) }})
	}
}

// Close closes the router. Open sessions are closed with
// CloseReasonRouterClosed on the dispatcher goroutine.
func (r *StreamRouter) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		if c, ok := r.conn.(io.Closer); ok {
			err = c.Close()
		}
	})
	r.shutdown(CloseReasonRouterClosed)
	return err
}

// deliver runs on the dispatcher goroutine.
func (r *StreamRouter) deliver(msg *messages.Message) {
	if msg.Type == messages.TypeSessionClosed {
		a := r.sessions.Lock()
		h, ok := a.Delete(msg.Session)
		a.Unlock()
		if ok {
			h.OnSessionClosed(r, msg.Session, CloseReasonServer)
		}
		return
	}

	a := r.sessions.Lock()
	h, ok := a.Get(msg.Session)
	a.Unlock()
	if !ok {
		r.logger.Debug("no handler for session", slog.Uint64("session", uint64(msg.Session)), slog.String("type", msg.Type.String()))
		return
	}
	h.OnMessage(r, msg)
}

func (r *StreamRouter) shutdown(reason CloseReason) {
	r.closed.Store(true)
	a := r.sessions.Lock()
	orphans := a.Clear()
	a.Unlock()
	if len(orphans) == 0 {
		return
	}
	r.dispatcher.Post(&event.Func{Fn: func() {
		for id, h := range orphans {
			h.OnSessionClosed(r, id, reason)
		}
	}})
}
