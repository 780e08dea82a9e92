// prouter is a simple message router
// it reads framed control messages off a session and hands them to a Handler
package prouter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
)

// ErrHandshakeTimeout reports a stream that was not Ready within Options.Handshake.
var ErrHandshakeTimeout = errors.New("peer did not introduce itself in time")

// Stream is the read side of a session. *transport.Session satisfies it.
type Stream interface {
	Receive() (protocol.Message, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Handler reacts to each control message. Returned errors are logged and
// never end the session.
type Handler interface {
	HandleConnect(ctx context.Context, msg *protocol.Connect) error
	HandleFileAck(ctx context.Context, msg *protocol.FileAck) error
	HandleSendChunkAck(ctx context.Context, msg *protocol.SendChunkAck) error
	HandleReceiveChunkAck(ctx context.Context, msg *protocol.ReceiveChunkAck) error
	// HandleClosed is called once when the stream dies.
	HandleClosed(err error)
}

type Options struct {
	Logger *logrus.Logger
	// StallTimeout bounds each read while Active reports true. Zero disables it.
	StallTimeout time.Duration
	Active       func() bool
	// Handshake bounds the time from Run until Ready first reports true. Zero disables it.
	Handshake time.Duration
	Ready     func() bool
}

type MessageRouter struct {
	stream    Stream
	handler   Handler
	logger    *logrus.Entry
	stall     time.Duration
	active    func() bool
	handshake time.Duration
	ready     func() bool

	closeOnce sync.Once
}

func NewMessageRouter(stream Stream, handler Handler, opts Options) *MessageRouter {
	active := opts.Active
	if active == nil {
		active = func() bool { return false }
	}
	ready := opts.Ready
	if ready == nil {
		ready = func() bool { return true }
	}
	return &MessageRouter{
		stream:    stream,
		handler:   handler,
		logger:    opts.Logger.WithField("component", "router"),
		stall:     opts.StallTimeout,
		active:    active,
		handshake: opts.Handshake,
		ready:     ready,
	}
}

// Run dispatches messages until the stream fails or ctx ends. Malformed
// frames are skipped; any other read error closes the stream and is returned.
func (r *MessageRouter) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.stream.Close()
		case <-stop:
		}
	}()

	var handshakeBy time.Time
	if r.handshake > 0 {
		handshakeBy = time.Now().Add(r.handshake)
	}

	for {
		introducing := !handshakeBy.IsZero() && !r.ready()
		if err := r.armDeadline(introducing, handshakeBy); err != nil {
			return r.closed(err)
		}

		msg, err := r.stream.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return r.closed(ctx.Err())
			}
			if introducing && errors.Is(err, os.ErrDeadlineExceeded) {
				return r.closed(fmt.Errorf("%w: %v", ErrHandshakeTimeout, err))
			}
			if errors.Is(err, protocol.ErrMalformed) {
				r.logger.Warnf("Skipping malformed frame: %v", err)
				continue
			}
			return r.closed(err)
		}

		r.route(ctx, msg)
	}
}

// armDeadline keeps the handshake deadline fixed across frames so that
// chatter before connect does not extend it.
func (r *MessageRouter) armDeadline(introducing bool, handshakeBy time.Time) error {
	if introducing {
		return r.stream.SetReadDeadline(handshakeBy)
	}
	if r.stall > 0 && r.active() {
		return r.stream.SetReadDeadline(time.Now().Add(r.stall))
	}
	return r.stream.SetReadDeadline(time.Time{})
}

func (r *MessageRouter) route(ctx context.Context, msg protocol.Message) {
	var err error
	switch m := msg.(type) {
	case *protocol.Connect:
		err = r.handler.HandleConnect(ctx, m)
	case *protocol.FileAck:
		err = r.handler.HandleFileAck(ctx, m)
	case *protocol.SendChunkAck:
		err = r.handler.HandleSendChunkAck(ctx, m)
	case *protocol.ReceiveChunkAck:
		err = r.handler.HandleReceiveChunkAck(ctx, m)
	default:
		r.logger.Warnf("No route for %T", msg)
		return
	}

	if err != nil {
		r.logger.WithField("event", msg.Event().String()).Warnf("Handler failed: %v", err)
	}
}

func (r *MessageRouter) closed(err error) error {
	r.closeOnce.Do(func() {
		_ = r.stream.Close()
		r.logger.Debugf("Stream closed: %v", err)
		r.handler.HandleClosed(err)
	})
	return err
}
