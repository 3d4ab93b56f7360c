package intake

import (
	"context"
	"log/slog"
	"time"

	"github.com/ocx/workernode/internal/cryptobox"
	"github.com/ocx/workernode/internal/metrics"
	"github.com/ocx/workernode/internal/wire"
)

// ControlSource subscribes to the broadcast control channel.
// transport.ControlChannel satisfies this.
type ControlSource interface {
	Subscribe(ctx context.Context, handler func([]byte)) (func(), error)
}

// Handler reacts to one decoded control message. Implemented by the
// scheduler.
type Handler interface {
	HandleControl(msg *wire.ControlMessage)
}

// ControlIntake decrypts and decodes frames off the control channel and
// dispatches them to a Handler in arrival order: control messages are
// processed one at a time, in the order received, never concurrently,
// since reordering a pause after its matching abort would be observable.
type ControlIntake struct {
	source      ControlSource
	peerPublic  *[cryptobox.KeySize]byte
	ourPrivate  *[cryptobox.KeySize]byte
	handler     Handler
	joinTimeout time.Duration

	queue   chan []byte
	done    chan struct{}
	stopped chan struct{}
}

// NewControlIntake builds a ControlIntake bound to source and handler.
// joinTimeout bounds how long Stop waits for the dispatch loop to finish
// the frame it is handling.
func NewControlIntake(source ControlSource, peerPublic, ourPrivate *[cryptobox.KeySize]byte, handler Handler, joinTimeout time.Duration) *ControlIntake {
	if joinTimeout <= 0 {
		joinTimeout = 2 * time.Second
	}
	return &ControlIntake{
		source:      source,
		peerPublic:  peerPublic,
		ourPrivate:  ourPrivate,
		handler:     handler,
		joinTimeout: joinTimeout,
		queue:       make(chan []byte, 64),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start subscribes to the control channel and begins dispatching. Returns a
// stop function that unsubscribes and joins the dispatch loop, waiting at
// most the configured join timeout.
func (ci *ControlIntake) Start(ctx context.Context) (func(), error) {
	unsub, err := ci.source.Subscribe(ctx, func(payload []byte) {
		select {
		case ci.queue <- payload:
		case <-ci.done:
		}
	})
	if err != nil {
		return nil, err
	}

	go ci.dispatchLoop()

	stop := func() {
		unsub()
		close(ci.done)
		select {
		case <-ci.stopped:
		case <-time.After(ci.joinTimeout):
			slog.Warn("intake: control dispatch loop did not stop within join timeout")
		}
	}
	return stop, nil
}

func (ci *ControlIntake) dispatchLoop() {
	defer close(ci.stopped)
	for {
		select {
		case payload := <-ci.queue:
			ci.handleFrame(payload)
		case <-ci.done:
			return
		}
	}
}

func (ci *ControlIntake) handleFrame(sealed []byte) {
	// A misbehaving handler must not take the intake loop (or the process)
	// down; log and move to the next frame.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("intake: control handler panicked", "panic", r)
		}
	}()

	plain, err := cryptobox.Open(sealed, ci.peerPublic, ci.ourPrivate)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("decrypt_failed").Inc()
		slog.Warn("intake: dropping unreadable control frame", "error", err)
		return
	}

	msg, err := wire.DecodeControl(plain)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("decode_failed").Inc()
		slog.Warn("intake: dropping malformed control frame", "error", err)
		return
	}

	ci.handler.HandleControl(msg)
}
