// Package publisher implements the results publisher: a single writer
// draining a bounded internal queue onto the results channel, so that
// workflow-execution goroutines never block directly on the network.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/workernode/internal/cryptobox"
	"github.com/ocx/workernode/internal/metrics"
)

// Sender pushes one encoded frame to the results sink. transport.ResultsChannel
// satisfies this.
type Sender interface {
	Publish(ctx context.Context, payload []byte) error
}

// Publisher serializes all outbound events through one internal channel and
// one drain goroutine; the results socket has exactly one writer. Every
// frame is sealed with crypto_box before it reaches the sender, the same
// channel encryption the request and control sockets use.
type Publisher struct {
	sender     Sender
	queue      chan []byte
	timeout    time.Duration
	peerPublic *[cryptobox.KeySize]byte
	ourPrivate *[cryptobox.KeySize]byte

	dropMu  sync.Mutex
	dropped uint64

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Publisher with the given queue depth and per-publish
// timeout, and starts its drain goroutine. peerPublic/ourPrivate seal every
// outbound frame; pass nil for both to publish cleartext (tests only).
func New(sender Sender, queueDepth int, timeout time.Duration, peerPublic, ourPrivate *[cryptobox.KeySize]byte) *Publisher {
	p := &Publisher{
		sender:     sender,
		queue:      make(chan []byte, queueDepth),
		timeout:    timeout,
		peerPublic: peerPublic,
		ourPrivate: ourPrivate,
		done:       make(chan struct{}),
	}
	p.wg.Add(1)
	go p.drain()
	return p
}

// Forward enqueues payload for publication. When the queue is full it blocks
// up to the configured timeout for space to free up; if that elapses the
// event is dropped and counted rather than stalling the calling workflow
// goroutine indefinitely.
func (p *Publisher) Forward(payload []byte) {
	select {
	case p.queue <- payload:
		return
	default:
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case p.queue <- payload:
	case <-timer.C:
		p.countDrop()
	}
}

func (p *Publisher) countDrop() {
	p.dropMu.Lock()
	p.dropped++
	p.dropMu.Unlock()
	metrics.EventsDropped.Inc()
}

// seal wraps payload in crypto_box when the Publisher was configured with a
// key pair, matching the request/control sockets' authenticated channel
// encryption. Returns payload unchanged when no keys were configured.
func (p *Publisher) seal(payload []byte) ([]byte, error) {
	if p.peerPublic == nil || p.ourPrivate == nil {
		return payload, nil
	}
	return cryptobox.Seal(payload, p.peerPublic, p.ourPrivate)
}

// Dropped returns the number of frames dropped for queue overflow so far.
func (p *Publisher) Dropped() uint64 {
	p.dropMu.Lock()
	defer p.dropMu.Unlock()
	return p.dropped
}

func (p *Publisher) send(payload []byte) error {
	sealed, err := p.seal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.sender.Publish(ctx, sealed)
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case payload := <-p.queue:
			if err := p.send(payload); err != nil {
				slog.Warn("publisher: send failed", "error", err)
				metrics.EventsDropped.Inc()
				continue
			}
			metrics.EventsPublished.Inc()
		case <-p.done:
			// Drain whatever remains before returning, honoring the same
			// per-send timeout, so Stop behaves like a bounded flush.
			for {
				select {
				case payload := <-p.queue:
					if err := p.send(payload); err != nil {
						metrics.EventsDropped.Inc()
					} else {
						metrics.EventsPublished.Inc()
					}
				default:
					return
				}
			}
		}
	}
}

// Stop signals the drain goroutine to flush and exit, and waits for it.
func (p *Publisher) Stop() {
	close(p.done)
	p.wg.Wait()
}
