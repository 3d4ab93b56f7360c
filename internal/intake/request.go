// Package intake pulls and decrypts frames off the request queue and the
// control channel, handing decoded messages to the scheduler.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ocx/workernode/internal/cryptobox"
	"github.com/ocx/workernode/internal/metrics"
	"github.com/ocx/workernode/internal/transport"
	"github.com/ocx/workernode/internal/wire"
)

// RequestSource is the transport this intake polls. transport.RequestQueue
// satisfies this.
type RequestSource interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// RequestIntake pops, decrypts, and decodes request frames, tolerating
// poison frames without blocking the queue.
type RequestIntake struct {
	source      RequestSource
	peerPublic  *[cryptobox.KeySize]byte
	ourPrivate  *[cryptobox.KeySize]byte
	pollTimeout time.Duration
}

// NewRequestIntake builds a RequestIntake bound to source, decrypting
// frames addressed to ourPrivate from peerPublic.
func NewRequestIntake(source RequestSource, peerPublic, ourPrivate *[cryptobox.KeySize]byte, pollTimeout time.Duration) *RequestIntake {
	return &RequestIntake{source: source, peerPublic: peerPublic, ourPrivate: ourPrivate, pollTimeout: pollTimeout}
}

// Next blocks up to the poll timeout for the next request. A poison frame
// (fails to decrypt or decode) is logged by the caller via the returned
// error and skipped; the caller should loop and call Next again rather
// than treating it as fatal. One malformed frame must not stall the queue
// for every other request.
func (ri *RequestIntake) Next(ctx context.Context) (*wire.ExecuteRequest, error) {
	sealed, err := ri.source.Pop(ctx, ri.pollTimeout)
	if err != nil {
		if errors.Is(err, transport.ErrNoRequest) {
			return nil, err
		}
		return nil, fmt.Errorf("intake: pop request: %w", err)
	}

	plain, err := cryptobox.Open(sealed, ri.peerPublic, ri.ourPrivate)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("decrypt_failed").Inc()
		return nil, fmt.Errorf("intake: decrypt request: %w", err)
	}

	req, err := wire.DecodeRequest(plain)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("decode_failed").Inc()
		return nil, fmt.Errorf("intake: decode request: %w", err)
	}
	return req, nil
}
