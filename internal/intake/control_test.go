package intake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocx/workernode/internal/cryptobox"
	"github.com/ocx/workernode/internal/wire"
)

type fakeControlSource struct {
	handler func([]byte)
}

func (f *fakeControlSource) Subscribe(_ context.Context, handler func([]byte)) (func(), error) {
	f.handler = handler
	return func() {}, nil
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []*wire.ControlMessage
}

func (r *recordingHandler) HandleControl(msg *wire.ControlMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestControlIntakeDecodesAndDispatches(t *testing.T) {
	dir := t.TempDir()
	server := genKeyPair(t, dir, "server")
	client := genKeyPair(t, dir, "client")

	source := &fakeControlSource{}
	handler := &recordingHandler{}
	ci := NewControlIntake(source, &client.Public, &server.Private, handler, time.Second)

	stop, err := ci.Start(context.Background())
	require.NoError(t, err)
	defer stop()

	msg := &wire.ControlMessage{Kind: wire.ControlExit}
	payload := []byte(`{"type":"exit"}`)
	sealed, err := cryptobox.Seal(payload, &server.Public, &client.Private)
	require.NoError(t, err)

	source.handler(sealed)

	require.Eventually(t, func() bool { return handler.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, msg.Kind, handler.msgs[0].Kind)
}

func TestControlIntakeDropsUndecryptableFrames(t *testing.T) {
	dir := t.TempDir()
	server := genKeyPair(t, dir, "server")
	client := genKeyPair(t, dir, "client")

	source := &fakeControlSource{}
	handler := &recordingHandler{}
	ci := NewControlIntake(source, &client.Public, &server.Private, handler, time.Second)

	stop, err := ci.Start(context.Background())
	require.NoError(t, err)
	defer stop()

	source.handler([]byte("not a sealed frame"))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, handler.count())
}
