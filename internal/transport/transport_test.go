package transport

import (
	"testing"
	"time"

	"github.com/fenwicklabs/discoveryd/internal/engine"
)

func TestNewChannelTransportShutdownDrainsWorkers(t *testing.T) {
	eng := engine.New(nil, nil)
	ct := NewChannelTransport(eng, eng, 2, 3)

	done := make(chan struct{})
	go func() {
		ct.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not return promptly")
	}
}

func TestNewChannelTransportDefaultsToOneWorker(t *testing.T) {
	eng := engine.New(nil, nil)
	ct := NewChannelTransport(eng, eng, 0, 0)
	defer ct.Shutdown()

	if cap(ct.startCh) != 1 {
		t.Fatalf("expected a single-worker channel capacity, got %d", cap(ct.startCh))
	}
}
