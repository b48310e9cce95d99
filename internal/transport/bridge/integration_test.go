//go:build integration

package bridge

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/heraldo/internal/transport"
)

// Requires a running bridge sidecar:
//
//	HERALDO_BRIDGE_URL=ws://127.0.0.1:8090 go test -tags integration ./internal/transport/bridge/
func liveProvider(t *testing.T) *Provider {
	t.Helper()
	url := os.Getenv("HERALDO_BRIDGE_URL")
	if url == "" {
		t.Skip("HERALDO_BRIDGE_URL not set")
	}
	p, err := New(Options{URL: url, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestIntegration_OpenIssuesQR(t *testing.T) {
	p := liveProvider(t)
	tenant := "integration-" + time.Now().Format("150405")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cl, err := p.Open(ctx, tenant)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cl.Close()
	t.Cleanup(func() {
		if err := p.PurgeCredentials(context.Background(), tenant); err != nil {
			t.Logf("purge: %v", err)
		}
	})

	select {
	case ev, ok := <-cl.Events():
		if !ok {
			t.Fatal("event stream closed before the first event")
		}
		if ev.Kind != transport.EventQRIssued && ev.Kind != transport.EventReady {
			t.Errorf("first event = %s, want qr or ready", ev.Kind)
		}
	case <-ctx.Done():
		t.Fatal("no event from bridge")
	}

	st, err := cl.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st == "" {
		t.Error("State returned empty state")
	}
}
