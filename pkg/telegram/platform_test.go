// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/telegram-relay/pkg/relay"
)

func newTestPlatform(t *testing.T, runner runFunc) *Platform {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p, err := NewPlatform(ctx, Options{AppID: 1, AppHash: "hash", SessionDir: filepath.Join(t.TempDir(), "sessions")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPlatform: %v", err)
	}
	p.build = func(identity relay.Identity) *Client {
		c := newClient(identity, zerolog.Nop())
		c.auth = &fakeAuth{}
		c.api = &fakeAPI{}
		c.runner = runner
		return c
	}
	return p
}

func TestNewPlatformValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewPlatform(context.Background(), Options{AppHash: "x"}, zerolog.Nop()); err == nil {
		t.Error("missing app id should fail")
	}
	if _, err := NewPlatform(context.Background(), Options{AppID: 1}, zerolog.Nop()); err == nil {
		t.Error("missing app hash should fail")
	}
}

func TestNewPlatformCreatesSessionDir(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "sessions")
	p, err := NewPlatform(context.Background(), Options{AppID: 1, AppHash: "x", SessionDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPlatform: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("session dir: %v", err)
	}
	if got, want := p.sessionPath(testPhone), filepath.Join(dir, "15550001.json"); got != want {
		t.Errorf("sessionPath: got %q, want %q", got, want)
	}
}

func TestPlatformConnectReusesClient(t *testing.T) {
	t.Parallel()
	p := newTestPlatform(t, runUntilCancelled)

	first, err := p.Connect(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	second, err := p.Connect(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if first != second {
		t.Error("a live client should be reused")
	}
	if p.Len() != 1 {
		t.Errorf("Len: got %d, want 1", p.Len())
	}
}

func TestPlatformReconnectsAfterDisconnect(t *testing.T) {
	t.Parallel()
	p := newTestPlatform(t, runUntilCancelled)

	first, err := p.Connect(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first.(*Client).Stop()
	<-first.Done()

	second, err := p.Connect(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Connect after disconnect: %v", err)
	}
	if first == second {
		t.Error("a closed client must not be reused")
	}
}

func TestPlatformConnectFailure(t *testing.T) {
	t.Parallel()
	dialErr := errors.New("dial tcp: connection refused")
	p := newTestPlatform(t, func(context.Context, func(context.Context) error) error {
		return dialErr
	})

	_, err := p.Connect(context.Background(), testPhone)
	if !errors.Is(err, dialErr) {
		t.Fatalf("Connect: got %v, want %v", err, dialErr)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Len() != 0 {
		t.Error("failed client should be forgotten")
	}
}

func TestPlatformConnectTimeout(t *testing.T) {
	t.Parallel()
	p := newTestPlatform(t, func(ctx context.Context, _ func(context.Context) error) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Connect(ctx, testPhone); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect: got %v, want deadline exceeded", err)
	}
}

func TestPlatformClose(t *testing.T) {
	t.Parallel()
	p := newTestPlatform(t, runUntilCancelled)
	c, err := p.Connect(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p.Close()

	select {
	case <-c.Done():
	default:
		t.Error("Close should wait for clients to stop")
	}
}
