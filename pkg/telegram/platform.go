// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/telegram-relay/pkg/relay"
)

// Options configures a Platform.
type Options struct {
	AppID      int
	AppHash    string
	SessionDir string
}

// Platform implements relay.Platform. It keeps at most one live client per
// identity.
type Platform struct {
	opts Options
	ctx  context.Context

	mu      sync.Mutex
	clients map[relay.Identity]*Client

	// build creates the client of an identity. Tests replace it.
	build func(identity relay.Identity) *Client

	log zerolog.Logger
}

var _ relay.Platform = (*Platform)(nil)

// NewPlatform creates the session directory and returns a platform whose
// clients live until ctx is cancelled or Close is called.
func NewPlatform(ctx context.Context, opts Options, log zerolog.Logger) (*Platform, error) {
	if opts.AppID == 0 || opts.AppHash == "" {
		return nil, errors.New("telegram app id and hash are required")
	}
	if opts.SessionDir == "" {
		opts.SessionDir = "sessions"
	}
	if err := os.MkdirAll(opts.SessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	p := &Platform{
		opts:    opts,
		ctx:     ctx,
		clients: make(map[relay.Identity]*Client),
		log:     log.With().Str("component", "tg_platform").Logger(),
	}
	p.build = func(identity relay.Identity) *Client {
		return newTelegramClient(identity, opts.AppID, opts.AppHash, p.sessionPath(identity), log)
	}
	return p, nil
}

// sessionPath is the file holding the MTProto session of identity.
func (p *Platform) sessionPath(identity relay.Identity) string {
	return filepath.Join(p.opts.SessionDir, identity.Digits()+".json")
}

// Connect implements relay.Platform. A live client is reused; otherwise a
// new one is started and Connect waits for it to come up.
func (p *Platform) Connect(ctx context.Context, identity relay.Identity) (relay.Client, error) {
	p.mu.Lock()
	c, ok := p.clients[identity]
	if !ok || c.closed() {
		c = p.start(identity)
		p.clients[identity] = c
	}
	p.mu.Unlock()

	if err := c.waitReady(ctx); err != nil {
		p.log.Warn().Err(err).Str("phone", identity.String()).Msg("Telegram client did not come up")
		c.Stop()
		return nil, err
	}
	return c, nil
}

// start launches the client of identity. Must be called with mu held.
func (p *Platform) start(identity relay.Identity) *Client {
	ctx, cancel := context.WithCancel(p.ctx)
	c := p.build(identity)
	c.stop = cancel

	p.log.Info().Str("phone", identity.String()).Msg("Starting Telegram client")
	go func() {
		c.run(ctx)
		cancel()
		p.forget(identity, c)
	}()
	return c
}

// forget drops c from the client map if it is still the current client.
func (p *Platform) forget(identity relay.Identity, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients[identity] == c {
		delete(p.clients, identity)
	}
}

// Len returns the number of live clients.
func (p *Platform) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close stops every client and waits for them to shut down.
func (p *Platform) Close() {
	p.mu.Lock()
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
	for _, c := range clients {
		<-c.Done()
	}
	p.log.Info().Int("count", len(clients)).Msg("Telegram clients stopped")
}
