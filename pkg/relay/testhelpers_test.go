// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	testPhone     = "+15550001"
	testCode      = "123456"
	testCodeHash  = "hash-abc"
	testWrongCode = "000000"
)

// relayCall records a Relay invocation on fakeClient.
type relayCall struct {
	Dest ChannelID
	Msg  *Message
}

// fakeClient is an in-memory Client. It accepts testCode for testCodeHash
// and records subscriptions and relays for assertions.
type fakeClient struct {
	mu sync.Mutex

	authorized bool
	codeHash   string
	validCode  string

	isAuthorizedErr error
	requestCodeErr  error
	signInErr       error
	subscribeErr    error
	relayErr        error

	// signInBlocks makes SignIn wait for its context to end.
	signInBlocks bool
	// relayEntered and relayRelease, when set, make Relay signal entry and
	// wait for release.
	relayEntered chan struct{}
	relayRelease chan struct{}

	requestCodeCalls int
	signInCalls      int
	nextSubID        int
	subs             map[int]fakeSubscriptionEntry
	relays           []relayCall

	done     chan struct{}
	doneOnce sync.Once
}

type fakeSubscriptionEntry struct {
	channel ChannelID
	handler Handler
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		codeHash:  testCodeHash,
		validCode: testCode,
		subs:      make(map[int]fakeSubscriptionEntry),
		done:      make(chan struct{}),
	}
}

func (f *fakeClient) IsAuthorized(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isAuthorizedErr != nil {
		return false, f.isAuthorizedErr
	}
	return f.authorized, nil
}

func (f *fakeClient) RequestCode(_ context.Context, _ Identity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestCodeCalls++
	if f.requestCodeErr != nil {
		return "", f.requestCodeErr
	}
	return f.codeHash, nil
}

func (f *fakeClient) SignIn(ctx context.Context, _ Identity, code, codeHash string) error {
	f.mu.Lock()
	f.signInCalls++
	blocks := f.signInBlocks
	f.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return f.signInErr
	}
	if codeHash != f.codeHash {
		return fmt.Errorf("%w: PHONE_CODE_EXPIRED", ErrRejected)
	}
	if code != f.validCode {
		return fmt.Errorf("%w: PHONE_CODE_INVALID", ErrRejected)
	}
	f.authorized = true
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, channel ChannelID, handler Handler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.nextSubID++
	id := f.nextSubID
	f.subs[id] = fakeSubscriptionEntry{channel: channel, handler: handler}
	return &fakeSubscription{client: f, id: id}, nil
}

func (f *fakeClient) Relay(_ context.Context, dest ChannelID, msg *Message) error {
	f.mu.Lock()
	entered, release := f.relayEntered, f.relayRelease
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.relayErr != nil {
		return f.relayErr
	}
	f.relays = append(f.relays, relayCall{Dest: dest, Msg: msg})
	return nil
}

func (f *fakeClient) Done() <-chan struct{} {
	return f.done
}

// disconnect ends the fake connection.
func (f *fakeClient) disconnect() {
	f.doneOnce.Do(func() { close(f.done) })
}

// emit delivers msg to every handler subscribed to msg.Channel, the way a
// client's event loop would.
func (f *fakeClient) emit(msg *Message) {
	f.mu.Lock()
	var handlers []Handler
	for _, entry := range f.subs {
		if entry.channel == msg.Channel {
			handlers = append(handlers, entry.handler)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(context.Background(), msg)
	}
}

func (f *fakeClient) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeClient) Relays() []relayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]relayCall, len(f.relays))
	copy(cp, f.relays)
	return cp
}

type fakeSubscription struct {
	client *fakeClient
	id     int
}

func (s *fakeSubscription) Cancel() {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	delete(s.client.subs, s.id)
}

// fakePlatform hands out one fakeClient per identity.
type fakePlatform struct {
	mu         sync.Mutex
	clients    map[Identity]*fakeClient
	connectErr error
	connects   int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{clients: make(map[Identity]*fakeClient)}
}

func (p *fakePlatform) Connect(_ context.Context, identity Identity) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	c, ok := p.clients[identity]
	if !ok {
		c = newFakeClient()
		p.clients[identity] = c
	}
	return c, nil
}

// client returns the fake client of identity, creating it if needed so tests
// can configure it before the first login.
func (p *fakePlatform) client(identity Identity) *fakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[identity]
	if !ok {
		c = newFakeClient()
		p.clients[identity] = c
	}
	return c
}

func newTestRelay(platform Platform) *Relay {
	return New(platform, Options{}, zerolog.Nop(), nil)
}

// loggedInRelay returns a relay on which testPhone has completed login.
func loggedInRelay(t *testing.T) (*Relay, *fakeClient) {
	t.Helper()
	platform := newFakePlatform()
	r := newTestRelay(platform)
	ctx := context.Background()

	if _, err := r.Login(ctx, testPhone); err != nil {
		t.Fatalf("Login: unexpected error: %v", err)
	}
	if err := r.Verify(ctx, testPhone, testCode); err != nil {
		t.Fatalf("Verify: unexpected error: %v", err)
	}
	return r, platform.client(Identity(testPhone))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
