// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/aiku/telegram-relay/pkg/relay"
)

const (
	testPhone  relay.Identity = "+15550001"
	testUserID int64          = 7
	// testPts is the update sequence number the fake server starts at.
	testPts = 10
)

type fakeAuth struct {
	authorized bool
	sent       tg.AuthSentCodeClass
	statusErr  error
	sendErr    error
	signInErr  error

	mu         sync.Mutex
	sendPhones []string
	signIns    [][3]string
}

func (f *fakeAuth) Status(_ context.Context) (*auth.Status, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &auth.Status{Authorized: f.authorized}, nil
}

func (f *fakeAuth) SendCode(_ context.Context, phone string, _ auth.SendCodeOptions) (tg.AuthSentCodeClass, error) {
	f.mu.Lock()
	f.sendPhones = append(f.sendPhones, phone)
	f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sent, nil
}

func (f *fakeAuth) SignIn(_ context.Context, phone, code, codeHash string) (*tg.AuthAuthorization, error) {
	f.mu.Lock()
	f.signIns = append(f.signIns, [3]string{phone, code, codeHash})
	f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return &tg.AuthAuthorization{User: &tg.User{ID: testUserID}}, nil
}

type fakeAPI struct {
	mu sync.Mutex

	dialogs     []tg.MessagesDialogsClass
	dialogsErr  error
	dialogsReqs []tg.MessagesGetDialogsRequest

	forwardErr error
	forwards   []*tg.MessagesForwardMessagesRequest

	stateErr   error
	stateCalls int
	diffCalls  int
}

func (f *fakeAPI) MessagesGetDialogs(_ context.Context, req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialogsReqs = append(f.dialogsReqs, *req)
	if f.dialogsErr != nil {
		return nil, f.dialogsErr
	}
	if len(f.dialogs) == 0 {
		return &tg.MessagesDialogs{}, nil
	}
	res := f.dialogs[0]
	f.dialogs = f.dialogs[1:]
	return res, nil
}

func (f *fakeAPI) MessagesForwardMessages(_ context.Context, req *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forwardErr != nil {
		return nil, f.forwardErr
	}
	f.forwards = append(f.forwards, req)
	return &tg.Updates{}, nil
}

func (f *fakeAPI) UpdatesGetState(_ context.Context) (*tg.UpdatesState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return &tg.UpdatesState{Pts: testPts, Seq: 1, Date: int(time.Now().Unix())}, nil
}

func (f *fakeAPI) UpdatesGetDifference(_ context.Context, _ *tg.UpdatesGetDifferenceRequest) (tg.UpdatesDifferenceClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffCalls++
	return &tg.UpdatesDifferenceEmpty{Seq: 1, Date: int(time.Now().Unix())}, nil
}

func (f *fakeAPI) UpdatesGetChannelDifference(_ context.Context, req *tg.UpdatesGetChannelDifferenceRequest) (tg.UpdatesChannelDifferenceClass, error) {
	return &tg.UpdatesChannelDifferenceEmpty{Final: true, Pts: req.Pts}, nil
}

func (f *fakeAPI) calls() (state, diff int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateCalls, f.diffCalls
}

// runUntilCancelled behaves like a connection that comes up and stays up.
func runUntilCancelled(ctx context.Context, f func(ctx context.Context) error) error {
	return f(ctx)
}

func newTestClient(a *fakeAuth, api *fakeAPI) *Client {
	c := newClient(testPhone, zerolog.Nop())
	c.auth = a
	c.api = api
	c.runner = runUntilCancelled
	return c
}

// startedClient returns a client whose run loop is active.
func startedClient(a *fakeAuth, api *fakeAPI) (*Client, context.CancelFunc) {
	c := newTestClient(a, api)
	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	go c.run(ctx)
	<-c.ready
	return c, cancel
}

// receivingClient returns a started client that is authorized and handling
// updates.
func receivingClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	c, cancel := startedClient(&fakeAuth{}, api)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	c.markAuthorized(testUserID)
	select {
	case <-c.updatesStarted:
	case <-c.Done():
		t.Fatalf("client stopped before receiving updates: %v", c.err())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update handling to start")
	}
	return c
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
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
