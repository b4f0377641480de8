// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package telegram

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/updates"
	updhook "github.com/gotd/td/telegram/updates/hook"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/aiku/telegram-relay/pkg/relay"
)

// authAPI is the subset of auth.Client used by the login flow. This allows
// tests to inject a fake instead of talking to Telegram.
type authAPI interface {
	Status(ctx context.Context) (*auth.Status, error)
	SendCode(ctx context.Context, phone string, options auth.SendCodeOptions) (tg.AuthSentCodeClass, error)
	SignIn(ctx context.Context, phone, code, codeHash string) (*tg.AuthAuthorization, error)
}

// messagesAPI is the subset of tg.Client used for updates, peer lookup and
// relaying.
type messagesAPI interface {
	dialogsAPI
	updates.API
	MessagesForwardMessages(ctx context.Context, request *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error)
}

// runFunc runs f while the connection is up, like telegram.Client.Run.
type runFunc func(ctx context.Context, f func(ctx context.Context) error) error

var errClientClosed = errors.New("telegram client is closed")

// Client is the connection of one identity to Telegram.
type Client struct {
	identity relay.Identity

	auth   authAPI
	api    messagesAPI
	runner runFunc

	peers *peerCache
	subs  *subscriptions

	// gaps orders inbound updates by their sequence numbers, expands short
	// updates, drops repeats and fetches whatever a reconnect missed.
	gaps           *updates.Manager
	authorized     chan struct{}
	authOnce       sync.Once
	selfID         int64
	updatesStarted chan struct{}

	ready    chan struct{}
	done     chan struct{}
	stop     context.CancelFunc
	stopOnce sync.Once

	errMu  sync.Mutex
	runErr error

	log zerolog.Logger
}

var _ relay.Client = (*Client)(nil)

func newClient(identity relay.Identity, log zerolog.Logger) *Client {
	c := &Client{
		identity:       identity,
		peers:          newPeerCache(),
		subs:           newSubscriptions(),
		authorized:     make(chan struct{}),
		updatesStarted: make(chan struct{}),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		stop:           func() {},
		log:            log.With().Str("component", "tg_client").Str("phone", identity.String()).Logger(),
	}
	dispatcher := tg.NewUpdateDispatcher()
	c.registerHandlers(dispatcher)
	c.gaps = updates.New(updates.Config{Handler: dispatcher})
	return c
}

// newTelegramClient builds a client backed by gotd with its session stored
// at sessionPath.
func newTelegramClient(identity relay.Identity, appID int, appHash, sessionPath string, log zerolog.Logger) *Client {
	c := newClient(identity, log)
	tgClient := telegram.NewClient(appID, appHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
		UpdateHandler:  c.gaps,
		Middlewares:    []telegram.Middleware{updhook.UpdateHook(c.gaps.Handle)},
	})
	c.auth = tgClient.Auth()
	c.api = tgClient.API()
	c.runner = tgClient.Run
	return c
}

// run keeps the connection open until ctx ends or the connection fails.
// Updates are handled once the session is authorized. done is closed on
// return.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	err := c.runner(ctx, func(ctx context.Context) error {
		close(c.ready)
		c.log.Info().Msg("Connected to Telegram")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.authorized:
		}
		return c.gaps.Run(ctx, c.api, c.selfID, updates.AuthOptions{
			OnStart: func(context.Context) {
				c.log.Debug().Int64("user_id", c.selfID).Msg("Receiving updates")
				close(c.updatesStarted)
			},
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.errMu.Lock()
		c.runErr = err
		c.errMu.Unlock()
		c.log.Error().Err(err).Msg("Telegram connection failed")
		return
	}
	c.log.Info().Msg("Telegram connection closed")
}

// waitReady blocks until the connection is established.
func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return fmt.Errorf("failed to connect to telegram: %w", c.err())
	case <-ctx.Done():
		return fmt.Errorf("failed to connect to telegram: %w", ctx.Err())
	}
}

func (c *Client) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.runErr == nil {
		return errClientClosed
	}
	return c.runErr
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Stop closes the connection. Done is closed once it has shut down.
func (c *Client) Stop() {
	c.stopOnce.Do(c.stop)
}

// Done implements relay.Client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// IsAuthorized implements relay.Client.
func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := c.auth.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get auth status: %w", wrapError(err))
	}
	if status.Authorized && status.User != nil {
		c.markAuthorized(status.User.ID)
	}
	return status.Authorized, nil
}

// RequestCode implements relay.Client.
func (c *Client) RequestCode(ctx context.Context, identity relay.Identity) (string, error) {
	sent, err := c.auth.SendCode(ctx, identity.String(), auth.SendCodeOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to send code: %w", wrapError(err))
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", fmt.Errorf("%w: %s", errUnexpectedSentCode, sent.TypeName())
	}
	c.log.Debug().Str("code_type", code.Type.TypeName()).Msg("Code sent")
	return code.PhoneCodeHash, nil
}

// SignIn implements relay.Client.
func (c *Client) SignIn(ctx context.Context, identity relay.Identity, code, codeHash string) error {
	authorization, err := c.auth.SignIn(ctx, identity.String(), code, codeHash)
	if err != nil {
		return fmt.Errorf("failed to sign in: %w", wrapError(err))
	}
	if user, ok := authorization.User.(*tg.User); ok {
		c.markAuthorized(user.ID)
	}
	return nil
}

// markAuthorized lets run start handling updates for the account userID.
func (c *Client) markAuthorized(userID int64) {
	c.authOnce.Do(func() {
		c.selfID = userID
		close(c.authorized)
	})
}

// Subscribe implements relay.Client.
func (c *Client) Subscribe(_ context.Context, channel relay.ChannelID, handler relay.Handler) (relay.Subscription, error) {
	if c.closed() {
		return nil, errClientClosed
	}
	return c.subs.add(channel, handler), nil
}

// Relay implements relay.Client.
func (c *Client) Relay(ctx context.Context, dest relay.ChannelID, msg *relay.Message) error {
	from, err := c.peers.resolve(ctx, c.api, msg.Channel)
	if err != nil {
		return fmt.Errorf("failed to resolve source chat: %w", err)
	}
	to, err := c.peers.resolve(ctx, c.api, dest)
	if err != nil {
		return fmt.Errorf("failed to resolve destination chat: %w", err)
	}

	_, err = c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer:   from,
		ID:         []int{msg.ID},
		RandomID:   []int64{rand.Int64()},
		ToPeer:     to,
		DropAuthor: true,
	})
	if err != nil {
		return fmt.Errorf("failed to forward message: %w", wrapError(err))
	}
	return nil
}
