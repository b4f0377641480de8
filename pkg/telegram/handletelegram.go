// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"sync"

	"github.com/gotd/td/tg"

	"github.com/aiku/telegram-relay/pkg/relay"
)

// registerHandlers hooks the client into dispatcher. Private chats and basic
// groups arrive as updateNewMessage, channels and supergroups as
// updateNewChannelMessage. The short forms Telegram uses for plain text are
// expanded into updateNewMessage by the updates manager in front of the
// dispatcher.
func (c *Client) registerHandlers(dispatcher tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.handleMessage(ctx, e, u.Message)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.handleMessage(ctx, e, u.Message)
		return nil
	})
}

// handleMessage converts an inbound message and hands it to the handlers
// subscribed to its chat. Service messages are dropped.
func (c *Client) handleMessage(ctx context.Context, e tg.Entities, m tg.MessageClass) {
	c.peers.learnEntities(e)

	msg, ok := m.(*tg.Message)
	if !ok {
		c.log.Trace().Str("type", m.TypeName()).Msg("Ignoring non-message update")
		return
	}
	converted, ok := convertMessage(msg)
	if !ok {
		c.log.Debug().Int("message_id", msg.ID).Msg("Message without a known peer")
		return
	}
	c.subs.dispatch(ctx, converted)
}

// subscriptions holds the handlers of one client, keyed by chat. Thread-safe.
type subscriptions struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[relay.ChannelID]map[uint64]relay.Handler
}

func newSubscriptions() *subscriptions {
	return &subscriptions{handlers: make(map[relay.ChannelID]map[uint64]relay.Handler)}
}

func (s *subscriptions) add(channel relay.ChannelID, handler relay.Handler) *subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.handlers[channel] == nil {
		s.handlers[channel] = make(map[uint64]relay.Handler)
	}
	s.handlers[channel][s.nextID] = handler
	return &subscription{subs: s, channel: channel, id: s.nextID}
}

func (s *subscriptions) remove(channel relay.ChannelID, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers[channel], id)
	if len(s.handlers[channel]) == 0 {
		delete(s.handlers, channel)
	}
}

func (s *subscriptions) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, hs := range s.handlers {
		n += len(hs)
	}
	return n
}

// dispatch runs the handlers of msg.Channel sequentially, outside the lock so
// a handler may cancel its own subscription.
func (s *subscriptions) dispatch(ctx context.Context, msg *relay.Message) {
	s.mu.RLock()
	handlers := make([]relay.Handler, 0, len(s.handlers[msg.Channel]))
	for _, h := range s.handlers[msg.Channel] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
}

// subscription implements relay.Subscription.
type subscription struct {
	subs    *subscriptions
	channel relay.ChannelID
	id      uint64
	once    sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.subs.remove(s.channel, s.id)
	})
}
