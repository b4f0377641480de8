// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/gotd/td/tg"

	"github.com/aiku/telegram-relay/pkg/relay"
)

// channelIDOffset turns a channel ID into its marked form, -100<id>.
const channelIDOffset = 1_000_000_000_000

const (
	dialogsPageSize = 100
	maxDialogPages  = 10
)

// markedID converts a peer into the chat ID convention used by the API.
func markedID(peer tg.PeerClass) (relay.ChannelID, bool) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return relay.ChannelID(p.UserID), true
	case *tg.PeerChat:
		return relay.ChannelID(-p.ChatID), true
	case *tg.PeerChannel:
		return relay.ChannelID(-(channelIDOffset + p.ChannelID)), true
	default:
		return 0, false
	}
}

// dialogsAPI is the subset of tg.Client used to discover peers.
type dialogsAPI interface {
	MessagesGetDialogs(ctx context.Context, request *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
}

// peerCache maps marked chat IDs to input peers with their access hashes.
// Thread-safe.
type peerCache struct {
	mu    sync.RWMutex
	peers map[relay.ChannelID]tg.InputPeerClass
}

func newPeerCache() *peerCache {
	return &peerCache{peers: make(map[relay.ChannelID]tg.InputPeerClass)}
}

func (c *peerCache) get(id relay.ChannelID) (tg.InputPeerClass, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peer, ok := c.peers[id]
	return peer, ok
}

func (c *peerCache) put(id relay.ChannelID, peer tg.InputPeerClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[id] = peer
}

func (c *peerCache) learnUser(user tg.UserClass) {
	u, ok := user.(*tg.User)
	if !ok {
		return
	}
	c.put(relay.ChannelID(u.ID), &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash})
}

func (c *peerCache) learnChat(chat tg.ChatClass) {
	switch ch := chat.(type) {
	case *tg.Chat:
		c.put(relay.ChannelID(-ch.ID), &tg.InputPeerChat{ChatID: ch.ID})
	case *tg.Channel:
		c.put(relay.ChannelID(-(channelIDOffset + ch.ID)), &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
	case *tg.ChannelForbidden:
		c.put(relay.ChannelID(-(channelIDOffset + ch.ID)), &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
	}
}

// learnEntities records the peers attached to an update.
func (c *peerCache) learnEntities(e tg.Entities) {
	for _, u := range e.Users {
		c.learnUser(u)
	}
	for _, ch := range e.Chats {
		c.learnChat(ch)
	}
	for _, ch := range e.Channels {
		c.learnChat(ch)
	}
}

// resolve returns the input peer for id. Unknown IDs are looked up in the
// account's dialogs, which also refreshes every other peer seen there.
func (c *peerCache) resolve(ctx context.Context, api dialogsAPI, id relay.ChannelID) (tg.InputPeerClass, error) {
	if peer, ok := c.get(id); ok {
		return peer, nil
	}
	if err := c.loadDialogs(ctx, api, id); err != nil {
		return nil, err
	}
	if peer, ok := c.get(id); ok {
		return peer, nil
	}
	return nil, fmt.Errorf("%w: chat %s is not in the account's dialogs", relay.ErrRejected, id)
}

// loadDialogs pages through the dialog list until want has been seen or the
// list ends.
func (c *peerCache) loadDialogs(ctx context.Context, api dialogsAPI, want relay.ChannelID) error {
	req := &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogsPageSize,
	}
	for range maxDialogPages {
		res, err := api.MessagesGetDialogs(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to get dialogs: %w", wrapError(err))
		}

		var (
			dialogs  []tg.DialogClass
			messages []tg.MessageClass
			last     bool
		)
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			c.learnLists(d.Chats, d.Users)
			return nil
		case *tg.MessagesDialogsSlice:
			c.learnLists(d.Chats, d.Users)
			dialogs, messages = d.Dialogs, d.Messages
			last = len(d.Dialogs) < dialogsPageSize
		default:
			return nil
		}

		if _, ok := c.get(want); ok || last {
			return nil
		}
		if !c.advance(req, dialogs, messages) {
			return nil
		}
	}
	return nil
}

func (c *peerCache) learnLists(chats []tg.ChatClass, users []tg.UserClass) {
	for _, ch := range chats {
		c.learnChat(ch)
	}
	for _, u := range users {
		c.learnUser(u)
	}
}

// advance moves req past the last dialog of a page. It reports false when
// the offset cannot be derived.
func (c *peerCache) advance(req *tg.MessagesGetDialogsRequest, dialogs []tg.DialogClass, messages []tg.MessageClass) bool {
	if len(dialogs) == 0 {
		return false
	}
	dialog, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
	if !ok {
		return false
	}
	id, ok := markedID(dialog.Peer)
	if !ok {
		return false
	}
	peer, ok := c.get(id)
	if !ok {
		return false
	}

	var date int
	for _, m := range messages {
		if m.GetID() != dialog.TopMessage {
			continue
		}
		switch msg := m.(type) {
		case *tg.Message:
			date = msg.Date
		case *tg.MessageService:
			date = msg.Date
		}
	}

	req.OffsetPeer = peer
	req.OffsetID = dialog.TopMessage
	req.OffsetDate = date
	return true
}
