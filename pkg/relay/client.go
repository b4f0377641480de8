// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
)

// Platform connects messaging clients. Connect is idempotent per identity:
// while a connection is alive the same Client is returned.
type Platform interface {
	Connect(ctx context.Context, identity Identity) (Client, error)
}

// Client is a live connection to the messaging platform for one identity.
// Errors caused by the platform refusing a request wrap ErrRejected.
type Client interface {
	IsAuthorized(ctx context.Context) (bool, error)
	RequestCode(ctx context.Context, identity Identity) (codeHash string, err error)
	SignIn(ctx context.Context, identity Identity, code, codeHash string) error

	// Subscribe registers handler for new messages in channel. Handlers run
	// on the client's event loop.
	Subscribe(ctx context.Context, channel ChannelID, handler Handler) (Subscription, error)
	// Relay copies msg to dest without a forward header.
	Relay(ctx context.Context, dest ChannelID, msg *Message) error

	// Done is closed when the connection has ended for good.
	Done() <-chan struct{}
}

// Handler receives inbound messages for a subscription.
type Handler func(ctx context.Context, msg *Message)

// Subscription is a registration with a client's event dispatcher. After
// Cancel returns the handler is not invoked for new events.
type Subscription interface {
	Cancel()
}

// EntityKind discriminates message entities.
type EntityKind string

const (
	EntityURL     EntityKind = "url"
	EntityTextURL EntityKind = "text_url"
	EntityOther   EntityKind = "other"
)

// Entity is a formatting span of a message's text.
type Entity struct {
	Kind   EntityKind
	Offset int
	Length int
	// URL is set for entities that carry a target, like text links.
	URL string
}

// IsLink reports whether the entity is a URL in the text or points at one.
func (e Entity) IsLink() bool {
	return e.Kind == EntityURL || e.URL != ""
}

// Message is an inbound message as exposed by the messaging client.
type Message struct {
	ID       int
	Channel  ChannelID
	Text     string
	HasPhoto bool
	HasVideo bool
	Entities []Entity
}
