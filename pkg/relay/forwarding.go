// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/telegram-relay/pkg/metrics"
)

// StartResult is the outcome of a successful StartForwarding call.
type StartResult int

const (
	ForwardingStarted StartResult = iota
	// ForwardingReplaced means a previous rule of the identity was cancelled
	// and replaced.
	ForwardingReplaced
)

// StopResult is the outcome of StopForwarding.
type StopResult int

const (
	ForwardingStopped StopResult = iota
	NotForwarding
)

func (r StopResult) String() string {
	if r == NotForwarding {
		return "not_forwarding"
	}
	return "forwarding_stopped"
}

// DefaultRelayTimeout bounds a single relay call when no timeout is
// configured.
const DefaultRelayTimeout = 15 * time.Second

// ForwardingController starts and stops forwarding rules. Each identity has
// at most one active rule. A new rule is subscribed before the old one is
// cancelled, and replaces it only once its subscription exists.
type ForwardingController struct {
	sessions     *SessionManager
	registry     *ForwardingRegistry
	relayTimeout time.Duration
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// NewForwardingController creates a controller. A zero relayTimeout selects
// DefaultRelayTimeout.
func NewForwardingController(sessions *SessionManager, registry *ForwardingRegistry, relayTimeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *ForwardingController {
	if relayTimeout <= 0 {
		relayTimeout = DefaultRelayTimeout
	}
	c := &ForwardingController{
		sessions:     sessions,
		registry:     registry,
		relayTimeout: relayTimeout,
		metrics:      m,
		log:          log.With().Str("component", "forwarding").Logger(),
	}
	sessions.onSessionEnd = c.endRule
	return c
}

// StartForwarding activates rule for its owner. The owner must be
// authenticated; otherwise nothing is registered and ErrNotAuthenticated is
// returned.
func (c *ForwardingController) StartForwarding(ctx context.Context, rule ForwardingRule) (StartResult, error) {
	if rule.Source == rule.Destination {
		return ForwardingStarted, &Error{Kind: KindInvalidRule, Detail: "source and destination chat are the same"}
	}

	unlock := c.sessions.locks.lock(rule.Owner)
	defer unlock()

	log := c.log.With().
		Str("phone", rule.Owner.String()).
		Int64("source_chat", int64(rule.Source)).
		Int64("dest_chat", int64(rule.Destination)).
		Strs("filters", rule.Filters.Tags()).
		Logger()

	client, ok := c.sessions.authenticatedClient(rule.Owner)
	if !ok {
		log.Debug().Msg("Rejected forwarding for unauthenticated identity")
		return ForwardingStarted, &Error{Kind: KindNotAuthenticated, Detail: "log in before starting forwarding"}
	}
	if rule.Filters.IsEmpty() {
		log.Warn().Msg("Forwarding rule has no known filters and will not relay anything")
	}

	active := &activeRule{
		id:   uuid.New(),
		rule: rule,
		sub:  newSubscription(),
	}
	handle, err := client.Subscribe(ctx, rule.Source, c.handler(active, client, log))
	if err != nil {
		log.Error().Err(err).Msg("Failed to subscribe to source chat")
		return ForwardingStarted, transportError(err)
	}
	active.sub.handle = handle

	result := ForwardingStarted
	if old := c.registry.remove(rule.Owner, uuid.Nil); old != nil {
		old.sub.cancel()
		result = ForwardingReplaced
		log.Info().Int64("old_source_chat", int64(old.rule.Source)).Msg("Cancelled previous forwarding rule")
	}
	c.registry.put(active)
	active.sub.activate()
	c.metrics.SetActiveRules(c.registry.Len())

	log.Info().Str("rule_id", active.id.String()).Msg("Forwarding started")
	return result, nil
}

// StopForwarding cancels the rule of identity. When it returns, the rule's
// handler will not run again. Stopping an identity without a rule is not an
// error.
func (c *ForwardingController) StopForwarding(identity Identity) StopResult {
	unlock := c.sessions.locks.lock(identity)
	defer unlock()

	active := c.registry.remove(identity, uuid.Nil)
	if active == nil {
		return NotForwarding
	}
	active.sub.cancel()
	c.metrics.SetActiveRules(c.registry.Len())

	c.log.Info().
		Str("phone", identity.String()).
		Str("rule_id", active.id.String()).
		Msg("Forwarding stopped")
	return ForwardingStopped
}

// Rule returns the active rule of identity.
func (c *ForwardingController) Rule(identity Identity) (ForwardingRule, bool) {
	return c.registry.Rule(identity)
}

// IsForwarding reports whether identity has an active rule.
func (c *ForwardingController) IsForwarding(identity Identity) bool {
	_, ok := c.registry.Rule(identity)
	return ok
}

func (c *ForwardingController) handler(active *activeRule, client Client, log zerolog.Logger) Handler {
	return func(ctx context.Context, msg *Message) {
		active.sub.deliver(func() {
			c.relay(ctx, active.rule, client, msg, log)
		})
	}
}

func (c *ForwardingController) relay(ctx context.Context, rule ForwardingRule, client Client, msg *Message, log zerolog.Logger) {
	if !Matches(msg, rule.Filters) {
		log.Trace().Int("message_id", msg.ID).Msg("Message did not match filters")
		c.metrics.ObserveMessage("filtered")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.relayTimeout)
	defer cancel()
	if err := client.Relay(ctx, rule.Destination, msg); err != nil {
		log.Error().Err(err).Int("message_id", msg.ID).Msg("Failed to relay message")
		c.metrics.ObserveMessage("failed")
		return
	}
	log.Debug().Int("message_id", msg.ID).Msg("Relayed message")
	c.metrics.ObserveMessage("relayed")
}

// endRule cancels the rule of identity when its session ends. The caller
// holds the identity lock.
func (c *ForwardingController) endRule(identity Identity, reason string) {
	active := c.registry.remove(identity, uuid.Nil)
	if active == nil {
		return
	}
	active.sub.cancel()
	c.metrics.SetActiveRules(c.registry.Len())
	c.log.Warn().
		Str("phone", identity.String()).
		Str("rule_id", active.id.String()).
		Str("reason", reason).
		Msg("Forwarding stopped")
}

// subscription wraps a client Subscription. Nothing is delivered before
// activate, and after cancel returns no delivery is running and none will
// start.
type subscription struct {
	mu        sync.Mutex
	active    bool
	cancelled bool
	handle    Subscription
	stopOnce  sync.Once
}

func newSubscription() *subscription {
	return &subscription{}
}

func (s *subscription) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
}

func (s *subscription) deliver(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.cancelled {
		return
	}
	fn()
}

func (s *subscription) cancel() {
	s.stopOnce.Do(func() {
		if s.handle != nil {
			s.handle.Cancel()
		}
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
	})
}
