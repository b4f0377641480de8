// Copyright 2024-2026 Aiku AI

package relay

import (
	"sync"

	"github.com/google/uuid"
)

// ForwardingRule describes which messages of an identity's source chat are
// relayed to which destination.
type ForwardingRule struct {
	Owner       Identity
	Source      ChannelID
	Destination ChannelID
	Filters     FilterSet
}

// activeRule is a registered rule together with the subscription that
// delivers its messages.
type activeRule struct {
	id   uuid.UUID
	rule ForwardingRule
	sub  *subscription
}

// ForwardingRegistry holds the single active rule of each identity.
// Thread-safe.
type ForwardingRegistry struct {
	mu    sync.RWMutex
	rules map[Identity]*activeRule
}

// NewForwardingRegistry creates an empty registry.
func NewForwardingRegistry() *ForwardingRegistry {
	return &ForwardingRegistry{
		rules: make(map[Identity]*activeRule),
	}
}

// Rule returns the active rule of identity.
func (r *ForwardingRegistry) Rule(identity Identity) (ForwardingRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active, ok := r.rules[identity]
	if !ok {
		return ForwardingRule{}, false
	}
	return active.rule, true
}

// Len returns the number of active rules.
func (r *ForwardingRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

func (r *ForwardingRegistry) put(active *activeRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[active.rule.Owner] = active
}

// remove deletes the rule of identity. If id is not uuid.Nil, the rule is
// only removed when it is still the registration with that id.
func (r *ForwardingRegistry) remove(identity Identity, id uuid.UUID) *activeRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.rules[identity]
	if !ok || (id != uuid.Nil && active.id != id) {
		return nil
	}
	delete(r.rules, identity)
	return active
}

// identityLocks serializes operations on the same identity while letting
// different identities proceed in parallel. Entries are dropped once no
// caller holds or waits for them.
type identityLocks struct {
	mu    sync.Mutex
	locks map[Identity]*identityLock
}

type identityLock struct {
	sync.Mutex
	refs int
}

func (l *identityLocks) lock(identity Identity) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[Identity]*identityLock)
	}
	m, ok := l.locks[identity]
	if !ok {
		m = &identityLock{}
		l.locks[identity] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, identity)
		}
		l.mu.Unlock()
	}
}

func (l *identityLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
