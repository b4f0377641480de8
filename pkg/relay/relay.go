// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/telegram-relay/pkg/metrics"
)

// Options configures a Relay.
type Options struct {
	// PlatformTimeout bounds the network round trips of login and verify.
	PlatformTimeout time.Duration
	// RelayTimeout bounds each relayed message.
	RelayTimeout time.Duration
	// DefaultRegion is used to parse phone numbers without a leading "+".
	DefaultRegion string
}

// Relay is the entry point for the HTTP API. Phone numbers are normalized
// here, before they reach any store.
type Relay struct {
	Sessions   *SessionManager
	Forwarding *ForwardingController

	region string
	log    zerolog.Logger
}

// Status is the externally visible state of an identity.
type Status struct {
	LoggedIn   bool
	Forwarding bool
	Rule       *ForwardingRule
}

// New wires a Relay on top of platform.
func New(platform Platform, opts Options, log zerolog.Logger, m *metrics.Metrics) *Relay {
	sessions := NewSessionManager(platform, NewSessionStore(), opts.PlatformTimeout, log, m)
	return &Relay{
		Sessions:   sessions,
		Forwarding: NewForwardingController(sessions, NewForwardingRegistry(), opts.RelayTimeout, log, m),
		region:     opts.DefaultRegion,
		log:        log,
	}
}

// Normalize converts a raw phone number into an Identity.
func (r *Relay) Normalize(phone string) (Identity, error) {
	return NormalizeIdentity(phone, r.region)
}

// Login requests a login for phone.
func (r *Relay) Login(ctx context.Context, phone string) (LoginResult, error) {
	identity, err := r.Normalize(phone)
	if err != nil {
		return LoginCodeSent, err
	}
	return r.Sessions.RequestLogin(ctx, identity)
}

// Verify redeems a verification code for phone.
func (r *Relay) Verify(ctx context.Context, phone, code string) error {
	identity, err := r.Normalize(phone)
	if err != nil {
		return err
	}
	return r.Sessions.VerifyCode(ctx, identity, code)
}

// StartForwarding starts relaying messages from source to dest for phone.
func (r *Relay) StartForwarding(ctx context.Context, phone string, source, dest ChannelID, filters []string) (StartResult, error) {
	identity, err := r.Normalize(phone)
	if err != nil {
		return ForwardingStarted, err
	}
	return r.Forwarding.StartForwarding(ctx, ForwardingRule{
		Owner:       identity,
		Source:      source,
		Destination: dest,
		Filters:     ParseFilterSet(filters),
	})
}

// StopForwarding stops the rule of phone.
func (r *Relay) StopForwarding(phone string) (StopResult, error) {
	identity, err := r.Normalize(phone)
	if err != nil {
		return NotForwarding, err
	}
	return r.Forwarding.StopForwarding(identity), nil
}

// Status reports whether phone is logged in and forwarding. It never fails;
// unknown or malformed numbers report neither.
func (r *Relay) Status(phone string) Status {
	identity, err := r.Normalize(phone)
	if err != nil {
		return Status{}
	}
	status := Status{LoggedIn: r.Sessions.IsAuthenticated(identity)}
	if rule, ok := r.Forwarding.Rule(identity); ok {
		status.Forwarding = true
		status.Rule = &rule
	}
	return status
}
