// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/telegram-relay/pkg/metrics"
)

// LoginResult is the outcome of a successful login request.
type LoginResult int

const (
	LoginCodeSent LoginResult = iota
	LoginAlreadyAuthorized
)

func (r LoginResult) String() string {
	if r == LoginAlreadyAuthorized {
		return "already_logged_in"
	}
	return "code_sent"
}

// DefaultPlatformTimeout bounds login and verification round trips when no
// timeout is configured.
const DefaultPlatformTimeout = 30 * time.Second

// SessionManager drives identities through login and code verification.
// Its identity locks are shared with the ForwardingController, so a session
// change and a rule change on the same identity never interleave.
type SessionManager struct {
	platform Platform
	store    *SessionStore
	locks    identityLocks
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger

	// onSessionEnd runs with the identity lock held whenever an
	// authenticated session ends or moves to another client.
	onSessionEnd func(identity Identity, reason string)

	watchMu  sync.Mutex
	watching map[Client]struct{}
}

// NewSessionManager creates a manager using platform to connect clients.
// A zero timeout selects DefaultPlatformTimeout.
func NewSessionManager(platform Platform, store *SessionStore, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *SessionManager {
	if timeout <= 0 {
		timeout = DefaultPlatformTimeout
	}
	return &SessionManager{
		platform: platform,
		store:    store,
		timeout:  timeout,
		metrics:  m,
		log:      log.With().Str("component", "session_manager").Logger(),
		watching: make(map[Client]struct{}),
	}
}

// RequestLogin connects the client of identity. If the platform still
// considers the stored session authorized, identity becomes authenticated
// right away; otherwise a verification code is requested.
func (m *SessionManager) RequestLogin(ctx context.Context, identity Identity) (LoginResult, error) {
	unlock := m.locks.lock(identity)
	defer unlock()

	log := m.log.With().Str("phone", identity.String()).Logger()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	client, err := m.platform.Connect(ctx, identity)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect messaging client")
		return m.loginFailed(platformError(KindLoginFailed, err))
	}
	m.watch(identity, client)

	authorized, err := client.IsAuthorized(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to check authorization")
		return m.loginFailed(platformError(KindLoginFailed, err))
	}
	if authorized {
		m.authenticate(identity, client)
		log.Info().Msg("Stored session is still authorized")
		m.metrics.ObserveLogin(LoginAlreadyAuthorized.String())
		return LoginAlreadyAuthorized, nil
	}

	codeHash, err := client.RequestCode(ctx, identity)
	if err != nil {
		log.Error().Err(err).Msg("Failed to request verification code")
		return m.loginFailed(platformError(KindLoginFailed, err))
	}
	if m.store.State(identity) == StateAuthenticated {
		log.Warn().Msg("Session lost its authorization, login restarted")
		m.endSession(identity, "session lost its authorization")
	}
	m.store.SetCodeSent(identity, client, codeHash)

	log.Info().Msg("Verification code sent")
	m.metrics.ObserveLogin(LoginCodeSent.String())
	return LoginCodeSent, nil
}

func (m *SessionManager) loginFailed(err *Error) (LoginResult, error) {
	m.metrics.ObserveLogin(string(err.Kind))
	return LoginCodeSent, err
}

// VerifyCode redeems code against the pending code hash of identity. A
// platform rejection leaves the hash in place so the user can retry; only a
// successful sign in consumes it.
func (m *SessionManager) VerifyCode(ctx context.Context, identity Identity, code string) error {
	unlock := m.locks.lock(identity)
	defer unlock()

	log := m.log.With().Str("phone", identity.String()).Logger()

	codeHash, client, ok := m.store.PendingCode(identity)
	if !ok {
		log.Debug().Msg("Verification attempted without a pending code")
		return m.verifyFailed(&Error{Kind: KindVerificationFailed, Detail: DetailNoPendingCode})
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := client.SignIn(ctx, identity, code, codeHash); err != nil {
		log.Warn().Err(err).Msg("Sign in failed")
		return m.verifyFailed(platformError(KindVerificationFailed, err))
	}

	m.authenticate(identity, client)
	log.Info().Msg("Logged in")
	m.metrics.ObserveVerification("logged_in")
	return nil
}

func (m *SessionManager) verifyFailed(err *Error) error {
	m.metrics.ObserveVerification(string(err.Kind))
	return err
}

// State returns the session state of identity.
func (m *SessionManager) State(identity Identity) SessionState {
	return m.store.State(identity)
}

// IsAuthenticated reports whether identity has a live authenticated client.
func (m *SessionManager) IsAuthenticated(identity Identity) bool {
	_, ok := m.store.AuthenticatedClient(identity)
	return ok
}

// authenticatedClient returns the live client of identity.
func (m *SessionManager) authenticatedClient(identity Identity) (Client, bool) {
	return m.store.AuthenticatedClient(identity)
}

func (m *SessionManager) authenticate(identity Identity, client Client) {
	if prev, ok := m.store.AuthenticatedClient(identity); ok && prev != client {
		m.endSession(identity, "session moved to a new connection")
	}
	m.store.SetAuthenticated(identity, client)
}

func (m *SessionManager) endSession(identity Identity, reason string) {
	if m.onSessionEnd != nil {
		m.onSessionEnd(identity, reason)
	}
}

// watch starts the disconnect watcher of client unless one is running.
func (m *SessionManager) watch(identity Identity, client Client) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if _, ok := m.watching[client]; ok {
		return
	}
	m.watching[client] = struct{}{}
	go m.watchDisconnect(identity, client)
}

func (m *SessionManager) watchers() int {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	return len(m.watching)
}

// watchDisconnect resets the session once its client connection ends, so the
// next login builds a fresh client.
func (m *SessionManager) watchDisconnect(identity Identity, client Client) {
	<-client.Done()

	unlock := m.locks.lock(identity)
	prev, authenticated := m.store.AuthenticatedClient(identity)
	if m.store.ResetClient(identity, client) {
		m.log.Warn().Str("phone", identity.String()).Msg("Messaging client disconnected, session reset")
		m.metrics.IncrementDisconnects()
		if authenticated && prev == client {
			m.endSession(identity, "messaging client disconnected")
		}
	}
	unlock()

	m.watchMu.Lock()
	delete(m.watching, client)
	m.watchMu.Unlock()
}
