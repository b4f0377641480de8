// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay implements the session and forwarding state machine of the
// Telegram relay: phone-number login with one-time codes, and filtered
// forwarding of messages from one chat to another.
//
// # Core Types
//
// [SessionManager] drives a user's identity from unauthenticated to
// authenticated. A login request connects the messaging client and either
// asks the platform to send a verification code or, when a stored session is
// still valid, promotes the identity straight to authenticated.
//
// [ForwardingController] registers at most one [ForwardingRule] per
// identity. Each rule owns a subscription on the identity's live client;
// every inbound message on the source chat is checked with [Matches] and,
// when it passes, relayed verbatim to the destination chat.
//
// [Relay] is the facade used by the HTTP API. It normalizes phone numbers on
// ingress so that "+1 555 0001" and "15550001" address the same session.
//
// # Messaging Client
//
// The package never talks to Telegram directly. [Platform], [Client] and
// [Subscription] describe the capability it needs; package telegram
// implements them on top of gotd.
//
// # State
//
// All state is in memory. A process restart loses every session and rule;
// users have to log in and start forwarding again. Client session material
// persisted by the platform implementation is what lets a later login
// succeed without a new code.
package relay
