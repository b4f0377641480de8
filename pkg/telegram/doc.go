// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package telegram implements relay.Platform on top of gotd, an MTProto
// client for Telegram.
//
// Each identity gets its own client with a file backed session under the
// configured session directory, so a restarted process can reuse an
// authorization without asking for a new code. A client owns one update
// dispatcher; subscriptions register handlers per source chat on it.
//
// Messages are relayed with messages.forwardMessages and drop_author set,
// which copies text and media to the destination without a forward header.
package telegram
