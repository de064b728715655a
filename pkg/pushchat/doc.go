// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pushchat is a client for a chat service that exposes an HTTP API
// and a push socket.
//
// # Core Types
//
// [Client] is one logical session. [Client.Login] authenticates over HTTP,
// fetches the own profile and opens the push socket. The socket is
// authenticated with the session token; once the server acknowledges it the
// client emits connected, and ready the first time only.
//
// [Cache] holds the users and channels seen during the session, keyed by
// id. Lookups that miss are fetched through the [Gateway].
//
// [EventBus] is embedded in the client and is the only way push events
// reach consumers. Message updates and deletions carry a
// [MessageSnapshot] of the message as it was before the change, or nil if
// it was never observed.
//
// # Reconnects
//
// Every close of the active socket emits dropped. With
// [Options.AutoReconnect] set, exactly one new connection attempt is
// scheduled per drop, delayed by [Options.Backoff]. A socket replaced by
// [Client.Connect] is closed silently and anything it still delivers is
// ignored.
//
// Delivery is at most once per socket: frames missed while disconnected
// are not replayed by the client.
//
// # Sub-packages
//
//   - markdown renders message content to HTML.
package pushchat
