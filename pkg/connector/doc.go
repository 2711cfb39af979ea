// Copyright 2024-2026 Aiku AI

// Package connector runs the bridge between the game and the remote chat
// platform.
//
// # Core Types
//
// [Connector] owns the process-wide relay state: the channel link registry,
// the echo window and one platform session at a time. A session holds the
// connected platform, the event bus and the display modules built for it.
// [Connector.RestartClient] replaces the session with a freshly built
// platform.
//
// # Dispatch
//
// Game actions and platform events are classified into trigger kinds and
// published on the session's bus. The echo of a message the bridge relayed
// and a redelivered remote message are dropped before they reach a module.
// Reactions bypass the bus; each display module receives them from its own
// platform subscription.
//
// # Verification
//
// Links are verified right after connecting, again once the first display
// delay has passed, and then periodically. Modules start as soon as their
// purpose has a verified target.
//
// # Admin API
//
// [Connector.Handler] serves status, restart, manual send, link reload,
// user linking, guild and channel listing and the trade watchlist under
// /api. Requests to /api carry the configured bearer token; without one only
// loopback clients are served. Prometheus metrics are under /metrics and the
// game plugin socket is under /ws/game.
package connector
