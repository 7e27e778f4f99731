// Package timeouts defines shared timeout constants for the bookshelf process.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP and gRPC servers wait for in-flight
// requests during graceful shutdown.
const Shutdown = 5 * time.Second

// Ping caps a readiness probe against Redis or SQLite.
const Ping = time.Second

// RedisDial caps the initial Redis connection attempt at startup.
const RedisDial = 2 * time.Second
