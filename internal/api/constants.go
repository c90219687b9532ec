package api

import "time"

// Request limits.
const (
	// MaxRequestBodySize caps JSON bodies (login, register, reviews).
	MaxRequestBodySize = 64 << 10

	// MaxSearchLimit mirrors the service cap for the quick search endpoint.
	MaxSearchLimit = 50
)

// authSettleTimeout bounds how long an auth action waits for the visitor's
// auth state to reflect it.
const authSettleTimeout = 5 * time.Second

// Cache-Control header values.
const (
	CacheGenres  = "public, max-age=3600"
	CacheNoStore = "no-store"
)
