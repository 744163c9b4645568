package proxy

import (
	"log/slog"

	"github.com/pwn2clown/bridgeburner/originclient"
)

// Option configures a Handle at construction time.
type Option func(*state)

// WithLogger overrides the handle's logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(s *state) { s.logger = logger }
}

// WithOriginClientOptions overrides the origin client's per-phase
// timeouts (spec.md §9, defaulted in SPEC_FULL.md §4.3).
func WithOriginClientOptions(opts originclient.Options) Option {
	return func(s *state) { s.client = originclient.New(opts) }
}

// WithHostFilter installs a host allow/deny predicate (C8). Without
// this option every CONNECT is intercepted, matching spec.md's default.
func WithHostFilter(filter *HostFilter) Option {
	return func(s *state) { s.filter = filter }
}

// WithLeafCache enables the leaf certificate cache (C9), holding up to
// maxEntries identities. Off by default (spec.md §4.1: "the reference
// design does not [cache]").
func WithLeafCache(maxEntries int) Option {
	return func(s *state) { s.leafCache = NewLeafCache(s.ca, maxEntries) }
}
