package proxy

import "github.com/pwn2clown/bridgeburner/internal/helper"

// HostFilter decides whether a validated CONNECT target should be
// intercepted (MITM'd) or merely tunneled (SPEC_FULL.md §4.8 / C8).
// A nil *HostFilter intercepts everything, which is the default
// behavior spec.md §4 describes.
type HostFilter struct {
	allow []string
	deny  []string
}

// NewHostFilter builds a filter from glob patterns (tidwall/match
// syntax, via internal/helper.MatchHost). allow may be empty, meaning
// "allow everything not denied".
func NewHostFilter(allow, deny []string) *HostFilter {
	return &HostFilter{allow: allow, deny: deny}
}

// Intercept reports whether authority ("host:port") should be MITM'd.
func (f *HostFilter) Intercept(authority string) bool {
	if f == nil {
		return true
	}
	if helper.MatchHost(authority, f.deny) {
		return false
	}
	if len(f.allow) == 0 {
		return true
	}
	return helper.MatchHost(authority, f.allow)
}
