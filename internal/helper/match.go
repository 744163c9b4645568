package helper

import (
	"strings"

	"github.com/tidwall/match"
)

// MatchHost reports whether address ("host:port") matches any of the
// glob patterns in hosts. A pattern without a port (e.g. "*.example.com")
// matches on hostname alone, ignoring address's port; a pattern with a
// port matches the full "host:port" string.
func MatchHost(address string, hosts []string) bool {
	host := address
	if idx := strings.LastIndex(address, ":"); idx >= 0 {
		host = address[:idx]
	}

	for _, pattern := range hosts {
		if strings.Contains(pattern, ":") {
			if match.Match(address, pattern) {
				return true
			}
			continue
		}
		if match.Match(host, pattern) {
			return true
		}
	}
	return false
}
