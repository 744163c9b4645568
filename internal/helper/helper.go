package helper

import (
	"net"
	"net/url"
)

var portMap = map[string]string{
	"http":  "80",
	"https": "443",
}

// CanonicalAddr returns url.Host but always with a ":port" suffix.
func CanonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = portMap[u.Scheme]
	}
	return net.JoinHostPort(u.Hostname(), port)
}
