// Package originclient implements the proxy's outbound leg: a
// deliberately minimal, non-pooling HTTP/1.1 client that opens one TCP
// connection per request (spec.md §4.3 / C3).
package originclient

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pwn2clown/bridgeburner/internal/helper"
	"github.com/pwn2clown/bridgeburner/proxyerr"
)

// Options configures per-phase timeouts. The zero value uses the
// defaults spec.md §9 leaves to the implementer.
type Options struct {
	ConnectTimeout   time.Duration
	RoundTripTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.RoundTripTimeout <= 0 {
		o.RoundTripTimeout = 30 * time.Second
	}
	return o
}

// Client is a stateless, clone-cheap value: every Execute opens a fresh
// connection, performs one request/response, and tears the connection
// down. No keep-alive, no pipelining, no redirects.
type Client struct {
	opts Options
}

// New returns a Client with the given Options (zero value for defaults).
func New(opts Options) Client {
	return Client{opts: opts.withDefaults()}
}

// Execute sends req, whose URL must be absolute (scheme + authority +
// path), and returns the full buffered response. The request body, if
// any, is read and forwarded as-is.
func (c Client) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.URL.Host == "" {
		return nil, proxyerr.New(proxyerr.BadRequest, fmt.Errorf("originclient: request URL %q is not absolute", req.URL))
	}

	addr := helper.CanonicalAddr(req.URL)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, proxyerr.New(proxyerr.Unreachable, fmt.Errorf("originclient: dial %s: %w", addr, err))
	}

	deadline := time.Now().Add(c.opts.RoundTripTimeout)
	_ = conn.SetDeadline(deadline)

	resp, err := c.roundTrip(conn, req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	conn.Close()
	return resp, nil
}

func (c Client) roundTrip(conn net.Conn, req *http.Request) (*http.Response, error) {
	outReq := req.Clone(req.Context())
	outReq.Close = true
	outReq.RequestURI = ""

	if err := outReq.Write(conn); err != nil {
		return nil, proxyerr.New(proxyerr.OriginProtocolError, fmt.Errorf("originclient: write request: %w", err))
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, outReq)
	if err != nil {
		return nil, proxyerr.New(proxyerr.OriginProtocolError, fmt.Errorf("originclient: read response: %w", err))
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, proxyerr.New(proxyerr.OriginProtocolError, fmt.Errorf("originclient: read body: %w", err))
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}
