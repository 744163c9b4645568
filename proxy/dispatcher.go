package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	uuid "github.com/satori/go.uuid"

	"github.com/pwn2clown/bridgeburner/originclient"
	"github.com/pwn2clown/bridgeburner/proxyerr"
	"github.com/pwn2clown/bridgeburner/store"
)

// connectInterceptor takes ownership of a hijacked, tunnel-established
// connection and serves TLS + HTTP over it (C5). It is fire-and-forget
// from the dispatcher's point of view: handleConnect has already
// answered the client with "200 Connection Established" by the time
// Intercept is called, so its failures are only ever logged.
type connectInterceptor interface {
	Intercept(conn net.Conn, authority string)
}

// dispatcher is the per-request decision point (spec.md §4.4 / C4):
// plain HTTP forward vs CONNECT-then-TLS-intercept, plus URL rewriting
// for requests replayed from the TLS interceptor in "intercepted" mode.
type dispatcher struct {
	client      originclient.Client
	store       *store.Store
	filter      *HostFilter
	interceptor connectInterceptor
	logger      *slog.Logger
}

// ServeHTTP routes a client-facing HTTP/1.1 request: CONNECT is handled
// as a tunnel/intercept decision, everything else is forwarded as
// plaintext HTTP via the origin client.
func (d *dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		d.handleConnect(w, r)
		return
	}
	d.forward(w, r, "")
}

// handleConnect validates the authority-form CONNECT target, hijacks
// the connection, and either tunnels it raw (host filter declines) or
// hands it to the interceptor after the "200 Connection Established"
// handshake. A malformed target returns 400 instead of the reference's
// silently-dropped empty 200 (spec.md §4.4, scenario 3).
func (d *dispatcher) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !isValidConnectTarget(r) {
		httpError(w, "malformed CONNECT target", http.StatusBadRequest)
		return
	}
	authority := r.Host

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		httpError(w, "connection does not support hijacking", http.StatusInternalServerError)
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		logErr(d.logger, err)
		return
	}

	if !d.filter.Intercept(authority) {
		d.directTransfer(conn, authority)
		return
	}

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		conn.Close()
		return
	}

	if d.interceptor == nil {
		conn.Close()
		return
	}
	d.interceptor.Intercept(conn, authority)
}

// isValidConnectTarget reports whether r's request line was a bare
// authority-form target (host:port, no scheme, no path, no query) —
// the only valid shape for a CONNECT request (spec.md §4.4).
func isValidConnectTarget(r *http.Request) bool {
	if r.URL.Scheme != "" || r.URL.Path != "" || r.URL.RawQuery != "" {
		return false
	}
	host, port, err := net.SplitHostPort(r.Host)
	return err == nil && host != "" && port != ""
}

// directTransfer dials authority and bridges it to conn with a raw
// byte copy, bypassing C1/C5 entirely. Used when the host filter
// declines to intercept a CONNECT target (SPEC_FULL.md §4.4).
func (d *dispatcher) directTransfer(conn net.Conn, authority string) {
	upstream, err := net.Dial("tcp", authority)
	if err != nil {
		logErr(d.logger, err)
		conn.Close()
		return
	}

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		conn.Close()
		upstream.Close()
		return
	}

	transfer(d.logger, upstream, conn)
}

// forward sends r to its origin via the origin client and copies the
// response back to w, recording the exchange. When authority is
// non-empty, r arrived from the TLS interceptor with an origin-form
// target and is rewritten to an absolute https://authority URI first.
func (d *dispatcher) forward(w http.ResponseWriter, r *http.Request, authority string) {
	if authority != "" {
		if err := rewriteInterceptedURL(r, authority); err != nil {
			d.fail(w, err)
			return
		}
	}
	if !r.URL.IsAbs() {
		d.fail(w, proxyerr.New(proxyerr.BadRequest, errors.New("dispatcher: direct requests to the proxy are not allowed")))
		return
	}

	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		d.fail(w, proxyerr.New(proxyerr.BadRequest, fmt.Errorf("dispatcher: read request body: %w", err)))
		return
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(reqBody))

	resp, err := d.client.Execute(r.Context(), r)
	if err != nil {
		d.fail(w, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		d.fail(w, proxyerr.New(proxyerr.OriginProtocolError, fmt.Errorf("dispatcher: read response body: %w", err)))
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	if d.store != nil {
		d.store.Append(store.Record{
			ID: uuid.NewV4(),
			Request: store.RequestRecord{
				Method: r.Method,
				URL:    r.URL.String(),
				Header: r.Header.Clone(),
				Body:   reqBody,
			},
			Response: store.ResponseRecord{
				StatusCode: resp.StatusCode,
				Header:     resp.Header.Clone(),
				Body:       respBody,
			},
		})
	}
}

// rewriteInterceptedURL rewrites r's origin-form target (path+query
// only) into an absolute "https://authority/path?query" URI so the
// origin client sees what spec.md §4.3 requires. Malformed
// concatenation returns BadRequest instead of the reference's panic
// (spec.md §4.4).
func rewriteInterceptedURL(r *http.Request, authority string) error {
	raw := "https://" + authority + r.URL.RequestURI()
	u, err := url.Parse(raw)
	if err != nil {
		return proxyerr.New(proxyerr.BadRequest, fmt.Errorf("dispatcher: rewrite %q: %w", raw, err))
	}
	r.URL = u
	return nil
}

func (d *dispatcher) fail(w http.ResponseWriter, err error) {
	logErr(d.logger, err)

	var perr *proxyerr.Error
	if errors.As(err, &perr) {
		status := perr.Kind.HTTPStatus()
		if status == 0 {
			status = http.StatusBadGateway
		}
		httpError(w, perr.Error(), status)
		return
	}
	httpError(w, err.Error(), http.StatusBadGateway)
}
