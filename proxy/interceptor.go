package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/pwn2clown/bridgeburner/cert"
	"github.com/pwn2clown/bridgeburner/internal/helper"
	"github.com/pwn2clown/bridgeburner/proxyerr"
)

// mozillaIntermediateCipherSuites is the AEAD-only, ECDHE-only subset of
// Go's supported TLS 1.2 cipher suites that overlaps Mozilla's
// intermediate compatibility profile (SPEC_FULL.md §4.5). TLS 1.3
// suites are not configurable in crypto/tls and are left at Go's
// default, which is already AEAD-only.
var mozillaIntermediateCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// leafSource mints or retrieves the per-host Identity an interceptor
// presents to the client. caLeafSource and *LeafCache both satisfy it.
type leafSource interface {
	leaf(ctx context.Context, authority string) (*cert.Identity, error)
}

// caLeafSource mints a fresh leaf via cert.Leaf on every call — the
// reference behavior (spec.md §4.1: "the reference design does not
// [cache]; each CONNECT mints a fresh leaf").
type caLeafSource struct {
	ca *cert.Identity
}

func (s caLeafSource) leaf(_ context.Context, authority string) (*cert.Identity, error) {
	return cert.Leaf(s.ca, authority)
}

func (lc *LeafCache) leaf(ctx context.Context, authority string) (*cert.Identity, error) {
	return lc.Get(ctx, authority)
}

// singleConnListener is a net.Listener that yields exactly one
// connection and then blocks until Close, after which Accept returns
// net.ErrClosed, so an *http.Server can serve a
// single already-accepted net.Conn without opening a socket of its
// own. Grounded on the channel-fed listener idiom the teacher corpus
// uses to hand an intercepted connection to a standard http.Server.
type singleConnListener struct {
	connCh chan net.Conn
	closed chan struct{}
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	l := &singleConnListener{
		connCh: make(chan net.Conn, 1),
		closed: make(chan struct{}),
	}
	l.connCh <- conn
	return l
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *singleConnListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return &net.TCPAddr{} }

// interceptor is the TLS interceptor (C5): it takes ownership of a
// hijacked, tunnel-established connection, terminates TLS as the
// forged origin, and serves HTTP/1.1 over the decrypted stream by
// routing each request back through the dispatcher in "intercepted"
// mode.
type interceptor struct {
	leaves leafSource
	client requestForwarder
	logger *slog.Logger
}

// requestForwarder is the subset of *dispatcher an interceptor needs:
// replaying a decrypted request in intercepted mode, carrying the
// upstream authority for URL rewriting.
type requestForwarder interface {
	forward(w http.ResponseWriter, r *http.Request, authority string)
}

// Intercept performs the server-side TLS handshake using a leaf
// identity for authority, then serves HTTP/1.1 over the decrypted
// stream until the client closes it. Handshake failure is logged and
// ends the task without sending anything to the client, which never
// completed TLS.
func (ic *interceptor) Intercept(conn net.Conn, authority string) {
	identity, err := ic.leaves.leaf(context.Background(), authority)
	if err != nil {
		logErr(ic.logger, proxyerr.New(proxyerr.CryptoError, fmt.Errorf("interceptor: mint leaf for %s: %w", authority, err)))
		conn.Close()
		return
	}

	tlsConn := tls.Server(conn, &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: mozillaIntermediateCipherSuites,
		Certificates: []tls.Certificate{identity.TLSCertificate()},
		KeyLogWriter: helper.GetTLSKeyLogWriter(),
	})
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		logErr(ic.logger, proxyerr.New(proxyerr.TLSHandshakeError, fmt.Errorf("interceptor: handshake for %s: %w", authority, err)))
		conn.Close()
		return
	}

	ln := newSingleConnListener(tlsConn)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ic.client.forward(w, r, authority)
	})
	srv := &http.Server{
		Handler: handler,
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				ln.Close()
			}
		},
	}

	if err := srv.Serve(ln); err != nil {
		logErr(ic.logger, err)
	}
}
