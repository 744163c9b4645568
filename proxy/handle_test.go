package proxy_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/pwn2clown/bridgeburner/cert"
	"github.com/pwn2clown/bridgeburner/proxy"
)

func freeAddr(c *qt.C) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	addr := ln.Addr().String()
	c.Assert(ln.Close(), qt.IsNil)
	return addr
}

func urlMustParse(c *qt.C, raw string) *url.URL {
	u, err := url.Parse(raw)
	c.Assert(err, qt.IsNil)
	return u
}

func newBufReader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(r)
}

func newTestCA(c *qt.C) *cert.Identity {
	ca, err := cert.NewCA()
	c.Assert(err, qt.IsNil)
	return ca
}

func TestScenarioPlainGET(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Assert(r.URL.Path, qt.Equals, "/hello")
		_, _ = w.Write([]byte("hi"))
	}))
	defer origin.Close()

	addr := freeAddr(c)
	h := proxy.New(addr, newTestCA(c))

	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(context.Background()) }()
	waitServing(c, h)
	defer h.Stop()

	req, err := http.NewRequest(http.MethodGet, origin.URL+"/hello", nil)
	c.Assert(err, qt.IsNil)

	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(urlMustParse(c, "http://"+addr))}}
	resp, err := client.Do(req)
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "hi")
	c.Assert(h.Store().Len(), qt.Equals, 1)
}

func TestScenarioMalformedConnectReturns400(t *testing.T) {
	c := qt.New(t)

	addr := freeAddr(c)
	h := proxy.New(addr, newTestCA(c))
	go h.Serve(context.Background())
	waitServing(c, h)
	defer h.Stop()

	conn, err := net.Dial("tcp", addr)
	c.Assert(err, qt.IsNil)
	defer conn.Close()

	_, err = io.WriteString(conn, "CONNECT http://origin.local/ HTTP/1.1\r\nHost: origin.local\r\n\r\n")
	c.Assert(err, qt.IsNil)

	resp, err := http.ReadResponse(newBufReader(conn), nil)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusBadRequest)
}

func TestScenarioUnreachableOriginReturns503(t *testing.T) {
	c := qt.New(t)

	addr := freeAddr(c)
	h := proxy.New(addr, newTestCA(c))
	go h.Serve(context.Background())
	waitServing(c, h)
	defer h.Stop()

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
	c.Assert(err, qt.IsNil)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(urlMustParse(c, "http://"+addr))}}
	resp, err := client.Do(req)
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, qt.Equals, http.StatusServiceUnavailable)
}

func TestScenarioStopDuringAcceptReleasesPort(t *testing.T) {
	c := qt.New(t)

	addr := freeAddr(c)
	h := proxy.New(addr, newTestCA(c))
	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(context.Background()) }()
	waitServing(c, h)

	h.Stop()
	select {
	case err := <-errCh:
		c.Assert(err, qt.IsNil)
	case <-time.After(2 * time.Second):
		c.Fatal("Serve never returned after Stop")
	}
	c.Assert(h.State(), qt.Equals, proxy.Stopped)

	ln, err := net.Listen("tcp", addr)
	c.Assert(err, qt.IsNil)
	ln.Close()
}

func TestScenarioStopWithActiveConnectionLetsItFinish(t *testing.T) {
	c := qt.New(t)

	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	defer upstream.Close()

	released := make(chan struct{})
	go func() {
		conn, err := upstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-released
		_, _ = conn.Write([]byte("done"))
	}()

	addr := freeAddr(c)
	h := proxy.New(addr, newTestCA(c), proxy.WithHostFilter(proxy.NewHostFilter(nil, []string{"*"})))
	go h.Serve(context.Background())
	waitServing(c, h)

	conn, err := net.Dial("tcp", addr)
	c.Assert(err, qt.IsNil)
	defer conn.Close()

	target := upstream.Addr().String()
	_, err = io.WriteString(conn, "CONNECT "+target+" HTTP/1.1\r\nHost: "+target+"\r\n\r\n")
	c.Assert(err, qt.IsNil)
	resp, err := http.ReadResponse(newBufReader(conn), nil)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)

	h.Stop()
	time.Sleep(50 * time.Millisecond)

	_, err = net.Dial("tcp", addr)
	c.Assert(err, qt.IsNotNil)

	close(released)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf), qt.Equals, "done")
}

func TestIdempotentServeAndStop(t *testing.T) {
	c := qt.New(t)

	addr := freeAddr(c)
	h := proxy.New(addr, newTestCA(c))

	go h.Serve(context.Background())
	waitServing(c, h)
	go h.Serve(context.Background())
	time.Sleep(50 * time.Millisecond)
	c.Assert(h.State(), qt.Equals, proxy.Serving)

	h.Stop()
	h.Stop()
	c.Assert(h.State(), qt.Equals, proxy.Stopped)
}

func TestLeafChainsToHandleCAOverTLS(t *testing.T) {
	c := qt.New(t)

	ca := newTestCA(c)
	addr := freeAddr(c)
	h := proxy.New(addr, ca)
	go h.Serve(context.Background())
	waitServing(c, h)
	defer h.Stop()

	conn, err := net.Dial("tcp", addr)
	c.Assert(err, qt.IsNil)
	defer conn.Close()

	target := "secure.example.com:443"
	_, err = io.WriteString(conn, "CONNECT "+target+" HTTP/1.1\r\nHost: "+target+"\r\n\r\n")
	c.Assert(err, qt.IsNil)
	resp, err := http.ReadResponse(newBufReader(conn), nil)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)

	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)
	tlsConn := tls.Client(conn, &tls.Config{RootCAs: pool, ServerName: target})
	c.Assert(tlsConn.Handshake(), qt.IsNil)
	c.Assert(tlsConn.ConnectionState().PeerCertificates[0].Subject.CommonName, qt.Equals, target)
}

func waitServing(c *qt.C, h proxy.Handle) {
	for i := 0; i < 200; i++ {
		if h.State() == proxy.Serving {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Fatal("handle never reached Serving state")
}
