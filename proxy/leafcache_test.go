package proxy_test

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/pwn2clown/bridgeburner/cert"
	"github.com/pwn2clown/bridgeburner/proxy"
)

func TestLeafCacheMintsOnMissAndReusesOnHit(t *testing.T) {
	c := qt.New(t)

	ca, err := cert.NewCA()
	c.Assert(err, qt.IsNil)

	lc := proxy.NewLeafCache(ca, 100)

	first, err := lc.Get(context.Background(), "api.example.com:443")
	c.Assert(err, qt.IsNil)
	c.Assert(first.Cert.Subject.CommonName, qt.Equals, "api.example.com:443")

	second, err := lc.Get(context.Background(), "api.example.com:443")
	c.Assert(err, qt.IsNil)
	c.Assert(second.Cert.SerialNumber.String(), qt.Equals, first.Cert.SerialNumber.String())
}

func TestLeafCacheMintsDistinctIdentitiesPerAuthority(t *testing.T) {
	c := qt.New(t)

	ca, err := cert.NewCA()
	c.Assert(err, qt.IsNil)

	lc := proxy.NewLeafCache(ca, 100)

	a, err := lc.Get(context.Background(), "a.example.com:443")
	c.Assert(err, qt.IsNil)
	b, err := lc.Get(context.Background(), "b.example.com:443")
	c.Assert(err, qt.IsNil)

	c.Assert(a.Cert.Subject.CommonName, qt.Equals, "a.example.com:443")
	c.Assert(b.Cert.Subject.CommonName, qt.Equals, "b.example.com:443")
	c.Assert(a.Cert.SerialNumber.String() == b.Cert.SerialNumber.String(), qt.IsFalse)
}

func TestLeafCacheIssuedCertChainsToCA(t *testing.T) {
	c := qt.New(t)

	ca, err := cert.NewCA()
	c.Assert(err, qt.IsNil)

	lc := proxy.NewLeafCache(ca, 100)
	leaf, err := lc.Get(context.Background(), "chained.example.com:443")
	c.Assert(err, qt.IsNil)

	c.Assert(leaf.Cert.CheckSignatureFrom(ca.Cert), qt.IsNil)
}
