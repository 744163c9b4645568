package proxy_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/pwn2clown/bridgeburner/proxy"
)

func TestNilHostFilterInterceptsEverything(t *testing.T) {
	c := qt.New(t)

	var f *proxy.HostFilter
	c.Assert(f.Intercept("origin.local:443"), qt.IsTrue)
}

func TestHostFilterDenyWins(t *testing.T) {
	c := qt.New(t)

	f := proxy.NewHostFilter(nil, []string{"*.bank.local"})
	c.Assert(f.Intercept("secure.bank.local:443"), qt.IsFalse)
	c.Assert(f.Intercept("origin.local:443"), qt.IsTrue)
}

func TestHostFilterAllowListRestricts(t *testing.T) {
	c := qt.New(t)

	f := proxy.NewHostFilter([]string{"*.allowed.local"}, nil)
	c.Assert(f.Intercept("api.allowed.local:443"), qt.IsTrue)
	c.Assert(f.Intercept("other.local:443"), qt.IsFalse)
}

func TestHostFilterDenyOverridesAllow(t *testing.T) {
	c := qt.New(t)

	f := proxy.NewHostFilter([]string{"*.allowed.local"}, []string{"blocked.allowed.local"})
	c.Assert(f.Intercept("blocked.allowed.local:443"), qt.IsFalse)
}
