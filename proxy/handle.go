package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"go.uber.org/atomic"

	"github.com/pwn2clown/bridgeburner/cert"
	"github.com/pwn2clown/bridgeburner/originclient"
	"github.com/pwn2clown/bridgeburner/proxyerr"
	"github.com/pwn2clown/bridgeburner/store"
)

// State is the externally observable lifecycle of a Handle (spec.md §3).
type State int

const (
	Stopped State = iota
	Serving
	Error
)

func (s State) String() string {
	switch s {
	case Serving:
		return "serving"
	case Error:
		return "error"
	default:
		return "stopped"
	}
}

// state is the data shared behind every clone of a Handle. is_serving
// is an atomic.Bool and the shutdown channel lives behind the same
// mutex, so all clones observe one listener lifecycle instead of the
// reference's per-clone bool (spec.md §9, fixed per SPEC_FULL.md §4.6).
type state struct {
	mu       sync.Mutex
	addr     string
	serving  atomic.Bool
	lastErr  error
	shutdown chan struct{}

	ca        *cert.Identity
	client    originclient.Client
	store     *store.Store
	filter    *HostFilter
	leafCache *LeafCache
	logger    *slog.Logger
}

// Handle owns the lifecycle (bind, accept loop, shutdown, state) of one
// proxy instance (spec.md §3 "Proxy handle", C6). It is a thin,
// cheap-to-copy value: every copy shares the same underlying state, so
// Stop called on any copy tears the listener down exactly once.
type Handle struct {
	s *state
}

// New constructs a Handle bound to addr, minting every leaf it serves
// from ca. No socket is opened until Serve is called.
func New(addr string, ca *cert.Identity, opts ...Option) Handle {
	st := &state{
		addr:   addr,
		ca:     ca,
		client: originclient.New(originclient.Options{}),
		store:  store.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(st)
	}
	return Handle{s: st}
}

// Addr returns the handle's configured bind address.
func (h Handle) Addr() string { return h.s.addr }

// Store exposes the record journal appended to as exchanges complete.
func (h Handle) Store() *store.Store { return h.s.store }

// CA exposes the CA identity, e.g. for CertificatePEM export to a
// client trust store (spec.md §6).
func (h Handle) CA() *cert.Identity { return h.s.ca }

// Clone returns an independent Handle value sharing this handle's
// underlying state: starting, stopping, or inspecting either observes
// the same listener (spec.md §3's "clones ... share the shutdown slot
// and the CA").
func (h Handle) Clone() Handle { return h }

// State reports the handle's current observable lifecycle state.
func (h Handle) State() State {
	if h.s.serving.Load() {
		return Serving
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.s.lastErr != nil {
		return Error
	}
	return Stopped
}

// Serve binds Addr and runs the accept loop until Stop is called or a
// fatal error occurs. Idempotent: calling Serve while already serving
// is a no-op (invariant 3). A bind failure leaves is_serving false and
// returns a BindError, fixing the reference's "bind fail leaves
// is_serving true" bug (spec.md §4.6, §9).
func (h Handle) Serve(ctx context.Context) error {
	st := h.s
	if !st.serving.CompareAndSwap(false, true) {
		return nil
	}

	shutdown := make(chan struct{})
	st.mu.Lock()
	st.shutdown = shutdown
	st.lastErr = nil
	st.mu.Unlock()

	ln, err := net.Listen("tcp", st.addr)
	if err != nil {
		st.serving.Store(false)
		wrapped := proxyerr.New(proxyerr.BindError, fmt.Errorf("proxy: bind %s: %w", st.addr, err))
		st.mu.Lock()
		st.lastErr = wrapped
		st.mu.Unlock()
		return wrapped
	}

	d := &dispatcher{
		client: st.client,
		store:  st.store,
		filter: st.filter,
		logger: st.logger,
	}
	var leaves leafSource = caLeafSource{ca: st.ca}
	if st.leafCache != nil {
		leaves = st.leafCache
	}
	d.interceptor = &interceptor{leaves: leaves, client: d, logger: st.logger}

	srv := &http.Server{Handler: d}

	// Only the listener is closed on shutdown, not the server: in-flight
	// connections already accepted keep running to completion (spec.md
	// §5 "in-flight per-connection tasks are not individually
	// cancelled"), only new accepts stop.
	go func() {
		select {
		case <-shutdown:
		case <-ctx.Done():
		}
		ln.Close()
	}()

	serveErr := srv.Serve(ln)
	st.serving.Store(false)
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && !errors.Is(serveErr, net.ErrClosed) {
		st.mu.Lock()
		st.lastErr = serveErr
		st.mu.Unlock()
		return serveErr
	}
	return nil
}

// Stop idempotently tears the listener down: calling it on a
// never-served or already-stopped handle is a no-op (invariant 4).
// Safe to call from any goroutine or clone.
func (h Handle) Stop() {
	st := h.s
	st.mu.Lock()
	shutdown := st.shutdown
	st.shutdown = nil
	st.mu.Unlock()

	if shutdown == nil {
		return
	}
	select {
	case <-shutdown:
	default:
		close(shutdown)
	}
	st.serving.Store(false)
}
