// Command bridgeburner is a thin wiring binary around the proxy
// module: it accepts a listen address and optional host allow/deny
// globs, and otherwise does no configuration-loading or bootstrap work
// (SPEC_FULL.md §1). The GUI control surface and its bridge remain
// external collaborators.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pwn2clown/bridgeburner/cert"
	"github.com/pwn2clown/bridgeburner/proxy"
	"github.com/pwn2clown/bridgeburner/version"
)

type config struct {
	addr        string
	allowHosts  string
	denyHosts   string
	debug       bool
	showVersion bool
}

func loadConfig() *config {
	c := new(config)
	flag.StringVar(&c.addr, "addr", "127.0.0.1:4444", "proxy listen address")
	flag.StringVar(&c.allowHosts, "allow-hosts", "", "comma-separated glob patterns to intercept; empty means all")
	flag.StringVar(&c.denyHosts, "deny-hosts", "", "comma-separated glob patterns to tunnel without interception")
	flag.BoolVar(&c.debug, "debug", false, "enable debug logging")
	flag.BoolVar(&c.showVersion, "version", false, "print version and exit")
	flag.Parse() //revive:disable-line:deep-exit -- ok for cmd/*
	return c
}

func splitHosts(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	cfg := loadConfig()

	if cfg.showVersion {
		fmt.Println("bridgeburner: " + version.String())
		os.Exit(0)
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ca, err := cert.NewCA()
	if err != nil {
		slog.Error("failed to create CA", "error", err)
		os.Exit(1)
	}
	slog.Info("CA ready", "common_name", ca.Cert.Subject.CommonName)

	var opts []proxy.Option
	opts = append(opts, proxy.WithLogger(logger))
	if allow, deny := splitHosts(cfg.allowHosts), splitHosts(cfg.denyHosts); len(allow) > 0 || len(deny) > 0 {
		opts = append(opts, proxy.WithHostFilter(proxy.NewHostFilter(allow, deny)))
	}

	h := proxy.New(cfg.addr, ca, opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	slog.Info("bridgeburner started", "addr", h.Addr(), "version", version.String())
	if err := h.Serve(ctx); err != nil {
		slog.Error("proxy stopped with error", "error", err)
		os.Exit(1)
	}
}
