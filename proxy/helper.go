package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pwn2clown/bridgeburner/proxyerr"
)

var normalErrMsgs = []string{
	"read: connection reset by peer",
	"write: broken pipe",
	"i/o timeout",
	"net/http: TLS handshake timeout",
	"io: read/write on closed pipe",
	"connect: connection refused",
	"connect: connection reset by peer",
	"use of closed network connection",
}

// Only print unexpected error messages.
func logErr(logger *slog.Logger, err error) {
	var perr *proxyerr.Error
	if errors.As(err, &perr) && perr.Kind == proxyerr.ConnectionDropped {
		logger.Debug("normal error", "error", err)
		return
	}

	msg := err.Error()
	for _, str := range normalErrMsgs {
		if strings.Contains(msg, str) {
			logger.Debug("normal error", "error", err)
			return
		}
	}

	logger.Error("unexpected error", "error", err)
}

// classifyCopyErr tags a peer-disconnect-shaped io.Copy error as
// ConnectionDropped (C7) so the raw-tunnel path reports through the
// same taxonomy as every other component instead of only matching on
// message text.
func classifyCopyErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, str := range normalErrMsgs {
		if strings.Contains(msg, str) {
			return proxyerr.New(proxyerr.ConnectionDropped, err)
		}
	}
	return err
}

// transfer copies bytes bidirectionally between server and client until
// either side closes or errors. Used by the host-filter passthrough path
// (spec.md §4.4, C8) where no TLS interception happens.
func transfer(logger *slog.Logger, server, client io.ReadWriteCloser) {
	done := make(chan struct{})
	defer close(done)

	errChan := make(chan error)
	go func() {
		_, err := io.Copy(server, client)
		logger.Debug("client copy end", "error", err)
		client.Close()
		select {
		case <-done:
		case errChan <- err:
		}
	}()
	go func() {
		_, err := io.Copy(client, server)
		logger.Debug("server copy end", "error", err)
		server.Close()
		select {
		case <-done:
		case errChan <- err:
		}
	}()

	for i := 0; i < 2; i++ {
		if err := classifyCopyErr(<-errChan); err != nil {
			logErr(logger, err)
			return
		}
	}
}

func httpError(w http.ResponseWriter, errMsg string, code int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintln(w, errMsg)
}
