// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/devnode/rpc/rpccfg"
	"github.com/erigontech/devnode/rpc/rpchelper"
)

// BindError is returned by Serve when the listening socket cannot be created.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("could not bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// HTTPServer is a bound, not yet running, HTTP and WebSocket endpoint.
type HTTPServer struct {
	listener net.Listener
	srv      *http.Server
	router   *Router
	cfg      rpccfg.RpcConfig
	logger   log.Logger
}

// Serve binds addr and prepares the router for backend. The accept loop is only started
// by Run, so callers can read the bound address first. Passing port 0 binds an
// ephemeral port.
func Serve(addr string, backend rpchelper.ApiBackend, cfg rpccfg.RpcConfig, logger log.Logger) (*HTTPServer, error) {
	router, err := NewRouter(backend, cfg, logger)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		router.Close()
		return nil, &BindError{Addr: addr, Err: err}
	}
	return &HTTPServer{
		listener: listener,
		srv:      &http.Server{Handler: router},
		router:   router,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Addr returns the address the server is bound to.
func (s *HTTPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Config returns the rpc configuration the server was built with.
func (s *HTTPServer) Config() rpccfg.RpcConfig {
	return s.cfg
}

// Run serves connections until the listener fails or the server is closed. Closing the
// server is not reported as an error.
func (s *HTTPServer) Run() error {
	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight HTTP requests to finish.
// The rpc servers are stopped only after the drain, so requests on kept-alive
// connections are answered until then.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.router.Close()
	_ = s.listener.Close()
	return err
}

// Close closes the listener and every open connection.
func (s *HTTPServer) Close() error {
	s.router.Close()
	err := s.srv.Close()
	_ = s.listener.Close()
	return err
}
