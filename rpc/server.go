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

package rpc

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ledgerwatch/log/v3"
)

const MetadataApi = "rpc"

// Server is an RPC server.
type Server struct {
	services        serviceRegistry
	methodAllowList AllowList
	idgen           func() ID
	run             atomic.Bool
	codecs          mapset.Set[ServerCodec]
	logger          log.Logger

	batchConcurrency uint
	batchLimit       int   // Maximum number of requests in a batch
	maxSubscriptions int   // Maximum number of subscriptions per connection, 0 means unlimited
	httpBodyLimit    int64 // Maximum size of an HTTP request body
}

// NewServer creates a new server instance with no registered handlers.
func NewServer(batchConcurrency uint, logger log.Logger) *Server {
	server := &Server{
		idgen:            NewID,
		codecs:           mapset.NewSet[ServerCodec](),
		batchConcurrency: batchConcurrency,
		httpBodyLimit:    defaultBodyLimit,
		logger:           logger,
	}
	server.run.Store(true)
	// Register the default service providing meta information about the RPC service such
	// as the services and methods it offers.
	rpcService := &RPCService{server: server}
	_ = server.RegisterName(MetadataApi, rpcService)
	return server
}

// SetAllowList sets the allow list for methods that are handled by this server
func (s *Server) SetAllowList(allowList AllowList) {
	s.methodAllowList = allowList
}

// SetBatchLimit sets limit of number of requests in a batch
func (s *Server) SetBatchLimit(limit int) {
	s.batchLimit = limit
}

// SetMaxSubscriptions sets the number of live subscriptions a single connection may hold.
func (s *Server) SetMaxSubscriptions(limit int) {
	s.maxSubscriptions = limit
}

// SetHTTPBodyLimit sets the size limit for HTTP requests.
func (s *Server) SetHTTPBodyLimit(limit int64) {
	if limit > 0 {
		s.httpBodyLimit = limit
	}
}

// RegisterName creates a service for the given receiver type under the given name. When no
// methods on the given receiver match the criteria to be either a RPC method or a
// subscription an error is returned. Otherwise a new service is created and added to the
// service collection this server provides to clients.
func (s *Server) RegisterName(name string, receiver interface{}) error {
	return s.services.registerName(name, receiver)
}

func (s *Server) newHandler(ctx context.Context, codec ServerCodec) *handler {
	ctx = context.WithValue(ctx, peerInfoContextKey{}, codec.peerInfo())
	h := newHandler(ctx, codec, s.idgen, &s.services, s.methodAllowList, s.batchConcurrency, s.logger)
	h.batchLimit = s.batchLimit
	h.maxSubscriptions = s.maxSubscriptions
	return h
}

// ServeCodec reads incoming requests from codec, calls the appropriate callback and writes
// the response back using the given codec. It will block until the codec is closed or the
// server is stopped. In either case the codec is closed.
//
// A message that cannot be decoded ends the connection: a parse error is written if the
// peer is still reading, then the codec is closed.
func (s *Server) ServeCodec(codec ServerCodec) {
	defer codec.Close()

	// Don't serve if server is stopped.
	if !s.run.Load() {
		return
	}

	// Add the codec to the set so it can be closed by Stop.
	s.codecs.Add(codec)
	defer s.codecs.Remove(codec)

	transport := codec.peerInfo().Transport
	openConnections.WithLabelValues(transport).Inc()
	defer openConnections.WithLabelValues(transport).Dec()

	h := s.newHandler(context.Background(), codec)
	for {
		msgs, batch, err := codec.ReadBatch()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("[rpc] read error, closing connection", "transport", transport, "conn", codec.remoteAddr(), "err", err)
				_ = codec.WriteJSON(h.rootCtx, errorMessage(&invalidMessageError{"parse error"}))
			}
			break
		}
		if batch {
			h.handleBatch(msgs)
		} else {
			h.handleMsg(msgs[0])
		}
	}
	codec.Close()
	h.close()
}

// serveSingleRequest reads and processes a single RPC request from the given codec. This
// is used to serve HTTP connections. Subscriptions and reverse calls are not allowed in
// this mode.
func (s *Server) serveSingleRequest(ctx context.Context, codec ServerCodec) {
	// Don't serve if server is stopped.
	if !s.run.Load() {
		return
	}

	h := s.newHandler(ctx, codec)
	h.allowSubscribe = false
	h.inline = true
	defer h.close()

	reqs, batch, err := codec.ReadBatch()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			_ = codec.WriteJSON(ctx, errorMessage(&invalidMessageError{"parse error"}))
		}
		return
	}
	if batch {
		h.handleBatch(reqs)
	} else {
		h.handleMsg(reqs[0])
	}
}

// Stop stops reading new requests and closes all codecs which will cancel pending
// requests and subscriptions.
func (s *Server) Stop() {
	if s.run.CompareAndSwap(true, false) {
		s.logger.Info("RPC server shutting down")
		s.codecs.Each(func(c ServerCodec) bool {
			c.Close()
			return false
		})
	}
}

// RPCService gives meta information about the server.
// e.g. gives information about the loaded modules.
type RPCService struct {
	server *Server
}

// Modules returns the list of RPC services with their version number
func (s *RPCService) Modules() map[string]string {
	s.server.services.mu.Lock()
	defer s.server.services.mu.Unlock()

	modules := make(map[string]string)
	for name := range s.server.services.services {
		modules[name] = "1.0"
	}
	return modules
}
