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
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/devnode/rpc"
	"github.com/erigontech/devnode/rpc/jsonrpc"
	"github.com/erigontech/devnode/rpc/rpccfg"
	"github.com/erigontech/devnode/rpc/rpchelper"
)

type connState int32

const (
	connAccepted connState = iota
	connRunning
	connClosed
)

func (s connState) String() string {
	switch s {
	case connAccepted:
		return "accepted"
	case connRunning:
		return "running"
	case connClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ipcConn tracks one accepted connection. Its state only moves forward.
type ipcConn struct {
	conn  net.Conn
	state atomic.Int32
}

func (c *ipcConn) advance(to connState) bool {
	for {
		cur := c.state.Load()
		if connState(cur) >= to {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// IPCServer serves the rpc apis on a local socket, one goroutine per connection.
type IPCServer struct {
	endpoint string
	listener net.Listener
	srv      *rpc.Server
	cancel   context.CancelFunc
	logger   log.Logger

	mu      sync.Mutex
	conns   map[*ipcConn]struct{}
	connsWG sync.WaitGroup

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// TrySpawnIPC creates the IPC endpoint at path and starts accepting connections in the
// background. A stale socket left at path is replaced; the parent directory must exist.
func TrySpawnIPC(backend rpchelper.ApiBackend, path string, cfg rpccfg.RpcConfig, logger log.Logger) (*IPCServer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ff := rpchelper.New(ctx, backend, logger)
	srv, err := newRPCServer(jsonrpc.APIList(backend, ff, logger), cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not register IPC RPC apis: %w", err)
	}
	listener, err := rpc.ListenIPC(path)
	if err != nil {
		cancel()
		srv.Stop()
		return nil, fmt.Errorf("could not create IPC endpoint %s: %w", path, err)
	}

	s := &IPCServer{
		endpoint: path,
		listener: listener,
		srv:      srv,
		cancel:   cancel,
		logger:   logger,
		conns:    make(map[*ipcConn]struct{}),
		done:     make(chan struct{}),
	}
	go s.acceptLoop()
	logger.Info("IPC endpoint opened", "url", path)
	return s, nil
}

// SpawnIPC is TrySpawnIPC for callers that cannot continue without the endpoint: the
// process exits with status 1 when it cannot be created.
func SpawnIPC(backend rpchelper.ApiBackend, path string, cfg rpccfg.RpcConfig, logger log.Logger) *IPCServer {
	s, err := TrySpawnIPC(backend, path, cfg, logger)
	if err != nil {
		logger.Crit("Failed to start IPC endpoint", "path", path, "err", err)
		os.Exit(1)
	}
	return s
}

func (s *IPCServer) acceptLoop() {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.closing.Load() && !errors.Is(err, net.ErrClosed) {
				s.err = err
				s.logger.Warn("IPC accept failed", "url", s.endpoint, "err", err)
			}
			return
		}
		c := &ipcConn{conn: conn}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.connsWG.Add(1)
		s.logger.Trace("Accepted IPC connection", "conn", conn.RemoteAddr())
		go s.serveConn(c)
	}
}

func (s *IPCServer) serveConn(c *ipcConn) {
	defer s.connsWG.Done()
	if c.advance(connRunning) {
		s.srv.ServeCodec(rpc.NewIPCCodec(c.conn))
	}
	c.advance(connClosed)
	_ = c.conn.Close()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.logger.Trace("IPC connection closed", "conn", c.conn.RemoteAddr(), "state", connState(c.state.Load()))
}

// Endpoint returns the socket path the server listens on.
func (s *IPCServer) Endpoint() string {
	return s.endpoint
}

// ActiveConnections returns the number of connections that have not finished.
func (s *IPCServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for c := range s.conns {
		if connState(c.state.Load()) != connClosed {
			n++
		}
	}
	return n
}

// Done is closed when the accept loop has ended.
func (s *IPCServer) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the accept loop ends and returns the error that ended it, nil if
// the server was closed.
func (s *IPCServer) Wait() error {
	<-s.done
	return s.err
}

// Close stops accepting, closes all connections and removes the socket file.
func (s *IPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.listener.Close()
		<-s.done
		s.srv.Stop()
		s.mu.Lock()
		for c := range s.conns {
			_ = c.conn.Close()
		}
		s.mu.Unlock()
		s.connsWG.Wait()
		s.cancel()
		if runtime.GOOS != "windows" {
			if rmErr := os.Remove(s.endpoint); rmErr != nil && !os.IsNotExist(rmErr) {
				s.logger.Debug("Failed to remove IPC socket", "path", s.endpoint, "err", rmErr)
			}
		}
		s.logger.Info("IPC endpoint closed", "url", s.endpoint)
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
