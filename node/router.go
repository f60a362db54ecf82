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
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/ledgerwatch/log/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erigontech/devnode/rpc"
	"github.com/erigontech/devnode/rpc/jsonrpc"
	"github.com/erigontech/devnode/rpc/rpccfg"
	"github.com/erigontech/devnode/rpc/rpchelper"
)

const metricsPath = "/debug/metrics/prometheus"

// Router serves the HTTP and WebSocket transports on one address. Both transports run
// their own rpc server over the same backend, so state written through one of them is
// visible through the other.
type Router struct {
	mux     chi.Router
	httpSrv *rpc.Server
	wsSrv   *rpc.Server
	filters *rpchelper.Filters
	cancel  context.CancelFunc
	logger  log.Logger
}

// NewRouter builds the HTTP and WebSocket rpc servers for backend and composes them. A GET
// request asking for a websocket upgrade is handed to the WebSocket server, everything
// else to the HTTP server.
func NewRouter(backend rpchelper.ApiBackend, cfg rpccfg.RpcConfig, logger log.Logger) (*Router, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ff := rpchelper.New(ctx, backend, logger)
	apiList := jsonrpc.APIList(backend, ff, logger)

	httpSrv, err := newRPCServer(apiList, cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not register HTTP RPC apis: %w", err)
	}
	wsSrv, err := newRPCServer(apiList, cfg, logger)
	if err != nil {
		cancel()
		httpSrv.Stop()
		return nil, fmt.Errorf("could not register WS RPC apis: %w", err)
	}

	httpHandler := NewHTTPHandlerStack(httpSrv, cfg.HttpCORSDomain, cfg.HttpVirtualHost, cfg.HttpCompression)
	var wsHandler http.Handler
	if cfg.WebsocketEnabled {
		wsHandler = wsSrv.WebsocketHandler(cfg.WebsocketOrigins, cfg.WebsocketCompression)
	}

	rpcHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wsHandler != nil && r.Method == http.MethodGet && websocket.IsWebSocketUpgrade(r) {
			wsHandler.ServeHTTP(w, r)
			return
		}
		httpHandler.ServeHTTP(w, r)
	})
	health := healthHandler(backend, logger)

	mux := chi.NewRouter()
	// /health stays reachable for rpc calls: only a plain GET is answered by the health check.
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && !websocket.IsWebSocketUpgrade(r) {
			health.ServeHTTP(w, r)
			return
		}
		rpcHandler.ServeHTTP(w, r)
	})
	if cfg.MetricsEnabled {
		rpc.PreAllocateRPCMetricLabels(apiList)
		mux.Handle(metricsPath, promhttp.Handler())
	}
	mux.Handle("/*", rpcHandler)

	return &Router{
		mux:     mux,
		httpSrv: httpSrv,
		wsSrv:   wsSrv,
		filters: ff,
		cancel:  cancel,
		logger:  logger,
	}, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

// Close stops both rpc servers. Open websocket connections are closed and their
// subscriptions torn down.
func (rt *Router) Close() {
	rt.httpSrv.Stop()
	rt.wsSrv.Stop()
	rt.cancel()
}
