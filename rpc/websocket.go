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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"github.com/ledgerwatch/log/v3"
)

const (
	wsReadBuffer  = 1024
	wsWriteBuffer = 1024
)

var wsBufferPool = new(sync.Pool)

// WebsocketHandler returns a handler that serves JSON-RPC to WebSocket connections.
//
// allowedOrigins lists the origin URLs browsers may connect from.
// To allow connections with any origin, pass "*".
func (s *Server) WebsocketHandler(allowedOrigins []string, compression bool) http.Handler {
	upgrader := websocket.Upgrader{
		EnableCompression: compression,
		ReadBufferSize:    wsReadBuffer,
		WriteBufferSize:   wsWriteBuffer,
		WriteBufferPool:   wsBufferPool,
		CheckOrigin:       wsHandshakeValidator(allowedOrigins, s.logger),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug("WebSocket upgrade failed", "err", err)
			return
		}
		codec := newWebsocketCodec(conn, r)
		s.ServeCodec(codec)
	})
}

// wsHandshakeValidator returns a handler that verifies the origin during the
// websocket upgrade process. When a '*' is specified as an allowed origins all
// connections are accepted.
func wsHandshakeValidator(allowedOrigins []string, logger log.Logger) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	allowAllOrigins := len(allowedOrigins) == 0

	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAllOrigins = true
		}
		if origin != "" {
			origins.Add(strings.ToLower(origin))
		}
	}

	return func(req *http.Request) bool {
		// Skip origin verification if no Origin header is present. The origin check
		// is supposed to protect against browser based attacks. Browsers always set
		// Origin. Non-browser software can put anything in origin and checking it doesn't
		// provide additional security.
		origin := req.Header.Get("Origin")
		if origin == "" || allowAllOrigins {
			return true
		}
		if origins.Contains(strings.ToLower(origin)) {
			return true
		}
		logger.Warn("Rejected WebSocket connection", "origin", origin)
		return false
	}
}

func newWebsocketCodec(conn *websocket.Conn, req *http.Request) ServerCodec {
	encode := func(v interface{}) error {
		w, err := conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return err
		}
		if err := jsonAPI.NewEncoder(w).Encode(v); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}
	decode := func(v interface{}) error {
		_, r, err := conn.NextReader()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return io.EOF
			}
			return err
		}
		dec := json.NewDecoder(r)
		dec.UseNumber()
		return dec.Decode(v)
	}
	codec := NewFuncCodec(conn, encode, decode).(*jsonCodec)
	codec.info.Transport = "ws"
	codec.info.HTTP.UserAgent = req.UserAgent()
	codec.info.HTTP.Origin = req.Header.Get("Origin")
	codec.info.HTTP.Host = req.Host
	return codec
}
