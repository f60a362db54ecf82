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

package rpccfg

import (
	"github.com/c2h5oh/datasize"

	"github.com/erigontech/devnode/rpc"
)

const (
	DefaultBatchConcurrency = 2
	DefaultBatchLimit       = 100
	DefaultHTTPBodyLimit    = 5 * datasize.MB
)

// DefaultAPI lists the namespaces served when none are configured.
var DefaultAPI = []string{"eth", "net", "web3", "evm", "anvil"}

// RpcConfig carries the settings the transports hand to the rpc servers. The transport
// layer forwards them untouched.
type RpcConfig struct {
	API                  []string
	HttpCORSDomain       []string
	HttpVirtualHost      []string
	HttpCompression      bool
	WebsocketEnabled     bool
	WebsocketOrigins     []string
	WebsocketCompression bool
	RpcBatchConcurrency  uint
	RpcBatchLimit        int               // Maximum number of requests in a batch, 0 means unlimited
	RpcMaxSubscriptions  int               // Maximum number of live subscriptions per connection, 0 means unlimited
	HTTPBodyLimit        datasize.ByteSize // Maximum size of an HTTP request body
	AllowList            rpc.AllowList     // Methods allowed on this node, empty means all
	MetricsEnabled       bool              // Serve prometheus metrics next to the rpc endpoint
}

// Default returns a config serving every namespace over HTTP and WebSocket.
func Default() RpcConfig {
	return RpcConfig{
		API:                 DefaultAPI,
		HttpCORSDomain:      []string{"*"},
		HttpVirtualHost:     []string{"*"},
		WebsocketEnabled:    true,
		WebsocketOrigins:    []string{"*"},
		RpcBatchConcurrency: DefaultBatchConcurrency,
		RpcBatchLimit:       DefaultBatchLimit,
		HTTPBodyLimit:       DefaultHTTPBodyLimit,
	}
}
