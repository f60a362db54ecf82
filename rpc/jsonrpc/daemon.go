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

package jsonrpc

import (
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/devnode/rpc"
	"github.com/erigontech/devnode/rpc/rpchelper"
)

// APIList describes the list of available RPC apis. Every service shares backend; the
// evm and anvil namespaces are only offered when backend also implements DevBackend.
func APIList(backend rpchelper.ApiBackend, ff *rpchelper.Filters, logger log.Logger) (list []rpc.API) {
	ethImpl := NewEthAPI(backend, ff, logger)
	netImpl := NewNetAPIImpl(backend)
	web3Impl := NewWeb3APIImpl(backend)

	list = append(list,
		rpc.API{
			Namespace: "eth",
			Public:    true,
			Service:   EthAPI(ethImpl),
			Version:   "1.0",
		},
		rpc.API{
			Namespace: "net",
			Public:    true,
			Service:   NetAPI(netImpl),
			Version:   "1.0",
		},
		rpc.API{
			Namespace: "web3",
			Public:    true,
			Service:   Web3API(web3Impl),
			Version:   "1.0",
		},
	)

	if dev, ok := backend.(rpchelper.DevBackend); ok {
		list = append(list,
			rpc.API{
				Namespace: "evm",
				Public:    true,
				Service:   EvmAPI(NewEvmAPIImpl(dev)),
				Version:   "1.0",
			},
			rpc.API{
				Namespace: "anvil",
				Public:    true,
				Service:   AnvilAPI(NewAnvilAPIImpl(dev)),
				Version:   "1.0",
			},
		)
	}

	return list
}
