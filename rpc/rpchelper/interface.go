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

package rpchelper

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/erigontech/devnode/core/types/accounts"
	"github.com/erigontech/devnode/rpc"
)

// ApiBackend - interface which must be used by API layer.
// Every transport shares one implementation, so implementations must be safe for
// concurrent use and must not copy state when passed around.
type ApiBackend interface {
	ChainID(ctx context.Context) (uint64, error)
	NetVersion(ctx context.Context) (uint64, error)
	ClientVersion(ctx context.Context) (string, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number rpc.BlockNumber) (*types.Header, error)
	// Account returns the state of addr and whether it exists.
	Account(ctx context.Context, addr common.Address) (accounts.BasicAccount, bool, error)
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	StorageAt(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error)
	// Proof reads the account, its storage values and the Merkle proofs of addr and of
	// each key from one view of state. Backends without a trie return empty proofs.
	Proof(ctx context.Context, addr common.Address, keys []common.Hash) (*StateProof, error)
	// Subscribe registers cb for every new head until ctx is done.
	Subscribe(ctx context.Context, cb func(*types.Header)) error
}

// StateProof is one consistent read of an account for eth_getProof. StorageValues and
// StorageProofs are indexed like the requested keys.
type StateProof struct {
	Account       accounts.BasicAccount
	Exists        bool
	AccountProof  []hexutil.Bytes
	StorageValues []common.Hash
	StorageProofs [][]hexutil.Bytes
}

// DevBackend is implemented by backends that let clients shape local chain state.
type DevBackend interface {
	Mine(ctx context.Context, blocks uint64) (uint64, error)
	SetBalance(ctx context.Context, addr common.Address, balance *uint256.Int) error
	SetNonce(ctx context.Context, addr common.Address, nonce uint64) error
	SetCode(ctx context.Context, addr common.Address, code []byte) error
	SetStorageAt(ctx context.Context, addr common.Address, key, value common.Hash) error
}
