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
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/erigontech/devnode/core/types/accounts"
	"github.com/erigontech/devnode/rpc"
)

// GetProof implements eth_getProof. An account that does not exist is reported with the
// empty account's nonce, balance, storage root and code hash.
func (api *APIImpl) GetProof(ctx context.Context, address common.Address, storageKeys []string, blockNr *rpc.BlockNumber) (*accounts.AccProofResult, error) {
	if err := api.checkHead(ctx, blockNr); err != nil {
		return nil, err
	}
	keys := make([]common.Hash, len(storageKeys))
	for i, k := range storageKeys {
		key, err := decodeStorageKey(k)
		if err != nil {
			return nil, fmt.Errorf("storage key %d: %w", i, err)
		}
		keys[i] = key
	}

	res, err := api.ethBackend.Proof(ctx, address, keys)
	if err != nil {
		return nil, err
	}
	if len(res.StorageValues) != len(keys) || len(res.StorageProofs) != len(keys) {
		return nil, fmt.Errorf("backend returned %d storage values and %d proofs for %d keys", len(res.StorageValues), len(res.StorageProofs), len(keys))
	}
	acc := res.Account
	if !res.Exists {
		acc = accounts.NewBasicAccount()
	}

	storage := make([]accounts.StorProofResult, len(keys))
	for i := range keys {
		proof := res.StorageProofs[i]
		if proof == nil {
			proof = []hexutil.Bytes{}
		}
		storage[i] = accounts.StorProofResult{
			Key:   storageKeys[i],
			Value: (*hexutil.Big)(res.StorageValues[i].Big()),
			Proof: proof,
		}
	}
	return accounts.NewAccProofResult(address, acc, res.AccountProof, storage), nil
}
