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

package accounts

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Result structs for GetProof
type AccProofResult struct {
	Address      common.Address    `json:"address"`
	AccountProof []hexutil.Bytes   `json:"accountProof"`
	Balance      *hexutil.Big      `json:"balance"`
	CodeHash     common.Hash       `json:"codeHash"`
	Nonce        *hexutil.Big      `json:"nonce"`
	StorageHash  common.Hash       `json:"storageHash"`
	StorageProof []StorProofResult `json:"storageProof"`
}
type StorProofResult struct {
	Key   string          `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// NewAccProofResult copies the account fields into a proof envelope. Proof node
// lists are never nil so they always serialize as JSON arrays.
func NewAccProofResult(address common.Address, acc BasicAccount, accountProof []hexutil.Bytes, storage []StorProofResult) *AccProofResult {
	if accountProof == nil {
		accountProof = []hexutil.Bytes{}
	}
	if storage == nil {
		storage = []StorProofResult{}
	}
	return &AccProofResult{
		Address:      address,
		AccountProof: accountProof,
		Balance:      (*hexutil.Big)(acc.Balance.ToBig()),
		CodeHash:     acc.CodeHash,
		Nonce:        (*hexutil.Big)(acc.Nonce.ToBig()),
		StorageHash:  acc.StorageRoot,
		StorageProof: storage,
	}
}
