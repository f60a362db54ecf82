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
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var (
	// EmptyCodeHash is the keccak256 hash of empty contract code.
	EmptyCodeHash = crypto.Keccak256Hash(nil)
	// EmptyRootHash is the root of an empty trie: keccak256(rlp("")).
	EmptyRootHash = crypto.Keccak256Hash(emptyStringRLP())
)

func emptyStringRLP() []byte {
	enc, err := rlp.EncodeToBytes([]byte{})
	if err != nil {
		panic(err)
	}
	return enc
}

// BasicAccount is the account shape used to populate eth_getProof responses.
// It is a plain value: two accounts are equal iff all their fields are equal.
type BasicAccount struct {
	Nonce       uint256.Int
	Balance     uint256.Int
	StorageRoot common.Hash // root of the storage trie
	CodeHash    common.Hash
}

// NewBasicAccount returns the protocol-defined empty account.
func NewBasicAccount() BasicAccount {
	return BasicAccount{
		StorageRoot: EmptyRootHash,
		CodeHash:    EmptyCodeHash,
	}
}

// FromState builds an account from values read out of backend state.
// A nil balance is treated as zero and an empty code hash or storage root falls
// back to the empty-account constants.
func FromState(nonce uint64, balance *uint256.Int, storageRoot, codeHash common.Hash) BasicAccount {
	acc := NewBasicAccount()
	acc.Nonce.SetUint64(nonce)
	if balance != nil {
		acc.Balance.Set(balance)
	}
	if storageRoot != (common.Hash{}) {
		acc.StorageRoot = storageRoot
	}
	if codeHash != (common.Hash{}) {
		acc.CodeHash = codeHash
	}
	return acc
}

// IsEmpty reports whether the account is indistinguishable from a non-existent one.
func (a BasicAccount) IsEmpty() bool {
	return a == NewBasicAccount()
}

type rlpAccount struct {
	Nonce    *uint256.Int
	Balance  *uint256.Int
	Root     common.Hash
	CodeHash common.Hash
}

// EncodeForTrie returns the consensus encoding of the account as stored in a trie leaf.
func (a BasicAccount) EncodeForTrie() ([]byte, error) {
	return rlp.EncodeToBytes(&rlpAccount{
		Nonce:    &a.Nonce,
		Balance:  &a.Balance,
		Root:     a.StorageRoot,
		CodeHash: a.CodeHash,
	})
}
