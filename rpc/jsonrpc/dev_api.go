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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/erigontech/devnode/rpc"
	"github.com/erigontech/devnode/rpc/rpchelper"
)

// EvmAPI exposes mining controls in the evm_ namespace.
type EvmAPI interface {
	Mine(ctx context.Context, blocks *hexutil.Uint64) (hexutil.Uint64, error)
}

// AnvilAPI exposes state cheat codes in the anvil_ namespace.
type AnvilAPI interface {
	SetBalance(ctx context.Context, address common.Address, balance hexutil.Big) (bool, error)
	SetNonce(ctx context.Context, address common.Address, nonce hexutil.Uint64) (bool, error)
	SetCode(ctx context.Context, address common.Address, code hexutil.Bytes) (bool, error)
	SetStorageAt(ctx context.Context, address common.Address, slot, value common.Hash) (bool, error)
}

type EvmAPIImpl struct {
	dev rpchelper.DevBackend
}

func NewEvmAPIImpl(dev rpchelper.DevBackend) *EvmAPIImpl {
	return &EvmAPIImpl{dev: dev}
}

// Mine implements evm_mine. Mines one block, or the given number of blocks, and returns
// the new head number.
func (api *EvmAPIImpl) Mine(ctx context.Context, blocks *hexutil.Uint64) (hexutil.Uint64, error) {
	n := uint64(1)
	if blocks != nil && *blocks > 0 {
		n = uint64(*blocks)
	}
	head, err := api.dev.Mine(ctx, n)
	if err != nil {
		return 0, err
	}
	return hexutil.Uint64(head), nil
}

type AnvilAPIImpl struct {
	dev rpchelper.DevBackend
}

func NewAnvilAPIImpl(dev rpchelper.DevBackend) *AnvilAPIImpl {
	return &AnvilAPIImpl{dev: dev}
}

// SetBalance implements anvil_setBalance.
func (api *AnvilAPIImpl) SetBalance(ctx context.Context, address common.Address, balance hexutil.Big) (bool, error) {
	value, overflow := uint256.FromBig(balance.ToInt())
	if overflow || balance.ToInt().Sign() < 0 {
		return false, &rpc.CustomError{Code: -32602, Message: "balance out of range"}
	}
	if err := api.dev.SetBalance(ctx, address, value); err != nil {
		return false, err
	}
	return true, nil
}

// SetNonce implements anvil_setNonce.
func (api *AnvilAPIImpl) SetNonce(ctx context.Context, address common.Address, nonce hexutil.Uint64) (bool, error) {
	if err := api.dev.SetNonce(ctx, address, uint64(nonce)); err != nil {
		return false, err
	}
	return true, nil
}

// SetCode implements anvil_setCode.
func (api *AnvilAPIImpl) SetCode(ctx context.Context, address common.Address, code hexutil.Bytes) (bool, error) {
	if err := api.dev.SetCode(ctx, address, code); err != nil {
		return false, err
	}
	return true, nil
}

// SetStorageAt implements anvil_setStorageAt.
func (api *AnvilAPIImpl) SetStorageAt(ctx context.Context, address common.Address, slot, value common.Hash) (bool, error) {
	if err := api.dev.SetStorageAt(ctx, address, slot, value); err != nil {
		return false, err
	}
	return true, nil
}
