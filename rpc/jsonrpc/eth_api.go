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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/devnode/core/types/accounts"
	"github.com/erigontech/devnode/rpc"
	"github.com/erigontech/devnode/rpc/rpchelper"
)

// EthAPI is a collection of functions that are exposed in the eth namespace
type EthAPI interface {
	ChainId(ctx context.Context) (hexutil.Uint64, error)
	BlockNumber(ctx context.Context) (hexutil.Uint64, error)
	GetBalance(ctx context.Context, address common.Address, blockNr *rpc.BlockNumber) (*hexutil.Big, error)
	GetTransactionCount(ctx context.Context, address common.Address, blockNr *rpc.BlockNumber) (*hexutil.Uint64, error)
	GetCode(ctx context.Context, address common.Address, blockNr *rpc.BlockNumber) (hexutil.Bytes, error)
	GetStorageAt(ctx context.Context, address common.Address, index string, blockNr *rpc.BlockNumber) (string, error)
	GetProof(ctx context.Context, address common.Address, storageKeys []string, blockNr *rpc.BlockNumber) (*accounts.AccProofResult, error)
	GetBlockByNumber(ctx context.Context, number rpc.BlockNumber, fullTx bool) (map[string]interface{}, error)
	NewHeads(ctx context.Context) (*rpc.Subscription, error)
}

// APIImpl is implementation of the EthAPI interface based on the shared backend
type APIImpl struct {
	ethBackend rpchelper.ApiBackend
	filters    *rpchelper.Filters
	logger     log.Logger
}

// NewEthAPI returns APIImpl instance
func NewEthAPI(eth rpchelper.ApiBackend, filters *rpchelper.Filters, logger log.Logger) *APIImpl {
	return &APIImpl{
		ethBackend: eth,
		filters:    filters,
		logger:     logger,
	}
}

// ChainId implements eth_chainId. Returns the current ethereum chainId.
func (api *APIImpl) ChainId(ctx context.Context) (hexutil.Uint64, error) {
	id, err := api.ethBackend.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return hexutil.Uint64(id), nil
}

// BlockNumber implements eth_blockNumber. Returns the block number of most recent block.
func (api *APIImpl) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	n, err := api.ethBackend.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return hexutil.Uint64(n), nil
}

// GetBalance implements eth_getBalance. Returns the balance of an account for a given address.
func (api *APIImpl) GetBalance(ctx context.Context, address common.Address, blockNr *rpc.BlockNumber) (*hexutil.Big, error) {
	acc, err := api.accountAt(ctx, address, blockNr)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(acc.Balance.ToBig()), nil
}

// GetTransactionCount implements eth_getTransactionCount. Returns the number of transactions sent from an address (the nonce).
func (api *APIImpl) GetTransactionCount(ctx context.Context, address common.Address, blockNr *rpc.BlockNumber) (*hexutil.Uint64, error) {
	acc, err := api.accountAt(ctx, address, blockNr)
	if err != nil {
		return nil, err
	}
	nonce := hexutil.Uint64(acc.Nonce.Uint64())
	return &nonce, nil
}

// GetCode implements eth_getCode. Returns the byte code at a given address (if it's a smart contract).
func (api *APIImpl) GetCode(ctx context.Context, address common.Address, blockNr *rpc.BlockNumber) (hexutil.Bytes, error) {
	if err := api.checkHead(ctx, blockNr); err != nil {
		return nil, err
	}
	res, err := api.ethBackend.Code(ctx, address)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return hexutil.Bytes(""), nil
	}
	return res, nil
}

// GetStorageAt implements eth_getStorageAt. Returns a 32-byte long, zero-left-padded value at storage location 'index' of address 'address'.
func (api *APIImpl) GetStorageAt(ctx context.Context, address common.Address, index string, blockNr *rpc.BlockNumber) (string, error) {
	var empty common.Hash
	if err := api.checkHead(ctx, blockNr); err != nil {
		return hexutil.Encode(empty[:]), err
	}
	location, err := decodeStorageKey(index)
	if err != nil {
		return hexutil.Encode(empty[:]), err
	}
	res, err := api.ethBackend.StorageAt(ctx, address, location)
	if err != nil {
		return hexutil.Encode(empty[:]), err
	}
	return hexutil.Encode(res[:]), nil
}

// GetBlockByNumber implements eth_getBlockByNumber. Blocks carry no transactions, so
// fullTx has no effect.
func (api *APIImpl) GetBlockByNumber(ctx context.Context, number rpc.BlockNumber, fullTx bool) (map[string]interface{}, error) {
	header, err := api.ethBackend.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"number":           (*hexutil.Big)(header.Number),
		"hash":             header.Hash(),
		"parentHash":       header.ParentHash,
		"nonce":            header.Nonce,
		"mixHash":          header.MixDigest,
		"sha3Uncles":       header.UncleHash,
		"logsBloom":        header.Bloom,
		"stateRoot":        header.Root,
		"miner":            header.Coinbase,
		"difficulty":       (*hexutil.Big)(header.Difficulty),
		"extraData":        hexutil.Bytes(header.Extra),
		"size":             hexutil.Uint64(header.Size()),
		"gasLimit":         hexutil.Uint64(header.GasLimit),
		"gasUsed":          hexutil.Uint64(header.GasUsed),
		"timestamp":        hexutil.Uint64(header.Time),
		"transactionsRoot": header.TxHash,
		"receiptsRoot":     header.ReceiptHash,
		"transactions":     []interface{}{},
		"uncles":           []common.Hash{},
	}
	if header.BaseFee != nil {
		fields["baseFeePerGas"] = (*hexutil.Big)(header.BaseFee)
	}
	return fields, nil
}

// accountAt reads address from the head state, substituting the empty account when it
// does not exist.
func (api *APIImpl) accountAt(ctx context.Context, address common.Address, blockNr *rpc.BlockNumber) (accounts.BasicAccount, error) {
	if err := api.checkHead(ctx, blockNr); err != nil {
		return accounts.BasicAccount{}, err
	}
	acc, _, err := api.ethBackend.Account(ctx, address)
	if err != nil {
		return accounts.BasicAccount{}, err
	}
	return acc, nil
}

// checkHead accepts a missing block reference, the latest and pending tags, and the
// head block number.
func (api *APIImpl) checkHead(ctx context.Context, blockNr *rpc.BlockNumber) error {
	if blockNr == nil {
		return nil
	}
	switch *blockNr {
	case rpc.LatestBlockNumber, rpc.PendingBlockNumber:
		return nil
	}
	head, err := api.ethBackend.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if blockNr.Int64() >= 0 && blockNr.Uint64() == head {
		return nil
	}
	return fmt.Errorf(NotAvailableHistory, blockNr, head)
}

// decodeStorageKey parses a hex storage slot. Odd lengths and missing leading zeroes
// are accepted, anything longer than 32 bytes is not.
func decodeStorageKey(s string) (common.Hash, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	if len(s) > 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("storage key too long: want at most %d bytes", common.HashLength)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid storage key: %w", err)
	}
	return common.BytesToHash(b), nil
}
