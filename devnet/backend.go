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

package devnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/devnode/core/types/accounts"
	"github.com/erigontech/devnode/rpc"
	"github.com/erigontech/devnode/rpc/rpchelper"
)

const (
	DefaultChainID  = 31337
	DefaultGasLimit = 30_000_000
	ClientName      = "devnode"
)

var (
	_ rpchelper.ApiBackend = (*Backend)(nil)
	_ rpchelper.DevBackend = (*Backend)(nil)
)

// ErrBlockNotFound is returned for block numbers past the head.
var ErrBlockNotFound = errors.New("block not found")

// Config describes the chain the backend simulates.
type Config struct {
	ChainID  uint64
	GasLimit uint64
	Version  string
}

// DefaultConfig returns the config of a fresh local chain.
func DefaultConfig() Config {
	return Config{ChainID: DefaultChainID, GasLimit: DefaultGasLimit, Version: "0.1.0"}
}

type account struct {
	nonce   uint64
	balance uint256.Int
	code    []byte
	storage map[common.Hash]common.Hash
}

// Backend is the in-memory chain shared by every transport. All methods are safe for
// concurrent use; handlers hold a *Backend and never copy it.
type Backend struct {
	cfg    Config
	logger log.Logger

	mineMu   sync.Mutex // orders mined headers for subscribers
	mu       sync.RWMutex
	accounts map[common.Address]*account
	headers  []*types.Header

	subMu  sync.Mutex
	subs   map[int]func(*types.Header)
	nextID int
}

// NewBackend creates a chain holding only its genesis block.
func NewBackend(cfg Config, logger log.Logger) *Backend {
	b := &Backend{
		cfg:      cfg,
		logger:   logger,
		accounts: make(map[common.Address]*account),
		subs:     make(map[int]func(*types.Header)),
	}
	genesis := &types.Header{
		ParentHash:  common.Hash{},
		UncleHash:   types.EmptyUncleHash,
		Root:        types.EmptyRootHash,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  new(big.Int),
		Number:      new(big.Int),
		GasLimit:    cfg.GasLimit,
		Time:        uint64(time.Now().Unix()),
	}
	b.headers = append(b.headers, genesis)
	return b
}

func (b *Backend) ChainID(_ context.Context) (uint64, error) {
	return b.cfg.ChainID, nil
}

func (b *Backend) NetVersion(_ context.Context) (uint64, error) {
	return b.cfg.ChainID, nil
}

func (b *Backend) ClientVersion(_ context.Context) (string, error) {
	return fmt.Sprintf("%s/v%s", ClientName, b.cfg.Version), nil
}

func (b *Backend) BlockNumber(_ context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint64(len(b.headers) - 1), nil
}

// HeaderByNumber resolves tags against the head; the pending block is the head.
func (b *Backend) HeaderByNumber(_ context.Context, number rpc.BlockNumber) (*types.Header, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch number {
	case rpc.LatestBlockNumber, rpc.PendingBlockNumber:
		return types.CopyHeader(b.headers[len(b.headers)-1]), nil
	}
	if number < 0 || number.Uint64() >= uint64(len(b.headers)) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, number)
	}
	return types.CopyHeader(b.headers[number.Uint64()]), nil
}

func (b *Backend) Account(_ context.Context, addr common.Address) (accounts.BasicAccount, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acc, ok := b.accounts[addr]
	if !ok {
		return accounts.NewBasicAccount(), false, nil
	}
	return acc.basic(), true, nil
}

func (b *Backend) Code(_ context.Context, addr common.Address) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if acc, ok := b.accounts[addr]; ok {
		return common.CopyBytes(acc.code), nil
	}
	return nil, nil
}

func (b *Backend) StorageAt(_ context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if acc, ok := b.accounts[addr]; ok {
		return acc.storage[key], nil
	}
	return common.Hash{}, nil
}

// Proof reads the account and the requested slots under one read lock. Proofs are empty:
// the backend keeps flat state and builds no trie nodes to prove against.
func (b *Backend) Proof(_ context.Context, addr common.Address, keys []common.Hash) (*rpchelper.StateProof, error) {
	res := &rpchelper.StateProof{
		Account:       accounts.NewBasicAccount(),
		AccountProof:  []hexutil.Bytes{},
		StorageValues: make([]common.Hash, len(keys)),
		StorageProofs: make([][]hexutil.Bytes, len(keys)),
	}
	for i := range res.StorageProofs {
		res.StorageProofs[i] = []hexutil.Bytes{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	acc, ok := b.accounts[addr]
	if !ok {
		return res, nil
	}
	res.Account, res.Exists = acc.basic(), true
	for i, key := range keys {
		res.StorageValues[i] = acc.storage[key]
	}
	return res, nil
}

// Subscribe calls cb with every mined header until ctx is done. cb runs on the mining
// goroutine and must not block.
func (b *Backend) Subscribe(ctx context.Context, cb func(*types.Header)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = cb
	b.subMu.Unlock()

	go func() {
		<-ctx.Done()
		b.subMu.Lock()
		delete(b.subs, id)
		b.subMu.Unlock()
	}()
	return nil
}

// Mine seals the given number of empty blocks on top of the head and returns the new
// head number. Zero mines one block.
func (b *Backend) Mine(_ context.Context, blocks uint64) (uint64, error) {
	b.mineMu.Lock()
	defer b.mineMu.Unlock()

	if blocks == 0 {
		blocks = 1
	}
	mined := make([]*types.Header, 0, blocks)

	b.mu.Lock()
	root, err := b.stateRoot()
	if err != nil {
		b.mu.Unlock()
		return 0, err
	}
	for i := uint64(0); i < blocks; i++ {
		parent := b.headers[len(b.headers)-1]
		ts := uint64(time.Now().Unix())
		if ts <= parent.Time {
			ts = parent.Time + 1
		}
		h := &types.Header{
			ParentHash:  parent.Hash(),
			UncleHash:   types.EmptyUncleHash,
			Root:        root,
			TxHash:      types.EmptyTxsHash,
			ReceiptHash: types.EmptyReceiptsHash,
			Difficulty:  new(big.Int),
			Number:      new(big.Int).Add(parent.Number, big.NewInt(1)),
			GasLimit:    b.cfg.GasLimit,
			Time:        ts,
		}
		b.headers = append(b.headers, h)
		mined = append(mined, h)
	}
	head := uint64(len(b.headers) - 1)
	b.mu.Unlock()

	for _, h := range mined {
		b.logger.Debug("[devnet] mined block", "number", h.Number, "hash", h.Hash())
		b.publish(h)
	}
	return head, nil
}

func (b *Backend) publish(h *types.Header) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, cb := range b.subs {
		cb(types.CopyHeader(h))
	}
}

func (b *Backend) SetBalance(_ context.Context, addr common.Address, balance *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getOrCreate(addr).balance.Set(balance)
	return nil
}

func (b *Backend) SetNonce(_ context.Context, addr common.Address, nonce uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getOrCreate(addr).nonce = nonce
	return nil
}

func (b *Backend) SetCode(_ context.Context, addr common.Address, code []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getOrCreate(addr).code = common.CopyBytes(code)
	return nil
}

func (b *Backend) SetStorageAt(_ context.Context, addr common.Address, key, value common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc := b.getOrCreate(addr)
	if value == (common.Hash{}) {
		delete(acc.storage, key)
		return nil
	}
	acc.storage[key] = value
	return nil
}

// getOrCreate must be called with b.mu held for writing.
func (b *Backend) getOrCreate(addr common.Address) *account {
	acc, ok := b.accounts[addr]
	if !ok {
		acc = &account{storage: make(map[common.Hash]common.Hash)}
		b.accounts[addr] = acc
	}
	return acc
}

// stateRoot must be called with b.mu held.
func (b *Backend) stateRoot() (common.Hash, error) {
	leaves := make([]trieLeaf, 0, len(b.accounts))
	for addr, acc := range b.accounts {
		enc, err := acc.basic().EncodeForTrie()
		if err != nil {
			return common.Hash{}, err
		}
		leaves = append(leaves, trieLeaf{key: crypto.Keccak256(addr[:]), value: enc})
	}
	return rootOf(leaves), nil
}

func (acc *account) basic() accounts.BasicAccount {
	codeHash := accounts.EmptyCodeHash
	if len(acc.code) > 0 {
		codeHash = crypto.Keccak256Hash(acc.code)
	}
	return accounts.FromState(acc.nonce, &acc.balance, acc.storageRoot(), codeHash)
}

func (acc *account) storageRoot() common.Hash {
	leaves := make([]trieLeaf, 0, len(acc.storage))
	for key, value := range acc.storage {
		enc, _ := rlp.EncodeToBytes(common.TrimLeftZeroes(value[:]))
		leaves = append(leaves, trieLeaf{key: crypto.Keccak256(key[:]), value: enc})
	}
	return rootOf(leaves)
}

type trieLeaf struct {
	key, value []byte
}

// rootOf hashes leaves into a Merkle-Patricia root. The stack trie needs its keys in
// ascending order.
func rootOf(leaves []trieLeaf) common.Hash {
	if len(leaves) == 0 {
		return accounts.EmptyRootHash
	}
	sort.Slice(leaves, func(i, j int) bool { return bytes.Compare(leaves[i].key, leaves[j].key) < 0 })
	st := trie.NewStackTrie(nil)
	for _, l := range leaves {
		if err := st.Update(l.key, l.value); err != nil {
			panic(err)
		}
	}
	return st.Hash()
}
