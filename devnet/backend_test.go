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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/devnode/core/types/accounts"
	"github.com/erigontech/devnode/rpc"
)

var testAddr = common.HexToAddress("0x71562b71999873db5b286df957af199ec94617f7")

func TestBackendGenesis(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(DefaultConfig(), log.New())

	n, err := b.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	h, err := b.HeaderByNumber(ctx, rpc.LatestBlockNumber)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.Number.Uint64())
	assert.Equal(t, types.EmptyRootHash, h.Root)

	_, err = b.HeaderByNumber(ctx, rpc.BlockNumber(1))
	require.ErrorIs(t, err, ErrBlockNotFound)

	id, err := b.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultChainID), id)

	version, err := b.ClientVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "devnode/v0.1.0", version)
}

func TestBackendAbsentAccount(t *testing.T) {
	b := NewBackend(DefaultConfig(), log.New())

	acc, ok, err := b.Account(context.Background(), testAddr)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, accounts.NewBasicAccount(), acc)
}

func TestBackendSetters(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(DefaultConfig(), log.New())
	code := []byte{0x60, 0x00}
	slot := common.HexToHash("0x01")
	value := common.HexToHash("0x2a")

	require.NoError(t, b.SetBalance(ctx, testAddr, uint256.NewInt(1000)))
	require.NoError(t, b.SetNonce(ctx, testAddr, 7))
	require.NoError(t, b.SetCode(ctx, testAddr, code))
	require.NoError(t, b.SetStorageAt(ctx, testAddr, slot, value))

	acc, ok, err := b.Account(ctx, testAddr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), acc.Nonce.Uint64())
	assert.Equal(t, uint64(1000), acc.Balance.Uint64())
	assert.Equal(t, crypto.Keccak256Hash(code), acc.CodeHash)
	assert.NotEqual(t, accounts.EmptyRootHash, acc.StorageRoot)

	got, err := b.Code(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	stored, err := b.StorageAt(ctx, testAddr, slot)
	require.NoError(t, err)
	assert.Equal(t, value, stored)

	// Clearing the only slot restores the empty storage root.
	require.NoError(t, b.SetStorageAt(ctx, testAddr, slot, common.Hash{}))
	acc, _, err = b.Account(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, accounts.EmptyRootHash, acc.StorageRoot)
}

func TestBackendMine(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(DefaultConfig(), log.New())
	require.NoError(t, b.SetBalance(ctx, testAddr, uint256.NewInt(1)))

	head, err := b.Mine(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), head)

	for i := uint64(1); i <= 3; i++ {
		h, err := b.HeaderByNumber(ctx, rpc.BlockNumber(i))
		require.NoError(t, err)
		parent, err := b.HeaderByNumber(ctx, rpc.BlockNumber(i-1))
		require.NoError(t, err)
		assert.Equal(t, parent.Hash(), h.ParentHash)
		assert.Greater(t, h.Time, parent.Time)
		assert.NotEqual(t, types.EmptyRootHash, h.Root)
	}

	head, err = b.Mine(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), head)
}

func TestBackendSubscribe(t *testing.T) {
	b := NewBackend(DefaultConfig(), log.New())
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var got []uint64
	require.NoError(t, b.Subscribe(ctx, func(h *types.Header) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, h.Number.Uint64())
	}))

	_, err := b.Mine(context.Background(), 2)
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []uint64{1, 2}, got)
	mu.Unlock()

	cancel()
	require.Eventually(t, func() bool {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		return len(b.subs) == 0
	}, 5*time.Second, 10*time.Millisecond)

	_, err = b.Mine(context.Background(), 1)
	require.NoError(t, err)
	mu.Lock()
	assert.Len(t, got, 2)
	mu.Unlock()

	require.ErrorIs(t, b.Subscribe(ctx, func(*types.Header) {}), context.Canceled)
}

func TestBackendProof(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(DefaultConfig(), log.New())
	keys := []common.Hash{{1}, {2}}

	res, err := b.Proof(ctx, testAddr, keys)
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.Equal(t, accounts.NewBasicAccount(), res.Account)
	assert.Empty(t, res.AccountProof)
	assert.Equal(t, []common.Hash{{}, {}}, res.StorageValues)
	require.Len(t, res.StorageProofs, 2)
	for _, p := range res.StorageProofs {
		assert.NotNil(t, p)
		assert.Empty(t, p)
	}

	require.NoError(t, b.SetStorageAt(ctx, testAddr, keys[1], common.Hash{7}))
	res, err = b.Proof(ctx, testAddr, keys)
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, []common.Hash{{}, {7}}, res.StorageValues)
	acc, _, err := b.Account(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, acc, res.Account)
}

func TestBackendConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(DefaultConfig(), log.New())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := common.BigToAddress(common.Big1)
			for j := 0; j < 50; j++ {
				_ = b.SetNonce(ctx, addr, uint64(j))
				_, _, _ = b.Account(ctx, addr)
				if j%10 == 0 {
					_, _ = b.Mine(ctx, 1)
				}
			}
		}()
	}
	wg.Wait()

	n, err := b.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8*5), n)
}
