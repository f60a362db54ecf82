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
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	ApiBackend
	cb  func(*types.Header)
	err error
}

func (f *fakeBackend) Subscribe(_ context.Context, cb func(*types.Header)) error {
	if f.err != nil {
		return f.err
	}
	f.cb = cb
	return nil
}

func header(n int64) *types.Header {
	return &types.Header{Number: big.NewInt(n)}
}

func TestFiltersNewHeads(t *testing.T) {
	backend := &fakeBackend{}
	ff := New(context.Background(), backend, log.New())
	require.NotNil(t, backend.cb)

	ch1, id1 := ff.SubscribeNewHeads(4)
	ch2, id2 := ff.SubscribeNewHeads(4)
	require.NotEqual(t, id1, id2)
	assert.Equal(t, 2, ff.HeadsSubCount())

	backend.cb(header(1))
	assert.Equal(t, int64(1), (<-ch1).Number.Int64())
	assert.Equal(t, int64(1), (<-ch2).Number.Int64())

	require.True(t, ff.UnsubscribeHeads(id1))
	require.False(t, ff.UnsubscribeHeads(id1))
	_, open := <-ch1
	assert.False(t, open)

	backend.cb(header(2))
	assert.Equal(t, int64(2), (<-ch2).Number.Int64())
	assert.Equal(t, 1, ff.HeadsSubCount())
}

func TestFiltersSlowSubscriberDoesNotBlock(t *testing.T) {
	backend := &fakeBackend{}
	ff := New(context.Background(), backend, log.New())

	ch, _ := ff.SubscribeNewHeads(1)
	backend.cb(header(1))
	backend.cb(header(2))

	assert.Equal(t, int64(1), (<-ch).Number.Int64())
	select {
	case h := <-ch:
		t.Fatalf("unexpected header %d", h.Number)
	default:
	}
}

func TestFiltersSubscribeError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("boom")}
	ff := New(context.Background(), backend, log.New())
	require.NotNil(t, ff)
	assert.Nil(t, backend.cb)
}
