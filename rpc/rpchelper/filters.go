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
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/ledgerwatch/log/v3"
)

// HeadsSubID identifies a new-heads subscriber.
type HeadsSubID string

// Filters fans new heads published by the backend out to subscribers.
type Filters struct {
	mu sync.RWMutex

	headsSubs map[HeadsSubID]chan *types.Header
	logger    log.Logger
}

// New subscribes to backend events until ctx is done.
func New(ctx context.Context, backend ApiBackend, logger log.Logger) *Filters {
	logger.Info("rpc filters: subscribing to backend events")

	ff := &Filters{headsSubs: make(map[HeadsSubID]chan *types.Header), logger: logger}
	if err := backend.Subscribe(ctx, ff.OnNewHeader); err != nil {
		logger.Warn("rpc filters: error subscribing to events", "err", err)
	}
	return ff
}

// SubscribeNewHeads returns a channel of capacity size that receives every new head.
func (ff *Filters) SubscribeNewHeads(size int) (<-chan *types.Header, HeadsSubID) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	id := generateSubscriptionID()
	ch := make(chan *types.Header, size)
	ff.headsSubs[id] = ch
	return ch, id
}

// UnsubscribeHeads closes the channel of subscriber id. It reports false for unknown ids.
func (ff *Filters) UnsubscribeHeads(id HeadsSubID) bool {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ch, ok := ff.headsSubs[id]
	if !ok {
		return false
	}
	close(ch)
	delete(ff.headsSubs, id)
	return true
}

// HeadsSubCount reports the number of live new-heads subscribers.
func (ff *Filters) HeadsSubCount() int {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return len(ff.headsSubs)
}

// OnNewHeader delivers h to every subscriber. A subscriber whose buffer is full misses
// the header rather than stalling the backend.
func (ff *Filters) OnNewHeader(h *types.Header) {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	for id, ch := range ff.headsSubs {
		select {
		case ch <- h:
		default:
			ff.logger.Debug("rpc filters: subscriber too slow, dropping header", "id", id, "number", h.Number)
		}
	}
}

func generateSubscriptionID() HeadsSubID {
	return HeadsSubID(uuid.NewString())
}
