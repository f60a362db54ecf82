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

package rpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	seen := make(map[ID]struct{})
	for i := 0; i < 100; i++ {
		id := NewID()
		require.Len(t, string(id), 2+32)
		require.Equal(t, "0x", string(id[:2]))
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestSubscriptionNotifications(t *testing.T) {
	server := newTestServer(log.New())
	defer server.Stop()
	conn := dialTestConn(t, server)

	const n = 5
	resp := conn.call(1, "nftest_subscribe", "someSubscription", n, 10)
	require.Nil(t, resp.Error)
	var subID string
	require.NoError(t, json.Unmarshal(resp.Result, &subID))

	for i := 0; i < n; i++ {
		msg := conn.read()
		require.Equal(t, "nftest_subscription", msg.Method)
		var result subscriptionResult
		require.NoError(t, json.Unmarshal(msg.Params, &result))
		assert.Equal(t, subID, result.ID)
		assert.Equal(t, jsonInt(10+i), string(result.Result))
	}
}

func TestSubscriptionUnsubscribe(t *testing.T) {
	service := &notificationTestService{unsubscribed: make(chan string, 1)}
	server := NewServer(1, log.New())
	require.NoError(t, server.RegisterName("nftest", service))
	defer server.Stop()
	conn := dialTestConn(t, server)

	resp := conn.call(1, "nftest_subscribe", "someSubscription", 0, 0)
	require.Nil(t, resp.Error)
	var subID string
	require.NoError(t, json.Unmarshal(resp.Result, &subID))

	resp = conn.call(2, "nftest_unsubscribe", subID)
	require.Nil(t, resp.Error)
	assert.Equal(t, "true", string(resp.Result))

	select {
	case id := <-service.unsubscribed:
		assert.Equal(t, subID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not closed on unsubscribe")
	}

	// A second unsubscribe for the same id fails.
	resp = conn.call(3, "nftest_unsubscribe", subID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrSubscriptionNotFound.Error(), resp.Error.Message)
}

func TestSubscriptionTeardownOnDisconnect(t *testing.T) {
	service := &notificationTestService{unsubscribed: make(chan string, 3)}
	server := NewServer(1, log.New())
	require.NoError(t, server.RegisterName("nftest", service))
	defer server.Stop()
	conn := dialTestConn(t, server)

	ids := make(map[string]struct{})
	for i := 0; i < 3; i++ {
		resp := conn.call(i, "nftest_subscribe", "someSubscription", 0, 0)
		require.Nil(t, resp.Error)
		var subID string
		require.NoError(t, json.Unmarshal(resp.Result, &subID))
		ids[subID] = struct{}{}
	}
	require.Len(t, ids, 3)

	require.NoError(t, conn.conn.Close())
	for i := 0; i < 3; i++ {
		select {
		case id := <-service.unsubscribed:
			assert.Contains(t, ids, id)
			delete(ids, id)
		case <-time.After(5 * time.Second):
			t.Fatal("subscriptions were not torn down when the connection closed")
		}
	}
}

func TestSubscriptionsAreConnectionScoped(t *testing.T) {
	server := newTestServer(log.New())
	defer server.Stop()
	conn1 := dialTestConn(t, server)
	conn2 := dialTestConn(t, server)

	resp := conn1.call(1, "nftest_subscribe", "someSubscription", 0, 0)
	require.Nil(t, resp.Error)
	var subID string
	require.NoError(t, json.Unmarshal(resp.Result, &subID))

	resp = conn2.call(1, "nftest_unsubscribe", subID)
	require.NotNil(t, resp.Error)

	resp = conn1.call(2, "nftest_unsubscribe", subID)
	require.Nil(t, resp.Error)
}

func TestSubscriptionLimit(t *testing.T) {
	server := newTestServer(log.New())
	server.SetMaxSubscriptions(1)
	defer server.Stop()
	conn := dialTestConn(t, server)

	resp := conn.call(1, "nftest_subscribe", "someSubscription", 0, 0)
	require.Nil(t, resp.Error)
	var subID string
	require.NoError(t, json.Unmarshal(resp.Result, &subID))

	resp = conn.call(2, "nftest_subscribe", "someSubscription", 0, 0)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrTooManySubscriptions.ErrorCode(), resp.Error.Code)

	resp = conn.call(3, "nftest_unsubscribe", subID)
	require.Nil(t, resp.Error)

	resp = conn.call(4, "nftest_subscribe", "someSubscription", 0, 0)
	require.Nil(t, resp.Error)
}

func TestSubscriptionErrors(t *testing.T) {
	server := newTestServer(log.New())
	defer server.Stop()
	conn := dialTestConn(t, server)

	resp := conn.call(1, "nftest_subscribe", "unknown")
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)

	resp = conn.call(2, "nftest_subscribe")
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)

	resp = conn.call(3, "nftest_subscribe", "someSubscription", "notanumber", 0)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}
