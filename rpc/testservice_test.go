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
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"
)

func newTestServer(logger log.Logger) *Server {
	server := NewServer(50, logger)
	if err := server.RegisterName("test", new(testService)); err != nil {
		panic(err)
	}
	if err := server.RegisterName("nftest", new(notificationTestService)); err != nil {
		panic(err)
	}
	return server
}

type testService struct{}

type echoArgs struct {
	S string
}

type echoResult struct {
	String string
	Int    int
	Args   *echoArgs
}

type testError struct{}

func (testError) Error() string          { return "testError" }
func (testError) ErrorCode() int         { return 444 }
func (testError) ErrorData() interface{} { return "testError data" }

func (s *testService) NoArgsRets() {}

func (s *testService) Echo(str string, i int, args *echoArgs) echoResult {
	return echoResult{str, i, args}
}

func (s *testService) EchoWithCtx(ctx context.Context, str string, i int, args *echoArgs) echoResult {
	return echoResult{str, i, args}
}

func (s *testService) PeerInfo(ctx context.Context) PeerInfo {
	return PeerInfoFromContext(ctx)
}

func (s *testService) Sleep(ctx context.Context, duration time.Duration) {
	time.Sleep(duration)
}

func (s *testService) Block(ctx context.Context) error {
	<-ctx.Done()
	return errors.New("context canceled in testservice_block")
}

func (s *testService) Rets() (string, error) {
	return "", nil
}

func (s *testService) InvalidRets1() (error, string) {
	return nil, ""
}

func (s *testService) ReturnError() error {
	return testError{}
}

func (s *testService) Panic() string {
	panic("service panic")
}

type notificationTestService struct {
	unsubscribed chan string
}

func (s *notificationTestService) Echo(i int) int {
	return i
}

func (s *notificationTestService) SomeSubscription(ctx context.Context, n, val int) (*Subscription, error) {
	notifier, supported := NotifierFromContext(ctx)
	if !supported {
		return nil, ErrNotificationsUnsupported
	}

	// By explicitly creating an subscription we make sure that the subscription id is send
	// back to the client before the first subscription.Notify is called. Otherwise the
	// events might be send before the response for the *_subscribe method.
	subscription := notifier.CreateSubscription()
	go func() {
		for i := 0; i < n; i++ {
			if err := notifier.Notify(subscription.ID, val+i); err != nil {
				return
			}
		}
		<-subscription.Err()
		if s.unsubscribed != nil {
			s.unsubscribed <- string(subscription.ID)
		}
	}()
	return subscription, nil
}

// testConn is the client end of an in-memory connection served by ServeCodec.
type testConn struct {
	t    *testing.T
	conn net.Conn
	dec  *json.Decoder
}

func dialTestConn(t *testing.T, srv *Server) *testConn {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	go srv.ServeCodec(NewCodec(serverSide))
	t.Cleanup(func() { clientSide.Close() })
	return &testConn{t: t, conn: clientSide, dec: json.NewDecoder(clientSide)}
}

func (c *testConn) send(raw string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(raw))
	require.NoError(c.t, err)
}

func (c *testConn) readRaw() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return nil, err
	}
	err := c.dec.Decode(&raw)
	return raw, err
}

func (c *testConn) read() *jsonrpcMessage {
	c.t.Helper()
	raw, err := c.readRaw()
	require.NoError(c.t, err)
	msg := new(jsonrpcMessage)
	require.NoError(c.t, jsonAPI.Unmarshal(raw, msg))
	return msg
}

func (c *testConn) readBatch() []*jsonrpcMessage {
	c.t.Helper()
	raw, err := c.readRaw()
	require.NoError(c.t, err)
	var msgs []*jsonrpcMessage
	require.NoError(c.t, jsonAPI.Unmarshal(raw, &msgs))
	return msgs
}

func (c *testConn) call(id int, method string, params ...interface{}) *jsonrpcMessage {
	c.t.Helper()
	encParams, err := jsonAPI.Marshal(params)
	require.NoError(c.t, err)
	req, err := jsonAPI.Marshal(&jsonrpcMessage{Version: vsn, ID: json.RawMessage(jsonInt(id)), Method: method, Params: encParams})
	require.NoError(c.t, err)
	c.send(string(req))
	return c.read()
}

func jsonInt(i int) string {
	b, _ := jsonAPI.Marshal(i)
	return string(b)
}
