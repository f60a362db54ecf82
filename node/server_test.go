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

package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/devnode/devnet"
	"github.com/erigontech/devnode/rpc/rpccfg"
)

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func startServer(t *testing.T, cfg rpccfg.RpcConfig) (*HTTPServer, *devnet.Backend) {
	t.Helper()
	logger := log.New()
	backend := devnet.NewBackend(devnet.DefaultConfig(), logger)
	srv, err := Serve("127.0.0.1:0", backend, cfg, logger)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run() }()
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
		select {
		case err := <-runErr:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, backend
}

func postJSON(t *testing.T, client *http.Client, url, body string) []byte {
	t.Helper()
	resp, err := client.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func httpURL(srv *HTTPServer) string {
	return "http://" + srv.Addr().String()
}

func wsURL(srv *HTTPServer) string {
	return "ws://" + srv.Addr().String()
}

func TestServeEphemeralPort(t *testing.T) {
	srv, _ := startServer(t, rpccfg.Default())

	addr, ok := srv.Addr().(*net.TCPAddr)
	require.True(t, ok)
	require.NotZero(t, addr.Port)
	require.Equal(t, rpccfg.DefaultBatchLimit, srv.Config().RpcBatchLimit)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(postJSON(t, http.DefaultClient, httpURL(srv), `{"jsonrpc":"2.0","id":1,"method":"eth_chainId"}`), &resp))
	require.Nil(t, resp.Error)
	require.Equal(t, `"0x7a69"`, string(resp.Result))
}

func TestServeBindError(t *testing.T) {
	logger := log.New()
	backend := devnet.NewBackend(devnet.DefaultConfig(), logger)

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	for _, addr := range []string{taken.Addr().String(), "127.0.0.1:99999", "not-an-address"} {
		srv, err := Serve(addr, backend, rpccfg.Default(), logger)
		require.Error(t, err, addr)
		require.Nil(t, srv)
		var bindErr *BindError
		require.True(t, errors.As(err, &bindErr), addr)
		require.Equal(t, addr, bindErr.Addr)
		require.NotNil(t, errors.Unwrap(err))
	}
}

func TestCloseBeforeRun(t *testing.T) {
	logger := log.New()
	backend := devnet.NewBackend(devnet.DefaultConfig(), logger)
	srv, err := Serve("127.0.0.1:0", backend, rpccfg.Default(), logger)
	require.NoError(t, err)
	addr := srv.Addr().String()

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Run())

	// the port is released
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	ln.Close()
}

func TestServeReusesConnection(t *testing.T) {
	srv, _ := startServer(t, rpccfg.Default())
	client := &http.Client{Transport: &http.Transport{}}
	defer client.CloseIdleConnections()

	var reused []bool
	for i := 0; i < 3; i++ {
		trace := &httptrace.ClientTrace{
			GotConn: func(info httptrace.GotConnInfo) { reused = append(reused, info.Reused) },
		}
		req, err := http.NewRequest(http.MethodPost, httpURL(srv), bytes.NewBufferString(`{"jsonrpc":"2.0","id":`+strconv.Itoa(i+10)+`,"method":"eth_blockNumber"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

		resp, err := client.Do(req)
		require.NoError(t, err)
		var body rpcResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		require.Nil(t, body.Error)
		require.Equal(t, strconv.Itoa(i+10), string(body.ID))
		require.Equal(t, `"0x0"`, string(body.Result))
	}
	require.Equal(t, []bool{false, true, true}, reused)
}

func TestServeBatchCorrelation(t *testing.T) {
	srv, _ := startServer(t, rpccfg.Default())

	body := postJSON(t, http.DefaultClient, httpURL(srv), `[
		{"jsonrpc":"2.0","id":3,"method":"eth_blockNumber"},
		{"jsonrpc":"2.0","id":"net","method":"net_version"},
		{"jsonrpc":"2.0","id":1,"method":"no_such_method"},
		{"jsonrpc":"2.0","method":"eth_chainId"}
	]`)
	var responses []rpcResponse
	require.NoError(t, json.Unmarshal(body, &responses))
	require.Len(t, responses, 3)

	byID := make(map[string]rpcResponse)
	for _, resp := range responses {
		byID[string(resp.ID)] = resp
	}
	require.Equal(t, `"0x0"`, string(byID["3"].Result))
	require.Equal(t, `"31337"`, string(byID[`"net"`].Result))
	require.NotNil(t, byID["1"].Error)
	require.Equal(t, -32601, byID["1"].Error.Code)
}

func TestServeBatchLimit(t *testing.T) {
	cfg := rpccfg.Default()
	cfg.RpcBatchLimit = 1
	srv, _ := startServer(t, cfg)

	body := postJSON(t, http.DefaultClient, httpURL(srv), `[{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"},{"jsonrpc":"2.0","id":2,"method":"eth_blockNumber"}]`)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Error)
	require.Contains(t, resp.Error.Message, "batch limit 1 exceeded")
}

func TestServeSharedBackend(t *testing.T) {
	srv, backend := startServer(t, rpccfg.Default())
	const addr = "0x00000000000000000000000000000000000000aa"

	var set rpcResponse
	require.NoError(t, json.Unmarshal(postJSON(t, http.DefaultClient, httpURL(srv),
		`{"jsonrpc":"2.0","id":1,"method":"anvil_setBalance","params":["`+addr+`","0x2a"]}`), &set))
	require.Nil(t, set.Error)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":7,"method":"eth_getBalance","params":["`+addr+`","latest"]}`)))
	var got rpcResponse
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	require.Nil(t, got.Error)
	assert.Equal(t, "7", string(got.ID))
	assert.Equal(t, `"0x2a"`, string(got.Result))

	acc, ok, err := backend.Account(t.Context(), common.HexToAddress(addr))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), acc.Balance.Uint64())
}

func TestShutdownAnswersInFlightRequest(t *testing.T) {
	srv, _ := startServer(t, rpccfg.Default())
	body := []byte(`{"jsonrpc":"2.0","id":3,"method":"web3_clientVersion"}`)

	pr, pw := io.Pipe()
	req, err := http.NewRequest(http.MethodPost, httpURL(srv), pr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(body))

	type result struct {
		resp *http.Response
		err  error
	}
	respCh := make(chan result, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		respCh <- result{resp, err}
	}()
	_, err = pw.Write(body[:10])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- srv.Shutdown(ctx) }()

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-shutdownErr:
		t.Fatalf("shutdown returned before the request finished: %v", err)
	default:
	}

	_, err = pw.Write(body[10:])
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	res := <-respCh
	require.NoError(t, res.err)
	defer res.resp.Body.Close()
	require.Equal(t, http.StatusOK, res.resp.StatusCode)
	var got rpcResponse
	require.NoError(t, json.NewDecoder(res.resp.Body).Decode(&got))
	require.Nil(t, got.Error)
	assert.Equal(t, "3", string(got.ID))
	assert.Equal(t, `"devnode/v0.1.0"`, string(got.Result))

	require.NoError(t, <-shutdownErr)
}
