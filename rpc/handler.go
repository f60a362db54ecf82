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
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/ledgerwatch/log/v3"
	"golang.org/x/sync/errgroup"
)

// handler handles JSON-RPC messages. There is one handler per connection. Note that
// handler is not safe for concurrent use. Message handling never blocks indefinitely
// because RPCs are processed on background goroutines launched by handler.
//
// The entry points for incoming messages are:
//
//	h.handleMsg(message)
//	h.handleBatch(message)
type handler struct {
	reg              *serviceRegistry
	unsubscribeCb    *callback
	idgen            func() ID       // subscription ID generator
	rootCtx          context.Context // canceled by close()
	cancelRoot       func()          // cancel function for rootCtx
	conn             jsonWriter      // where responses will be sent
	logger           log.Logger
	allowSubscribe   bool
	allowList        AllowList // a list of explicitly allowed methods, if empty -- everything is allowed
	maxSubscriptions int
	batchLimit       int
	batchConcurrency uint
	inline           bool // run calls on the reading goroutine (single request mode)

	callWG sync.WaitGroup // pending call goroutines

	subLock      sync.Mutex
	serverSubs   map[ID]*Subscription
	reservedSubs int
	subsClosed   bool
}

type callProc struct {
	ctx context.Context

	mu        sync.Mutex
	notifiers []*Notifier
}

func (cp *callProc) addNotifier(n *Notifier) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.notifiers = append(cp.notifiers, n)
}

func newHandler(connCtx context.Context, conn jsonWriter, idgen func() ID, reg *serviceRegistry, allowList AllowList, batchConcurrency uint, logger log.Logger) *handler {
	rootCtx, cancelRoot := context.WithCancel(connCtx)
	if batchConcurrency == 0 {
		batchConcurrency = 1
	}
	h := &handler{
		reg:              reg,
		idgen:            idgen,
		conn:             conn,
		rootCtx:          rootCtx,
		cancelRoot:       cancelRoot,
		allowSubscribe:   true,
		allowList:        allowList,
		serverSubs:       make(map[ID]*Subscription),
		batchConcurrency: batchConcurrency,
		logger:           logger,
	}
	h.unsubscribeCb = newCallback(reflect.Value{}, reflect.ValueOf(h.unsubscribe))
	return h
}

// handleBatch executes all messages in a batch and returns the responses.
func (h *handler) handleBatch(msgs []*jsonrpcMessage) {
	// Emit error response for empty batches:
	if len(msgs) == 0 {
		h.startCallProc(func(cp *callProc) {
			_ = h.conn.WriteJSON(cp.ctx, errorMessage(&invalidRequestError{"empty batch"}))
		})
		return
	}
	if h.batchLimit > 0 && len(msgs) > h.batchLimit {
		h.startCallProc(func(cp *callProc) {
			err := &invalidRequestError{fmt.Sprintf("batch limit %d exceeded (can increase by --rpc.batch.limit). Requested batch of size: %d", h.batchLimit, len(msgs))}
			_ = h.conn.WriteJSON(cp.ctx, errorMessage(err))
		})
		return
	}

	// Process calls on a goroutine because they may block indefinitely:
	h.startCallProc(func(cp *callProc) {
		answers := make([]*jsonrpcMessage, len(msgs))
		var g errgroup.Group
		g.SetLimit(int(h.batchConcurrency))
		for i, msg := range msgs {
			g.Go(func() error {
				answers[i] = h.handleCallMsg(cp, msg)
				return nil
			})
		}
		_ = g.Wait()

		out := make([]*jsonrpcMessage, 0, len(answers))
		for _, answer := range answers {
			if answer != nil {
				out = append(out, answer)
			}
		}
		if len(out) > 0 {
			if err := h.conn.WriteJSON(cp.ctx, out); err != nil {
				h.logger.Trace("[rpc] failed to write batch response", "conn", h.conn.remoteAddr(), "err", err)
			}
		}
		h.activateNotifiers(cp)
	})
}

// handleMsg handles a single message.
func (h *handler) handleMsg(msg *jsonrpcMessage) {
	h.startCallProc(func(cp *callProc) {
		answer := h.handleCallMsg(cp, msg)
		if answer != nil {
			if err := h.conn.WriteJSON(cp.ctx, answer); err != nil {
				h.logger.Trace("[rpc] failed to write response", "conn", h.conn.remoteAddr(), "err", err)
			}
		}
		h.activateNotifiers(cp)
	})
}

func (h *handler) activateNotifiers(cp *callProc) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for _, n := range cp.notifiers {
		if err := n.activate(); err != nil {
			h.logger.Debug("[rpc] failed to activate subscription", "conn", h.conn.remoteAddr(), "err", err)
		}
	}
	cp.notifiers = nil
}

// close cancels all requests, waits for call goroutines to shut down and then
// tears down the subscriptions of the connection.
func (h *handler) close() {
	h.cancelRoot()
	h.callWG.Wait()

	h.subLock.Lock()
	defer h.subLock.Unlock()
	h.subsClosed = true
	for id, sub := range h.serverSubs {
		close(sub.err)
		delete(h.serverSubs, id)
	}
}

// startCallProc runs fn in a new goroutine and starts tracking it in the h.callWG wait group.
func (h *handler) startCallProc(fn func(*callProc)) {
	ctx, cancel := context.WithCancel(h.rootCtx)
	if h.inline {
		defer cancel()
		fn(&callProc{ctx: ctx})
		return
	}
	h.callWG.Add(1)
	go func() {
		defer h.callWG.Done()
		defer cancel()
		fn(&callProc{ctx: ctx})
	}()
}

// handleCallMsg executes a call message and returns the answer.
func (h *handler) handleCallMsg(cp *callProc, msg *jsonrpcMessage) *jsonrpcMessage {
	start := time.Now()
	switch {
	case msg.isNotification():
		h.handleCall(cp, msg)
		h.logger.Trace("[rpc] served", "t", time.Since(start), "method", msg.Method, "reqid", idForLog(msg.ID), "params", string(msg.Params))
		return nil
	case msg.isCall():
		resp := h.handleCall(cp, msg)
		if resp.Error != nil {
			h.logger.Debug("[rpc] served", "method", msg.Method, "reqid", idForLog(msg.ID), "t", time.Since(start), "err", resp.Error.Message)
		} else {
			h.logger.Trace("[rpc] served", "method", msg.Method, "reqid", idForLog(msg.ID), "t", time.Since(start))
		}
		return resp
	case msg.hasValidID():
		return msg.errorResponse(&invalidRequestError{"invalid request"})
	default:
		return errorMessage(&invalidRequestError{"invalid request"})
	}
}

// handleCall processes method calls.
func (h *handler) handleCall(cp *callProc, msg *jsonrpcMessage) *jsonrpcMessage {
	if msg.isSubscribe() {
		return h.handleSubscribe(cp, msg)
	}
	var callb *callback
	if msg.isUnsubscribe() {
		callb = h.unsubscribeCb
	} else if h.allowList.Allows(msg.Method) {
		callb = h.reg.callback(msg.Method)
	}
	if callb == nil {
		return msg.errorResponse(&methodNotFoundError{method: msg.Method})
	}
	args, err := parsePositionalArguments(msg.Params, callb.argTypes)
	if err != nil {
		return msg.errorResponse(&invalidParamsError{err.Error()})
	}
	start := time.Now()
	answer := h.runMethod(cp.ctx, msg, callb, args)

	// Collect the statistics for RPC calls if metrics is enabled.
	// We only care about pure rpc call. Filter out subscription.
	if callb != h.unsubscribeCb {
		observeRPC(msg.Method, answer.Error == nil, time.Since(start))
	}
	return answer
}

// handleSubscribe processes *_subscribe method calls.
func (h *handler) handleSubscribe(cp *callProc, msg *jsonrpcMessage) *jsonrpcMessage {
	if !h.allowSubscribe {
		return msg.errorResponse(ErrNotificationsUnsupported)
	}
	if !h.allowList.Allows(msg.Method) {
		return msg.errorResponse(&methodNotFoundError{method: msg.Method})
	}

	// Subscription method name is first argument.
	name, err := parseSubscriptionName(msg.Params)
	if err != nil {
		return msg.errorResponse(&invalidParamsError{err.Error()})
	}
	namespace := msg.namespace()
	callb := h.reg.subscription(namespace, name)
	if callb == nil {
		return msg.errorResponse(&subscriptionNotFoundError{namespace, name})
	}

	// Parse subscription name arg too, but remove it before calling the callback.
	argTypes := append([]reflect.Type{stringType}, callb.argTypes...)
	args, err := parsePositionalArguments(msg.Params, argTypes)
	if err != nil {
		return msg.errorResponse(&invalidParamsError{err.Error()})
	}
	args = args[1:]

	if !h.reserveSubscription() {
		return msg.errorResponse(ErrTooManySubscriptions)
	}

	// Install notifier in context so the subscription handler can find it.
	n := &Notifier{h: h, namespace: namespace}
	cp.addNotifier(n)
	ctx := context.WithValue(cp.ctx, notifierKey{}, n)

	resp := h.runMethod(ctx, msg, callb, args)
	h.registerSubscription(n.takeSubscription(), resp.Error == nil)
	return resp
}

// reserveSubscription claims a slot for a subscription that is being created.
func (h *handler) reserveSubscription() bool {
	h.subLock.Lock()
	defer h.subLock.Unlock()
	if h.maxSubscriptions > 0 && len(h.serverSubs)+h.reservedSubs >= h.maxSubscriptions {
		return false
	}
	h.reservedSubs++
	return true
}

// registerSubscription releases the reserved slot and records sub when the subscribe
// call succeeded. A subscription that cannot be kept is closed straight away so its
// producer stops.
func (h *handler) registerSubscription(sub *Subscription, ok bool) {
	h.subLock.Lock()
	defer h.subLock.Unlock()
	h.reservedSubs--
	if sub == nil {
		return
	}
	if !ok || h.subsClosed {
		close(sub.err)
		return
	}
	h.serverSubs[sub.ID] = sub
}

// runMethod runs the Go callback for an RPC method.
func (h *handler) runMethod(ctx context.Context, msg *jsonrpcMessage, callb *callback, args []reflect.Value) *jsonrpcMessage {
	result, err := callb.call(ctx, msg.Method, args, h.logger)
	if err != nil {
		return msg.errorResponse(err)
	}
	return msg.response(result)
}

// unsubscribe is the callback function for all *_unsubscribe calls.
func (h *handler) unsubscribe(ctx context.Context, id ID) (bool, error) {
	h.subLock.Lock()
	defer h.subLock.Unlock()

	s := h.serverSubs[id]
	if s == nil {
		return false, ErrSubscriptionNotFound
	}
	close(s.err)
	delete(h.serverSubs, id)
	return true, nil
}

// activeSubscriptions reports how many subscriptions the connection currently holds.
func (h *handler) activeSubscriptions() int {
	h.subLock.Lock()
	defer h.subLock.Unlock()
	return len(h.serverSubs)
}

func idForLog(id []byte) string {
	if s, err := strconv.Unquote(string(id)); err == nil {
		return s
	}
	return string(id)
}
