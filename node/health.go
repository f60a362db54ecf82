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
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/devnode/rpc"
	"github.com/erigontech/devnode/rpc/rpchelper"
)

const healthPath = "/health"

var (
	errNoBackend = errors.New("no backend attached to the rpc server")
	errNoHead    = errors.New("no known head block")
)

type healthResponse struct {
	Healthy     bool   `json:"healthy"`
	BlockNumber uint64 `json:"blockNumber"`
	Error       string `json:"error,omitempty"`
}

func checkBlockNumber(r *http.Request, backend rpchelper.ApiBackend) (uint64, error) {
	if backend == nil {
		return 0, errNoBackend
	}
	header, err := backend.HeaderByNumber(r.Context(), rpc.LatestBlockNumber)
	if err != nil {
		return 0, err
	}
	if header == nil {
		return 0, errNoHead
	}
	return header.Number.Uint64(), nil
}

func healthHandler(backend rpchelper.ApiBackend, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp healthResponse
		status := http.StatusOK
		number, err := checkBlockNumber(r, backend)
		if err != nil {
			status = http.StatusInternalServerError
			resp.Error = err.Error()
		} else {
			resp.Healthy = true
			resp.BlockNumber = number
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := jsoniter.NewEncoder(w).Encode(resp); err != nil {
			logger.Debug("[rpc] failed to write health response", "err", err)
		}
	}
}
