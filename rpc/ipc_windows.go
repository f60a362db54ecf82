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

//go:build windows

package rpc

import (
	"net"

	"github.com/Microsoft/go-winio"
)

const (
	pipeInputBufferSize  = 256 * 1024
	pipeOutputBufferSize = 256 * 1024
)

// ListenIPC creates a named pipe listener at endpoint, e.g. \\.\pipe\devnode.ipc.
func ListenIPC(endpoint string) (net.Listener, error) {
	return winio.ListenPipe(endpoint, &winio.PipeConfig{
		InputBufferSize:  pipeInputBufferSize,
		OutputBufferSize: pipeOutputBufferSize,
	})
}
