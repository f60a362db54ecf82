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

//go:build !windows

package rpc

import (
	"fmt"
	"net"
	"os"
	"syscall"
)

// maxPathSize is the max length of a unix socket path, including the terminating NUL.
var maxPathSize = len(syscall.RawSockaddrUnix{}.Path)

// ListenIPC creates a unix socket at endpoint. A stale socket left behind by an earlier
// process is removed; any other existing file is an error. The parent directory must
// already exist.
func ListenIPC(endpoint string) (net.Listener, error) {
	if len(endpoint) >= maxPathSize {
		return nil, fmt.Errorf("ipc path too long (%d >= %d): %s", len(endpoint), maxPathSize, endpoint)
	}
	if fi, err := os.Lstat(endpoint); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("ipc path %s exists and is not a socket", endpoint)
		}
		if err := os.Remove(endpoint); err != nil {
			return nil, fmt.Errorf("removing stale ipc socket: %w", err)
		}
	}
	l, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(endpoint, 0600); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}
