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
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/c2h5oh/datasize"
)

const (
	contentType      = "application/json"
	defaultBodyLimit = int64(5 * datasize.MB)
)

// https://www.jsonrpc.org/historical/json-rpc-over-http.html#id13
var acceptedContentTypes = []string{contentType, "application/json-rpc", "application/jsonrequest"}

// httpServerConn turns a HTTP request body and response writer into a connection the
// codec can read from and write to.
type httpServerConn struct {
	io.Reader
	io.Writer
	r *http.Request
}

func newHTTPServerConn(r *http.Request, w http.ResponseWriter, limit int64) ServerCodec {
	body := io.LimitReader(r.Body, limit)
	conn := &httpServerConn{Reader: body, Writer: w, r: r}
	codec := NewCodec(conn).(*jsonCodec)
	codec.remote = r.RemoteAddr
	codec.info.Transport = "http"
	codec.info.RemoteAddr = r.RemoteAddr
	codec.info.HTTP.UserAgent = r.UserAgent()
	codec.info.HTTP.Origin = r.Header.Get("Origin")
	codec.info.HTTP.Host = r.Host
	return codec
}

// Close does nothing and always returns nil.
func (t *httpServerConn) Close() error { return nil }

// ServeHTTP serves JSON-RPC requests over HTTP.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Permit dumb empty requests for remote health-checks (AWS)
	if r.Method == http.MethodGet && r.ContentLength == 0 && r.URL.RawQuery == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if code, err := s.validateRequest(r); err != nil {
		http.Error(w, err.Error(), code)
		return
	}

	// All checks passed, create a codec that reads directly from the request body
	// until EOF, writes the response to w, and orders the server to process a
	// single request.
	codec := newHTTPServerConn(r, w, s.httpBodyLimit)
	defer codec.Close()

	w.Header().Set("content-type", contentType)
	s.serveSingleRequest(r.Context(), codec)
}

// validateRequest returns a non-zero response code and error message if the
// request is invalid.
func (s *Server) validateRequest(r *http.Request) (int, error) {
	if r.Method == http.MethodPut || r.Method == http.MethodDelete {
		return http.StatusMethodNotAllowed, fmt.Errorf("method not allowed")
	}
	if r.ContentLength > s.httpBodyLimit {
		err := fmt.Errorf("content length too large (%d>%d)", r.ContentLength, s.httpBodyLimit)
		return http.StatusRequestEntityTooLarge, err
	}
	// Allow OPTIONS (regardless of content-type)
	if r.Method == http.MethodOptions {
		return 0, nil
	}
	// Check content-type
	if mt, _, err := mime.ParseMediaType(r.Header.Get("content-type")); err == nil {
		for _, accepted := range acceptedContentTypes {
			if accepted == mt {
				return 0, nil
			}
		}
	}
	// Invalid content-type
	err := fmt.Errorf("invalid content type, only %s is supported", contentType)
	return http.StatusUnsupportedMediaType, err
}
