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
	"net"
	"net/http"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/devnode/rpc"
	"github.com/erigontech/devnode/rpc/rpccfg"
)

// newRPCServer creates an rpc server carrying the limits of cfg and registers the
// whitelisted namespaces of apis on it.
func newRPCServer(apis []rpc.API, cfg rpccfg.RpcConfig, logger log.Logger) (*rpc.Server, error) {
	srv := rpc.NewServer(cfg.RpcBatchConcurrency, logger)
	srv.SetAllowList(cfg.AllowList)
	srv.SetBatchLimit(cfg.RpcBatchLimit)
	srv.SetMaxSubscriptions(cfg.RpcMaxSubscriptions)
	srv.SetHTTPBodyLimit(int64(cfg.HTTPBodyLimit))
	if err := RegisterApisFromWhitelist(apis, cfg.API, srv, logger); err != nil {
		srv.Stop()
		return nil, err
	}
	return srv, nil
}

// RegisterApisFromWhitelist checks the given modules' availability, generates a whitelist
// based on the allowed modules, and then registers all of the APIs exposed by the services.
func RegisterApisFromWhitelist(apis []rpc.API, modules []string, srv *rpc.Server, logger log.Logger) error {
	if bad, available := checkModuleAvailability(modules, apis); len(bad) > 0 {
		logger.Error("Unavailable modules in HTTP API list", "unavailable", bad, "available", available)
	}
	// Generate the whitelist based on the allowed modules
	whitelist := mapset.NewThreadUnsafeSet[string](modules...)
	// Register all the APIs exposed by the services
	for _, api := range apis {
		if whitelist.Contains(api.Namespace) || (whitelist.Cardinality() == 0 && api.Public) {
			if err := srv.RegisterName(api.Namespace, api.Service); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkModuleAvailability checks that all names given in modules are actually
// available API services.
func checkModuleAvailability(modules []string, apis []rpc.API) (bad, available []string) {
	availableSet := mapset.NewThreadUnsafeSet[string]()
	for _, api := range apis {
		availableSet.Add(api.Namespace)
	}
	for _, name := range modules {
		if !availableSet.Contains(name) {
			bad = append(bad, name)
		}
	}
	available = availableSet.ToSlice()
	sort.Strings(available)
	return bad, available
}

// NewHTTPHandlerStack returns wrapped http-related handlers
func NewHTTPHandlerStack(srv http.Handler, corsDomains []string, vhosts []string, compression bool) http.Handler {
	// Wrap the CORS-handler within a host-handler
	handler := newCorsHandler(srv, corsDomains)
	handler = newVHostHandler(vhosts, handler)
	if compression {
		handler = middleware.Compress(5)(handler)
	}
	return handler
}

func newCorsHandler(srv http.Handler, allowedOrigins []string) http.Handler {
	// disable CORS support if user has not specified a custom CORS configuration
	if len(allowedOrigins) == 0 {
		return srv
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	})
	return c.Handler(srv)
}

// virtualHostHandler is a handler which validates the Host-header of incoming requests.
// Using virtual hosts can help prevent DNS rebinding attacks, where a 'random' domain name points to
// the service ip address (but without CORS headers). By verifying the targeted virtual host, we can
// ensure that it's a destination that the node operator has defined.
type virtualHostHandler struct {
	vhosts mapset.Set[string]
	next   http.Handler
}

func newVHostHandler(vhosts []string, next http.Handler) http.Handler {
	vhostSet := mapset.NewSet[string]()
	for _, allowedHost := range vhosts {
		vhostSet.Add(strings.ToLower(allowedHost))
	}
	return &virtualHostHandler{vhosts: vhostSet, next: next}
}

// ServeHTTP serves JSON-RPC requests over HTTP, implements http.Handler
func (h *virtualHostHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// if r.Host is not set, we can continue serving since a browser would set the Host header
	if r.Host == "" {
		h.next.ServeHTTP(w, r)
		return
	}
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		// Either invalid (too many colons) or no port specified
		host = r.Host
	}
	if ipAddr := net.ParseIP(host); ipAddr != nil {
		// It's an IP address, we can serve that
		h.next.ServeHTTP(w, r)
		return
	}
	// Not an IP address, but a hostname. Need to validate
	if h.vhosts.Contains("*") || h.vhosts.Contains(strings.ToLower(host)) {
		h.next.ServeHTTP(w, r)
		return
	}
	http.Error(w, "invalid host specified", http.StatusForbidden)
}
