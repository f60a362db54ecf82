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

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/erigontech/devnode/cmd/devnode/cli/httpcfg"
	"github.com/erigontech/devnode/devnet"
	"github.com/erigontech/devnode/node"
	"github.com/erigontech/devnode/rpc"
	"github.com/erigontech/devnode/rpc/rpccfg"
	"github.com/erigontech/devnode/rpc/rpchelper"
)

const shutdownTimeout = 5 * time.Second

func RootCommand() (*cobra.Command, *httpcfg.HttpCfg) {
	rootCmd := &cobra.Command{
		Use:           "devnode",
		Short:         "devnode is a local development chain serving JSON RPC over HTTP, WebSocket and IPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cfg := &httpcfg.HttpCfg{}
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.ConfigFile, "config", "", "TOML file with flag values, flags given on the command line take precedence")
	flags.StringVar(&cfg.Verbosity, "verbosity", "info", "Logging verbosity: crit, error, warn, info, debug, trace (or 0-5)")
	flags.Uint64Var(&cfg.ChainID, "chain.id", devnet.DefaultChainID, "Chain id reported by eth_chainId and net_version")
	flags.StringVar(&cfg.HttpListenAddress, "http.addr", node.DefaultHTTPHost, "HTTP-RPC server listening interface")
	flags.IntVar(&cfg.HttpPort, "http.port", node.DefaultHTTPPort, "HTTP-RPC server listening port")
	flags.StringSliceVar(&cfg.HttpCORSDomain, "http.corsdomain", []string{"*"}, "Comma separated list of domains from which to accept cross origin requests (browser enforced)")
	flags.StringSliceVar(&cfg.HttpVirtualHost, "http.vhosts", []string{"*"}, "Comma separated list of virtual hostnames from which to accept requests (server enforced). Accepts '*' wildcard.")
	flags.BoolVar(&cfg.HttpCompression, "http.compression", false, "Enable http compression")
	flags.StringSliceVar(&cfg.API, "http.api", rpccfg.DefaultAPI, "API's offered over the RPC interfaces: eth,net,web3,evm,anvil")
	flags.BoolVar(&cfg.WebsocketEnabled, "ws", true, "Enable Websockets on the HTTP port")
	flags.StringSliceVar(&cfg.WebsocketOrigins, "ws.origins", []string{"*"}, "Origins from which to accept websocket requests")
	flags.BoolVar(&cfg.WebsocketCompression, "ws.compression", false, "Enable Websocket compression (RFC 7692)")
	flags.StringVar(&cfg.RpcAllowListFilePath, "rpc.accessList", "", "Specify granular (method-by-method) API allowlist")
	flags.UintVar(&cfg.RpcBatchConcurrency, "rpc.batch.concurrency", rpccfg.DefaultBatchConcurrency, "Does limit amount of goroutines to process 1 batch request. Means 1 bach request can't overload server. 1 batch still can have unlimited amount of request")
	flags.IntVar(&cfg.RpcBatchLimit, "rpc.batch.limit", rpccfg.DefaultBatchLimit, "Maximum number of requests in a batch, 0 means unlimited")
	flags.IntVar(&cfg.RpcMaxSubscriptions, "rpc.subscriptions.limit", 0, "Maximum number of live subscriptions per connection, 0 means unlimited")
	flags.StringVar(&cfg.HTTPBodyLimit, "rpc.http.body.limit", rpccfg.DefaultHTTPBodyLimit.String(), "Maximum size of an HTTP request body")
	flags.StringVar(&cfg.IPCPath, "ipc.path", node.DefaultIPCPath(), "Filename for IPC socket/pipe")
	flags.BoolVar(&cfg.IPCDisabled, "ipc.disable", false, "Disable the IPC-RPC server")
	flags.BoolVar(&cfg.MetricsEnabled, "metrics", false, "Serve prometheus metrics at /debug/metrics/prometheus")

	if err := rootCmd.MarkFlagFilename("rpc.accessList", "json"); err != nil {
		panic(err)
	}
	if err := rootCmd.MarkFlagFilename("config", "toml"); err != nil {
		panic(err)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cfg.ConfigFile != "" {
			if err := setFlagsFromConfigFile(cmd.Flags(), cfg.ConfigFile); err != nil {
				return fmt.Errorf("failed setting config flags from toml file: %w", err)
			}
		}
		lvl, err := tryGetLogLevel(cfg.Verbosity)
		if err != nil {
			return fmt.Errorf("invalid verbosity %q: %w", cfg.Verbosity, err)
		}
		log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StderrHandler))
		return nil
	}

	return rootCmd, cfg
}

// setFlagsFromConfigFile sets every flag found in the file that was not given on the
// command line. Nested tables are flattened with dots, so [http] port = 1 and
// "http.port" = 1 are the same key.
func setFlagsFromConfigFile(flags *pflag.FlagSet, filePath string) error {
	if filepath.Ext(filePath) != ".toml" {
		return errors.New("config files only accepted are .toml")
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	fileConfig := make(map[string]interface{})
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	values := make(map[string]string)
	flattenConfig("", fileConfig, values)
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		flag := flags.Lookup(key)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", key)
		}
		if flag.Changed {
			continue
		}
		if err := flags.Set(key, values[key]); err != nil {
			return fmt.Errorf("failed setting %s flag with value=%s error=%w", key, values[key], err)
		}
	}
	return nil
}

func flattenConfig(prefix string, in map[string]interface{}, out map[string]string) {
	for key, value := range in {
		if prefix != "" {
			key = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]interface{}:
			flattenConfig(key, v, out)
		case []interface{}:
			s := make([]string, len(v))
			for i, item := range v {
				s[i] = fmt.Sprintf("%v", item)
			}
			out[key] = strings.Join(s, ",")
		default:
			out[key] = fmt.Sprintf("%v", v)
		}
	}
}

func tryGetLogLevel(s string) (log.Lvl, error) {
	lvl, err := log.LvlFromString(s)
	if err != nil {
		l, err := strconv.Atoi(s)
		if err != nil {
			return 0, err
		}
		return log.Lvl(l), nil
	}
	return lvl, nil
}

// RpcConfigFromFlags builds the transport settings from the daemon flags.
func RpcConfigFromFlags(cfg httpcfg.HttpCfg) (rpccfg.RpcConfig, error) {
	rpcCfg := rpccfg.RpcConfig{
		API:                  cfg.API,
		HttpCORSDomain:       cfg.HttpCORSDomain,
		HttpVirtualHost:      cfg.HttpVirtualHost,
		HttpCompression:      cfg.HttpCompression,
		WebsocketEnabled:     cfg.WebsocketEnabled,
		WebsocketOrigins:     cfg.WebsocketOrigins,
		WebsocketCompression: cfg.WebsocketCompression,
		RpcBatchConcurrency:  cfg.RpcBatchConcurrency,
		RpcBatchLimit:        cfg.RpcBatchLimit,
		RpcMaxSubscriptions:  cfg.RpcMaxSubscriptions,
		HTTPBodyLimit:        rpccfg.DefaultHTTPBodyLimit,
		MetricsEnabled:       cfg.MetricsEnabled,
	}
	if cfg.HTTPBodyLimit != "" {
		var limit datasize.ByteSize
		if err := limit.UnmarshalText([]byte(cfg.HTTPBodyLimit)); err != nil {
			return rpccfg.RpcConfig{}, fmt.Errorf("invalid rpc.http.body.limit %q: %w", cfg.HTTPBodyLimit, err)
		}
		rpcCfg.HTTPBodyLimit = limit
	}
	allowList, err := parseAllowListForRPC(cfg.RpcAllowListFilePath)
	if err != nil {
		return rpccfg.RpcConfig{}, err
	}
	rpcCfg.AllowList = allowList
	return rpcCfg, nil
}

func parseAllowListForRPC(path string) (rpc.AllowList, error) {
	path = strings.TrimSpace(path)
	if path == "" { // no file is provided
		return nil, nil
	}
	allowList, err := rpc.ReadAllowList(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rpc.accessList %s: %w", path, err)
	}
	return allowList, nil
}

// StartRpcServer binds the HTTP/WebSocket endpoint and, unless disabled, the IPC
// endpoint over backend, then serves until ctx is cancelled or one of them fails.
func StartRpcServer(ctx context.Context, cfg httpcfg.HttpCfg, backend rpchelper.ApiBackend, logger log.Logger) error {
	rpcCfg, err := RpcConfigFromFlags(cfg)
	if err != nil {
		return err
	}

	httpEndpoint := net.JoinHostPort(cfg.HttpListenAddress, strconv.Itoa(cfg.HttpPort))
	srv, err := node.Serve(httpEndpoint, backend, rpcCfg, logger)
	if err != nil {
		return err
	}

	var ipcSrv *node.IPCServer
	if !cfg.IPCDisabled {
		ipcSrv = node.SpawnIPC(backend, cfg.IPCPath, rpcCfg, logger)
	}

	info := []interface{}{"url", srv.Addr().String(), "ws", rpcCfg.WebsocketEnabled,
		"ws.compression", rpcCfg.WebsocketCompression, "api", rpcCfg.API,
		"batch.limit", rpcCfg.RpcBatchLimit, "metrics", rpcCfg.MetricsEnabled}
	if ipcSrv != nil {
		info = append(info, "ipc", ipcSrv.Endpoint())
	}
	logger.Info("HTTP endpoint opened", info...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	if ipcSrv != nil {
		g.Go(ipcSrv.Wait)
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		logger.Info("HTTP endpoint closed", "url", srv.Addr().String())
		if ipcSrv != nil {
			_ = ipcSrv.Close()
		}
		return err
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info("Exiting...")
	return nil
}

// RootContext returns a context cancelled on SIGINT or SIGTERM.
func RootContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()

		ch := make(chan os.Signal, 1)
		defer close(ch)

		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)

		select {
		case sig := <-ch:
			log.Info("Got interrupt, shutting down...", "sig", sig)
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
