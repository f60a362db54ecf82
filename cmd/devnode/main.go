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

package main

import (
	"os"

	"github.com/ledgerwatch/log/v3"
	"github.com/spf13/cobra"

	"github.com/erigontech/devnode/cmd/devnode/cli"
	"github.com/erigontech/devnode/devnet"
)

func main() {
	cmd, cfg := cli.RootCommand()
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		logger := log.Root()
		chainCfg := devnet.DefaultConfig()
		chainCfg.ChainID = cfg.ChainID
		backend := devnet.NewBackend(chainCfg, logger)
		logger.Info("Development chain ready", "chainId", chainCfg.ChainID, "client", devnet.ClientName+"/v"+chainCfg.Version)

		return cli.StartRpcServer(cmd.Context(), *cfg, backend, logger)
	}

	ctx, cancel := cli.RootContext()
	defer cancel()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error(err.Error())
		cancel()
		os.Exit(1)
	}
}
