// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Command atm-client is a reference CLI over the client SDK: one subcommand
// per ClientSDK operation (status, fetch, send, live), each opening its own
// short-lived connection to a mediator rather than keeping one running
// across invocations.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "atm-client",
	Short: "DIDComm v2 mediator client",
}

var (
	mediatorURL    string
	wsURL          string
	identityPath   string
	resolverAddr   string
	requestTimeout time.Duration
)

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&mediatorURL, "mediator-url", "", "mediator REST base URL (e.g. https://mediator.example/atm/v1)")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws-url", "", "mediator websocket URL (e.g. wss://mediator.example/atm/v1/ws)")
	rootCmd.PersistentFlags().StringVar(&identityPath, "identity", "identity.json", "path to this client's identity file")
	rootCmd.PersistentFlags().StringVar(&resolverAddr, "resolver-address", "", "Universal Resolver base URL for resolving peer and mediator DIDs")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "wait", 10*time.Second, "how long to wait for a mediator reply")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(liveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
