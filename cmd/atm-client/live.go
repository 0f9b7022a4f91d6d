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

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var liveDisable bool

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Toggle live (push) delivery for this DID's open connection",
	RunE:  runLive,
}

func init() {
	liveCmd.Flags().BoolVar(&liveDisable, "disable", false, "disable live delivery instead of enabling it")
}

func runLive(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	enabled, err := c.SetLiveDelivery(ctx, !liveDisable, requestTimeout)
	if err != nil {
		return fmt.Errorf("set live delivery: %w", err)
	}
	fmt.Printf("live_delivery=%v\n", enabled)
	return nil
}
