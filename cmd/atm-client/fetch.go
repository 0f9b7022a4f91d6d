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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	fetchLimit int
	fetchAck   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Pull queued messages from this DID's mediator",
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchLimit, "limit", 10, "maximum number of messages to pull")
	fetchCmd.Flags().BoolVar(&fetchAck, "ack", true, "acknowledge (delete) fetched messages")
}

func runFetch(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	messages, err := c.DeliveryRequest(ctx, fetchLimit, requestTimeout)
	if err != nil {
		return fmt.Errorf("delivery request: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, msg := range messages {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}

	if fetchAck && len(messages) > 0 {
		ids := make([]string, len(messages))
		for i, msg := range messages {
			ids[i] = msg.ID
		}
		if _, err := c.MessagesReceived(ctx, ids, requestTimeout); err != nil {
			return fmt.Errorf("acknowledge messages: %w", err)
		}
	}
	return nil
}
