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

	"github.com/spf13/cobra"
)

var (
	sendTo   string
	sendType string
	sendBody string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a one-shot message to a DID via this mediator",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient DID (required)")
	sendCmd.Flags().StringVar(&sendType, "type", "", "DIDComm message type (required)")
	sendCmd.Flags().StringVar(&sendBody, "body", "{}", "message body as a JSON object")
	_ = sendCmd.MarkFlagRequired("to")
	_ = sendCmd.MarkFlagRequired("type")
}

func runSend(cmd *cobra.Command, args []string) error {
	var body any
	if err := json.Unmarshal([]byte(sendBody), &body); err != nil {
		return fmt.Errorf("parse --body: %w", err)
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := c.Send(ctx, sendTo, sendType, body); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Println("sent")
	return nil
}
