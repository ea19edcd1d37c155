/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package proving-agent runs one identity document proving pipeline from the command line.
package main

import (
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/spf13/cobra"

	"github.com/idproof/proving-agent/cmd/proving-agent/startcmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use: "proving-agent",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	logger := log.New("proving-agent/cmd")

	proveCmd, err := startcmd.Cmd(startcmd.NewService)
	if err != nil {
		logger.Fatalf(err.Error())
	}

	rootCmd.AddCommand(proveCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatalf("Failed to run proving-agent: %s", err)
	}
}
