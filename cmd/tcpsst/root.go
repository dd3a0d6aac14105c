package main

import (
	"os"

	"github.com/tcpsst/tcpsst/pkg/logger"

	"github.com/spf13/cobra"
)

var log = logger.Tagged("cli")

var rootCmd = &cobra.Command{
	Use:   "tcpsst",
	Short: "TCPSST multiplexed stream transport demo",
	Long:  `A demo CLI for the TCP multiplexed stream transport (TCPSST): listen, dial, and push bytes over logical streams.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Debugf(logger.Error, "%v", err)
		os.Exit(1)
	}
}
