package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TunoMedia/TunoMedia/daemon/client"
)

var (
	echoURL     string
	echoMessage string
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Check that a distributor is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := client.Target(echoURL)
		if err != nil {
			return err
		}
		timeout := cfg.Client.DialTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		reply, err := client.Echo(ctx, target, echoMessage, client.DialOptions{Proxy: cfg.Client.Proxy, Timeout: cfg.Client.DialTimeout})
		if err != nil {
			return fmt.Errorf("echo %s: %w", target, err)
		}
		fmt.Println(reply)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(echoCmd)
	echoCmd.Flags().StringVarP(&echoURL, "url", "u", "", "Distributor url or host:port")
	echoCmd.Flags().StringVarP(&echoMessage, "message", "m", "ping", "Message to echo")
	echoCmd.MarkFlagRequired("url")
}
