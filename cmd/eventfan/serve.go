package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Start the shop HTTP API and the outbound consumer. Stops on SIGINT or SIGTERM, draining the worker pool.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides EVENTFAN_HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("addr") {
		addr, _ := cmd.Flags().GetString("addr")
		if err := os.Setenv("EVENTFAN_HTTP_ADDR", addr); err != nil {
			return err
		}
	}

	a, cleanup, err := initialize()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(os.Stderr, "eventfan listening on %s\n", a.Settings.HTTP.Addr)
	fmt.Fprintf(os.Stderr, "  POST /orders, /orders/{id}/ship, /orders/{id}/deliver\n")
	fmt.Fprintf(os.Stderr, "  POST /users\n")
	fmt.Fprintf(os.Stderr, "  GET  /activity, /pool, /metrics, /healthz\n")

	return a.Run(ctx)
}
