// Package main implements meetlogctl, the command-line client for the meetlog
// server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	grpcAddr  string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "meetlogctl",
	Short:         "Control a meetlog capture server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("MEETLOG_SERVER", "http://localhost:8080"), "HTTP base URL of the server")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc", envOr("MEETLOG_GRPC", "localhost:9090"), "gRPC address for event streaming")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "md", "Export format: md or csv")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output path (default: server-provided file name)")
	recoveryAckCmd.Flags().BoolVar(&ackDiscard, "discard", false, "Also clear the captured messages")

	recoveryCmd.AddCommand(recoveryAckCmd)
	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, exportCmd, clearCmd, recoveryCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
