// Command wick_chat runs the chat streaming service.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	wickchat "wick_chat"
)

// cfg starts from the environment; flags override it.
var cfg = wickchat.ConfigFromEnv()

var rootCmd = &cobra.Command{
	Use:   "wick_chat",
	Short: "Stream LangGraph agent runs to chat clients",
	Long: `wick_chat relays LangGraph agent runs to chat UIs using the AI SDK
data-stream protocol over HTTP or WebSocket, and keeps chat history in
memory, MongoDB or Redis.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or terminal (default: detect)")
	rootCmd.PersistentFlags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// logContext returns a context carrying the configured clue logger.
func logContext() context.Context {
	format := log.FormatJSON
	switch strings.ToLower(cfg.LogFormat) {
	case "terminal":
		format = log.FormatTerminal
	case "":
		if log.IsTerminal() {
			format = log.FormatTerminal
		}
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	return ctx
}
