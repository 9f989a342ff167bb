package main

import (
	"github.com/spf13/cobra"
	"goa.design/clue/log"

	wickchat "wick_chat"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logContext()
		srv := wickchat.New(cfg)
		if err := srv.Start(ctx); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "server exited"})
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.StringVar(&cfg.Host, "host", cfg.Host, "Listen host")
	f.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	f.StringVar(&cfg.WickGatewayURL, "gateway", cfg.WickGatewayURL, "Gateway URL for auth (e.g. http://localhost:4000)")
	f.StringVar(&cfg.LangGraphURL, "langgraph-url", cfg.LangGraphURL, "LangGraph server URL")
	f.StringVar(&cfg.ModelsFile, "models", cfg.ModelsFile, "Path to models.yaml")
	f.StringVar(&cfg.Store, "store", cfg.Store, "Chat store: memory, mongo or redis")
	f.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection URI")
	f.StringVar(&cfg.MongoDatabase, "mongo-db", cfg.MongoDatabase, "MongoDB database name")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	f.DurationVar(&cfg.StoreTTL, "store-ttl", cfg.StoreTTL, "Idle chat expiry (memory and redis)")
	f.DurationVar(&cfg.TurnTimeout, "turn-timeout", cfg.TurnTimeout, "Maximum duration of one turn (0 disables)")
	f.DurationVar(&cfg.PersistTimeout, "persist-timeout", cfg.PersistTimeout, "Timeout for saving a finished turn")
	f.IntVar(&cfg.PipeCapacity, "pipe-capacity", cfg.PipeCapacity, "Frames buffered between upstream and client")
	f.StringVar(&cfg.HistoryMode, "history", cfg.HistoryMode, "Messages forwarded upstream: full or last_user")
	f.BoolVar(&cfg.PersistToolInvocations, "persist-tools", cfg.PersistToolInvocations, "Store tool calls and results with assistant messages")
	f.Float64Var(&cfg.TurnRate, "turn-rate", cfg.TurnRate, "Turns per second allowed per user (0 disables)")
	f.IntVar(&cfg.TurnBurst, "turn-burst", cfg.TurnBurst, "Turn burst allowed per user")
}
