package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memkit/internal/config"
	"github.com/nextlevelbuilder/memkit/internal/mcp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the memkit toolset over MCP stdio",
		Run: func(cmd *cobra.Command, args []string) {
			// stdout carries the protocol; logs must go to stderr.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

			e := openEngine()
			defer e.Close()

			watchPath := cfgPath
			if watchPath == "" {
				watchPath = config.DefaultPath()
			}
			if _, err := os.Stat(watchPath); err == nil {
				watcher, err := config.NewWatcher(watchPath)
				if err != nil {
					fatalf("Error: %v", err)
				}
				watcher.OnChange(e.ApplyConfig)
				if err := watcher.Start(); err != nil {
					fatalf("Error: %v", err)
				}
				defer watcher.Stop()
			}

			srv := mcp.NewServer(e, Version)
			if err := srv.ServeStdio(); err != nil {
				fatalf("Error: %v", err)
			}
		},
	}
}
