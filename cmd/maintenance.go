package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector index from the stored records",
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			count, err := e.Reindex(cmd.Context())
			if err != nil {
				fatalf("Error: %v", err)
			}
			fmt.Printf("Reindexed %d records\n", count)
		},
	}
}

func statsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show record counts and the data directory",
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			counts, err := e.Stats()
			if err != nil {
				fatalf("Error: %v", err)
			}
			if jsonOutput {
				printJSON(map[string]any{"home": e.Home(), "counts": counts, "semantic": e.Semantic()})
				return
			}
			fmt.Printf("home: %s\nsemantic: %v\n", e.Home(), e.Semantic())
			for _, table := range []string{"contexts", "nodes", "runs", "links"} {
				fmt.Printf("%s: %d\n", table, counts[table])
			}
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
