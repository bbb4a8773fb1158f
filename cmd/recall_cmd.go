package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memkit/internal/recall"
)

func recallCmd() *cobra.Command {
	var limit int
	var tags []string
	var nodeType, mode, context string
	var contextRefs []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Scored recall over runs and nodes",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			res, err := e.Recall.Recall(cmd.Context(), recall.Request{
				Query:    strings.Join(args, " "),
				Limit:    limit,
				Tags:     tags,
				NodeType: nodeType,
				Mode:     recall.Mode(mode),
				Context:  context,
				Contexts: contextRefs,
			})
			if err != nil {
				fatalf("Error: %v", err)
			}
			if jsonOutput {
				printJSON(res)
				return
			}
			printRecall(res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max results per category (default 5)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "boost records carrying this tag (repeatable)")
	cmd.Flags().StringVar(&nodeType, "type", "", "restrict nodes to one type")
	cmd.Flags().StringVar(&mode, "mode", "", "keyword, semantic or hybrid")
	cmd.Flags().StringVar(&context, "context", "", "scope to a context (includes ancestors)")
	cmd.Flags().StringSliceVar(&contextRefs, "contexts", nil, "additional context refs")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printRecall(res *recall.Result) {
	fmt.Printf("mode=%s source=%s\n", res.Mode, res.Source)

	if len(res.TopRuns) > 0 {
		fmt.Println("\nRuns:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tRUN\tSTATUS\tGOAL\t")
		for _, h := range res.TopRuns {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n", h.Score, h.RunID, h.Status, h.Goal)
		}
		w.Flush()
	}

	if len(res.TopNodes) > 0 {
		fmt.Println("\nNodes:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tNODE\tTYPE\tTITLE\t")
		for _, h := range res.TopNodes {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n", h.Score, h.ID, h.Type, h.Title)
		}
		w.Flush()
	}

	if len(res.ApplicableConstraints) > 0 {
		fmt.Println("\nConstraints:")
		for _, c := range res.ApplicableConstraints {
			fmt.Println("  " + c)
		}
	}
	if len(res.SuggestedNextActions) > 0 {
		fmt.Println("\nNext actions:")
		for _, a := range res.SuggestedNextActions {
			fmt.Println("  " + a)
		}
	}
}
