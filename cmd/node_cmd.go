package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memkit/internal/records"
)

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage knowledge nodes — upsert, show, list",
	}
	cmd.AddCommand(nodeUpsertCmd())
	cmd.AddCommand(nodeShowCmd())
	cmd.AddCommand(nodeListCmd())
	return cmd
}

func nodeUpsertCmd() *cobra.Command {
	var file, context string
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a node from a JSON payload (--file or stdin)",
		Run: func(cmd *cobra.Command, args []string) {
			raw := readPayload(file)

			var node records.Node
			if err := json.Unmarshal(raw, &node); err != nil {
				fatalf("Invalid node payload: %v", err)
			}

			e := openEngine()
			defer e.Close()

			res, err := e.Records.UpsertNode(&node, context)
			if err != nil {
				fatalf("Error: %v", err)
			}
			printJSON(res)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "payload file ('-' or empty reads stdin)")
	cmd.Flags().StringVar(&context, "context", "", "target context id or name")
	return cmd
}

func nodeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <node-id>",
		Short: "Print a node",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			n, err := e.Records.GetNode(args[0])
			if err != nil {
				fatalf("Error: %v", err)
			}
			if n == nil {
				fatalf("Error: node %s not found", args[0])
			}
			printJSON(n)
		},
	}
}

func nodeListCmd() *cobra.Command {
	var nodeType, status, context string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List nodes, optionally filtered by type, status and context",
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			scope, err := e.Contexts.ResolveScopeFilter(context, nil)
			if err != nil {
				fatalf("Error: %v", err)
			}
			list, err := e.Records.ListNodes(nodeType, status, scope)
			if err != nil {
				fatalf("Error: %v", err)
			}
			if jsonOutput {
				printJSON(list)
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tTITLE\t")
			for _, n := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", n.ID, n.Type, n.Status, n.Title)
			}
			w.Flush()
		},
	}
	cmd.Flags().StringVar(&nodeType, "type", "", "filter by node type")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&context, "context", "", "scope to a context (includes ancestors)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// readPayload reads the JSON payload from a file, or stdin when the path
// is empty or "-".
func readPayload(file string) []byte {
	if file == "" || file == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatalf("Error reading stdin: %v", err)
		}
		return raw
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		fatalf("Error reading %s: %v", file, err)
	}
	return raw
}
