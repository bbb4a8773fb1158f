package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memkit/internal/contexts"
)

func contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage the scope hierarchy — create, list, use, delete",
	}
	cmd.AddCommand(contextCreateCmd())
	cmd.AddCommand(contextListCmd())
	cmd.AddCommand(contextUseCmd())
	cmd.AddCommand(contextShowCmd())
	cmd.AddCommand(contextDeleteCmd())
	return cmd
}

func contextCreateCmd() *cobra.Command {
	var scope, parent string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a vertical or project context",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			c, err := e.Contexts.Create(args[0], scope, parent, nil)
			if err != nil {
				fatalf("Error: %v", err)
			}
			if jsonOutput {
				printJSON(c)
				return
			}
			fmt.Printf("Created %s context %s (%s)\n", c.Scope, c.Name, c.ID)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", contexts.ScopeProject, "vertical or project")
	cmd.Flags().StringVar(&parent, "parent", "", "parent vertical id or name (projects only)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func contextListCmd() *cobra.Command {
	var scope string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contexts",
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			list, err := e.Contexts.List(scope, "")
			if err != nil {
				fatalf("Error: %v", err)
			}
			if jsonOutput {
				printJSON(list)
				return
			}

			active, _ := e.Contexts.Active()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCOPE\tPARENT\t")
			for _, c := range list {
				marker := ""
				if c.ID == active {
					marker = " *"
				}
				fmt.Fprintf(w, "%s\t%s%s\t%s\t%s\t\n", c.ID, c.Name, marker, c.Scope, c.ParentID)
			}
			w.Flush()
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "filter by scope")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func contextUseCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "use [context]",
		Short: "Set or clear the active context",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			if clear || len(args) == 0 {
				if err := e.Contexts.ClearActive(); err != nil {
					fatalf("Error: %v", err)
				}
				fmt.Println("Active context cleared (writes default to global)")
				return
			}
			c, err := e.Contexts.SetActive(args[0])
			if err != nil {
				fatalf("Error: %v", err)
			}
			fmt.Printf("Active context: %s (%s)\n", c.Name, c.ID)
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the active context")
	return cmd
}

func contextShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <context>",
		Short: "Show a context and its ancestor chain",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			c, err := e.Contexts.Get(args[0])
			if err != nil {
				fatalf("Error: %v", err)
			}
			if c == nil {
				fatalf("Error: context %s not found", args[0])
			}
			chain, err := e.Contexts.AncestorChain(c.ID)
			if err != nil {
				fatalf("Error: %v", err)
			}
			printJSON(map[string]any{"context": c, "ancestors": chain})
		},
	}
}

func contextDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <context-id>",
		Short: "Delete an empty leaf context",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			if err := e.Contexts.Delete(args[0]); err != nil {
				var inv *contexts.InvariantError
				if errors.As(err, &inv) {
					fatalf("Cannot delete: %s", inv.Detail)
				}
				fatalf("Error: %v", err)
			}
			fmt.Printf("Deleted context %s\n", args[0])
		},
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("Error encoding output: %v", err)
	}
	fmt.Println(string(data))
}
