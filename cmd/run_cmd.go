package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memkit/internal/records"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage run checkpoints — record, show",
	}
	cmd.AddCommand(runRecordCmd())
	cmd.AddCommand(runShowCmd())
	return cmd
}

func runRecordCmd() *cobra.Command {
	var file, context string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a run checkpoint from a JSON payload (--file or stdin)",
		Run: func(cmd *cobra.Command, args []string) {
			raw := readPayload(file)

			var cp records.Checkpoint
			if err := json.Unmarshal(raw, &cp); err != nil {
				fatalf("Invalid checkpoint payload: %v", err)
			}

			e := openEngine()
			defer e.Close()

			res, err := e.Records.RecordCheckpoint(&cp, context)
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

func runShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a run checkpoint",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()

			cp, err := e.Records.GetCheckpoint(args[0])
			if err != nil {
				fatalf("Error: %v", err)
			}
			if cp == nil {
				fatalf("Error: run %s not found", args[0])
			}
			printJSON(cp)
		},
	}
}
