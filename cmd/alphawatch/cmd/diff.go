package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"alphawatch/internal/application/usecase/monitor"
	"alphawatch/internal/domain/model"
	"alphawatch/internal/domain/service"
)

var diffCmd = &cobra.Command{
	Use:   "diff <previous.json> <current.json>",
	Short: "Compare two snapshot files and print the trade changes",
	Long: `diff decodes two snapshot documents (as stored in last.json / current.json or
returned by the positions API) and prints the changes the monitor would notify.

Example:
  alphawatch diff data/last.json data/current.json --models qwen3-max,grok-4`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

var diffModels []string

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().StringSliceVarP(&diffModels, "models", "m", nil, "only compare these model ids (default all)")
}

func runDiff(cmd *cobra.Command, args []string) error {
	prev, err := readSnapshot(args[0])
	if err != nil {
		return err
	}
	cur, err := readSnapshot(args[1])
	if err != nil {
		return err
	}

	res := service.Compare(prev, cur, service.NewAllowList(diffModels...))

	out := cmd.OutOrStdout()
	if len(res.Events) == 0 {
		fmt.Fprintln(out, "No trade changes")
	} else {
		fmt.Fprintln(out, monitor.NewFormatter("").Summary(res.Events))
	}
	if n := len(res.Skipped); n > 0 {
		fmt.Fprintf(out, "\nSkipped %d malformed entries:\n", n)
		for _, d := range res.Skipped {
			fmt.Fprintf(out, "  - %s\n", d)
		}
	}
	return nil
}

func readSnapshot(path string) (*model.Snapshot, error) {
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	snap, err := model.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}
