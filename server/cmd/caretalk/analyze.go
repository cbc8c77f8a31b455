package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"care-talk/server/internal/practice"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <text>",
	Short: "Print language feedback for a German utterance",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		issues := practice.NewAnalyzer().Inspect(text)

		out := cmd.OutOrStdout()
		if len(issues) == 0 {
			fmt.Fprintln(out, practice.GoodUsage)
			return nil
		}
		for _, issue := range issues {
			fmt.Fprintf(out, "[%s] %s\n", issue.Kind, issue.Message)
		}
		return nil
	},
}
