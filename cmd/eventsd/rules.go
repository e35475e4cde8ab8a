package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/technosupport/ts-events/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with alert rule files",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Compile every rule in a rules file and report errors",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesCheck,
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	raw, err := rules.LoadFile(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range rules.CompileAll(raw) {
		state := "ok"
		if !r.Enabled {
			state = "disabled"
		}
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %-24s %v\n", r.ID, r.Err)
			continue
		}
		fmt.Fprintf(out, "%-5s %-24s %d action(s), cooldown %s\n", state, r.ID, len(r.Actions), r.Cooldown())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d rules failed to compile", failed, len(raw))
	}
	return nil
}
