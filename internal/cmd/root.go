// Package cmd wires the engine's components into a thin Cobra CLI: a
// directory-of-fixtures MetadataSource, a stdin-driven UserPrompt, and
// the real wall clock, the way SPEC_FULL.md's default shell describes it.
// Command dispatch and progress UI stay deliberately minimal; this
// package exists to exercise the engine end to end, not to grow one.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kohl-sync",
	Short: "Sync e-reader highlights into a managed folder of Markdown notes",
	Long:  `kohl-sync mirrors an e-reader's highlights and book metadata into a user-owned collection of plain-text notes, merging new highlights into existing notes without discarding manual edits.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: ~/.config/kohl-sync/config.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
}
