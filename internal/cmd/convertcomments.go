package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/keyedqueue"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/styleconverter"
)

var convertCommentsCmd = &cobra.Command{
	Use:   "convert-comments <style>",
	Short: "Rewrite every managed note's tracking-comment style (html, md, or none)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvertComments,
}

func init() {
	rootCmd.AddCommand(convertCommentsCmd)
}

func runConvertComments(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.ManagedFolder == "" {
		return fmt.Errorf("managed_folder is not configured: set it in config.yaml or KOHL_MANAGED_FOLDER")
	}

	target := kohl.CommentStyle(args[0])
	switch target {
	case kohl.CommentStyleHTML, kohl.CommentStyleMD, kohl.CommentStyleNone:
	default:
		return fmt.Errorf("unknown comment style %q: want html, md, or none", args[0])
	}

	conv := styleconverter.New(atomicfs.New(0), keyedqueue.New())
	result, err := conv.Convert(context.Background(), cfg.ManagedFolder, target)
	if err != nil {
		return fmt.Errorf("convert comments: %w", err)
	}

	fmt.Printf("converted: %d  skipped: %d\n", result.Converted, result.Skipped)
	return nil
}
