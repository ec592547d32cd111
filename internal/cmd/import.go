package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/cliprompt"
	"github.com/kohl-sync/kohl-sync/internal/config"
	"github.com/kohl-sync/kohl-sync/internal/duplicateresolver"
	"github.com/kohl-sync/kohl-sync/internal/identitystore"
	"github.com/kohl-sync/kohl-sync/internal/importcoordinator"
	"github.com/kohl-sync/kohl-sync/internal/importexecutor"
	"github.com/kohl-sync/kohl-sync/internal/indexstore"
	"github.com/kohl-sync/kohl-sync/internal/keyedqueue"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/localsource"
	"github.com/kohl-sync/kohl-sync/internal/mergeengine"
	"github.com/kohl-sync/kohl-sync/internal/notepersistence"
	"github.com/kohl-sync/kohl-sync/internal/noterender"
	"github.com/kohl-sync/kohl-sync/internal/systemclock"
)

var importCmd = &cobra.Command{
	Use:   "import [fixture-dir]",
	Short: "Import highlights from a directory of book fixtures into the managed folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().Bool("force", false, "reprocess every book regardless of IndexStore's unchanged check")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.ManagedFolder == "" {
		return fmt.Errorf("managed_folder is not configured: set it in config.yaml or KOHL_MANAGED_FOLDER")
	}

	force, _ := cmd.Flags().GetBool("force")

	fs := atomicfs.New(0)
	queue := keyedqueue.New()
	pluginDataRoot := cfg.PluginDataRoot
	if pluginDataRoot == "" {
		pluginDataRoot = filepath.Join(cfg.ManagedFolder, ".kohl-sync")
	}
	identity := identitystore.New(fs, queue, pluginDataRoot)

	idx, err := indexstore.Open(filepath.Join(pluginDataRoot, "index.db"))
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	resolver := duplicateresolver.New(fs, idx, cfg.ManagedFolder, cfg.Cache.TTL, cfg.Cache.MaxEntries)
	persistence := notepersistence.New(fs, queue, identity, systemclock.New())
	merge := mergeengine.New(fs, identity)

	commentStyle := kohl.CommentStyle(cfg.CommentStyle)
	naming := func(m kohl.BookMetadata) string {
		if m.Title == "" {
			return "untitled"
		}
		return m.Title
	}
	executor := importexecutor.New(persistence, merge, queue, cfg.ManagedFolder, naming)

	source := localsource.New(args[0])
	prompt := cliprompt.New(os.Stdin, os.Stdout)

	coordCfg := importcoordinator.Config{
		ManagedFolder:     cfg.ManagedFolder,
		CommentStyle:      commentStyle,
		Policy:            kohl.SessionPolicy{AutoMergeOnAddition: cfg.SessionPolicy.AutoMergeOnAddition},
		WorkerConcurrency: cfg.WorkerConcurrency,
		MaxHighlightGap:   2 * time.Hour,
		ForceReimport:     force,
	}

	coordinator, err := importcoordinator.New(fs, idx, resolver, executor, source, noterender.Render, prompt, systemclock.New(), coordCfg)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	summary, err := coordinator.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import run encountered errors: %v\n", err)
	}

	fmt.Printf("created: %s  merged: %s  automerged: %s  skipped: %s  failed: %s\n",
		humanize.Comma(int64(summary.Created)), humanize.Comma(int64(summary.Merged)),
		humanize.Comma(int64(summary.AutoMerged)), humanize.Comma(int64(summary.Skipped)),
		humanize.Comma(int64(summary.Failed)))
	for _, report := range summary.PerBook {
		if report.Outcome == kohl.OutcomeFailed {
			fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", report.SourcePath, report.Error)
		}
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d book(s) failed to import", summary.Failed)
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}
