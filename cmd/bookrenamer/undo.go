package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/bookrenamer/internal/common"
	"github.com/joseph-ayodele/bookrenamer/internal/rename"
)

var (
	undoBatch string
	undoList  bool
	undoLimit int
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Rename the files of a previous batch back to their original names",
	Long: `Reads the rename ledger and moves every file renamed by a batch back to its original path,
newest first. Without --batch the most recent batch is undone. Files whose original name is taken
again are left alone and reported.`,
	RunE: runUndoCmd,
}

func init() {
	undoCmd.Flags().StringVar(&undoBatch, "batch", "", "Batch id to undo (defaults to the latest batch)")
	undoCmd.Flags().BoolVar(&undoList, "list", false, "List recent batches instead of undoing one")
	undoCmd.Flags().IntVar(&undoLimit, "limit", 10, "Number of batches shown by --list")
}

func runUndoCmd(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ledger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if ledger == nil {
		return common.NewAppError("CONFIG_ERROR", "undo needs a rename ledger (--ledger or RENAMER_LEDGER__DSN)", common.ErrInvalidInput)
	}
	defer ledger.Close()

	out := cmd.OutOrStdout()
	if undoList {
		batches, err := ledger.Batches(ctx, undoLimit)
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			fmt.Fprintln(out, "No batches recorded.")
			return nil
		}
		for _, b := range batches {
			fmt.Fprintf(out, "%s  %s  files=%d renamed=%d tokens=%s\n",
				headerColor.Sprint(b.BatchID),
				humanize.Time(b.StartedAt),
				b.Files, b.Renamed, humanize.Comma(int64(b.Tokens)))
		}
		return nil
	}

	batchID := undoBatch
	if batchID == "" {
		batchID, err = ledger.LatestBatch(ctx)
		if errors.Is(err, common.ErrNotFound) {
			fmt.Fprintln(out, "No batches recorded.")
			return nil
		}
		if err != nil {
			return err
		}
	}

	report, err := ledger.Revert(ctx, batchID, rename.NewExecutor(logger))
	if err != nil {
		return err
	}
	headerColor.Fprintf(out, "Undo %s\n", batchID)
	row(out, "Restored", goodColor.Sprint(humanize.Comma(int64(len(report.Reverted)))))
	row(out, "Failed", badColor.Sprint(humanize.Comma(int64(len(report.Failed)))))
	for _, f := range report.Failed {
		fmt.Fprintf(out, "  %s: %v\n", f.Entry.NewPath, f.Err)
	}
	return nil
}
