package repository

import (
	"context"
	"fmt"
	"path/filepath"
)

// Mover renames src to dst without replacing an existing dst; see rename.Executor.Move.
type Mover interface {
	Move(src, dst string) error
}

// RevertFailure is a row that could not be undone.
type RevertFailure struct {
	Entry Entry
	Err   error
}

type RevertReport struct {
	BatchID  string
	Reverted []Entry
	Failed   []RevertFailure
}

// Revert moves every renamed file of a batch back to its original path, newest first, and
// marks each restored row. A file that cannot be moved back is reported and left alone.
func (l *Ledger) Revert(ctx context.Context, batchID string, mover Mover) (RevertReport, error) {
	report := RevertReport{BatchID: batchID}
	entries, err := l.Renamed(ctx, batchID)
	if err != nil {
		return report, err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := mover.Move(e.NewPath, e.Path); err != nil {
			l.logger.Warn("repository.revert.failed", "batch_id", batchID, "from", filepath.Base(e.NewPath), "error", err)
			report.Failed = append(report.Failed, RevertFailure{Entry: e, Err: err})
			continue
		}
		if err := l.MarkReverted(ctx, e.ID); err != nil {
			// the file is back; a stale row would only make a second undo fail harmlessly
			report.Failed = append(report.Failed, RevertFailure{Entry: e, Err: fmt.Errorf("file restored but ledger not updated: %w", err)})
			continue
		}
		report.Reverted = append(report.Reverted, e)
	}

	l.logger.Info("repository.revert.done",
		"batch_id", batchID,
		"reverted", len(report.Reverted),
		"failed", len(report.Failed),
	)
	return report, nil
}
