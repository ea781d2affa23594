package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/bookrenamer/constants"
	"github.com/joseph-ayodele/bookrenamer/internal/pipeline"
	"github.com/joseph-ayodele/bookrenamer/internal/rename"
)

const scrambleAttempts = 5

var (
	scrambleDirFlag string
	scrambleYes     bool
)

var scrambleCmd = &cobra.Command{
	Use:   "scramble",
	Short: "Rename every e-book to a random 8-digit name (for building test fixtures)",
	Long: `Gives every supported file in the directory a unique random 8-digit name, keeping its
extension. The renames are recorded in the ledger like a normal batch, so "undo" restores them.`,
	RunE: runScrambleCmd,
}

func init() {
	scrambleCmd.Flags().StringVarP(&scrambleDirFlag, "dir", "d", "", "Directory holding the e-books (defaults to PDF_DIR)")
	scrambleCmd.Flags().BoolVar(&scrambleYes, "yes", false, "Confirm that the files should be renamed")
}

func runScrambleCmd(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dir") {
		cfg.Source.Dir = scrambleDirFlag
	}
	if err := cfg.RequireSource(); err != nil {
		return err
	}
	if !scrambleYes {
		return fmt.Errorf("scramble renames every e-book in %s; pass --yes to proceed", cfg.Source.Dir)
	}
	ctx := cmd.Context()

	var rec pipeline.Recorder
	ledger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		logger.Warn("ledger.unavailable", "error", err)
	}
	if ledger != nil {
		defer ledger.Close()
		rec = ledger
	}

	s := &scrambler{
		renamer:  rename.NewExecutor(logger),
		recorder: rec,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		logger:   logger,
	}
	res, err := s.run(ctx, cfg.Source.Dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	headerColor.Fprintf(out, "Scramble %s\n", res.batchID)
	row(out, "Renamed", goodColor.Sprint(res.renamed))
	row(out, "Failed", badColor.Sprint(res.failed))
	return nil
}

type scrambler struct {
	renamer  pipeline.Renamer
	recorder pipeline.Recorder
	rng      *rand.Rand
	logger   *slog.Logger
}

type scrambleResult struct {
	batchID string
	renamed int
	failed  int
}

func (s *scrambler) run(ctx context.Context, dir string) (scrambleResult, error) {
	res := scrambleResult{batchID: uuid.New().String()}
	paths, err := pipeline.Discover(dir)
	if err != nil {
		return res, err
	}

	used := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		ext := filepath.Ext(p)
		r := pipeline.JobResult{
			JobID:   uuid.New().String(),
			Path:    p,
			Stem:    strings.TrimSuffix(filepath.Base(p), ext),
			Format:  constants.MapExtToFormat(ext),
			Status:  constants.JobStatusFailed,
			Kind:    constants.FailureRenameCollision,
			Started: start,
		}

		for range scrambleAttempts {
			stem := s.stem(used)
			newPath, err := s.renamer.Apply(p, stem)
			if err == nil {
				r.Status, r.Kind, r.Reason = constants.JobStatusRenamed, constants.FailureNone, ""
				r.Name, r.NewPath = stem, newPath
				break
			}
			r.Reason = err.Error()
			if !rename.IsCollision(err) {
				r.Kind = constants.FailureRenameIO
				break
			}
		}
		r.Elapsed = time.Since(start)

		if r.Status == constants.JobStatusRenamed {
			res.renamed++
		} else {
			res.failed++
		}
		if s.recorder != nil {
			if err := s.recorder.Record(context.WithoutCancel(ctx), res.batchID, r); err != nil {
				s.logger.Warn("scramble.ledger.failed", "path", p, "error", err)
			}
		}
	}
	return res, nil
}

// stem draws an 8-digit name not handed out earlier in this run.
func (s *scrambler) stem(used map[string]struct{}) string {
	for {
		n := strconv.Itoa(10_000_000 + s.rng.IntN(90_000_000))
		if _, ok := used[n]; !ok {
			used[n] = struct{}{}
			return n
		}
	}
}
