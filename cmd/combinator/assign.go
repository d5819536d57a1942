package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"projects/config"
	"projects/logging"
	"projects/solver"
	"projects/table"
)

type loader func(cmd *cobra.Command) (*config.Config, error)

func newAssignCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "assign",
		Short: "Run the allocation and write the result table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			logger, done, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer done()
			return assign(cmd, cfg, logger)
		},
	}
}

func newValidateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check both tables and the capacity precondition without solving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			cfg.Log.File = ""
			logger, done, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer done()
			_, _, _, err = prepare(cfg, logger)
			if err == nil {
				logger.Info("input is valid")
			}
			return err
		},
	}
}

func readTables(cfg *config.Config) (*table.Slots, *table.Preferences, error) {
	sf, err := os.Open(cfg.Input.Slots)
	if err != nil {
		return nil, nil, err
	}
	defer sf.Close()
	slots, err := table.ReadSlots(sf, cfg.Comma())
	if err != nil {
		return nil, nil, err
	}

	pf, err := os.Open(cfg.Input.Preferences)
	if err != nil {
		return nil, nil, err
	}
	defer pf.Close()
	prefs, err := table.ReadPreferences(pf, cfg.Comma())
	if err != nil {
		return nil, nil, err
	}
	return slots, prefs, nil
}

func prepare(cfg *config.Config, logger *zap.Logger) (*table.Slots, *table.Preferences, *solver.Instance, error) {
	slots, prefs, err := readTables(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("input",
		zap.Int("students", prefs.Len()),
		zap.Int("projects", len(slots.Projects)),
		zap.Int("projectChoices", cfg.Solver.NumChoicesP),
		zap.Int("workPackages", len(slots.WorkPackages)),
		zap.Int("workPackageChoices", cfg.Solver.NumChoicesW),
	)
	inst, warnings, err := table.Resolve(slots, prefs, cfg.Solver.NumChoicesP, cfg.Solver.NumChoicesW)
	for _, w := range warnings {
		logger.Warn(w.String())
	}
	if err != nil {
		return nil, nil, nil, err
	}
	return slots, prefs, inst, nil
}

func assign(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) error {
	slots, prefs, inst, err := prepare(cfg, logger)
	if err != nil {
		logger.Error("cannot process input", zap.Error(err))
		return err
	}

	params := cfg.Solver.Params
	if params.Seed == 0 {
		params.Seed = uint64(time.Now().UnixNano())
	}
	logger.Info("processing", zap.Int("trials", params.Trials), zap.Int("workers", params.Workers), zap.Uint64("seed", params.Seed))

	start := time.Now()
	res, err := solver.Solve(cmd.Context(), inst, params, func(trial int, cost float64) {
		logger.Info("cost lowered", zap.Float64("cost", cost), zap.Int("trial", trial+1))
	})
	if err != nil {
		logger.Error("allocation failed", zap.Error(err))
		return err
	}
	if res.CappedTrials > 0 {
		logger.Warn("trials discarded, swap optimizer did not settle",
			zap.Int("trials", res.CappedTrials), zap.Int("maxRounds", params.MaxRounds))
	}
	logger.Info("done", zap.Duration("elapsed", time.Since(start)), zap.Float64("cost", res.Best.Cost), zap.Int("trial", res.Best.Trial+1))

	if err := writeResult(cfg, slots, prefs, res.Best.Assignments); err != nil {
		logger.Error("cannot write result", zap.Error(err))
		return err
	}
	logger.Info("result written", zap.String("path", cfg.Output.Assignments))
	logStats(logger, inst.Summarize(res.Best.Assignments))
	return nil
}

// writeResult writes next to the target and renames, so a failed run never
// leaves a partial table behind.
func writeResult(cfg *config.Config, slots *table.Slots, prefs *table.Preferences, assign []solver.Assignment) error {
	path := cfg.Output.Assignments
	tmp, err := os.CreateTemp(filepath.Dir(path), ".assignments-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := table.WriteResult(tmp, cfg.Comma(), slots, prefs, assign, cfg.Solver.NumChoicesP, cfg.Solver.NumChoicesW); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func logStats(logger *zap.Logger, st solver.Stats) {
	for n, c := range st.Projects {
		logger.Info(fmt.Sprintf("%d (%.2f%%) students got their #%d choice of project", c, st.Percent(c), n+1))
	}
	for n, c := range st.WorkPackages {
		logger.Info(fmt.Sprintf("%d (%.2f%%) students got their #%d choice of work-package", c, st.Percent(c), n+1))
	}
	for p, row := range st.Combined {
		for w, c := range row {
			logger.Info(fmt.Sprintf("%d students got #%d project and #%d work-package", c, p+1, w+1))
		}
	}
}
