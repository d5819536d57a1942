package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"projects/solver"
	"projects/table"
)

var errStaleRun = errors.New("run does not match the current tables")

type storedAssignment struct {
	studentID       int64
	projectID       int64
	workPackage     int
	projectRank     int
	workPackageRank int
}

// assembleRun orders stored assignments by the round's current student
// table. It fails when the tables were replaced after the run or a stored
// rank lies outside the run's choice counts.
func assembleRun(t *roundTables, stored []storedAssignment, numChoicesP, numChoicesW int) ([]solver.Assignment, error) {
	students := make(map[int64]int, len(t.studentIDs))
	for i, id := range t.studentIDs {
		students[id] = i
	}
	projects := make(map[int64]int, len(t.projectIDs))
	for i, id := range t.projectIDs {
		projects[id] = i
	}
	if len(stored) != len(t.studentIDs) {
		return nil, fmt.Errorf("%w: %d assignments for %d students", errStaleRun, len(stored), len(t.studentIDs))
	}
	assign := make([]solver.Assignment, len(t.studentIDs))
	seen := make([]bool, len(t.studentIDs))
	for _, s := range stored {
		i, ok := students[s.studentID]
		if !ok || seen[i] {
			return nil, fmt.Errorf("%w: unknown student %d", errStaleRun, s.studentID)
		}
		p, ok := projects[s.projectID]
		if !ok || s.workPackage < 0 || s.workPackage >= len(t.slots.WorkPackages) {
			return nil, fmt.Errorf("%w: unknown slot for student %d", errStaleRun, s.studentID)
		}
		if s.projectRank < 0 || s.projectRank > numChoicesP || s.workPackageRank < 0 || s.workPackageRank > numChoicesW {
			return nil, fmt.Errorf("%w: rank out of range for student %d", errStaleRun, s.studentID)
		}
		seen[i] = true
		assign[i] = solver.Assignment{Project: p, WorkPackage: s.workPackage, ProjectRank: s.projectRank, WorkPackageRank: s.workPackageRank}
	}
	return assign, nil
}

func (a *app) handleSolve(w http.ResponseWriter, r *http.Request) {
	email, roundID, ok := a.requireRoundAdmin(w, r)
	if !ok {
		return
	}
	var body struct {
		Seed *uint64 `json:"seed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	name, settings, err := a.loadSettings(roundID)
	if notFound(err) {
		http.Error(w, "round not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	tables, err := a.loadTables(roundID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(tables.slots.Projects) == 0 || tables.prefs.Len() == 0 {
		http.Error(w, "upload the slot and preference tables before solving", http.StatusConflict)
		return
	}

	inst, warnings, err := table.Resolve(tables.slots, tables.prefs, settings.NumChoicesP, settings.NumChoicesW)
	if err != nil {
		a.metrics.ObserveFailure()
		status := http.StatusInternalServerError
		if errors.Is(err, solver.ErrCapacityMismatch) || errors.Is(err, solver.ErrInvalidInstance) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	params := a.params(settings)
	params.Seed = uint64(time.Now().UnixNano())
	if body.Seed != nil {
		params.Seed = *body.Seed
	}
	log := a.log.With(zap.Int64("round", roundID), zap.String("name", name))
	log.Info("solving", zap.Int("students", inst.NumStudents()), zap.Int("trials", params.Trials), zap.Uint64("seed", params.Seed))

	start := time.Now()
	res, err := solver.Solve(r.Context(), inst, params, func(trial int, cost float64) {
		log.Debug("cost lowered", zap.Float64("cost", cost), zap.Int("trial", trial+1))
	})
	elapsed := time.Since(start)
	if err != nil {
		a.metrics.ObserveFailure()
		log.Error("allocation failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.metrics.ObserveSolve(strconv.FormatInt(roundID, 10), inst, res, elapsed)
	if res.CappedTrials > 0 {
		log.Warn("trials discarded, swap optimizer did not settle", zap.Int("trials", res.CappedTrials))
	}

	runID := uuid.New()
	if err := a.storeRun(r, runID, roundID, email, params.Seed, inst, tables, res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	overflowP, overflowW := inst.OverflowCounts(res.Best.Assignments)
	log.Info("run stored", zap.Stringer("run", runID), zap.Float64("cost", res.Best.Cost), zap.Duration("elapsed", elapsed))

	writeJSON(w, http.StatusOK, map[string]any{
		"id":            runID,
		"cost":          res.Best.Cost,
		"trial":         res.Best.Trial + 1,
		"trials":        res.Trials,
		"capped_trials": res.CappedTrials,
		"seed":          strconv.FormatUint(params.Seed, 10),
		"elapsed_ms":    elapsed.Milliseconds(),
		"warnings":      len(warnings),
		"overflow":      map[string]int{"projects": overflowP, "work_packages": overflowW},
		"stats":         inst.Summarize(res.Best.Assignments),
	})
}

func (a *app) storeRun(r *http.Request, runID uuid.UUID, roundID int64, email string, seed uint64, inst *solver.Instance, t *roundTables, res *solver.Result) error {
	tx, err := a.db.BeginTx(r.Context(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO solve_runs (id, round_id, num_choices_p, num_choices_w, cost, best_trial, trials, capped_trials, seed, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		runID.String(), roundID, inst.NumChoicesP, inst.NumChoicesW, res.Best.Cost, res.Best.Trial, res.Trials, res.CappedTrials, strconv.FormatUint(seed, 10), email)
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(pq.CopyIn("run_assignments", "run_id", "student_id", "project_id", "work_package", "project_rank", "work_package_rank"))
	if err != nil {
		return err
	}
	for i, as := range res.Best.Assignments {
		if _, err := stmt.Exec(runID.String(), t.studentIDs[i], t.projectIDs[as.Project], as.WorkPackage, as.ProjectRank, as.WorkPackageRank); err != nil {
			stmt.Close()
			return err
		}
	}
	if _, err := stmt.Exec(); err != nil {
		stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

func (a *app) handleRunAssignments(w http.ResponseWriter, r *http.Request) {
	_, roundID, ok := a.requireRoundAdmin(w, r)
	if !ok {
		return
	}
	runID, err := uuid.Parse(r.PathValue("runID"))
	if err != nil {
		http.Error(w, "invalid run ID", http.StatusBadRequest)
		return
	}
	comma, err := delimiterParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Ranks are rendered against the choice counts the run was solved
	// with, not the round's current settings.
	var numChoicesP, numChoicesW int
	err = a.db.QueryRow("SELECT num_choices_p, num_choices_w FROM solve_runs WHERE id = $1 AND round_id = $2", runID.String(), roundID).
		Scan(&numChoicesP, &numChoicesW)
	if notFound(err) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rows, err := a.db.Query(`
		SELECT student_id, project_id, work_package, project_rank, work_package_rank
		FROM run_assignments
		WHERE run_id = $1`, runID.String())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rows.Close()
	var stored []storedAssignment
	for rows.Next() {
		var s storedAssignment
		if err := rows.Scan(&s.studentID, &s.projectID, &s.workPackage, &s.projectRank, &s.workPackageRank); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		stored = append(stored, s)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tables, err := a.loadTables(roundID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	assign, err := assembleRun(tables, stored, numChoicesP, numChoicesW)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "assignments-"+runID.String()+".csv"))
	if err := table.WriteResult(w, comma, tables.slots, tables.prefs, assign, numChoicesP, numChoicesW); err != nil {
		a.log.Error("writing result table", zap.Stringer("run", runID), zap.Error(err))
	}
}
