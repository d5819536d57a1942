package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"projects/solver"
)

type roundSettings struct {
	NumChoicesP   int     `json:"num_choices_p"`
	NumChoicesW   int     `json:"num_choices_w"`
	MaxIterations int     `json:"max_iterations"`
	PenaltyP      float64 `json:"penalty_p"`
	PenaltyW      float64 `json:"penalty_w"`
	PenaltyCross  float64 `json:"penalty_cross"`
	PenaltyOver   float64 `json:"penalty_over"`
}

const settingsColumns = "num_choices_p, num_choices_w, max_iterations, penalty_p, penalty_w, penalty_cross, penalty_over"

func (s *roundSettings) scanArgs() []any {
	return []any{&s.NumChoicesP, &s.NumChoicesW, &s.MaxIterations, &s.PenaltyP, &s.PenaltyW, &s.PenaltyCross, &s.PenaltyOver}
}

// params combines the round's settings with the service-wide worker and
// round cap settings.
func (a *app) params(s roundSettings) solver.Params {
	p := a.cfg.Solver.Params
	p.Trials = s.MaxIterations
	p.Penalties = solver.Penalties{P: s.PenaltyP, W: s.PenaltyW, Cross: s.PenaltyCross, Over: s.PenaltyOver}
	return p
}

type settingsPatch struct {
	NumChoicesP   *int     `json:"num_choices_p"`
	NumChoicesW   *int     `json:"num_choices_w"`
	MaxIterations *int     `json:"max_iterations"`
	PenaltyP      *float64 `json:"penalty_p"`
	PenaltyW      *float64 `json:"penalty_w"`
	PenaltyCross  *float64 `json:"penalty_cross"`
	PenaltyOver   *float64 `json:"penalty_over"`
}

func (p settingsPatch) validate() error {
	if p.NumChoicesP != nil && *p.NumChoicesP < 1 {
		return errors.New("num_choices_p must be at least 1")
	}
	if p.NumChoicesW != nil && *p.NumChoicesW < 1 {
		return errors.New("num_choices_w must be at least 1")
	}
	if p.MaxIterations != nil && *p.MaxIterations < 1 {
		return errors.New("max_iterations must be at least 1")
	}
	for name, v := range map[string]*float64{
		"penalty_p":     p.PenaltyP,
		"penalty_w":     p.PenaltyW,
		"penalty_cross": p.PenaltyCross,
		"penalty_over":  p.PenaltyOver,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be at least 0", name)
		}
	}
	return nil
}

func (a *app) handleListRounds(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	rows, err := a.db.Query(`
		SELECT r.id, r.name, COALESCE(
			json_agg(json_build_object('id', ra.id, 'email', ra.email)) FILTER (WHERE ra.id IS NOT NULL),
			'[]'
		)
		FROM rounds r
		LEFT JOIN round_admins ra ON ra.round_id = r.id
		GROUP BY r.id, r.name
		ORDER BY r.id`)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	type roundAdmin struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	}
	type round struct {
		ID     int64        `json:"id"`
		Name   string       `json:"name"`
		Admins []roundAdmin `json:"admins"`
	}

	rounds := []round{}
	for rows.Next() {
		var rd round
		var adminsJSON string
		if err := rows.Scan(&rd.ID, &rd.Name, &adminsJSON); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.Unmarshal([]byte(adminsJSON), &rd.Admins)
		rounds = append(rounds, rd)
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (a *app) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	s := a.cfg.Solver
	var id int64
	err := a.db.QueryRow("INSERT INTO rounds (name, "+settingsColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id",
		body.Name, s.NumChoicesP, s.NumChoicesW, s.Trials, s.Penalties.P, s.Penalties.W, s.Penalties.Cross, s.Penalties.Over).Scan(&id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": body.Name})
}

func (a *app) handleDeleteRound(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	roundID, ok := roundIDParam(w, r)
	if !ok {
		return
	}
	result, err := a.db.Exec("DELETE FROM rounds WHERE id = $1", roundID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		http.Error(w, "round not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleAddRoundAdmin(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	roundID, ok := roundIDParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	var id int64
	err := a.db.QueryRow("INSERT INTO round_admins (round_id, email) VALUES ($1, $2) RETURNING id", roundID, body.Email).Scan(&id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "email": body.Email})
}

func (a *app) handleRemoveRoundAdmin(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	roundID, ok := roundIDParam(w, r)
	if !ok {
		return
	}
	adminID, err := strconv.ParseInt(r.PathValue("adminID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid admin ID", http.StatusBadRequest)
		return
	}
	result, err := a.db.Exec("DELETE FROM round_admins WHERE id = $1 AND round_id = $2", adminID, roundID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		http.Error(w, "round admin not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) loadSettings(roundID int64) (string, roundSettings, error) {
	var name string
	var s roundSettings
	err := a.db.QueryRow("SELECT name, "+settingsColumns+" FROM rounds WHERE id = $1", roundID).
		Scan(append([]any{&name}, s.scanArgs()...)...)
	return name, s, err
}

func (a *app) handleGetRound(w http.ResponseWriter, r *http.Request) {
	_, roundID, ok := a.requireRoundAdmin(w, r)
	if !ok {
		return
	}
	name, s, err := a.loadSettings(roundID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "round not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var students, slots int
	err = a.db.QueryRow(`
		SELECT
			(SELECT count(*) FROM students WHERE round_id = $1),
			(SELECT COALESCE(sum(c), 0) FROM projects, unnest(capacities) AS c WHERE round_id = $1)`, roundID).Scan(&students, &slots)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       roundID,
		"name":     name,
		"settings": s,
		"students": students,
		"slots":    slots,
	})
}

func (a *app) handleUpdateRound(w http.ResponseWriter, r *http.Request) {
	_, roundID, ok := a.requireRoundAdmin(w, r)
	if !ok {
		return
	}
	var body settingsPatch
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := body.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := a.db.Exec(`
		UPDATE rounds SET
			num_choices_p = COALESCE($2, num_choices_p),
			num_choices_w = COALESCE($3, num_choices_w),
			max_iterations = COALESCE($4, max_iterations),
			penalty_p = COALESCE($5, penalty_p),
			penalty_w = COALESCE($6, penalty_w),
			penalty_cross = COALESCE($7, penalty_cross),
			penalty_over = COALESCE($8, penalty_over)
		WHERE id = $1`,
		roundID, body.NumChoicesP, body.NumChoicesW, body.MaxIterations,
		body.PenaltyP, body.PenaltyW, body.PenaltyCross, body.PenaltyOver)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		http.Error(w, "round not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleRoundMe(w http.ResponseWriter, r *http.Request) {
	_, roundID, role, studentIDs, ok := a.requireRoundMember(w, r)
	if !ok {
		return
	}

	type placement struct {
		StudentID       int64    `json:"student_id"`
		Meta            []string `json:"meta"`
		Project         string   `json:"project,omitempty"`
		WorkPackage     string   `json:"work_package,omitempty"`
		ProjectRank     int      `json:"project_choice,omitempty"`
		WorkPackageRank int      `json:"work_package_choice,omitempty"`
	}
	placements := []placement{}

	var runID string
	err := a.db.QueryRow("SELECT id FROM solve_runs WHERE round_id = $1 ORDER BY created_at DESC LIMIT 1", roundID).Scan(&runID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, sid := range studentIDs {
		var pl placement
		var meta pq.StringArray
		var project, workPackage sql.NullString
		var projectRank, workPackageRank sql.NullInt64
		err := a.db.QueryRow(`
			SELECT s.id, s.meta, p.name, rd.work_packages[ra.work_package + 1], ra.project_rank, ra.work_package_rank
			FROM students s
			JOIN rounds rd ON rd.id = s.round_id
			LEFT JOIN run_assignments ra ON ra.student_id = s.id AND ra.run_id::text = $3
			LEFT JOIN projects p ON p.id = ra.project_id
			WHERE s.id = $1 AND s.round_id = $2`, sid, roundID, runID).
			Scan(&pl.StudentID, &meta, &project, &workPackage, &projectRank, &workPackageRank)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			a.log.Error("loading placement", zap.Int64("round", roundID), zap.Int64("student", sid), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		pl.Meta = meta
		pl.Project, pl.WorkPackage = project.String, workPackage.String
		if projectRank.Valid {
			pl.ProjectRank = int(projectRank.Int64) + 1
			pl.WorkPackageRank = int(workPackageRank.Int64) + 1
		}
		placements = append(placements, pl)
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "students": placements})
}
